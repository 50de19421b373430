package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TicketStore issues and redeems the short-lived, single-use stream
// tickets. A ticket is bound to one room, expires after the TTL and is
// consumed by its first redemption, so the long-lived session credential
// never has to appear on a stream URL.
type TicketStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	tickets map[string]ticket
	log     zerolog.Logger
}

type ticket struct {
	roomID    string
	expiresAt time.Time
}

// NewTicketStore creates a store issuing tickets valid for ttl.
func NewTicketStore(ttl time.Duration, log zerolog.Logger) *TicketStore {
	return &TicketStore{
		ttl:     ttl,
		tickets: make(map[string]ticket),
		log:     log,
	}
}

// Issue mints a fresh ticket for a room.
func (s *TicketStore) Issue(roomID string) (string, time.Duration) {
	id := uuid.New().String()
	s.mu.Lock()
	s.tickets[id] = ticket{roomID: roomID, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return id, s.ttl
}

// Redeem consumes a ticket. It succeeds at most once, and only for the
// room the ticket was issued for, before expiry.
func (s *TicketStore) Redeem(id, roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return false
	}
	delete(s.tickets, id)
	return t.roomID == roomID && time.Now().Before(t.expiresAt)
}

// Sweep runs the background expiry loop, dropping unredeemed tickets past
// their TTL. Call in its own goroutine; it exits when ctx is cancelled.
func (s *TicketStore) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			removed := 0
			for id, t := range s.tickets {
				if now.After(t.expiresAt) {
					delete(s.tickets, id)
					removed++
				}
			}
			s.mu.Unlock()
			if removed > 0 {
				s.log.Debug().Int("removed", removed).Msg("swept expired stream tickets")
			}
		}
	}
}
