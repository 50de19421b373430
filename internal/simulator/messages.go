package simulator

import (
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/models"
)

// MessageStore holds committed messages per room and assigns the
// monotonically increasing per-room ids the client uses as its watermark.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string][]models.Message
	nextID   map[string]int64
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string][]models.Message),
		nextID:   make(map[string]int64),
	}
}

// Append assigns the next id for the room, stamps the creation time and
// stores the message. Returns the committed copy.
func (s *MessageStore) Append(roomID string, msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID[roomID]++
	msg.ID = s.nextID[roomID]
	msg.RoomID = roomID
	msg.CreatedAt = time.Now().UTC()

	s.messages[roomID] = append(s.messages[roomID], msg)
	return msg
}

// All returns the full history of a room in ascending id order.
func (s *MessageStore) All(roomID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages[roomID]))
	copy(out, s.messages[roomID])
	return out
}

// Since returns messages with id greater than sinceID, the poll contract.
func (s *MessageStore) Since(roomID string, sinceID int64) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []models.Message
	for _, msg := range s.messages[roomID] {
		if msg.ID > sinceID {
			filtered = append(filtered, msg)
		}
	}
	if filtered == nil {
		return []models.Message{}
	}
	return filtered
}
