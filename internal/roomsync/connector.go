package roomsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/models"
)

// defaultBackoff is the fixed ascending wait table between reconnect
// attempts; past the end the last value repeats.
var defaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// streamSink receives connector output. The engine implements it with a
// session-generation guard so a connector from a previous room can never
// touch the current room's state.
type streamSink interface {
	pushConnected()
	pushReconnecting(attempt int, wait time.Duration)
	pushTerminal()
	pushShutdown()
	handleStreamEvent(ev models.StreamEvent)
}

// connector owns the push channel for one room session: it obtains a fresh
// single-use ticket per connect cycle, opens the SSE stream addressed with
// it and dispatches decoded events. Reconnects follow the backoff table up
// to the attempt ceiling; a server shutdown frame closes cleanly without
// entering the reconnect loop.
type connector struct {
	api         API
	roomID      string
	sink        streamSink
	backoff     []time.Duration
	maxAttempts int
	log         zerolog.Logger
}

// run drives the connect/read/reconnect loop until the session context is
// cancelled, the server shuts the stream down, or the attempt ceiling is
// reached.
func (c *connector) run(ctx context.Context) {
	attempt := 0
	for {
		opened, shutdown, err := c.connectOnce(ctx)
		if opened {
			// A successful open resets the failure budget
			attempt = 0
		}
		if shutdown {
			c.log.Info().Str("room", c.roomID).Msg("push channel closed by server")
			c.sink.pushShutdown()
			return
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt >= c.maxAttempts {
			c.log.Warn().Str("room", c.roomID).Int("attempts", attempt).
				Msg("push channel reconnect budget exhausted, staying on polling")
			c.sink.pushTerminal()
			return
		}

		wait := backoffWait(c.backoff, attempt)
		c.log.Debug().Str("room", c.roomID).Int("attempt", attempt).
			Dur("wait", wait).Err(err).Msg("push channel down, scheduling reconnect")
		c.sink.pushReconnecting(attempt, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectOnce performs one ticket-fetch/connect/read cycle. opened reports
// whether the stream was successfully established (which resets the attempt
// counter even if it later drops); shutdown reports a clean server-initiated
// close.
func (c *connector) connectOnce(ctx context.Context) (opened, shutdown bool, err error) {
	ticket, err := c.api.SSETicket(ctx, c.roomID)
	if err != nil {
		return false, false, fmt.Errorf("ticket acquisition failed: %w", err)
	}

	body, err := c.api.OpenStream(ctx, c.roomID, ticket.Ticket)
	if err != nil {
		return false, false, err
	}
	defer body.Close()

	c.sink.pushConnected()

	fr := newFrameReader(body)
	for {
		f, err := fr.next()
		if err != nil {
			return true, false, err
		}

		ev, derr := decodeFrame(f)
		if derr != nil {
			// A single malformed event is dropped; the stream continues.
			c.log.Warn().Str("room", c.roomID).Str("event", f.event).
				Err(derr).Msg("dropping malformed stream event")
			continue
		}

		switch ev.Kind {
		case models.EventKeepalive:
			// Resets nothing; exists only to defeat idle timeouts.
		case models.EventShutdown:
			return true, true, nil
		default:
			c.sink.handleStreamEvent(ev)
		}
	}
}

// backoffWait returns the wait before the given attempt (1-based), with the
// final table entry repeating indefinitely.
func backoffWait(table []time.Duration, attempt int) time.Duration {
	if len(table) == 0 {
		table = defaultBackoff
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(table) {
		idx = len(table) - 1
	}
	return table[idx]
}
