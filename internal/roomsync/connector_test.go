package roomsync

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/models"
)

// sinkRecorder captures connector output for assertions.
type sinkRecorder struct {
	mu         sync.Mutex
	connected  int
	reconnects []int
	terminal   bool
	shutdown   bool
	events     []models.StreamEvent
}

func (r *sinkRecorder) pushConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *sinkRecorder) pushReconnecting(attempt int, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects = append(r.reconnects, attempt)
}

func (r *sinkRecorder) pushTerminal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = true
}

func (r *sinkRecorder) pushShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
}

func (r *sinkRecorder) handleStreamEvent(ev models.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newTestConnector(api API, sink streamSink, maxAttempts int) *connector {
	return &connector{
		api:         api,
		roomID:      "room-1",
		sink:        sink,
		backoff:     []time.Duration{time.Millisecond},
		maxAttempts: maxAttempts,
		log:         logging.Nop(),
	}
}

func TestConnectorTerminalAfterBudget(t *testing.T) {
	api := newStubAPI()
	api.setOpenStream(func(roomID, ticket string) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	})
	sink := &sinkRecorder{}

	c := newTestConnector(api, sink, 3)
	c.run(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.terminal)
	assert.False(t, sink.shutdown)
	assert.Zero(t, sink.connected)
	// Attempts 1 and 2 schedule a retry; attempt 3 hits the ceiling.
	assert.Equal(t, []int{1, 2}, sink.reconnects)
}

func TestConnectorCleanShutdown(t *testing.T) {
	api := newStubAPI()
	api.setOpenStream(func(roomID, ticket string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("event: shutdown\ndata: {}\n\n")), nil
	})
	sink := &sinkRecorder{}

	c := newTestConnector(api, sink, 3)
	c.run(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.shutdown)
	assert.False(t, sink.terminal)
	assert.Equal(t, 1, sink.connected)
	assert.Empty(t, sink.reconnects)
}

func TestConnectorDispatchesEventsAndDropsMalformed(t *testing.T) {
	stream := strings.Join([]string{
		"event: stream_start\ndata: {\"agent_id\":\"a1\",\"agent_name\":\"Nova\"}\n\n",
		"event: content_delta\ndata: {\"agent_id\":\"a1\",\"delta\":\"Hi\"}\n\n",
		"event: content_delta\ndata: {broken\n\n",
		"event: keepalive\ndata: {}\n\n",
		"event: stream_end\ndata: {\"agent_id\":\"a1\"}\n\n",
	}, "")

	api := newStubAPI()
	calls := 0
	api.setOpenStream(func(roomID, ticket string) (io.ReadCloser, error) {
		calls++
		if calls == 1 {
			// Ends in EOF after the scripted frames, which counts as a drop.
			return io.NopCloser(strings.NewReader(stream)), nil
		}
		return nil, errors.New("gone")
	})
	sink := &sinkRecorder{}

	// One successful open resets the budget; the drop plus one failed
	// reconnect then exhausts a ceiling of two.
	c := newTestConnector(api, sink, 2)
	c.run(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 3)
	assert.Equal(t, models.EventStreamStart, sink.events[0].Kind)
	assert.Equal(t, models.EventContentDelta, sink.events[1].Kind)
	assert.Equal(t, "Hi", sink.events[1].Payload.Delta)
	assert.Equal(t, models.EventStreamEnd, sink.events[2].Kind)
	assert.Equal(t, 1, sink.connected)
	assert.True(t, sink.terminal)
}

func TestConnectorFreshTicketPerConnect(t *testing.T) {
	api := newStubAPI()
	var mu sync.Mutex
	var seen []string
	api.setOpenStream(func(roomID, ticket string) (io.ReadCloser, error) {
		mu.Lock()
		seen = append(seen, ticket)
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			// Immediate EOF forces a reconnect cycle.
			return io.NopCloser(strings.NewReader("")), nil
		}
		return io.NopCloser(strings.NewReader("event: shutdown\ndata: {}\n\n")), nil
	})
	sink := &sinkRecorder{}

	c := newTestConnector(api, sink, 5)
	c.run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1])
}

func TestConnectorStopsOnCancel(t *testing.T) {
	api := newStubAPI()
	api.setOpenStream(func(roomID, ticket string) (io.ReadCloser, error) {
		return nil, errors.New("down")
	})
	sink := &sinkRecorder{}

	c := newTestConnector(api, sink, 1000)
	c.backoff = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connector did not stop on cancellation")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.False(t, sink.terminal)
}
