package roomsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/models"
)

// stubAPI is an in-memory API backend for engine and connector tests.
type stubAPI struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	agents   map[string][]models.ChattingAgent
	nextID   int64
	ticketN  int
	sendErr  error
	sendGate chan struct{}
	// failGets makes the next N GetMessages calls fail
	failGets int

	openStream func(roomID, ticket string) (io.ReadCloser, error)
}

func newStubAPI() *stubAPI {
	return &stubAPI{
		messages: make(map[string][]models.Message),
		agents:   make(map[string][]models.ChattingAgent),
	}
}

func (s *stubAPI) setOpenStream(fn func(roomID, ticket string) (io.ReadCloser, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openStream = fn
}

// addMessage commits a message server-side and returns it.
func (s *stubAPI) addMessage(roomID string, m models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.RoomID = roomID
	s.messages[roomID] = append(s.messages[roomID], m)
	return m
}

func (s *stubAPI) setAgents(roomID string, agents []models.ChattingAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[roomID] = agents
}

func (s *stubAPI) GetMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGets > 0 {
		s.failGets--
		return nil, errors.New("history fetch unavailable")
	}
	out := make([]models.Message, len(s.messages[roomID]))
	copy(out, s.messages[roomID])
	return out, nil
}

func (s *stubAPI) PollMessages(ctx context.Context, roomID string, sinceID int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages[roomID] {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubAPI) ChattingAgents(ctx context.Context, roomID string) ([]models.ChattingAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChattingAgent, len(s.agents[roomID]))
	copy(out, s.agents[roomID])
	return out, nil
}

func (s *stubAPI) SendMessage(ctx context.Context, roomID string, req models.SendMessageRequest) (*models.Message, error) {
	s.mu.Lock()
	gate := s.sendGate
	sendErr := s.sendErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if sendErr != nil {
		return nil, sendErr
	}
	m := s.addMessage(roomID, models.Message{
		Role:            req.Role,
		ParticipantType: req.ParticipantType,
		ParticipantName: req.ParticipantName,
		Content:         req.Content,
	})
	return &m, nil
}

func (s *stubAPI) SSETicket(ctx context.Context, roomID string) (models.SSETicketResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketN++
	return models.SSETicketResponse{Ticket: fmt.Sprintf("ticket-%d", s.ticketN), ExpiresIn: 30}, nil
}

func (s *stubAPI) OpenStream(ctx context.Context, roomID, ticket string) (io.ReadCloser, error) {
	s.mu.Lock()
	fn := s.openStream
	s.mu.Unlock()
	if fn != nil {
		return fn(roomID, ticket)
	}
	return nil, errors.New("push channel unavailable")
}

func testOptions() Options {
	return Options{
		PollInterval:         10 * time.Millisecond,
		SettleDelay:          time.Millisecond,
		MaxReconnectAttempts: 2,
		Backoff:              []time.Duration{time.Millisecond},
	}
}

// currentGen reads the active session generation for white-box calls.
func currentGen(e *Engine) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

func TestEngineEmptyRoomReachesSynced(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()

	e.EnterRoom("room-1")

	require.Eventually(t, func() bool {
		return e.Snapshot().State == StateSynced
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Turns)
	assert.Zero(t, snap.Watermark)
}

func TestEngineInitialHistoryAndWatermark(t *testing.T) {
	api := newStubAPI()
	api.addMessage("room-1", models.Message{Role: models.RoleUser, Content: "hello"})
	api.addMessage("room-1", models.Message{Role: models.RoleAssistant, Content: "hi there"})

	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")

	require.Eventually(t, func() bool {
		return len(e.Snapshot().Messages) == 2
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.Equal(t, StateSynced, snap.State)
	assert.Equal(t, int64(2), snap.Watermark)
	assert.Equal(t, "hello", snap.Messages[0].Content)
}

func TestEnginePollPicksUpNewMessages(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")

	require.Eventually(t, func() bool {
		return e.Snapshot().State == StateSynced
	}, time.Second, time.Millisecond)

	api.addMessage("room-1", models.Message{Role: models.RoleUser, Content: "late arrival"})

	require.Eventually(t, func() bool {
		return len(e.Snapshot().Messages) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), e.Snapshot().Watermark)
}

func TestEngineMergeIsIdempotent(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")
	gen := currentGen(e)

	// Let the initial fetch finish so later polls are guaranteed no-ops.
	require.Eventually(t, func() bool {
		return e.Snapshot().State == StateSynced
	}, time.Second, time.Millisecond)

	batch := []models.Message{
		{ID: 1, Content: "a"},
		{ID: 2, Content: "b"},
	}
	e.applyMessages(gen, batch, false)

	first := e.Snapshot()
	require.Len(t, first.Messages, 2)

	// Drain the change channel, then re-apply the identical batch.
	select {
	case <-e.Changes():
	default:
	}
	e.applyMessages(gen, batch, false)

	second := e.Snapshot()
	assert.Equal(t, first.Messages, second.Messages)
	assert.Equal(t, first.Watermark, second.Watermark)

	select {
	case <-e.Changes():
		t.Fatal("re-applying a known batch must not signal a change")
	default:
	}
}

func TestEnginePushBeforeHistoryLoadKeepsOlderMessages(t *testing.T) {
	api := newStubAPI()
	var last models.Message
	for _, c := range []string{"one", "two", "three", "four"} {
		last = api.addMessage("room-1", models.Message{Role: models.RoleUser, Content: c})
	}
	api.failGets = 3

	opts := testOptions()
	opts.PollInterval = 50 * time.Millisecond
	e := New(api, opts)
	defer e.Close()
	e.EnterRoom("room-1")
	gen := currentGen(e)

	// The newest message arrives over the push channel while the initial
	// history fetch is still failing.
	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventNewMessage,
		Payload: models.StreamPayload{Message: &last},
	})

	snap := e.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, StateLoading, snap.State)

	// Once the full fetch succeeds the older messages must appear. If the
	// pushed message had switched polling to incremental mode, since_id
	// would start at 4 and ids 1..3 could never be fetched again.
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Messages) == 4
	}, 2*time.Second, 5*time.Millisecond)

	snap = e.Snapshot()
	assert.Equal(t, StateSynced, snap.State)
	assert.Equal(t, "one", snap.Messages[0].Content)
	assert.Equal(t, "four", snap.Messages[3].Content)
	assert.Equal(t, int64(4), snap.Watermark)
}

func TestEngineInterleavedBatchesStayOrdered(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")
	gen := currentGen(e)

	// A push-delivered message can land before an older poll batch.
	e.applyMessages(gen, []models.Message{{ID: 5, Content: "newest"}}, false)
	e.applyMessages(gen, []models.Message{{ID: 2, Content: "older"}, {ID: 3, Content: "old"}}, false)

	snap := e.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, int64(2), snap.Messages[0].ID)
	assert.Equal(t, int64(3), snap.Messages[1].ID)
	assert.Equal(t, int64(5), snap.Messages[2].ID)
	assert.Equal(t, int64(5), snap.Watermark)
}

func TestEngineStreamingTurnLifecycle(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")
	gen := currentGen(e)

	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventStreamStart,
		Payload: models.StreamPayload{AgentID: "a1", AgentName: "Nova"},
	})
	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventThinkingDelta,
		Payload: models.StreamPayload{AgentID: "a1", Delta: "hmm"},
	})
	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventContentDelta,
		Payload: models.StreamPayload{AgentID: "a1", Delta: "Hel"},
	})
	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventContentDelta,
		Payload: models.StreamPayload{AgentID: "a1", Delta: "lo"},
	})

	snap := e.Snapshot()
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, "hmm", snap.Turns[0].Thinking)
	assert.Equal(t, "Hello", snap.Turns[0].Response)

	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventStreamEnd,
		Payload: models.StreamPayload{AgentID: "a1"},
	})
	assert.Empty(t, e.Snapshot().Turns)
}

func TestEngineCommittedMessageEndsTurn(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")
	gen := currentGen(e)

	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventStreamStart,
		Payload: models.StreamPayload{AgentID: "a1", AgentName: "Nova"},
	})
	require.Len(t, e.Snapshot().Turns, 1)

	// The committed message carries the agent id; its arrival replaces the
	// in-progress turn in the same update.
	e.applyMessages(gen, []models.Message{
		{ID: 1, Role: models.RoleAssistant, AgentID: "a1", Content: "done"},
	}, false)

	snap := e.Snapshot()
	assert.Empty(t, snap.Turns)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "done", snap.Messages[0].Content)
}

func TestEngineEntriesOrderCommittedThenTurns(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")
	gen := currentGen(e)

	e.applyMessages(gen, []models.Message{{ID: 1, Content: "a"}, {ID: 2, Content: "b"}}, false)
	e.handleStreamEvent(gen, models.StreamEvent{
		Kind:    models.EventStreamStart,
		Payload: models.StreamPayload{AgentID: "a1"},
	})

	entries := e.Snapshot().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, CommittedID(1), entries[0].ID)
	assert.Equal(t, CommittedID(2), entries[1].ID)
	assert.Equal(t, EphemeralID("a1"), entries[2].ID)
	assert.NotNil(t, entries[2].Turn)
	assert.Nil(t, entries[2].Message)
}

func TestEngineRoomSwitchResetsState(t *testing.T) {
	api := newStubAPI()
	api.addMessage("room-1", models.Message{Content: "one"})
	api.addMessage("room-1", models.Message{Content: "two"})

	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")

	require.Eventually(t, func() bool {
		return e.Snapshot().Watermark == 2
	}, time.Second, time.Millisecond)
	staleGen := currentGen(e)

	e.EnterRoom("room-2")

	snap := e.Snapshot()
	assert.Equal(t, "room-2", snap.RoomID)
	assert.Empty(t, snap.Messages)

	// Updates bound to the old session must be discarded.
	e.applyMessages(staleGen, []models.Message{{ID: 99, Content: "ghost"}}, false)
	e.handleStreamEvent(staleGen, models.StreamEvent{
		Kind:    models.EventStreamStart,
		Payload: models.StreamPayload{AgentID: "a1"},
	})

	snap = e.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Turns)

	require.Eventually(t, func() bool {
		return e.Snapshot().State == StateSynced
	}, time.Second, time.Millisecond)
	assert.Zero(t, e.Snapshot().Watermark)
}

func TestEngineStatusPollSeedsTurns(t *testing.T) {
	api := newStubAPI()
	api.setAgents("room-1", []models.ChattingAgent{
		{ID: "a1", Name: "Nova", ThinkingText: "considering", ResponseText: "So far"},
	})

	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")

	require.Eventually(t, func() bool {
		return len(e.Snapshot().Turns) == 1
	}, time.Second, time.Millisecond)

	turn := e.Snapshot().Turns[0]
	assert.Equal(t, "Nova", turn.AgentName)
	assert.Equal(t, "So far", turn.Response)

	api.setAgents("room-1", nil)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Turns) == 0
	}, time.Second, time.Millisecond)
}

func TestEnginePushTerminalAfterBudget(t *testing.T) {
	api := newStubAPI()
	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")

	// The stub's default OpenStream always fails; with a two-attempt budget
	// the push channel parks in its terminal state while polling continues.
	require.Eventually(t, func() bool {
		return e.Snapshot().Push.State == PushTerminal
	}, time.Second, time.Millisecond)

	api.addMessage("room-1", models.Message{Content: "still flowing"})
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Messages) == 1
	}, time.Second, time.Millisecond)
}

func TestEngineSendWithoutRoom(t *testing.T) {
	e := New(newStubAPI(), testOptions())
	err := e.Send(SendRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrNoRoom)
}

func TestEngineSendFailureLeavesListUnchanged(t *testing.T) {
	api := newStubAPI()
	api.sendErr = errors.New("boom")

	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")

	require.Eventually(t, func() bool {
		return e.Snapshot().State == StateSynced
	}, time.Second, time.Millisecond)

	err := e.Send(SendRequest{Content: "hi", ParticipantName: "me"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "send failed")

	snap := e.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Sending)
}

func TestEngineSendInFlightGuard(t *testing.T) {
	api := newStubAPI()
	gate := make(chan struct{})
	api.sendGate = gate

	e := New(api, testOptions())
	defer e.Close()
	e.EnterRoom("room-1")

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- e.Send(SendRequest{Content: "first"})
	}()

	require.Eventually(t, func() bool {
		return e.Snapshot().Sending
	}, time.Second, time.Millisecond)

	err := e.Send(SendRequest{Content: "second"})
	assert.ErrorIs(t, err, ErrSendInFlight)

	close(gate)
	require.NoError(t, <-firstDone)

	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return !snap.Sending && len(snap.Messages) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "first", e.Snapshot().Messages[0].Content)
}

func TestEngineSendSurfacesQuickly(t *testing.T) {
	api := newStubAPI()
	opts := testOptions()
	// Interval long enough that only the settle-delay poke can fetch.
	opts.PollInterval = time.Hour
	e := New(api, opts)
	defer e.Close()
	e.EnterRoom("room-1")

	require.Eventually(t, func() bool {
		return e.Snapshot().State == StateSynced
	}, time.Second, time.Millisecond)

	require.NoError(t, e.Send(SendRequest{Content: "ping", ParticipantName: "me"}))

	require.Eventually(t, func() bool {
		return len(e.Snapshot().Messages) == 1
	}, time.Second, time.Millisecond)
}

func TestEngineSnapshotWithoutRoom(t *testing.T) {
	e := New(newStubAPI(), testOptions())
	snap := e.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.Empty(t, snap.Entries())
}
