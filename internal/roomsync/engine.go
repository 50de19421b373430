package roomsync

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/models"
)

// API is the slice of the chat service the sync engine consumes.
// *api.Client satisfies it; tests substitute stubs.
type API interface {
	GetMessages(ctx context.Context, roomID string) ([]models.Message, error)
	PollMessages(ctx context.Context, roomID string, sinceID int64) ([]models.Message, error)
	ChattingAgents(ctx context.Context, roomID string) ([]models.ChattingAgent, error)
	SendMessage(ctx context.Context, roomID string, req models.SendMessageRequest) (*models.Message, error)
	SSETicket(ctx context.Context, roomID string) (models.SSETicketResponse, error)
	OpenStream(ctx context.Context, roomID, ticket string) (io.ReadCloser, error)
}

// State is the per-room lifecycle of the engine.
type State int

const (
	// StateEmpty means no room is selected
	StateEmpty State = iota
	// StateLoading means a room was just entered and the initial history
	// fetch has not completed yet
	StateLoading
	// StateSynced means the rendered list reflects at least one successful
	// fetch; every later update re-enters this state
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	default:
		return "empty"
	}
}

// PushState is the push-channel leg of the connection state. The pull path
// is always considered a working fallback and has no state of its own.
type PushState int

const (
	// PushConnecting means the first connection attempt is underway
	PushConnecting PushState = iota
	// PushConnected means the SSE stream is up
	PushConnected
	// PushReconnecting means the stream dropped and a retry is scheduled
	PushReconnecting
	// PushClosed means the server ended the stream cleanly (shutdown frame)
	PushClosed
	// PushTerminal means the reconnect budget is exhausted; polling keeps
	// the room alive until the user re-enters it
	PushTerminal
)

func (p PushState) String() string {
	switch p {
	case PushConnected:
		return "connected"
	case PushReconnecting:
		return "reconnecting"
	case PushClosed:
		return "closed"
	case PushTerminal:
		return "terminal"
	default:
		return "connecting"
	}
}

// PushStatus is the push channel state exposed to views.
type PushStatus struct {
	State PushState

	// Attempt is the reconnect attempt count while reconnecting
	Attempt int

	// NextRetry is the computed backoff before the scheduled attempt
	NextRetry time.Duration
}

// Options tunes the engine. Zero values fall back to the defaults below.
type Options struct {
	// PollInterval is the cadence of the fallback pollers (default 5s)
	PollInterval time.Duration

	// SettleDelay is the pause before the out-of-band poll that follows a
	// send or a finished turn, long enough for the server write to land
	// (default 100ms)
	SettleDelay time.Duration

	// MaxReconnectAttempts is the push reconnect ceiling (default 10)
	MaxReconnectAttempts int

	// Backoff overrides the reconnect wait table (default 1s,2s,5s,10s,30s)
	Backoff []time.Duration

	// Logger receives engine diagnostics; nil-safe default is a nop logger
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 100 * time.Millisecond
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if len(o.Backoff) == 0 {
		o.Backoff = defaultBackoff
	}
	return o
}

// Engine is the reconciliation core: it merges confirmed history, live
// in-progress turns and new arrivals into one ordered, de-duplicated view.
// It is the single owner of the message list and turn map; the connector,
// pollers and send pipeline feed it through explicit update operations,
// each guarded by the session generation so nothing from a previous room
// can mutate the current one.
type Engine struct {
	api  API
	opts Options
	log  zerolog.Logger

	mu   sync.Mutex
	sess *session
	gen  uint64

	changed chan struct{}
}

// session is the per-room state, discarded wholesale on room switch.
type session struct {
	gen    uint64
	roomID string
	ctx    context.Context
	cancel context.CancelFunc

	state State
	// loaded is set by the first successful full history fetch and nothing
	// else; until then every message poll refetches the full history
	loaded    bool
	watermark int64
	messages  []models.Message
	known     map[int64]struct{}
	acc       *accumulator
	push      PushStatus
	sending   bool

	msgPoller *poller
}

// New creates an engine on top of the given API.
func New(apiClient API, opts Options) *Engine {
	opts = opts.withDefaults()
	log := logging.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Engine{
		api:     apiClient,
		opts:    opts,
		log:     log,
		changed: make(chan struct{}, 1),
	}
}

// Changes returns a coalescing notification channel: a receive means the
// snapshot may have changed since the last read.
func (e *Engine) Changes() <-chan struct{} {
	return e.changed
}

// EnterRoom switches the engine to a room. Any previous session is torn
// down first: its push connection closes, its timers stop and its in-flight
// requests abort through the session context. The watermark resets to zero
// and the initial history fetch begins immediately.
func (e *Engine) EnterRoom(roomID string) {
	e.mu.Lock()
	if e.sess != nil {
		e.sess.cancel()
	}
	e.gen++

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		gen:    e.gen,
		roomID: roomID,
		ctx:    ctx,
		cancel: cancel,
		state:  StateLoading,
		known:  make(map[int64]struct{}),
		acc:    newAccumulator(),
		push:   PushStatus{State: PushConnecting},
	}
	gen := s.gen

	s.msgPoller = newPoller(e.opts.PollInterval, func(ctx context.Context) {
		e.pollMessages(ctx, gen, roomID)
	})
	statusPoller := newPoller(e.opts.PollInterval, func(ctx context.Context) {
		e.pollStatus(ctx, gen, roomID)
	})
	conn := &connector{
		api:         e.api,
		roomID:      roomID,
		sink:        &sessionSink{engine: e, gen: gen},
		backoff:     e.opts.Backoff,
		maxAttempts: e.opts.MaxReconnectAttempts,
		log:         e.log,
	}

	e.sess = s
	e.mu.Unlock()

	e.log.Info().Str("room", roomID).Msg("entering room")
	go s.msgPoller.run(ctx)
	go statusPoller.run(ctx)
	go conn.run(ctx)
	e.notify()
}

// LeaveRoom tears down the current session, if any.
func (e *Engine) LeaveRoom() {
	e.mu.Lock()
	if e.sess != nil {
		e.sess.cancel()
		e.sess = nil
		e.gen++
	}
	e.mu.Unlock()
	e.notify()
}

// Close is LeaveRoom under a name that reads better at program exit.
func (e *Engine) Close() {
	e.LeaveRoom()
}

// current reports whether gen identifies the active session. Callers hold mu.
func (e *Engine) current(gen uint64) bool {
	return e.sess != nil && e.sess.gen == gen
}

func (e *Engine) notify() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// pollMessages is the message-poll tick: a full history fetch until the
// first success, incremental since-watermark polls afterwards. Fetch errors
// are absorbed; the next tick retries.
func (e *Engine) pollMessages(ctx context.Context, gen uint64, roomID string) {
	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return
	}
	full := !e.sess.loaded
	since := e.sess.watermark
	e.mu.Unlock()

	var msgs []models.Message
	var err error
	if full {
		msgs, err = e.api.GetMessages(ctx, roomID)
	} else {
		msgs, err = e.api.PollMessages(ctx, roomID, since)
	}
	if err != nil {
		if ctx.Err() == nil {
			e.log.Debug().Str("room", roomID).Err(err).Msg("message poll failed")
		}
		return
	}

	e.applyMessages(gen, msgs, full)
}

// applyMessages merges fetched or pushed committed messages into the list.
// Already-known ids are skipped, so applying the same batch twice is a
// no-op; the watermark only ever advances. An agent whose committed message
// lands here loses its in-progress turn at the same instant.
//
// initial marks a successful full history fetch, which is the only thing
// that moves the session out of Loading. A push-delivered message may land
// earlier and is kept, but it must not mark the history loaded: the full
// fetch keeps retrying, otherwise an incremental poll from the pushed id
// would skip every older message for the rest of the session.
func (e *Engine) applyMessages(gen uint64, msgs []models.Message, initial bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current(gen) {
		return
	}
	s := e.sess

	changed := false
	if initial && !s.loaded {
		s.loaded = true
		s.state = StateSynced
		changed = true
	}

	appended := false
	for _, m := range msgs {
		if _, seen := s.known[m.ID]; seen {
			continue
		}
		s.known[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
		if m.ID > s.watermark {
			s.watermark = m.ID
		}
		if m.AgentID != "" {
			s.acc.end(m.AgentID)
		}
		appended = true
	}

	if appended {
		// Push-delivered messages and poll batches may interleave; keep
		// the committed section strictly ascending regardless.
		sort.SliceStable(s.messages, func(i, j int) bool {
			return s.messages[i].ID < s.messages[j].ID
		})
		changed = true
	}

	if changed {
		e.notify()
	}
}

// pollStatus is the active-agent poll tick. It is skipped while the push
// channel is connected, since start/delta/end events already carry the same
// information more cheaply.
func (e *Engine) pollStatus(ctx context.Context, gen uint64, roomID string) {
	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return
	}
	if e.sess.push.State == PushConnected {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	agents, err := e.api.ChattingAgents(ctx, roomID)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Debug().Str("room", roomID).Err(err).Msg("status poll failed")
		}
		return
	}

	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return
	}
	changed, dropped := e.sess.acc.reconcile(agents)
	mp := e.sess.msgPoller
	if changed {
		e.notify()
	}
	e.mu.Unlock()

	if dropped > 0 {
		// A vanished turn usually means its message is committing right
		// now; fetch it without waiting a full interval.
		mp.pokeAfter(e.opts.SettleDelay)
	}
}

// handleStreamEvent applies one push-channel event to the session.
func (e *Engine) handleStreamEvent(gen uint64, ev models.StreamEvent) {
	if ev.Kind == models.EventNewMessage {
		if ev.Payload.Message != nil {
			e.applyMessages(gen, []models.Message{*ev.Payload.Message}, false)
		}
		return
	}

	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return
	}
	s := e.sess

	changed := false
	var poke bool
	switch ev.Kind {
	case models.EventStreamStart:
		s.acc.start(ev.Payload)
		changed = true
	case models.EventThinkingDelta:
		s.acc.appendThinking(ev.Payload.AgentID, ev.Payload.Delta)
		changed = true
	case models.EventContentDelta:
		s.acc.appendContent(ev.Payload.AgentID, ev.Payload.Delta)
		changed = true
	case models.EventStreamEnd:
		if s.acc.end(ev.Payload.AgentID) {
			changed = true
			poke = true
		}
	default:
		e.log.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown stream event")
	}

	mp := s.msgPoller
	if changed {
		e.notify()
	}
	e.mu.Unlock()

	if poke {
		mp.pokeAfter(e.opts.SettleDelay)
	}
}

// setPush updates the push status and signals views.
func (e *Engine) setPush(gen uint64, st PushStatus) {
	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return
	}
	e.sess.push = st
	e.notify()
	e.mu.Unlock()
}

// sessionSink adapts the engine to the connector's streamSink, binding every
// callback to one session generation.
type sessionSink struct {
	engine *Engine
	gen    uint64
}

func (s *sessionSink) pushConnected() {
	s.engine.setPush(s.gen, PushStatus{State: PushConnected})
}

func (s *sessionSink) pushReconnecting(attempt int, wait time.Duration) {
	s.engine.setPush(s.gen, PushStatus{State: PushReconnecting, Attempt: attempt, NextRetry: wait})
}

func (s *sessionSink) pushTerminal() {
	s.engine.setPush(s.gen, PushStatus{State: PushTerminal})
}

func (s *sessionSink) pushShutdown() {
	e := s.engine
	e.mu.Lock()
	if !e.current(s.gen) {
		e.mu.Unlock()
		return
	}
	// The server said no further deltas are coming; any indicator still
	// on screen is stale.
	e.sess.acc.reset()
	e.sess.push = PushStatus{State: PushClosed}
	e.notify()
	e.mu.Unlock()
}

func (s *sessionSink) handleStreamEvent(ev models.StreamEvent) {
	s.engine.handleStreamEvent(s.gen, ev)
}
