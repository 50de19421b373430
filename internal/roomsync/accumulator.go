package roomsync

import (
	"github.com/parley-chat/parley/internal/models"
)

// Turn is the ephemeral stand-in for an agent that is currently producing
// a response. It is never persisted; it exists between an agent's
// stream_start and the moment its committed message lands.
type Turn struct {
	AgentID      string
	AgentName    string
	AgentPicture string

	// Thinking and Response grow append-only for the lifetime of one turn
	Thinking string
	Response string
}

// EntryID returns the ephemeral identifier for this turn.
func (t Turn) EntryID() EntryID {
	return EphemeralID(t.AgentID)
}

// accumulator folds the ordered push-event stream into per-agent in-progress
// turns. Delivery order from the channel is trusted as occurrence order; no
// reordering is attempted. Not safe for concurrent use: the engine serializes
// all access under its lock.
type accumulator struct {
	turns map[string]*Turn
	// order preserves first-seen agent order so the rendered tail is stable
	order []string
}

func newAccumulator() *accumulator {
	return &accumulator{turns: make(map[string]*Turn)}
}

// start (re)initializes the turn for an agent. The payload's thinking and
// response fields seed the accumulated text, which matters for a client that
// connects while a turn is already underway. A later start for the same
// agent replaces the old turn in place, never duplicates it.
func (a *accumulator) start(p models.StreamPayload) {
	t, ok := a.turns[p.AgentID]
	if !ok {
		t = &Turn{AgentID: p.AgentID}
		a.turns[p.AgentID] = t
		a.order = append(a.order, p.AgentID)
	}
	t.AgentName = p.AgentName
	t.AgentPicture = p.AgentPicture
	t.Thinking = p.Thinking
	t.Response = p.Response
}

// appendThinking appends a thinking delta to an agent's turn, creating the
// turn if the stream_start was missed so no data is dropped.
func (a *accumulator) appendThinking(agentID, delta string) {
	a.ensure(agentID).Thinking += delta
}

// appendContent appends a response delta to an agent's turn, creating the
// turn if the stream_start was missed.
func (a *accumulator) appendContent(agentID, delta string) {
	a.ensure(agentID).Response += delta
}

func (a *accumulator) ensure(agentID string) *Turn {
	t, ok := a.turns[agentID]
	if !ok {
		t = &Turn{AgentID: agentID}
		a.turns[agentID] = t
		a.order = append(a.order, agentID)
	}
	return t
}

// end removes an agent's turn. Reports whether a turn existed.
func (a *accumulator) end(agentID string) bool {
	if _, ok := a.turns[agentID]; !ok {
		return false
	}
	delete(a.turns, agentID)
	for i, id := range a.order {
		if id == agentID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return true
}

// reconcile applies an active-agent poll result: agents missing from the
// report are dropped, newly reported agents gain a freshly seeded turn, and
// an agent whose accumulated text matches the report causes no update at
// all, so unchanged state produces no re-render signal. Returns whether
// anything changed and how many turns were dropped.
func (a *accumulator) reconcile(active []models.ChattingAgent) (changed bool, dropped int) {
	reported := make(map[string]struct{}, len(active))
	for _, ag := range active {
		reported[ag.ID] = struct{}{}
	}

	for _, id := range append([]string(nil), a.order...) {
		if _, ok := reported[id]; !ok {
			a.end(id)
			changed = true
			dropped++
		}
	}

	for _, ag := range active {
		t, ok := a.turns[ag.ID]
		if ok && t.Thinking == ag.ThinkingText && t.Response == ag.ResponseText {
			continue
		}
		a.start(models.StreamPayload{
			AgentID:      ag.ID,
			AgentName:    ag.Name,
			AgentPicture: ag.ProfilePic,
			Thinking:     ag.ThinkingText,
			Response:     ag.ResponseText,
		})
		changed = true
	}

	return changed, dropped
}

// snapshot returns value copies of all turns in stable order.
func (a *accumulator) snapshot() []Turn {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]Turn, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.turns[id])
	}
	return out
}

func (a *accumulator) len() int {
	return len(a.turns)
}

// reset discards all turns, used on room switch and server shutdown.
func (a *accumulator) reset() {
	a.turns = make(map[string]*Turn)
	a.order = nil
}
