package roomsync

import "github.com/parley-chat/parley/internal/models"

// Snapshot is an immutable view of the engine's state, safe to hold across
// renders. Committed messages come first in strictly ascending id order;
// in-progress turns follow in stable first-seen order.
type Snapshot struct {
	RoomID    string
	State     State
	Messages  []models.Message
	Turns     []Turn
	Push      PushStatus
	Watermark int64
	Sending   bool
}

// Entry is one row of the rendered list.
type Entry struct {
	ID EntryID

	// Exactly one of Message and Turn is set
	Message *models.Message
	Turn    *Turn
}

// Entries flattens the snapshot into the rendered list: all committed
// messages, then all in-progress turns.
func (s Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.Messages)+len(s.Turns))
	for i := range s.Messages {
		m := &s.Messages[i]
		out = append(out, Entry{ID: CommittedID(m.ID), Message: m})
	}
	for i := range s.Turns {
		t := &s.Turns[i]
		out = append(out, Entry{ID: t.EntryID(), Turn: t})
	}
	return out
}

// Snapshot copies the current state out of the engine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return Snapshot{State: StateEmpty}
	}
	s := e.sess

	snap := Snapshot{
		RoomID:    s.roomID,
		State:     s.state,
		Push:      s.push,
		Watermark: s.watermark,
		Sending:   s.sending,
		Turns:     s.acc.snapshot(),
	}
	if len(s.messages) > 0 {
		snap.Messages = make([]models.Message, len(s.messages))
		copy(snap.Messages, s.messages)
	}
	return snap
}
