package roomsync

import "strconv"

// EntryID identifies one entry in the rendered list: either a committed,
// server-persisted message or the ephemeral in-progress turn of an agent.
// The two variants occupy disjoint spaces, so a typing indicator can never
// collide with or be mistaken for a real message id.
type EntryID struct {
	agent     string
	committed int64
}

// CommittedID returns the identifier for a committed message.
func CommittedID(id int64) EntryID {
	return EntryID{committed: id}
}

// EphemeralID returns the identifier for an agent's in-progress turn.
func EphemeralID(agentID string) EntryID {
	return EntryID{agent: agentID}
}

// IsCommitted reports whether the id refers to a committed message.
func (e EntryID) IsCommitted() bool {
	return e.agent == ""
}

// Committed returns the message id when the entry is a committed message.
func (e EntryID) Committed() (int64, bool) {
	if e.agent != "" {
		return 0, false
	}
	return e.committed, true
}

// Agent returns the agent id when the entry is an in-progress turn.
func (e EntryID) Agent() (string, bool) {
	if e.agent == "" {
		return "", false
	}
	return e.agent, true
}

func (e EntryID) String() string {
	if e.agent != "" {
		return "turn:" + e.agent
	}
	return "msg:" + strconv.FormatInt(e.committed, 10)
}
