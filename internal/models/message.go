package models

import "time"

// Role identifies the author class of a committed message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParticipantType classifies the participant that produced a message.
type ParticipantType string

const (
	ParticipantUser             ParticipantType = "user"
	ParticipantSituationBuilder ParticipantType = "situation_builder"
	ParticipantCharacter        ParticipantType = "character"
)

// Message is a committed, server-persisted chat entry.
// The ID is a per-room monotonically increasing integer assigned by the
// server; it doubles as the synchronization watermark. The client never
// mutates a committed message after ingestion, it only appends new ones.
type Message struct {
	// ID is the server-assigned message id, unique and ascending within a room
	ID int64 `json:"id"`

	// RoomID is the room this message belongs to
	RoomID string `json:"room_id"`

	// Role is the author class: user, assistant or system
	Role Role `json:"role"`

	// ParticipantType classifies the sender
	ParticipantType ParticipantType `json:"participant_type,omitempty"`

	// ParticipantName is the optional display name of the sender
	ParticipantName string `json:"participant_name,omitempty"`

	// AgentID links an assistant message to the agent that produced it
	AgentID string `json:"agent_id,omitempty"`

	// Content is the message text
	Content string `json:"content"`

	// Thinking is the optional reasoning trace captured during generation
	Thinking string `json:"thinking,omitempty"`

	// Images holds optional image attachment references
	Images []string `json:"images,omitempty"`

	// Excuse is an optional aside annotation explaining a skipped or
	// deflected turn
	Excuse string `json:"excuse,omitempty"`

	// CreatedAt is when the server persisted the message
	CreatedAt time.Time `json:"created_at"`

	// IsStreaming marks a message that was still being produced when the
	// server serialized it (rendering hint only)
	IsStreaming bool `json:"is_streaming,omitempty"`

	// IsSkipped marks a turn the agent declined (rendering hint only)
	IsSkipped bool `json:"is_skipped,omitempty"`
}

// GetMessagesResponse is the response for fetching message history,
// used both for the full fetch and the incremental poll.
type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// SendMessageRequest is the request body for POST /rooms/{id}/messages/send
type SendMessageRequest struct {
	Content           string          `json:"content"`
	Role              Role            `json:"role"`
	ParticipantType   ParticipantType `json:"participant_type,omitempty"`
	ParticipantName   string          `json:"participant_name,omitempty"`
	Images            []string        `json:"images,omitempty"`
	MentionedAgentIDs []string        `json:"mentioned_agent_ids,omitempty"`
}
