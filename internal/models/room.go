package models

import "time"

// Room is a chat session container holding an ordered message history and
// a set of participating agents.
type Room struct {
	// ID is the unique identifier for the room
	ID string `json:"id"`

	// Name is the display name of the room
	Name string `json:"name"`

	// CreatedAt is when the room was first created
	CreatedAt time.Time `json:"created_at"`

	// LastActiveAt is updated whenever a message lands in the room
	LastActiveAt time.Time `json:"last_active_at"`
}

// Agent is an AI persona capable of producing assistant-role messages
// in a room.
type Agent struct {
	// ID is the unique identifier for this agent
	ID string `json:"id"`

	// Name is the agent's display name
	Name string `json:"name"`

	// ProfilePic is the agent's avatar identifier/URL
	ProfilePic string `json:"profile_pic,omitempty"`
}

// ChattingAgent describes an agent currently producing a turn, as reported
// by GET /rooms/{id}/chatting-agents. The thinking/response fields carry the
// text accumulated server-side so far, which lets a client that missed the
// stream seed its in-progress state.
type ChattingAgent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfilePic   string `json:"profile_pic,omitempty"`
	ThinkingText string `json:"thinking_text,omitempty"`
	ResponseText string `json:"response_text,omitempty"`
}

// ChattingAgentsResponse is the response for the active-agent status poll.
type ChattingAgentsResponse struct {
	ChattingAgents []ChattingAgent `json:"chatting_agents"`
}

// RoomInfoResponse contains room details and its configured agents.
type RoomInfoResponse struct {
	Room   Room    `json:"room"`
	Agents []Agent `json:"agents"`
}

// CreateRoomRequest is the request body for creating a new room.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// SSETicketResponse carries the short-lived, single-use credential for the
// push channel. The ticket is deliberately narrow in scope so the long-lived
// session credential never appears in a URL.
type SSETicketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expires_in"`
}
