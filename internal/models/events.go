package models

import "encoding/json"

// StreamEventKind names the event types delivered on the push channel.
type StreamEventKind string

const (
	EventStreamStart   StreamEventKind = "stream_start"
	EventContentDelta  StreamEventKind = "content_delta"
	EventThinkingDelta StreamEventKind = "thinking_delta"
	EventStreamEnd     StreamEventKind = "stream_end"
	EventKeepalive     StreamEventKind = "keepalive"
	EventNewMessage    StreamEventKind = "new_message"
	EventShutdown      StreamEventKind = "shutdown"
)

// StreamEvent is one decoded push-channel event.
type StreamEvent struct {
	Kind    StreamEventKind
	Payload StreamPayload
}

// StreamPayload is the union of fields the different event kinds carry.
// stream_start uses the agent fields plus the optional thinking/response
// seeds (non-empty when the client connected mid-turn); the delta events
// use AgentID and Delta; new_message carries the committed message.
type StreamPayload struct {
	AgentID      string   `json:"agent_id,omitempty"`
	AgentName    string   `json:"agent_name,omitempty"`
	AgentPicture string   `json:"agent_picture,omitempty"`
	Thinking     string   `json:"thinking,omitempty"`
	Response     string   `json:"response,omitempty"`
	Delta        string   `json:"delta,omitempty"`
	Message      *Message `json:"message,omitempty"`
}

// DecodeStreamPayload parses the data portion of a push-channel frame.
// Keepalive and shutdown frames have no payload; an empty data string
// decodes to the zero payload.
func DecodeStreamPayload(data string) (StreamPayload, error) {
	var p StreamPayload
	if data == "" {
		return p, nil
	}
	err := json.Unmarshal([]byte(data), &p)
	return p, err
}
