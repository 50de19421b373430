package simulator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/parley-chat/parley/internal/models"
)

// replyTemplates are rotated per incoming message so consecutive turns
// don't read identically during manual testing.
var replyTemplates = []string{
	"%s here. I read %q and I think the framing is about right, though I'd push on the second half a little.",
	"Interesting point. %s would counter that %q leaves out the part everyone actually argues about.",
	"%s agrees for the most part. %q matches what we saw earlier in this room.",
	"Let me take the other side: %s thinks %q is only true on weekdays.",
}

// liveTurn tracks one agent's in-flight generation so the chatting-agents
// endpoint can report accumulated text to late-joining clients.
type liveTurn struct {
	agent    models.Agent
	mu       sync.Mutex
	thinking string
	response string
}

// AgentRunner produces scripted agent turns: on each user message it picks
// the responding agents, streams thinking and content deltas over the hub
// at a rate-limited pace and finally commits the assistant message.
type AgentRunner struct {
	rooms    *RoomStore
	messages *MessageStore
	hub      *Hub
	log      zerolog.Logger

	// limiter paces delta emission so streams look like generation rather
	// than a single burst
	limiter *rate.Limiter

	mu     sync.Mutex
	active map[string]map[string]*liveTurn
}

// NewAgentRunner wires a runner over the shared stores and hub.
func NewAgentRunner(rooms *RoomStore, messages *MessageStore, hub *Hub, log zerolog.Logger) *AgentRunner {
	return &AgentRunner{
		rooms:    rooms,
		messages: messages,
		hub:      hub,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(30), 10),
		active:   make(map[string]map[string]*liveTurn),
	}
}

// OnUserMessage starts a turn for every responding agent. Mentioned agents
// respond when a mention list is present, the whole roster otherwise. An
// agent already mid-turn is skipped.
func (r *AgentRunner) OnUserMessage(ctx context.Context, roomID string, msg models.Message, mentioned []string) {
	roster := r.rooms.Agents(roomID)

	var responders []models.Agent
	if len(mentioned) > 0 {
		want := make(map[string]struct{}, len(mentioned))
		for _, id := range mentioned {
			want[id] = struct{}{}
		}
		for _, a := range roster {
			if _, ok := want[a.ID]; ok {
				responders = append(responders, a)
			}
		}
	} else {
		responders = roster
	}

	for _, agent := range responders {
		turn := &liveTurn{agent: agent}
		r.mu.Lock()
		if r.active[roomID] == nil {
			r.active[roomID] = make(map[string]*liveTurn)
		}
		if _, busy := r.active[roomID][agent.ID]; busy {
			r.mu.Unlock()
			continue
		}
		r.active[roomID][agent.ID] = turn
		r.mu.Unlock()

		go r.runTurn(ctx, roomID, turn, msg)
	}
}

// Chatting reports the agents currently producing a turn in a room.
func (r *AgentRunner) Chatting(roomID string) []models.ChattingAgent {
	r.mu.Lock()
	turns := make([]*liveTurn, 0, len(r.active[roomID]))
	for _, t := range r.active[roomID] {
		turns = append(turns, t)
	}
	r.mu.Unlock()

	out := make([]models.ChattingAgent, 0, len(turns))
	for _, t := range turns {
		t.mu.Lock()
		out = append(out, models.ChattingAgent{
			ID:           t.agent.ID,
			Name:         t.agent.Name,
			ProfilePic:   t.agent.ProfilePic,
			ThinkingText: t.thinking,
			ResponseText: t.response,
		})
		t.mu.Unlock()
	}
	return out
}

func (r *AgentRunner) runTurn(ctx context.Context, roomID string, turn *liveTurn, userMsg models.Message) {
	agent := turn.agent
	defer func() {
		r.mu.Lock()
		delete(r.active[roomID], agent.ID)
		r.mu.Unlock()
	}()

	r.hub.Publish(roomID, models.StreamEvent{
		Kind: models.EventStreamStart,
		Payload: models.StreamPayload{
			AgentID:      agent.ID,
			AgentName:    agent.Name,
			AgentPicture: agent.ProfilePic,
		},
	})

	thinking := fmt.Sprintf("Working out how %s should answer %q.", agent.Name, truncate(userMsg.Content, 60))
	if !r.streamField(ctx, roomID, turn, models.EventThinkingDelta, thinking) {
		return
	}

	template := replyTemplates[int(userMsg.ID)%len(replyTemplates)]
	response := fmt.Sprintf(template, agent.Name, truncate(userMsg.Content, 80))
	if !r.streamField(ctx, roomID, turn, models.EventContentDelta, response) {
		return
	}

	committed := r.messages.Append(roomID, models.Message{
		Role:            models.RoleAssistant,
		ParticipantType: models.ParticipantCharacter,
		ParticipantName: agent.Name,
		AgentID:         agent.ID,
		Content:         response,
		Thinking:        thinking,
	})
	r.rooms.Touch(roomID)

	r.hub.Publish(roomID, models.StreamEvent{
		Kind:    models.EventStreamEnd,
		Payload: models.StreamPayload{AgentID: agent.ID},
	})
	r.hub.Publish(roomID, models.StreamEvent{
		Kind:    models.EventNewMessage,
		Payload: models.StreamPayload{Message: &committed},
	})

	r.log.Debug().Str("room", roomID).Str("agent", agent.Name).
		Int64("message_id", committed.ID).Msg("agent turn committed")
}

// streamField emits text word by word as deltas of the given kind, updating
// the live turn as it goes. Returns false when the context ended mid-turn.
func (r *AgentRunner) streamField(ctx context.Context, roomID string, turn *liveTurn, kind models.StreamEventKind, text string) bool {
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if err := r.limiter.Wait(ctx); err != nil {
			return false
		}

		turn.mu.Lock()
		if kind == models.EventThinkingDelta {
			turn.thinking += w
		} else {
			turn.response += w
		}
		turn.mu.Unlock()

		r.hub.Publish(roomID, models.StreamEvent{
			Kind:    kind,
			Payload: models.StreamPayload{AgentID: turn.agent.ID, Delta: w},
		})
	}
	return true
}

// truncate shortens s to at most n runes, cutting on rune boundaries so a
// multi-byte character is never split.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
