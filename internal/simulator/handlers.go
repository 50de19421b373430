package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parley-chat/parley/internal/models"
)

// handleListRooms handles GET /rooms
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.List())
}

// handleCreateRoom handles POST /rooms
// New rooms get the default agent roster.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Name = ""
	}

	room := s.rooms.Create(req.Name, defaultAgents())
	s.log.Info().Str("room", room.ID).Str("name", room.Name).Msg("room created")
	writeJSON(w, http.StatusCreated, room)
}

// handleGetRoom handles GET /rooms/{id}
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	room, err := s.rooms.Get(roomID)
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, models.RoomInfoResponse{
		Room:   *room,
		Agents: s.rooms.Agents(roomID),
	})
}

// handleGetMessages handles GET /rooms/{id}/messages
// Returns the full history in ascending id order.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if _, err := s.rooms.Get(roomID); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, models.GetMessagesResponse{
		Messages: s.store.All(roomID),
	})
}

// handlePollMessages handles GET /rooms/{id}/messages/poll?since_id=N
func (s *Server) handlePollMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if _, err := s.rooms.Get(roomID); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	var sinceID int64
	if raw := r.URL.Query().Get("since_id"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &sinceID); err != nil {
			http.Error(w, "invalid since_id", http.StatusBadRequest)
			return
		}
	}

	writeJSON(w, http.StatusOK, models.GetMessagesResponse{
		Messages: s.store.Since(roomID, sinceID),
	})
}

// handleChattingAgents handles GET /rooms/{id}/chatting-agents
func (s *Server) handleChattingAgents(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, models.ChattingAgentsResponse{
		ChattingAgents: s.runner.Chatting(roomID),
	})
}

// handleSendMessage handles POST /rooms/{id}/messages/send
// Commits the user message, fans it out on the push channel and kicks off
// the responding agents' turns.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if _, err := s.rooms.Get(roomID); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	ptype := req.ParticipantType
	if ptype == "" {
		ptype = models.ParticipantUser
	}
	msg := s.store.Append(roomID, models.Message{
		Role:            models.RoleUser,
		ParticipantType: ptype,
		ParticipantName: req.ParticipantName,
		Content:         req.Content,
		Images:          req.Images,
	})
	s.rooms.Touch(roomID)

	s.hub.Publish(roomID, models.StreamEvent{
		Kind:    models.EventNewMessage,
		Payload: models.StreamPayload{Message: &msg},
	})
	s.runner.OnUserMessage(s.baseCtx, roomID, msg, req.MentionedAgentIDs)

	s.log.Debug().Str("room", roomID).Int64("message_id", msg.ID).Msg("user message committed")
	writeJSON(w, http.StatusCreated, msg)
}

// handleSSETicket handles POST /rooms/{id}/sse-ticket
func (s *Server) handleSSETicket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if _, err := s.rooms.Get(roomID); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	id, ttl := s.tickets.Issue(roomID)
	writeJSON(w, http.StatusOK, models.SSETicketResponse{
		Ticket:    id,
		ExpiresIn: int(ttl.Seconds()),
	})
}

// handleStream handles GET /rooms/{id}/stream?ticket=...
// The ticket is the only credential here, redeemed exactly once.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if !s.tickets.Redeem(r.URL.Query().Get("ticket"), roomID) {
		http.Error(w, "invalid or expired ticket", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.hub.Subscribe(roomID)
	defer cancel()

	s.log.Debug().Str("room", roomID).Msg("stream opened")

	keepalive := newTicker(s.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			writeEvent(w, flusher, models.StreamEvent{Kind: models.EventShutdown})
			return
		case <-keepalive.C:
			writeEvent(w, flusher, models.StreamEvent{Kind: models.EventKeepalive})
		case ev := <-events:
			writeEvent(w, flusher, ev)
			if ev.Kind == models.EventShutdown {
				return
			}
		}
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "parley simulator is running",
	})
}

// writeEvent serializes one SSE frame and flushes it to the wire.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev models.StreamEvent) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	flusher.Flush()
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
