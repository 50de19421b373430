// Package simulator is an in-memory stand-in for the chat service the
// client synchronizes against. It implements the same HTTP and SSE contract
// with scripted agents, which makes it usable both as a local development
// backend (cmd/parley-sim) and as the end-to-end fixture in tests.
package simulator

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/models"
)

// Config holds the simulator settings.
type Config struct {
	// APIKey is the credential expected in the Authorization header.
	// Empty disables the check, which the tests use.
	APIKey string

	// TicketTTL bounds how long an unredeemed stream ticket stays valid
	TicketTTL time.Duration

	// KeepaliveInterval is the idle-frame cadence on open streams
	KeepaliveInterval time.Duration
}

// Server bundles the stores, the hub and the agent runner behind one router.
type Server struct {
	cfg    Config
	log    zerolog.Logger
	rooms  *RoomStore
	store  *MessageStore
	tickets *TicketStore
	hub    *Hub
	runner *AgentRunner

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a simulator with one seeded room so a freshly started client
// has something to join. The ticket sweeper starts immediately and runs
// until Stop.
func New(cfg Config, log zerolog.Logger) *Server {
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = 30 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		log:        log,
		rooms:      NewRoomStore(),
		store:      NewMessageStore(),
		tickets:    NewTicketStore(cfg.TicketTTL, log),
		hub:        NewHub(log),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	s.runner = NewAgentRunner(s.rooms, s.store, s.hub, log)

	room := s.rooms.Create("Lounge", defaultAgents())
	s.log.Info().Str("room", room.ID).Msg("seeded default room")

	go s.tickets.Sweep(ctx, time.Minute)

	return s
}

// Router builds the HTTP surface matching the client's API contract.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// The production client is a desktop-wrapped web app, so the simulator
	// accepts browser origins the same way the real service does.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/rooms", func(r chi.Router) {
		// The stream authenticates with its single-use ticket instead of
		// the session credential.
		r.Get("/{id}/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/", s.handleListRooms)
			r.Post("/", s.handleCreateRoom)
			r.Get("/{id}", s.handleGetRoom)
			r.Get("/{id}/messages", s.handleGetMessages)
			r.Get("/{id}/messages/poll", s.handlePollMessages)
			r.Get("/{id}/chatting-agents", s.handleChattingAgents)
			r.Post("/{id}/messages/send", s.handleSendMessage)
			r.Post("/{id}/sse-ticket", s.handleSSETicket)
		})
	})

	return r
}

// Stop announces shutdown on every open stream and cancels background work.
func (s *Server) Stop() {
	s.hub.Shutdown()
	s.baseCancel()
}

// RoomIDs returns the ids of all rooms, oldest first unspecified. Exposed
// for cmd/parley-sim to print the seeded room.
func (s *Server) RoomIDs() []string {
	rooms := s.rooms.List()
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids
}

// requireAuth checks the session credential on the JSON API.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// defaultAgents is the roster every new room starts with.
func defaultAgents() []models.Agent {
	return []models.Agent{
		{ID: uuid.New().String(), Name: "Nova", ProfilePic: "nova.png"},
		{ID: uuid.New().String(), Name: "Vesper", ProfilePic: "vesper.png"},
	}
}

func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = 15 * time.Second
	}
	return time.NewTicker(d)
}
