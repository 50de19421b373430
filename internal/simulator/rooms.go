package simulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/models"
)

// RoomStore keeps rooms and their configured agents in memory. The
// simulator is a development harness, so nothing is persisted.
type RoomStore struct {
	mu     sync.RWMutex
	rooms  map[string]*models.Room
	agents map[string][]models.Agent
}

// NewRoomStore creates an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:  make(map[string]*models.Room),
		agents: make(map[string][]models.Agent),
	}
}

// Create adds a room with the given name and agent roster.
func (s *RoomStore) Create(name string, agents []models.Agent) *models.Room {
	if name == "" {
		name = "Untitled Room"
	}

	now := time.Now().UTC()
	room := &models.Room{
		ID:           uuid.New().String(),
		Name:         name,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	s.mu.Lock()
	s.rooms[room.ID] = room
	s.agents[room.ID] = append([]models.Agent(nil), agents...)
	s.mu.Unlock()

	return room
}

// Get returns a room by id.
func (s *RoomStore) Get(roomID string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room not found: %s", roomID)
	}
	r := *room
	return &r, nil
}

// List returns all rooms.
func (s *RoomStore) List() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, *r)
	}
	return out
}

// Agents returns the agent roster of a room.
func (s *RoomStore) Agents(roomID string) []models.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Agent(nil), s.agents[roomID]...)
}

// Touch updates the room's activity timestamp.
func (s *RoomStore) Touch(roomID string) {
	s.mu.Lock()
	if room, ok := s.rooms[roomID]; ok {
		room.LastActiveAt = time.Now().UTC()
	}
	s.mu.Unlock()
}
