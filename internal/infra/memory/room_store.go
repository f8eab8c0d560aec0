package memory

import (
	"sync"

	"crowdplay-room-service/internal/app"
)

// RoomStore is an in-memory implementation of app.RoomRepository.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.RoomSession
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.RoomSession),
	}
}

func (s *RoomStore) Add(session *app.RoomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[session.RoomID()] = session
}

func (s *RoomStore) Get(roomID string) (*app.RoomSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.rooms[roomID]
	return session, ok
}
