package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"crowdplay-room-service/internal/app"
)

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - It still keeps a local in-memory map of sessions to reuse the
//     in-process locking and broadcast logic.
//   - Redis marks room liveness (and could be extended to share snapshots
//     or route cross-instance pub/sub).
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	rooms  map[string]*app.RoomSession
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.RoomSession),
	}
}

func (s *RoomStore) Add(session *app.RoomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[session.RoomID()] = session
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(session.RoomID()), "1", s.ttl).Err()
}

func (s *RoomStore) Get(roomID string) (*app.RoomSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.rooms[roomID]
	return session, ok
}

func (s *RoomStore) key(roomID string) string {
	return "room:live:" + roomID
}
