package memory

import (
	"context"
	"sync"
)

// CodeRegistry is an in-memory implementation of app.CodeRegistry. A code is
// held from reservation until the owning room ends, which keeps codes unique
// among WAITING/ACTIVE rooms only.
type CodeRegistry struct {
	mu    sync.Mutex
	codes map[string]string // code -> roomID
}

func NewCodeRegistry() *CodeRegistry {
	return &CodeRegistry{codes: make(map[string]string)}
}

func (r *CodeRegistry) Reserve(_ context.Context, code, roomID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.codes[code]; taken {
		return false, nil
	}
	r.codes[code] = roomID
	return true, nil
}

func (r *CodeRegistry) Lookup(_ context.Context, code string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.codes[code]
	return roomID, ok, nil
}

func (r *CodeRegistry) Release(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, code)
	return nil
}
