// Package session tracks which connection currently owns each user's single
// live session.
package session

import (
	"context"
	"sync"
)

// Registry maps a user id to the connection id of its active session. At most
// one entry exists per user.
type Registry interface {
	// Register stores connId as the user's session and returns the connection
	// it replaced, or "" when there was none. The caller is responsible for
	// notifying and disconnecting the evicted connection.
	Register(ctx context.Context, userId, connId string) (string, error)
	Lookup(ctx context.Context, userId string) (string, bool, error)
	// Remove deletes the entry only while it still points at connId, so the
	// late disconnect of an evicted connection never removes its successor.
	Remove(ctx context.Context, userId, connId string) (bool, error)
}

type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]string),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, userId, connId string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.sessions[userId]
	r.sessions[userId] = connId
	if old == connId {
		return "", nil
	}

	return old, nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, userId string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connId, ok := r.sessions[userId]
	return connId, ok, nil
}

func (r *MemoryRegistry) Remove(_ context.Context, userId, connId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[userId]; !ok || current != connId {
		return false, nil
	}

	delete(r.sessions, userId)
	return true, nil
}

// Count returns the number of users with a live session.
func (r *MemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
