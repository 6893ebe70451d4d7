package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type key struct {
	workspace string
	id        string
}

// Registry keeps the notifications currently shown to users, per workspace.
// Registering a notification replaces any earlier one with the same ID in
// the same workspace.
type Registry struct {
	mu    sync.RWMutex
	items map[key]Notification
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[key]Notification), now: time.Now}
}

func (r *Registry) Send(_ context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now().UTC()
	}
	if n.InstanceID == "" {
		n.InstanceID = uuid.NewString()
	}
	r.mu.Lock()
	r.items[key{n.WorkspaceID, n.ID}] = n
	r.mu.Unlock()
	return nil
}

// List returns the workspace's notifications oldest first.
func (r *Registry) List(workspaceID string) []Notification {
	r.mu.RLock()
	out := make([]Notification, 0)
	for k, n := range r.items {
		if k.workspace == workspaceID {
			out = append(out, n)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Dismiss removes a workspace's notification. It reports whether one was
// present.
func (r *Registry) Dismiss(workspaceID, id string) bool {
	k := key{workspaceID, id}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[k]; !ok {
		return false
	}
	delete(r.items, k)
	return true
}
