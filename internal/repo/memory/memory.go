package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/repo"
)

var _ repo.ErrorStore = (*Store)(nil)
var _ repo.ConfirmationStore = (*Store)(nil)

type Store struct {
	mu            sync.RWMutex
	errors        []domain.ErrorRecord
	confirmations map[domain.WorkspaceID]domain.Confirmation
}

func New() *Store {
	return &Store{
		errors:        make([]domain.ErrorRecord, 0, 32),
		confirmations: make(map[domain.WorkspaceID]domain.Confirmation),
	}
}

func (m *Store) Append(ctx context.Context, r *domain.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	cp := *r
	if r.Context != nil {
		cp.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			cp.Context[k] = v
		}
	}
	m.errors = append(m.errors, cp)
	return nil
}

func (m *Store) ListByWorkspace(ctx context.Context, ws domain.WorkspaceID, limit int) ([]domain.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ErrorRecord
	for _, r := range m.errors {
		if r.WorkspaceID == ws {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListSince(ctx context.Context, since time.Time) ([]domain.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ErrorRecord
	for _, r := range m.errors {
		if r.RecordedAt.After(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (m *Store) Get(ctx context.Context, ws domain.WorkspaceID) (*domain.Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.confirmations[ws]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Store) Set(ctx context.Context, ws domain.WorkspaceID, enrolled bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m.confirmations[ws] = domain.Confirmation{WorkspaceID: ws, Enrolled: enrolled, ConfirmedAt: at}
	return nil
}
