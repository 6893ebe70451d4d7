package repo

import (
	"context"
	"time"

	"github.com/hamed0406/fcpenroll/internal/domain"
)

// Ports implemented by the memory and postgres adapters.

// ErrorStore keeps telemetry error records.
type ErrorStore interface {
	Append(ctx context.Context, r *domain.ErrorRecord) error
	// ListByWorkspace returns newest first; limit <= 0 means no limit.
	ListByWorkspace(ctx context.Context, ws domain.WorkspaceID, limit int) ([]domain.ErrorRecord, error)
	// ListSince returns records with RecordedAt after since, oldest first.
	ListSince(ctx context.Context, since time.Time) ([]domain.ErrorRecord, error)
}

// ConfirmationStore remembers the last enrollment confirmation per workspace.
type ConfirmationStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, ws domain.WorkspaceID) (*domain.Confirmation, error)
	// Set upserts the record.
	Set(ctx context.Context, ws domain.WorkspaceID, enrolled bool, at time.Time) error
}
