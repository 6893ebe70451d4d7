// Package telemetry records application errors that are not failures of a
// request, such as an enrollment that could not be confirmed in time.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/repo"
)

// WorkspaceField is the context key that ties a record to a workspace.
const WorkspaceField = "workspaceId"

type Tracker interface {
	TrackError(ctx context.Context, err error, fields map[string]string) error
}

type LogTracker struct {
	Logger *zap.Logger
}

func (t LogTracker) TrackError(_ context.Context, err error, fields map[string]string) error {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.Error(err))
	for k, v := range fields {
		zf = append(zf, zap.String(k, v))
	}
	t.Logger.Error("tracked_error", zf...)
	return nil
}

// StoreTracker persists records so they can be listed per workspace.
type StoreTracker struct {
	Store repo.ErrorStore
	Now   func() time.Time
}

func (t StoreTracker) TrackError(ctx context.Context, err error, fields map[string]string) error {
	if err == nil {
		return errors.New("track nil error")
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	rec := &domain.ErrorRecord{
		ID:          uuid.NewString(),
		Message:     err.Error(),
		WorkspaceID: domain.WorkspaceID(fields[WorkspaceField]),
		Context:     fields,
		RecordedAt:  now().UTC(),
	}
	return t.Store.Append(ctx, rec)
}

type Multi []Tracker

func (m Multi) TrackError(ctx context.Context, err error, fields map[string]string) error {
	var out error
	for _, t := range m {
		if t == nil {
			continue
		}
		out = multierr.Append(out, t.TrackError(ctx, err, fields))
	}
	return out
}
