package notify

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Notification is a user-facing toast. ID identifies the kind of event
// (e.g. "fcp/enrollment-success"); MessageID is the catalog key Text was
// formatted from. InstanceID is unique per emitted notification.
// Operator alerts carry no WorkspaceID.
type Notification struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	MessageID   string    `json:"message_id"`
	Text        string    `json:"text"`
	Severity    Severity  `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Multi sends to every notifier and reports all failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, n Notification) error {
	var err error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		err = multierr.Append(err, nt.Send(ctx, n))
	}
	return err
}
