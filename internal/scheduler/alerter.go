package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/notify"
	"github.com/hamed0406/fcpenroll/internal/repo"
)

// AlertID is the notification ID used for timeout alerts.
const AlertID = "fcp/confirmation-timeouts"

type AlerterConfig struct {
	// Threshold is the number of recorded errors for one workspace, within
	// one scan, that triggers an alert.
	Threshold    int
	Cooldown     time.Duration
	PollInterval time.Duration
}

// Alerter watches tracked errors and tells operators when a workspace keeps
// failing to confirm enrollment.
type Alerter struct {
	errors   repo.ErrorStore
	notifier notify.Notifier
	log      *zap.Logger
	cfg      AlerterConfig
	now      func() time.Time

	since    time.Time
	lastSent map[domain.WorkspaceID]time.Time
}

func NewAlerter(errs repo.ErrorStore, notifier notify.Notifier, log *zap.Logger, cfg AlerterConfig) *Alerter {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		errors:   errs,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		lastSent: make(map[domain.WorkspaceID]time.Time),
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	if a.cfg.PollInterval <= 0 || a.notifier == nil {
		a.log.Info("alerter_disabled")
		return nil
	}
	a.since = a.now().UTC()
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := a.ScanOnce(ctx); err != nil {
				a.log.Warn("alerter_scan_error", zap.Error(err))
			}
		}
	}
}

// ScanOnce looks at errors recorded since the previous scan and returns the
// workspaces it alerted on.
func (a *Alerter) ScanOnce(ctx context.Context) ([]domain.WorkspaceID, error) {
	recs, err := a.errors.ListSince(ctx, a.since)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	next := recs[len(recs)-1].RecordedAt

	counts := make(map[domain.WorkspaceID]int)
	for _, r := range recs {
		if r.WorkspaceID != "" {
			counts[r.WorkspaceID]++
		}
	}

	now := a.now()
	var alerted []domain.WorkspaceID
	for ws, n := range counts {
		if n < a.cfg.Threshold {
			continue
		}
		if last, ok := a.lastSent[ws]; ok && now.Sub(last) < a.cfg.Cooldown {
			continue
		}
		alerted = append(alerted, ws)
	}
	if len(alerted) == 0 {
		a.since = next
		return nil, nil
	}
	sort.Slice(alerted, func(i, j int) bool { return alerted[i] < alerted[j] })

	lines := make([]string, 0, len(alerted))
	for _, ws := range alerted {
		lines = append(lines, fmt.Sprintf("%s: %d failed confirmation(s)", ws, counts[ws]))
	}
	n := notify.Notification{
		ID:        AlertID,
		Text:      strings.Join(lines, "\n"),
		Severity:  notify.SeverityWarning,
		CreatedAt: now.UTC(),
	}
	if err := a.notifier.Send(ctx, n); err != nil {
		// the same records are scanned again on the next tick
		return nil, fmt.Errorf("send alert: %w", err)
	}
	a.since = next
	for _, ws := range alerted {
		a.lastSent[ws] = now
	}
	return alerted, nil
}
