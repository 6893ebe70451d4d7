package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/notify"
	"github.com/hamed0406/fcpenroll/internal/repo/memory"
)

// ---- shared helpers ----

type memNotifier struct {
	sent []notify.Notification
	err  error
}

func (m *memNotifier) Send(_ context.Context, n notify.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

type alertFixture struct {
	store *memory.Store
	notif *memNotifier
	a     *Alerter
	now   time.Time
}

func newAlertFixture(cfg AlerterConfig) *alertFixture {
	f := &alertFixture{
		store: memory.New(),
		notif: &memNotifier{},
		now:   time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC),
	}
	f.a = NewAlerter(f.store, f.notif, zap.NewNop(), cfg)
	f.a.now = func() time.Time { return f.now }
	f.a.since = f.now
	return f
}

func (f *alertFixture) record(ws domain.WorkspaceID, n int) {
	for i := 0; i < n; i++ {
		f.now = f.now.Add(time.Second)
		_ = f.store.Append(context.Background(), &domain.ErrorRecord{
			ID:          string(ws) + f.now.Format(time.RFC3339Nano),
			WorkspaceID: ws,
			Message:     "timeout",
			RecordedAt:  f.now,
		})
	}
}

// ---- tests ----

func TestAlerter_ThresholdAndCooldown(t *testing.T) {
	f := newAlertFixture(AlerterConfig{Threshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	f.record("ws-a", 2)
	f.record("ws-b", 1)

	got, err := f.a.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.WorkspaceID{"ws-a"}, got)
	require.Len(t, f.notif.sent, 1)
	assert.Equal(t, AlertID, f.notif.sent[0].ID)
	assert.Equal(t, notify.SeverityWarning, f.notif.sent[0].Severity)
	assert.Contains(t, f.notif.sent[0].Text, "ws-a: 2 failed")

	// already-seen records are not counted twice
	got, err = f.a.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// within cooldown
	f.record("ws-a", 3)
	got, err = f.a.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// after cooldown
	f.now = f.now.Add(2 * time.Hour)
	f.record("ws-a", 2)
	got, err = f.a.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.WorkspaceID{"ws-a"}, got)
	assert.Len(t, f.notif.sent, 2)
}

func TestAlerter_SendFailureRetriesSameRecords(t *testing.T) {
	f := newAlertFixture(AlerterConfig{Threshold: 1, Cooldown: time.Hour})
	ctx := context.Background()
	f.record("ws-a", 1)

	f.notif.err = errors.New("slack down")
	_, err := f.a.ScanOnce(ctx)
	require.Error(t, err)

	f.notif.err = nil
	got, err := f.a.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.WorkspaceID{"ws-a"}, got)
}

func TestAlerter_DisabledWithoutInterval(t *testing.T) {
	f := newAlertFixture(AlerterConfig{})
	assert.NoError(t, f.a.Run(context.Background()))
	assert.Equal(t, 1, f.a.cfg.Threshold)
}
