package enrollment

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/experiment"
	"github.com/hamed0406/fcpenroll/internal/metrics"
	"github.com/hamed0406/fcpenroll/internal/notify"
	"github.com/hamed0406/fcpenroll/internal/probe"
	"github.com/hamed0406/fcpenroll/internal/repo/memory"
	"github.com/hamed0406/fcpenroll/internal/telemetry"
)

// ---- fakes ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// scriptedFetcher reports a saved payment account from call savedOn onward
// (1-based); 0 means never.
type scriptedFetcher struct {
	calls   int64
	savedOn int64
	err     error
	gate    chan struct{} // when set, every call waits for it
	started chan struct{} // closed on the first call
	once    sync.Once
}

func (f *scriptedFetcher) GetProgramInfo(ctx context.Context, ws domain.WorkspaceID) (domain.ProgramInfo, error) {
	n := atomic.AddInt64(&f.calls, 1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return domain.ProgramInfo{}, f.err
	}
	return domain.ProgramInfo{
		HasEligibleConnector:   true,
		HasPaymentAccountSaved: f.savedOn > 0 && n >= f.savedOn,
	}, nil
}

func (f *scriptedFetcher) Calls() int { return int(atomic.LoadInt64(&f.calls)) }

type harness struct {
	svc      *Service
	fetcher  *scriptedFetcher
	registry *notify.Registry
	store    *memory.Store
	flags    *experiment.Flags
}

func newHarness(t *testing.T, f *scriptedFetcher) *harness {
	t.Helper()
	h := &harness{
		fetcher:  f,
		registry: notify.NewRegistry(),
		store:    memory.New(),
		flags:    experiment.NewFlags(map[string]bool{FlagProgramVisible: true}),
	}
	svc, err := NewService(Deps{
		Logger:        zap.NewNop(),
		Fetcher:       f,
		Flags:         h.flags,
		Notifier:      h.registry,
		Tracker:       telemetry.StoreTracker{Store: h.store},
		Confirmations: h.store,
		Poll: probe.PollConfig{
			Interval:   time.Second,
			MaxTimeout: 10 * time.Second,
			Clock:      &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		StatusTTL: time.Minute,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func markerQuery() url.Values {
	return url.Values{SuccessMarker: {"true"}, "tab": {"billing"}}
}

// ---- tests ----

func TestConfirm_NoMarkerDoesNothing(t *testing.T) {
	h := newHarness(t, &scriptedFetcher{savedOn: 1})
	q := url.Values{"tab": {"billing"}}

	res, err := h.svc.Confirm(context.Background(), "ws-1", q)

	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, q, res.Query)
	assert.Zero(t, h.fetcher.Calls())
	assert.Empty(t, h.registry.List("ws-1"))
}

func TestConfirm_EnrolledOnFourthTick(t *testing.T) {
	h := newHarness(t, &scriptedFetcher{savedOn: 4})
	before := testutil.ToFloat64(metrics.PollOutcomes.WithLabelValues("satisfied"))

	res, err := h.svc.Confirm(context.Background(), "ws-1", markerQuery())

	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.True(t, res.Enrolled)
	require.NotNil(t, res.Info)
	assert.True(t, res.Info.HasPaymentAccountSaved)
	assert.Equal(t, 4, h.fetcher.Calls())

	assert.False(t, HasMarker(res.Query))
	assert.Equal(t, "billing", res.Query.Get("tab"))

	list := h.registry.List("ws-1")
	require.Len(t, list, 1)
	assert.Equal(t, NotificationSuccessID, list[0].ID)
	assert.Equal(t, notify.SeveritySuccess, list[0].Severity)
	assert.Equal(t, MessageSuccess, list[0].MessageID)
	assert.NotEqual(t, MessageSuccess, list[0].Text, "text should be localized")
	require.NotNil(t, res.Notification)
	assert.Equal(t, NotificationSuccessID, res.Notification.ID)

	did, err := h.svc.UserDidEnroll(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.True(t, did)

	recs, _ := h.store.ListByWorkspace(context.Background(), "ws-1", 0)
	assert.Empty(t, recs, "no telemetry on success")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PollOutcomes.WithLabelValues("satisfied")))
}

func TestConfirm_TimeoutNotifiesAndTracksOnce(t *testing.T) {
	h := newHarness(t, &scriptedFetcher{})
	q := markerQuery()

	res, err := h.svc.Confirm(context.Background(), "ws-2", q)

	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.False(t, res.Enrolled)
	assert.Nil(t, res.Info)
	assert.Equal(t, 11, h.fetcher.Calls())
	assert.True(t, HasMarker(res.Query), "marker must stay on timeout")

	list := h.registry.List("ws-2")
	require.Len(t, list, 1)
	assert.Equal(t, NotificationFailureID, list[0].ID)
	assert.Equal(t, notify.SeverityError, list[0].Severity)
	assert.Equal(t, MessageFailure, list[0].MessageID)

	recs, err := h.store.ListByWorkspace(context.Background(), "ws-2", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, timeoutMessage, recs[0].Message)
	assert.Equal(t, "ws-2", recs[0].Context[telemetry.WorkspaceField])

	did, err := h.svc.UserDidEnroll(context.Background(), "ws-2")
	require.NoError(t, err)
	assert.False(t, did)
}

func TestConfirm_FetchErrorPropagates(t *testing.T) {
	boom := errors.New("502 from backend")
	h := newHarness(t, &scriptedFetcher{err: boom})

	res, err := h.svc.Confirm(context.Background(), "ws-3", markerQuery())

	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Triggered)
	assert.False(t, res.Enrolled)
	assert.True(t, HasMarker(res.Query))
	assert.Equal(t, 1, h.fetcher.Calls())
	assert.Empty(t, h.registry.List("ws-3"))
	recs, _ := h.store.ListByWorkspace(context.Background(), "ws-3", 0)
	assert.Empty(t, recs)
}

func TestConfirm_ConcurrentCallsShareOneLoop(t *testing.T) {
	f := &scriptedFetcher{savedOn: 1, gate: make(chan struct{}), started: make(chan struct{})}
	h := newHarness(t, f)

	var wg sync.WaitGroup
	results := make([]ConfirmResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Confirm(context.Background(), "ws-4", markerQuery())
		}(i)
	}
	<-f.started
	// let the second caller join the in-flight confirmation
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Enrolled)
	}
	assert.Equal(t, 1, f.Calls())
	assert.Len(t, h.registry.List("ws-4"), 1)
}

func TestConfirm_CallerGoneConfirmationStillSettles(t *testing.T) {
	f := &scriptedFetcher{savedOn: 1, gate: make(chan struct{}), started: make(chan struct{})}
	h := newHarness(t, f)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Confirm(ctx, "ws-5", markerQuery())
		done <- err
	}()
	<-f.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(f.gate)
	h.svc.Wait()

	list := h.registry.List("ws-5")
	require.Len(t, list, 1)
	assert.Equal(t, NotificationSuccessID, list[0].ID)
	did, err := h.svc.UserDidEnroll(context.Background(), "ws-5")
	require.NoError(t, err)
	assert.True(t, did)
}

func TestConfirm_NotificationsStayInTheirWorkspace(t *testing.T) {
	h := newHarness(t, &scriptedFetcher{savedOn: 1})
	ctx := context.Background()

	resA, err := h.svc.Confirm(ctx, "ws-a", markerQuery())
	require.NoError(t, err)
	resB, err := h.svc.Confirm(ctx, "ws-b", markerQuery())
	require.NoError(t, err)

	listA, listB := h.registry.List("ws-a"), h.registry.List("ws-b")
	require.Len(t, listA, 1)
	require.Len(t, listB, 1)
	assert.Equal(t, "ws-a", listA[0].WorkspaceID)
	assert.Equal(t, "ws-b", listB[0].WorkspaceID)
	assert.Equal(t, resA.Notification.InstanceID, listA[0].InstanceID)
	assert.Equal(t, resB.Notification.InstanceID, listB[0].InstanceID)
	assert.NotEqual(t, listA[0].InstanceID, listB[0].InstanceID)

	require.True(t, h.registry.Dismiss("ws-a", NotificationSuccessID))
	assert.Empty(t, h.registry.List("ws-a"))
	assert.Len(t, h.registry.List("ws-b"), 1, "dismissing in one workspace must not touch another")
}

func TestStatus_CachedAndIdempotent(t *testing.T) {
	h := newHarness(t, &scriptedFetcher{})

	first, err := h.svc.Status(context.Background(), "ws-6")
	require.NoError(t, err)
	second, err := h.svc.Status(context.Background(), "ws-6")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.EnrollmentStatus{ShowEnrollmentUI: true}, first)
	assert.Equal(t, 1, h.fetcher.Calls())
	assert.Equal(t, []domain.WorkspaceID{"ws-6"}, h.svc.CachedWorkspaces())
}

func TestStatus_FlagOffHidesEverything(t *testing.T) {
	h := newHarness(t, &scriptedFetcher{savedOn: 1})
	h.flags.Set(FlagProgramVisible, false)

	st, err := h.svc.Status(context.Background(), "ws-7")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentStatus{}, st)

	h.flags.Set(FlagProgramVisible, true)
	st, err = h.svc.Status(context.Background(), "ws-7")
	require.NoError(t, err)
	assert.True(t, st.IsEnrolled)
	assert.Equal(t, 1, h.fetcher.Calls(), "flag changes must not refetch")
}

func TestStatus_ConfirmInvalidatesCache(t *testing.T) {
	f := &scriptedFetcher{savedOn: 2}
	h := newHarness(t, f)
	ctx := context.Background()

	st, err := h.svc.Status(ctx, "ws-8")
	require.NoError(t, err)
	assert.False(t, st.IsEnrolled)

	res, err := h.svc.Confirm(ctx, "ws-8", markerQuery())
	require.NoError(t, err)
	require.True(t, res.Enrolled)

	st, err = h.svc.Status(ctx, "ws-8")
	require.NoError(t, err)
	assert.True(t, st.IsEnrolled)
	assert.False(t, st.ShowEnrollmentUI)
	assert.Equal(t, 3, f.Calls())
}

func TestStatus_ErrorIsReturned(t *testing.T) {
	boom := errors.New("backend down")
	h := newHarness(t, &scriptedFetcher{err: boom})

	_, err := h.svc.Status(context.Background(), "ws-9")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.svc.CachedWorkspaces())
}

func TestRefreshAndInvalidate(t *testing.T) {
	f := &scriptedFetcher{savedOn: 2}
	h := newHarness(t, f)
	ctx := context.Background()

	_, err := h.svc.Status(ctx, "ws-10")
	require.NoError(t, err)

	st, err := h.svc.Refresh(ctx, "ws-10")
	require.NoError(t, err)
	assert.True(t, st.IsEnrolled)

	h.svc.Invalidate("ws-10")
	assert.Empty(t, h.svc.CachedWorkspaces())
	assert.Equal(t, 2, f.Calls())
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Deps{Confirmations: memory.New()})
	assert.Error(t, err)

	_, err = NewService(Deps{Fetcher: &scriptedFetcher{}})
	assert.Error(t, err)

	_, err = NewService(Deps{
		Fetcher:       &scriptedFetcher{},
		Confirmations: memory.New(),
		Poll:          probe.PollConfig{Interval: time.Second, MaxTimeout: time.Millisecond},
	})
	assert.ErrorIs(t, err, probe.ErrInvalidPollConfig)

	svc, err := NewService(Deps{Fetcher: &scriptedFetcher{}, Confirmations: memory.New()})
	require.NoError(t, err)
	assert.Equal(t, DefaultPoll.Interval, svc.poll.Interval)
	assert.Equal(t, DefaultPoll.MaxTimeout, svc.poll.MaxTimeout)
}
