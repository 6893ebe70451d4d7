// Package enrollment confirms Free Connector Program enrollments after a
// payment redirect and serves the cached enrollment status of workspaces.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hamed0406/fcpenroll/internal/domain"
	"github.com/hamed0406/fcpenroll/internal/experiment"
	"github.com/hamed0406/fcpenroll/internal/i18n"
	"github.com/hamed0406/fcpenroll/internal/metrics"
	"github.com/hamed0406/fcpenroll/internal/notify"
	"github.com/hamed0406/fcpenroll/internal/probe"
	"github.com/hamed0406/fcpenroll/internal/querycache"
	"github.com/hamed0406/fcpenroll/internal/repo"
	"github.com/hamed0406/fcpenroll/internal/telemetry"
)

const (
	NotificationSuccessID = "fcp/enrollment-success"
	NotificationFailureID = "fcp/enrollment-failure"

	MessageSuccess = "freeConnectorProgram.enroll.success"
	MessageFailure = "freeConnectorProgram.enroll.failure"

	// FlagProgramVisible gates every enrollment surface; off by default.
	FlagProgramVisible = "workspace.freeConnectorsProgram.visible"

	timeoutMessage = "Unable to confirm Free Connector Program enrollment before timeout"

	// confirmGrace bounds a detached confirmation beyond its poll budget so
	// a hung probe cannot keep it alive forever.
	confirmGrace = 30 * time.Second
)

// DefaultPoll is one probe per second for at most ten seconds.
var DefaultPoll = probe.PollConfig{Interval: time.Second, MaxTimeout: 10 * time.Second}

// InfoFetcher is the backend probe.
type InfoFetcher interface {
	GetProgramInfo(ctx context.Context, ws domain.WorkspaceID) (domain.ProgramInfo, error)
}

type Deps struct {
	Logger        *zap.Logger
	Fetcher       InfoFetcher
	Flags         experiment.Evaluator
	Notifier      notify.Notifier
	Messages      i18n.Formatter
	Tracker       telemetry.Tracker
	Confirmations repo.ConfirmationStore
	Poll          probe.PollConfig // zero value means DefaultPoll
	StatusTTL     time.Duration
}

type Service struct {
	log           *zap.Logger
	fetcher       InfoFetcher
	flags         experiment.Evaluator
	notifier      notify.Notifier
	messages      i18n.Formatter
	tracker       telemetry.Tracker
	confirmations repo.ConfirmationStore
	poll          probe.PollConfig
	now           func() time.Time

	cache    *querycache.Cache[domain.ProgramInfo]
	confirms singleflight.Group
	inflight sync.WaitGroup
}

// ConfirmResult describes what a confirmation did for one caller.
type ConfirmResult struct {
	Triggered    bool                 `json:"triggered"`
	Enrolled     bool                 `json:"enrolled"`
	Info         *domain.ProgramInfo  `json:"info,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
	// Query is the caller's query string after the confirmation: without
	// the success marker when enrollment was confirmed, unchanged otherwise.
	Query url.Values `json:"-"`
}

type outcome struct {
	enrolled     bool
	info         domain.ProgramInfo
	notification notify.Notification
}

func NewService(d Deps) (*Service, error) {
	if d.Fetcher == nil {
		return nil, errors.New("enrollment: fetcher is required")
	}
	if d.Confirmations == nil {
		return nil, errors.New("enrollment: confirmation store is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Flags == nil {
		d.Flags = experiment.NewFlags(nil)
	}
	if d.Notifier == nil {
		d.Notifier = notify.Multi{}
	}
	if d.Messages == nil {
		d.Messages = i18n.Default()
	}
	if d.Tracker == nil {
		d.Tracker = telemetry.LogTracker{Logger: d.Logger}
	}
	if d.Poll.Interval == 0 && d.Poll.MaxTimeout == 0 {
		clock := d.Poll.Clock
		d.Poll = DefaultPoll
		d.Poll.Clock = clock
	}
	if err := d.Poll.Validate(); err != nil {
		return nil, fmt.Errorf("enrollment: %w", err)
	}

	cache := querycache.New[domain.ProgramInfo](d.StatusTTL)
	cache.OnLookup = func(hit bool) {
		if hit {
			metrics.StatusCacheLookups.WithLabelValues("hit").Inc()
		} else {
			metrics.StatusCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	return &Service{
		log:           d.Logger,
		fetcher:       d.Fetcher,
		flags:         d.Flags,
		notifier:      d.Notifier,
		messages:      d.Messages,
		tracker:       d.Tracker,
		confirmations: d.Confirmations,
		poll:          d.Poll,
		now:           time.Now,
		cache:         cache,
	}, nil
}

// Confirm runs the post-payment check when query carries the success
// marker. Concurrent calls for the same workspace share one poll loop. The
// loop is detached from ctx: a caller that goes away gets ctx.Err(), but the
// confirmation still settles and its notification is still delivered.
func (s *Service) Confirm(ctx context.Context, ws domain.WorkspaceID, query url.Values) (ConfirmResult, error) {
	if !HasMarker(query) {
		return ConfirmResult{Query: query}, nil
	}

	ch := s.confirms.DoChan(string(ws), func() (any, error) {
		s.inflight.Add(1)
		defer s.inflight.Done()
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.poll.MaxTimeout+confirmGrace)
		defer cancel()
		return s.confirm(detached, ws)
	})

	select {
	case <-ctx.Done():
		return ConfirmResult{Triggered: true, Query: query}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ConfirmResult{Triggered: true, Query: query}, res.Err
		}
		out := res.Val.(outcome)
		n := out.notification
		result := ConfirmResult{Triggered: true, Enrolled: out.enrolled, Notification: &n, Query: query}
		if out.enrolled {
			info := out.info
			result.Info = &info
			result.Query = WithoutMarker(query)
		}
		return result, nil
	}
}

func (s *Service) confirm(ctx context.Context, ws domain.WorkspaceID) (outcome, error) {
	log := s.log.With(zap.String("workspace_id", string(ws)))
	log.Info("confirm_started",
		zap.Duration("interval", s.poll.Interval),
		zap.Duration("max_timeout", s.poll.MaxTimeout),
	)

	start := time.Now()
	attempts := 0
	fetch := func(ctx context.Context) (domain.ProgramInfo, error) {
		attempts++
		info, err := s.fetcher.GetProgramInfo(ctx, ws)
		if err != nil {
			metrics.ProbeCalls.WithLabelValues("error").Inc()
			return info, err
		}
		metrics.ProbeCalls.WithLabelValues("ok").Inc()
		log.Debug("confirm_probe",
			zap.Int("attempt", attempts),
			zap.Bool("has_payment_account_saved", info.HasPaymentAccountSaved),
		)
		return info, nil
	}
	accountSaved := func(info domain.ProgramInfo) bool { return info.HasPaymentAccountSaved }

	info, ok, err := probe.Until(ctx, fetch, accountSaved, s.poll)
	metrics.ConfirmDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		label := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			label = "canceled"
		}
		metrics.PollOutcomes.WithLabelValues(label).Inc()
		log.Warn("confirm_failed", zap.Int("attempts", attempts), zap.Error(err))
		return outcome{}, fmt.Errorf("confirm enrollment for %s: %w", ws, err)

	case !ok:
		metrics.PollOutcomes.WithLabelValues("timeout").Inc()
		log.Warn("poll_timeout", zap.Int("attempts", attempts))
		if terr := s.tracker.TrackError(ctx, errors.New(timeoutMessage), map[string]string{
			telemetry.WorkspaceField: string(ws),
		}); terr != nil {
			log.Warn("track_error_failed", zap.Error(terr))
		}
		n := s.emit(ctx, log, ws, NotificationFailureID, MessageFailure, notify.SeverityError)
		return outcome{notification: n}, nil
	}

	metrics.PollOutcomes.WithLabelValues("satisfied").Inc()
	log.Info("confirm_enrolled", zap.Int("attempts", attempts))
	if err := s.confirmations.Set(ctx, ws, true, s.now().UTC()); err != nil {
		log.Warn("confirmation_store_failed", zap.Error(err))
	}
	s.cache.Invalidate(string(ws))
	n := s.emit(ctx, log, ws, NotificationSuccessID, MessageSuccess, notify.SeveritySuccess)
	return outcome{enrolled: true, info: info, notification: n}, nil
}

func (s *Service) emit(ctx context.Context, log *zap.Logger, ws domain.WorkspaceID, id, messageID string, sev notify.Severity) notify.Notification {
	n := notify.Notification{
		ID:          id,
		InstanceID:  uuid.NewString(),
		WorkspaceID: string(ws),
		MessageID:   messageID,
		Text:        s.messages.Format(messageID, nil),
		Severity:    sev,
		CreatedAt:   s.now().UTC(),
	}
	metrics.NotificationsSent.WithLabelValues(string(sev)).Inc()
	if err := s.notifier.Send(ctx, n); err != nil {
		log.Warn("notify_failed", zap.String("notification_id", id), zap.Error(err))
	}
	return n
}

// Wait blocks until no confirmation is running.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// UserDidEnroll reports whether a confirmation for ws has succeeded.
func (s *Service) UserDidEnroll(ctx context.Context, ws domain.WorkspaceID) (bool, error) {
	rec, err := s.confirmations.Get(ctx, ws)
	if err != nil {
		return false, fmt.Errorf("load confirmation: %w", err)
	}
	return rec != nil && rec.Enrolled, nil
}

// Status returns the cached enrollment status of ws. The feature flag is
// read on every call.
func (s *Service) Status(ctx context.Context, ws domain.WorkspaceID) (domain.EnrollmentStatus, error) {
	info, err := s.cache.Get(ctx, string(ws), s.loader(ws))
	if err != nil {
		return domain.EnrollmentStatus{}, err
	}
	return s.derive(info), nil
}

// Refresh reloads the status of ws from the backend.
func (s *Service) Refresh(ctx context.Context, ws domain.WorkspaceID) (domain.EnrollmentStatus, error) {
	info, err := s.cache.Refresh(ctx, string(ws), s.loader(ws))
	if err != nil {
		return domain.EnrollmentStatus{}, err
	}
	return s.derive(info), nil
}

func (s *Service) Invalidate(ws domain.WorkspaceID) {
	s.cache.Invalidate(string(ws))
}

// CachedWorkspaces lists workspaces with a cached status.
func (s *Service) CachedWorkspaces() []domain.WorkspaceID {
	keys := s.cache.Keys()
	out := make([]domain.WorkspaceID, len(keys))
	for i, k := range keys {
		out[i] = domain.WorkspaceID(k)
	}
	return out
}

func (s *Service) loader(ws domain.WorkspaceID) querycache.LoadFunc[domain.ProgramInfo] {
	return func(ctx context.Context) (domain.ProgramInfo, error) {
		info, err := s.fetcher.GetProgramInfo(ctx, ws)
		if err != nil {
			metrics.ProbeCalls.WithLabelValues("error").Inc()
			return info, fmt.Errorf("load status for %s: %w", ws, err)
		}
		metrics.ProbeCalls.WithLabelValues("ok").Inc()
		return info, nil
	}
}

func (s *Service) derive(info domain.ProgramInfo) domain.EnrollmentStatus {
	return domain.DeriveStatus(info, s.flags.Bool(FlagProgramVisible, false))
}
