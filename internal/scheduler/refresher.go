package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/fcpenroll/internal/domain"
)

// StatusSource is the part of the enrollment service the refresher drives.
type StatusSource interface {
	CachedWorkspaces() []domain.WorkspaceID
	Refresh(ctx context.Context, ws domain.WorkspaceID) (domain.EnrollmentStatus, error)
}

// Refresher keeps cached workspace statuses warm by refetching them on a
// fixed interval.
type Refresher struct {
	Logger      *zap.Logger
	Source      StatusSource
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
}

func NewRefresher(
	logger *zap.Logger,
	src StatusSource,
	interval time.Duration,
	timeout time.Duration,
	concurrency int,
) *Refresher {
	if concurrency < 1 {
		concurrency = 1
	}
	if interval < 0 {
		interval = 0
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Refresher{
		Logger:      logger,
		Source:      src,
		Interval:    interval,
		Timeout:     timeout,
		Concurrency: concurrency,
	}
}

// Run refreshes on every tick until ctx is cancelled. Unlike a first
// request, there is nothing to warm at startup, so the first pass waits
// for the first tick.
func (r *Refresher) Run(ctx context.Context) {
	if r.Interval == 0 {
		r.Logger.Info("refresher_disabled")
		return
	}
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("refresher_stopped")
			return
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce refetches every cached workspace and returns how many refreshed
// successfully.
func (r *Refresher) RunOnce(ctx context.Context) int {
	wss := r.Source.CachedWorkspaces()
	if len(wss) == 0 {
		return 0
	}

	sem := make(chan struct{}, r.Concurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)

	for _, ws := range wss {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ok
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(ws domain.WorkspaceID) {
			defer func() { <-sem }()
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, r.Timeout)
			defer cancel()

			st, err := r.Source.Refresh(cctx, ws)
			if err != nil {
				r.Logger.Warn("refresher_error",
					zap.String("workspace_id", string(ws)),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
			r.Logger.Debug("refresher_refreshed",
				zap.String("workspace_id", string(ws)),
				zap.Bool("show_enrollment_ui", st.ShowEnrollmentUI),
				zap.Bool("is_enrolled", st.IsEnrolled),
			)
		}(ws)
	}

	wg.Wait()
	return ok
}
