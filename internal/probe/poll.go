package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPollConfig = errors.New("invalid poll config")

// PollConfig bounds a poll loop. Interval is the pause between the end of one
// probe and the start of the next; MaxTimeout is measured from the first
// probe.
type PollConfig struct {
	Interval   time.Duration
	MaxTimeout time.Duration
	Clock      Clock // nil means WallClock
}

func (c PollConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidPollConfig, c.Interval)
	}
	if c.MaxTimeout < c.Interval {
		return fmt.Errorf("%w: max timeout %s shorter than interval %s", ErrInvalidPollConfig, c.MaxTimeout, c.Interval)
	}
	return nil
}

// MaxProbes is the most probe calls one loop can issue.
func (c PollConfig) MaxProbes() int {
	n := c.MaxTimeout / c.Interval
	if c.MaxTimeout%c.Interval != 0 {
		n++
	}
	return int(n) + 1
}

// Until calls fetch, one call at a time, until done accepts a result or
// MaxTimeout has elapsed. It returns the accepted result with ok=true, or the
// zero value with ok=false on timeout. A fetch error ends the loop at once
// and is returned as is. Cancelling ctx during the pause between probes
// returns ctx.Err().
func Until[T any](ctx context.Context, fetch Func[T], done Predicate[T], cfg PollConfig) (T, bool, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, false, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = WallClock
	}

	start := clock.Now()
	for {
		res, err := fetch(ctx)
		if err != nil {
			return zero, false, err
		}
		if done(res) {
			return res, true, nil
		}
		if clock.Now().Sub(start) >= cfg.MaxTimeout {
			return zero, false, nil
		}

		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case <-clock.After(cfg.Interval):
		}
	}
}
