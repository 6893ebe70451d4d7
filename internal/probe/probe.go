// Package probe holds the enrollment probe: the backend call that reports a
// workspace's program info, and the bounded loop that repeats a probe until
// its result settles.
package probe

import (
	"context"
	"time"
)

// Func is one probe invocation. Calls are independent of each other.
type Func[T any] func(ctx context.Context) (T, error)

// Predicate decides whether a probe result is final. It must not block.
type Predicate[T any] func(T) bool

// Clock is the time source used between probes.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WallClock is the real-time Clock.
var WallClock Clock = wallClock{}
