// Package lockout counts failed logins per identity and origin and blocks the pair
// once a threshold is reached. The block lasts for the configured duration measured
// from the most recent failure.
package lockout

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("lockout backend unavailable")

type Config struct {
	Threshold int
	Duration  time.Duration
}

type Status struct {
	Failures   int
	Locked     bool
	RetryAfter time.Duration
	// Tripped is set by the RecordFailure call that reached the threshold.
	Tripped bool
}

// Tracker must be shared by every process serving logins for the counts to hold.
type Tracker interface {
	Check(ctx context.Context, identity, origin string) (Status, error)
	RecordFailure(ctx context.Context, identity, origin string) (Status, error)
	Reset(ctx context.Context, identity, origin string) error
}

func key(identity, origin string) string {
	if origin == "" {
		origin = "-"
	}
	return "lockout:" + identity + ":" + origin
}
