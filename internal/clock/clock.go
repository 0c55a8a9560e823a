// Package clock abstracts time so period math and sweeps are testable.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

// SystemClock returns wall-clock time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func provide() Clock {
	return SystemClock{}
}

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(provide),
)
