package xrail

import (
	"time"

	"github.com/trickstertwo/xclock"
)

// Clock is the wall-clock source used for message timestamps and metrics.
type Clock interface {
	Now() time.Time
}

func defaultClock() Clock { return xclock.Default() }
