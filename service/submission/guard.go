package submission

import (
	"errors"
	"sync/atomic"
)

// ErrBusy is returned when a submission is already running.
var ErrBusy = errors.New("a submission is already in progress")

// Guard admits at most one submission at a time.
type Guard struct {
	running atomic.Bool
}

// TryAcquire claims the guard. The returned release func must be called once
// the submission finishes; it is safe to call more than once.
func (g *Guard) TryAcquire() (release func(), err error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			g.running.Store(false)
		}
	}, nil
}

// Busy reports whether a submission holds the guard.
func (g *Guard) Busy() bool {
	return g.running.Load()
}
