package race

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRejected is used when Reject is called with a nil error.
var ErrRejected = errors.New("race rejected")

// Race settles on the first outcome reported to it: Resolve, Reject, the
// Wait deadline or context cancellation. Outcomes reported after that are
// ignored.
type Race struct {
	once sync.Once
	done chan struct{}
	err  error
}

func New() *Race {
	return &Race{done: make(chan struct{})}
}

// Resolve settles the race successfully. It reports whether this call won.
func (r *Race) Resolve() bool {
	return r.settle(nil)
}

// Reject settles the race with err. It reports whether this call won.
func (r *Race) Reject(err error) bool {
	if err == nil {
		err = ErrRejected
	}
	return r.settle(err)
}

func (r *Race) settle(err error) bool {
	won := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		won = true
	})
	return won
}

// Done is closed once the race has settled.
func (r *Race) Done() <-chan struct{} {
	return r.done
}

// Err returns the settled outcome, or nil while still pending.
func (r *Race) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the race settles. A non-positive timeout disables the
// deadline; when it fires first the race settles with timeoutErr.
func (r *Race) Wait(ctx context.Context, timeout time.Duration, timeoutErr error) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-r.done:
	case <-deadline:
		r.Reject(timeoutErr)
	case <-ctx.Done():
		r.Reject(ctx.Err())
	}

	<-r.done
	return r.err
}
