package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/resource"
)

var errPoisoned = fmt.Errorf("cell poisoned by a panic while locked")

// Shared is a reference-counted cell with interior mutual exclusion. It is
// the target of OwnedShared handles and may be mutated by host goroutines
// through With while scripts hold handles to it.
//
// The creator holds one stake. Each OwnedShared handle holds another. The
// value's Drop method, if any, runs once when the last stake is released.
type Shared struct {
	value    any
	sem      *semaphore.Weighted
	onDrop   func(any)
	refs     atomic.Int32
	poisoned atomic.Bool
}

// NewShared creates a cell around value with a single stake held by the
// caller.
func NewShared(value any) *Shared {
	s := &Shared{
		value: value,
		sem:   semaphore.NewWeighted(1),
	}
	s.refs.Store(1)
	return s
}

// OnDrop registers fn to run with the value when the last stake is
// released. It must be called before the cell is shared.
func (s *Shared) OnDrop(fn func(v any)) *Shared {
	s.onDrop = fn
	return s
}

// Retain adds a stake and returns s.
func (s *Shared) Retain() *Shared {
	if s.refs.Add(1) <= 1 {
		panic(InvariantViolation("retain of released shared cell"))
	}
	return s
}

// Release drops a stake. Releasing more stakes than were taken panics.
func (s *Shared) Release() {
	n := s.refs.Add(-1)
	switch {
	case n < 0:
		panic(InvariantViolation("shared cell released more times than retained"))
	case n == 0:
		v := s.value
		s.value = nil
		if d, ok := v.(resource.Dropper); ok {
			d.Drop()
		}
		if s.onDrop != nil {
			s.onDrop(v)
		}
	}
}

// Refs returns the number of outstanding stakes.
func (s *Shared) Refs() int {
	return int(s.refs.Load())
}

// Poisoned reports whether a panic escaped a locked section.
func (s *Shared) Poisoned() bool {
	return s.poisoned.Load()
}

// ClearPoison makes a poisoned cell usable again. The caller is asserting
// the value is consistent.
func (s *Shared) ClearPoison() {
	s.poisoned.Store(false)
}

// With runs fn with exclusive access to the value. It waits for the lock
// until ctx is done. A panic in fn poisons the cell and is re-raised.
func (s *Shared) With(ctx context.Context, fn func(v any) error) error {
	if s.poisoned.Load() {
		return errors.LockFailed("", errPoisoned)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return errors.Cancelled(err)
	}
	ok := false
	defer func() {
		if !ok {
			s.poisoned.Store(true)
		}
		s.sem.Release(1)
	}()
	if s.poisoned.Load() {
		ok = true
		return errors.LockFailed("", errPoisoned)
	}
	err := fn(s.value)
	ok = true
	return err
}

// lock acquires the cell for one dispatched call. A zero timeout waits
// indefinitely. Cancellation of ctx does not interrupt the wait.
func (s *Shared) lock(ctx context.Context, tag string, timeout time.Duration) (func(), error) {
	if s.poisoned.Load() {
		return nil, errors.LockFailed(tag, errPoisoned)
	}

	wait := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(wait, timeout)
		defer cancel()
	}
	if err := s.sem.Acquire(wait, 1); err != nil {
		return nil, errors.Busy(tag, timeout)
	}

	if s.poisoned.Load() {
		s.sem.Release(1)
		return nil, errors.LockFailed(tag, errPoisoned)
	}
	return func() { s.sem.Release(1) }, nil
}
