// Package lock provides the time-window gate that throttles order mutation.
package lock

import "time"

// Kind selects which window of an OrderLock an operation is gated by.
type Kind int

const (
	Modify Kind = iota
	Cancel
)

// OrderLock refuses modify and cancel operations until their windows expire.
// It is a cooperative guard against rapid re-invocation from the owning
// strategy's own loop, not a mutex; it never blocks, it only answers whether
// the operation is currently allowed.
type OrderLock struct {
	modifyUntil time.Time
	cancelUntil time.Time

	now func() time.Time
}

// New returns an unarmed lock; both operations are allowed immediately.
func New() *OrderLock {
	return &OrderLock{now: time.Now}
}

// NewAt returns a lock reading time from now instead of the wall clock.
func NewAt(now func() time.Time) *OrderLock {
	if now == nil {
		now = time.Now
	}
	return &OrderLock{now: now}
}

// ModifyFor blocks modification for d from now. A later call overwrites the
// previous window, even if that shortens it.
func (l *OrderLock) ModifyFor(d time.Duration) {
	l.modifyUntil = l.now().Add(d)
}

// CancelFor blocks cancellation for d from now, overwriting any prior window.
func (l *OrderLock) CancelFor(d time.Duration) {
	l.cancelUntil = l.now().Add(d)
}

// For arms the window selected by kind.
func (l *OrderLock) For(kind Kind, d time.Duration) {
	switch kind {
	case Modify:
		l.ModifyFor(d)
	case Cancel:
		l.CancelFor(d)
	}
}

// CanModify reports whether the modify window has expired or was never armed.
func (l *OrderLock) CanModify() bool {
	return !l.now().Before(l.modifyUntil)
}

// CanCancel reports whether the cancel window has expired or was never armed.
func (l *OrderLock) CanCancel() bool {
	return !l.now().Before(l.cancelUntil)
}
