package common

var ErrNoPendingChange = NewKind(ErrInvalidConfiguration, "no pending change")

// ErrChangeNotReady is returned when a pending change is confirmed before its
// confirmation tick.
var ErrChangeNotReady = NewKind(ErrPermissionDenied, "pending change not yet confirmable")

// ErrChangeMatured is returned when a cancel arrives at or after the
// confirmation tick.
var ErrChangeMatured = NewKind(ErrPermissionDenied, "pending change can no longer be cancelled")

// PendingChange is the envelope shared by every delayed mutation.
type PendingChange[T comparable] struct {
	Target       T
	InitiatedAt  uint64
	ConfirmBlock uint64
}

// NewPendingChange schedules target for confirmation delay ticks after now.
func NewPendingChange[T comparable](target T, now, delay uint64) PendingChange[T] {
	return PendingChange[T]{Target: target, InitiatedAt: now, ConfirmBlock: now + delay}
}

// Empty reports whether the envelope holds no change.
func (p PendingChange[T]) Empty() bool {
	var zero T
	return p.Target == zero && p.InitiatedAt == 0 && p.ConfirmBlock == 0
}

// Confirmable reports whether the change may be confirmed at now.
func (p PendingChange[T]) Confirmable(now uint64) bool {
	return !p.Empty() && now >= p.ConfirmBlock
}

// Confirm returns the target and clears the envelope.
func (p *PendingChange[T]) Confirm(now uint64) (T, error) {
	var zero T
	if p.Empty() {
		return zero, ErrNoPendingChange
	}
	if now < p.ConfirmBlock {
		return zero, ErrChangeNotReady
	}
	target := p.Target
	*p = PendingChange[T]{}
	return target, nil
}

// Cancel clears the envelope. Once the confirmation tick is reached the
// change can only be confirmed.
func (p *PendingChange[T]) Cancel(now uint64) error {
	if p.Empty() {
		return ErrNoPendingChange
	}
	if now >= p.ConfirmBlock {
		return ErrChangeMatured
	}
	*p = PendingChange[T]{}
	return nil
}
