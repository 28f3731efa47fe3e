package bridge

// ---------------------------------------------------------------------------
// Result: value or pending exception
// ---------------------------------------------------------------------------

// Result carries either a value or the marker that the call left an
// exception pending on the calling thread. Callers check it at every call
// site; Require converts the marker into an abort.
type Result[T any] struct {
	value   T
	pending bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Pending is the result of a call that left an exception pending.
func Pending[T any]() Result[T] {
	return Result[T]{pending: true}
}

// IsPending reports whether the call left an exception pending.
func (r Result[T]) IsPending() bool { return r.pending }

// Value returns the value and true, or the zero value and false when an
// exception is pending.
func (r Result[T]) Value() (T, bool) {
	return r.value, !r.pending
}

// Get returns the value, which is the zero value when an exception is
// pending.
func (r Result[T]) Get() T { return r.value }

// Then passes a successful value to fn; a pending result propagates.
func Then[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.pending {
		return Pending[U]()
	}
	return fn(r.value)
}
