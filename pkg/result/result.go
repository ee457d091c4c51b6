package result

// Result carries either a value or an error, never both. Use-case and
// reconciliation code returns it instead of a bare error so every call
// site branches explicitly.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

func Fail[T any](err error) Result[T] {
	return Result[T]{err: err}
}

func (r Result[T]) IsOk() bool {
	return r.ok
}

func (r Result[T]) IsFailure() bool {
	return !r.ok
}

// Value returns the carried value. Zero value on failure.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the carried error. Nil on success.
func (r Result[T]) Err() error {
	return r.err
}

// Unpack converts back to the (value, error) convention at boundaries
// that need it, e.g. HTTP handlers.
func (r Result[T]) Unpack() (T, error) {
	return r.value, r.err
}
