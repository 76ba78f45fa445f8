package engine

// unavailableError signals a missing or unstartable engine binary/server.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing/failed engine dependency.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

// notReadyError signals that a spawned engine never reached readiness.
type notReadyError struct{ url string }

func (e notReadyError) Error() string { return "engine not ready in time: " + e.url }

// IsNotReady reports whether err indicates a readiness timeout.
func IsNotReady(err error) bool {
	_, ok := err.(notReadyError)
	return ok
}
