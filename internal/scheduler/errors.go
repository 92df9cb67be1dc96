package scheduler

// backpressureError signals a full admission queue for 429 mapping.
type backpressureError struct{ msg string }

func (e backpressureError) Error() string { return e.msg }

// ErrBackpressure constructs a backpressureError.
func ErrBackpressure(msg string) error { return backpressureError{msg: msg} }

// IsBackpressure reports whether err is a queue-capacity rejection.
func IsBackpressure(err error) bool {
	_, ok := err.(backpressureError)
	return ok
}

// modelUnavailableError signals a model disabled after repeated engine
// failures, for 503 mapping.
type modelUnavailableError struct{ identifier string }

func (e modelUnavailableError) Error() string {
	return "model unavailable after repeated failures: " + e.identifier
}

// ErrModelUnavailable constructs a modelUnavailableError.
func ErrModelUnavailable(identifier string) error {
	return modelUnavailableError{identifier: identifier}
}

// IsModelUnavailable reports whether err is a disabled-model rejection.
func IsModelUnavailable(err error) bool {
	_, ok := err.(modelUnavailableError)
	return ok
}

// timeoutError signals the per-request deadline expired, for 504 mapping.
type timeoutError struct{ msg string }

func (e timeoutError) Error() string { return e.msg }

// ErrTimeout constructs a timeoutError.
func ErrTimeout(msg string) error { return timeoutError{msg: msg} }

// IsTimeout reports whether err is a request-deadline expiry.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}
