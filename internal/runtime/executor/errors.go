package executor

import (
	"fmt"
	"time"
)

// statusErr records a non-2xx upstream response together with the retry-after
// hint when the server supplied one.
type statusErr struct {
	code       int
	msg        string
	retryAfter time.Duration
}

func (e statusErr) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("upstream status %d", e.code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.code, e.msg)
}

// StatusCode returns the recorded HTTP status, or 0 when err is not a status
// error.
func StatusCode(err error) int {
	if se, ok := err.(statusErr); ok {
		return se.code
	}
	return 0
}

// ExhaustedError reports that the retry budget was consumed across every
// account and endpoint combination without opening a single stream.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("all accounts exhausted after %d attempt(s)", e.Attempts)
	}
	return fmt.Sprintf("all accounts exhausted after %d attempt(s), last error: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }
