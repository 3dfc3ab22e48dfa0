package runner

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/reconcile"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

// ErrNoDriver is returned by steps acting on the live system when the
// runner has no action driver.
var ErrNoDriver = errors.New("no action driver configured")

// ErrorCategory classifies errors for retry decisions.
type ErrorCategory int

const (
	// ErrCatInfrastructure means network or timing issues that may resolve
	// on retry.
	ErrCatInfrastructure ErrorCategory = iota
	// ErrCatPlugin means the plugin answered with an error, or did not
	// answer at all. Never retried.
	ErrCatPlugin
	// ErrCatMismatch means the live state diverges from the reference. A
	// poll retries it until the plugin catches up.
	ErrCatMismatch
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCatInfrastructure:
		return "infrastructure"
	case ErrCatPlugin:
		return "plugin"
	case ErrCatMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with a category for retry decisions.
type ClassifiedError struct {
	Category ErrorCategory
	Err      error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Infrastructure wraps an error as an infrastructure (retryable) error.
func Infrastructure(err error) error {
	return &ClassifiedError{Category: ErrCatInfrastructure, Err: err}
}

// Plugin wraps an error as a plugin (non-retryable) error.
func Plugin(err error) error {
	return &ClassifiedError{Category: ErrCatPlugin, Err: err}
}

// Category extracts the error category. Errors not classified yet are
// classified from their chain; unknown errors count as plugin errors so
// they are not retried.
func Category(err error) ErrorCategory {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return classify(err)
}

func classify(err error) ErrorCategory {
	var mismatch *reconcile.MismatchError
	var state *stateMismatch
	var envelope *channel.ErrorEnvelope
	switch {
	case errors.As(err, &mismatch), errors.As(err, &state):
		return ErrCatMismatch
	case errors.As(err, &envelope), errors.Is(err, channel.ErrNoResponse):
		return ErrCatPlugin
	case isIOError(err):
		return ErrCatInfrastructure
	default:
		return ErrCatPlugin
	}
}

// isIOError reports network level failures: refused or reset connections,
// timeouts, closed streams.
func isIOError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, transport.ErrTimeout) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// TimeoutError is returned when a poll gives up. Last is the error of the
// final attempt.
type TimeoutError struct {
	What     string
	Attempts int
	Last     error
}

func (e *TimeoutError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: gave up after %d attempts", e.What, e.Attempts)
	}
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.What, e.Attempts, e.Last)
}

func (e *TimeoutError) Unwrap() error { return e.Last }
