package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error types for consistent handling across the database layer.
// Configuration errors are fatal at startup and never retried; everything
// else propagates to the immediate caller, which decides whether the
// operation is safely retryable.

var (
	// ErrConfiguration is returned when the connection target is missing or malformed.
	ErrConfiguration = errors.New("invalid database configuration")

	// ErrConnectionLost is returned when the connection to the server fails mid-operation.
	ErrConnectionLost = errors.New("database connection lost")

	// ErrPoolExhausted is returned when no pooled connection frees up within the bounded wait.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrColdStart is returned when startup warmup gives up after its configured attempts.
	ErrColdStart = errors.New("database cold start timeout")

	// ErrSessionReleased is returned when a released session is used again.
	ErrSessionReleased = errors.New("session already released")

	// ErrSessionFinished is returned when a committed or rolled-back session
	// is used for anything other than Release.
	ErrSessionFinished = errors.New("session already finished")

	// ErrEngineDisposed is returned when sessions are requested from a disposed engine.
	ErrEngineDisposed = errors.New("database engine disposed")
)

// Error wraps a base error with additional context.
// Messages are redacted at construction so they are always safe to log.
type Error struct {
	// Base is the underlying error type (e.g., ErrPoolExhausted)
	Base error

	// Message provides human-readable context
	Message string

	// cause is the raw driver error, kept for failure classification.
	// Never exposed directly: its text may contain credentials.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Base.Error(), e.Message)
	}
	return e.Base.Error()
}

// Unwrap returns the base error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Base
}

// newConfigurationError creates a configuration error with context.
func newConfigurationError(message string, cause error) *Error {
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, redactError(cause))
	}
	return &Error{
		Base:    ErrConfiguration,
		Message: message,
		cause:   cause,
	}
}

// newConnectionLostError creates a connection-lost error from an underlying failure.
func newConnectionLostError(cause error) *Error {
	message := "connection failed"
	if cause != nil {
		message = redactError(cause)
	}
	return &Error{
		Base:    ErrConnectionLost,
		Message: message,
		cause:   cause,
	}
}

// newPoolExhaustedError creates a pool-exhausted error noting the bounded wait.
func newPoolExhaustedError(wait time.Duration) *Error {
	return &Error{
		Base:    ErrPoolExhausted,
		Message: fmt.Sprintf("no connection available within %s", wait),
	}
}

// newColdStartError creates a cold-start error after warmup gives up.
func newColdStartError(attempts int, cause error) *Error {
	message := fmt.Sprintf("warmup failed after %d attempts", attempts)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, redactError(cause))
	}
	return &Error{
		Base:    ErrColdStart,
		Message: message,
		cause:   cause,
	}
}

// IsConfiguration checks if an error is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsConnectionLost checks if an error is a connection-lost error.
func IsConnectionLost(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}

// IsPoolExhausted checks if an error is a pool-exhausted error.
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsColdStart checks if an error is a cold-start error.
func IsColdStart(err error) bool {
	return errors.Is(err, ErrColdStart)
}

// Failure classes used when logging connection failures.
// Logs carry the class, never the connection string.
const (
	classTimeout     = "timeout"
	classCanceled    = "canceled"
	classAuth        = "authentication"
	classUnreachable = "unreachable"
	classUnknown     = "unknown"
)

// failureClass categorizes a connection failure for logging and health
// reporting, without exposing any part of the connection string.
func failureClass(err error) string {
	if err == nil {
		return ""
	}

	// Classify the raw driver error when the failure arrived wrapped.
	var werr *Error
	if errors.As(err, &werr) && werr.cause != nil {
		err = werr.cause
	}

	switch {
	case errors.Is(err, context.Canceled):
		return classCanceled
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return classTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// 28000 invalid_authorization_specification, 28P01 invalid_password
		case pgErr.Code == "28000" || pgErr.Code == "28P01":
			return classAuth
		// class 08: connection exceptions
		case strings.HasPrefix(pgErr.Code, "08"):
			return classUnreachable
		}
		return classUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return classTimeout
		}
		return classUnreachable
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return classUnreachable
	}

	return classUnknown
}

// isConnectionLoss reports whether an error means the underlying connection
// is gone (as opposed to a statement-level or business error). Sessions that
// observe such an error are marked invalid and their connection is discarded.
func isConnectionLoss(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// pgconn reports operations on a dead connection as "conn closed"
	return strings.Contains(err.Error(), "conn closed")
}
