// Package shared contains common error types and utilities.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Domain errors shared by the sync pipeline, the notifier and the supervisor.
var (
	// ErrFetch indicates that the listing feed could not be acquired
	ErrFetch = errors.New("fetch failed")

	// ErrParse indicates that an acquired feed file could not be parsed
	ErrParse = errors.New("parse failed")

	// ErrChannelUnavailable indicates that the session is down or the target channel does not resolve
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrSend indicates that a message could not be delivered to the channel
	ErrSend = errors.New("send failed")

	// ErrConnection indicates that the messaging-backend session failed
	ErrConnection = errors.New("connection failed")

	// ErrValidation indicates that input validation failed
	ErrValidation = errors.New("validation failed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindFetch represents feed acquisition failures
	KindFetch
	// KindParse represents feed parsing failures
	KindParse
	// KindChannelUnavailable represents a dead session or unresolved channel
	KindChannelUnavailable
	// KindSend represents message delivery failures
	KindSend
	// KindConnection represents messaging-backend session failures
	KindConnection
	// KindValidation represents input validation errors
	KindValidation
	// KindTimeout represents timeout errors
	KindTimeout
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "Fetch"
	case KindParse:
		return "Parse"
	case KindChannelUnavailable:
		return "ChannelUnavailable"
	case KindSend:
		return "Send"
	case KindConnection:
		return "Connection"
	case KindValidation:
		return "Validation"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// kindPriorities defines the deterministic order for error classification.
// Cancellation is checked first so that a shutdown is never mistaken for a failure.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindValidation, ErrValidation},
	{KindChannelUnavailable, ErrChannelUnavailable},
	{KindSend, ErrSend},
	{KindFetch, ErrFetch},
	{KindParse, ErrParse},
	{KindConnection, ErrConnection},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// It traverses the error chain using a deterministic priority order; context.Canceled
// always wins. Returns KindUnknown for nil and unrecognized errors.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindCanceled:
//	    return nil // shutdown
//	case shared.KindFetch, shared.KindParse:
//	    // absorbed for this cycle
//	default:
//	    return err
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, priority := range kindPriorities {
		switch priority.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, priority.err) {
				return priority.kind
			}
		}
	}

	return KindUnknown
}

// HasKind reports whether the given error has the specified kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func SentinelOf(kind Kind) error {
	for _, priority := range kindPriorities {
		if priority.kind == kind {
			return priority.err
		}
	}
	return nil
}

// MarkKind wraps an error with the sentinel error for the given kind,
// preserving the original error through error wrapping.
// If err is nil, returns the sentinel error for the kind (or nil for unsupported kinds).
// Marking an error with a kind it already has returns the error unchanged.
//
// Example usage for adapting third-party errors:
//
//	resp, err := client.Do(ctx, req)
//	if err != nil {
//	    return shared.MarkKind(err, shared.KindFetch)
//	}
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil {
		return err
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and our ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
