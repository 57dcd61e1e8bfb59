package dispatch

import (
	"context"
	"errors"
	"net/http"

	"github.com/ManuGH/cogate/internal/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a dispatch failure.
type Kind int

const (
	// KindUnavailable means the core could not be reached.
	KindUnavailable Kind = iota + 1
	// KindRemoteRejected means the core returned an error for a valid call.
	KindRemoteRejected
	// KindProcessing covers local failures while preparing or decoding a call.
	KindProcessing
	KindUnsupported
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRemoteRejected:
		return "rejected"
	case KindProcessing:
		return "processing"
	case KindUnsupported:
		return "unsupported"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ErrNotReady is the cause of KindUnavailable errors raised before any call
// is attempted.
var ErrNotReady = errors.New("could not establish connection to the orchestration core")

// Error is the single error type returned by the dispatcher.
type Error struct {
	Kind      Kind
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Status maps the kind onto an HTTP status.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindRemoteRejected:
		return http.StatusBadGateway
	case KindUnsupported:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsUnavailable reports whether err means the core cannot be reached.
func IsUnavailable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindUnavailable
}

func validationError(op Operation, msg string) *Error {
	return &Error{Kind: KindValidation, Operation: string(op), Message: msg}
}

// classify wraps err in an *Error.
func classify(op Operation, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}

	code, isStatus := statusCode(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded), isStatus && (code == codes.Unavailable || code == codes.DeadlineExceeded):
		return &Error{Kind: KindUnavailable, Operation: string(op), Message: remoteMessage(err), Cause: err}
	case isStatus:
		return &Error{Kind: KindRemoteRejected, Operation: string(op), Message: remoteMessage(err), Cause: err}
	default:
		return &Error{Kind: KindProcessing, Operation: string(op), Message: err.Error(), Cause: err}
	}
}

func statusCode(err error) (codes.Code, bool) {
	var ce *core.CallError
	if errors.As(err, &ce) {
		if _, ok := status.FromError(ce.Err); ok {
			return ce.Code(), true
		}
		return codes.Unknown, false
	}
	if st, ok := status.FromError(err); ok {
		return st.Code(), true
	}
	return codes.Unknown, false
}

func remoteMessage(err error) string {
	var ce *core.CallError
	if errors.As(err, &ce) && ce.Details != "" {
		return ce.Details
	}
	if st, ok := status.FromError(err); ok {
		return st.Message()
	}
	return err.Error()
}
