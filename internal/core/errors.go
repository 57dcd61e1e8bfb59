package core

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TrailerEnvironmentID is the trailer key the core uses to report the id of
// an environment that was partially created before a failure.
const TrailerEnvironmentID = "environment-id"

// ErrNoDefaultRepo is returned when ListRepos has no repository marked default.
var ErrNoDefaultRepo = errors.New("no default repository configured")

// CallError is a failed core call.
type CallError struct {
	Method        string
	Details       string
	EnvironmentID string
	Err           error
}

func (e *CallError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("core %s failed", e.Method)
	}
	return fmt.Sprintf("core %s: %s", e.Method, e.Details)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Code returns the gRPC status code of the failure.
func (e *CallError) Code() codes.Code {
	return status.Code(e.Err)
}

func newCallError(method string, err error, trailer metadata.MD) *CallError {
	ce := &CallError{Method: method, Err: err}
	if st, ok := status.FromError(err); ok {
		ce.Details = st.Message()
	} else {
		ce.Details = err.Error()
	}
	if ids := trailer.Get(TrailerEnvironmentID); len(ids) > 0 {
		ce.EnvironmentID = ids[0]
	}
	return ce
}
