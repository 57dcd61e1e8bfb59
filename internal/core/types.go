// Package core is the gateway's client for the environment orchestration core.
//
// The core is reached over gRPC. Messages travel as JSON using a registered
// codec so the gateway does not depend on generated stubs; only the method
// names and message shapes below form the contract.
package core

import (
	"context"
	"encoding/json"
)

// Task and environment states the gateway interprets.
const (
	TaskStatusFailed      = "TASK_FAILED"
	EnvironmentStateDone  = "DONE"
	ServiceName           = "o2control.Control"
	subscribeStreamMethod = "Subscribe"
)

// Client is the gateway's view of the orchestration core.
type Client interface {
	// Invoke calls a unary core method with JSON-encoded arguments.
	Invoke(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error)
	// Subscribe opens the event stream scoped to id.
	Subscribe(ctx context.Context, id string) (EventStream, error)
	// Ready reports whether the core connection can currently serve calls.
	Ready() bool
}

// EventStream yields events until it returns io.EOF or an error.
type EventStream interface {
	Recv() (Event, error)
}

// Event is either a TaskEvent or an EnvironmentEvent.
type Event interface {
	isEvent()
}

// TaskEvent reports a state change of one task.
type TaskEvent struct {
	TaskID   string
	Name     string
	Hostname string
	State    string
	Status   string
}

// EnvironmentEvent reports progress or failure of an environment.
type EnvironmentEvent struct {
	EnvironmentID string
	State         string
	Message       string
	Error         string
}

func (TaskEvent) isEvent()        {}
func (EnvironmentEvent) isEvent() {}

// Repo is one workflow template repository known to the core.
type Repo struct {
	Name            string `json:"name"`
	DefaultRevision string `json:"defaultRevision"`
	Default         bool   `json:"default"`
}

// ListReposReply is the reply of ListRepos.
type ListReposReply struct {
	Repos []Repo `json:"repos"`
}

// User identifies who asked for an environment.
type User struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
}

// NewEnvironmentRequest is the argument of NewEnvironment.
type NewEnvironmentRequest struct {
	WorkflowTemplate string            `json:"workflowTemplate"`
	Vars             map[string]string `json:"vars,omitempty"`
	Public           bool              `json:"public"`
	AutoTransition   bool              `json:"autoTransition"`
	RequestUser      *User             `json:"requestUser,omitempty"`
}

// EnvironmentInfo is the summary the core returns for an environment.
type EnvironmentInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// NewEnvironmentReply is the reply of NewEnvironment.
type NewEnvironmentReply struct {
	Environment EnvironmentInfo `json:"environment"`
}

// NewAutoEnvironmentRequest is the argument of NewAutoEnvironment. ID is the
// channel the core publishes progress on.
type NewAutoEnvironmentRequest struct {
	ID               string            `json:"id"`
	WorkflowTemplate string            `json:"workflowTemplate"`
	Vars             map[string]string `json:"vars,omitempty"`
}

// SubscribeRequest opens the event stream for ID.
type SubscribeRequest struct {
	ID string `json:"id"`
}

// FrameworkInfo is passed through verbatim apart from the version field.
type FrameworkInfo map[string]any

// Version returns the raw version string reported by the core.
func (f FrameworkInfo) Version() string {
	v, _ := f["version"].(string)
	return v
}
