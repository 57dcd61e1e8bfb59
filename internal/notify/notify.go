// Package notify maps ledger state and orchestration core events onto the
// small closed set of messages pushed to observers.
package notify

import (
	"fmt"
	"strings"

	"github.com/ManuGH/cogate/internal/core"
)

// Type tags a stream notification with the event kind that produced it.
type Type string

const (
	TypeTask Type = "TASK"
	TypeEnv  Type = "ENV"
)

// Commands used for non-stream broadcasts.
const (
	CommandRequests = "requests"
	CommandPadlock  = "padlock-update"
)

// DefaultProgressMessage is used when an environment event carries no text.
const DefaultProgressMessage = "Executing..."

// Message is one broadcast unit. Payload is a Payload for stream
// notifications, or a snapshot value for ledger and padlock updates.
type Message struct {
	Command string `json:"command"`
	Payload any    `json:"payload"`
}

// Payload is the body of a stream notification.
type Payload struct {
	Ended   bool   `json:"ended"`
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Type    Type   `json:"type,omitempty"`
	Info    Info   `json:"info"`
}

// Info carries either a human message or the host/task pair of a failed task.
type Info struct {
	Message string `json:"message,omitempty"`
	Host    string `json:"host,omitempty"`
	ID      string `json:"id,omitempty"`
}

// StreamPayload returns the stream payload of m, if it has one.
func (m Message) StreamPayload() (Payload, bool) {
	p, ok := m.Payload.(Payload)
	return p, ok
}

// Terminal reports whether m ends the operation it belongs to.
func (m Message) Terminal() bool {
	p, ok := m.StreamPayload()
	return ok && p.Ended
}

// FromEvent normalizes a core event. ok is false for events observers do not
// care about (any task state other than a terminal failure).
func FromEvent(channelID, command string, ev core.Event) (Message, bool) {
	switch e := ev.(type) {
	case core.TaskEvent:
		return FromTaskEvent(channelID, command, e)
	case core.EnvironmentEvent:
		return FromEnvironmentEvent(channelID, command, e), true
	default:
		return Message{}, false
	}
}

// FromTaskEvent reports failed tasks; a task failure does not end the stream.
func FromTaskEvent(channelID, command string, ev core.TaskEvent) (Message, bool) {
	if ev.Status != core.TaskStatusFailed {
		return Message{}, false
	}
	return Message{
		Command: command,
		Payload: Payload{
			Ended:   false,
			Success: false,
			ID:      channelID,
			Type:    TypeTask,
			Info:    Info{Host: ev.Hostname, ID: ev.TaskID},
		},
	}, true
}

// FromEnvironmentEvent reports progress, completion or failure of an environment.
func FromEnvironmentEvent(channelID, command string, ev core.EnvironmentEvent) Message {
	if ev.Error != "" {
		text := strings.TrimSpace(ev.Error)
		if text == "" {
			text = fmt.Sprintf("Failed operation: %s ...", command)
		}
		return Message{
			Command: command,
			Payload: Payload{Ended: true, Success: false, ID: channelID, Type: TypeEnv, Info: Info{Message: text}},
		}
	}
	text := ev.Message
	if text == "" {
		text = DefaultProgressMessage
	}
	return Message{
		Command: command,
		Payload: Payload{
			Ended:   ev.State == core.EnvironmentStateDone,
			Success: true,
			ID:      channelID,
			Type:    TypeEnv,
			Info:    Info{Message: text},
		},
	}
}

// StreamError is the single terminal message sent when the subscription fails.
func StreamError(channelID, command string, err error) Message {
	return Message{
		Command: command,
		Payload: Payload{
			Ended:   true,
			Success: false,
			ID:      channelID,
			Type:    TypeEnv,
			Info:    Info{Message: fmt.Sprintf("%q action failed due to %v", command, err)},
		},
	}
}

// StreamClosed is sent when the core closes a stream before a terminal message.
func StreamClosed(channelID, command string) Message {
	return Message{
		Command: command,
		Payload: Payload{
			Ended:   true,
			Success: false,
			ID:      channelID,
			Type:    TypeEnv,
			Info:    Info{Message: fmt.Sprintf("stream for %q closed before completion", command)},
		},
	}
}

// Accepted is the synchronous reply to an asynchronous operation request.
func Accepted(channelID, text string) Payload {
	return Payload{Ended: false, Success: true, ID: channelID, Info: Info{Message: text}}
}

// Failed is the synchronous reply when an asynchronous operation could not start.
func Failed(channelID, text string) Payload {
	return Payload{Ended: true, Success: false, ID: channelID, Info: Info{Message: text}}
}

// Requests wraps a ledger snapshot.
func Requests(snapshot any) Message {
	return Message{Command: CommandRequests, Payload: snapshot}
}

// Padlock wraps a lock state.
func Padlock(state any) Message {
	return Message{Command: CommandPadlock, Payload: state}
}
