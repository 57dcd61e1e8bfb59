// SPDX-License-Identifier: MIT

// Package audit writes the gateway's audit trail: who changed what on the
// orchestration core, and who held or lost control to do so.
// It follows the WHO/WHAT/WHEN pattern.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/rs/zerolog"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Core events
	EventDispatch EventType = "dispatch.mutation"

	// Control lock events
	EventLockAcquire EventType = "lock.acquire"
	EventLockRelease EventType = "lock.release"
	EventLockForce   EventType = "lock.force_release"
	EventLockDenied  EventType = "lock.denied"

	// Environment request events
	EventRequestSubmit EventType = "request.submit"
	EventRequestAck    EventType = "request.acknowledge"
	EventAuxiliary     EventType = "auxiliary.start"

	// Configuration events
	EventConfigSave EventType = "configuration.save"
)

// Results used across events.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Actor     string            `json:"actor"`     // WHO: person id, or "system"
	ActorName string            `json:"actorName"` // display name of the person
	Action    string            `json:"action"`    // WHAT: human-readable action description
	Resource  string            `json:"resource"`  // operation, request id or configuration name
	Result    string            `json:"result"`    // success, failure, denied
	RequestID string            `json:"request_id"`
	Details   map[string]string `json:"details,omitempty"`
}

// Logger provides audit logging functionality. A nil *Logger discards events.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	return NewLoggerWith(log.WithComponent("audit"))
}

// NewLoggerWith tags base as the audit log.
func NewLoggerWith(base zerolog.Logger) *Logger {
	return &Logger{logger: base.With().Str("log_type", "audit").Logger()}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.ActorName != "" {
		logEvent.Str("actor_name", event.ActorName)
	}
	if event.RequestID != "" {
		logEvent.Str("request_id", event.RequestID)
	}
	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// LogFromContext fills the actor from the session and the request id from
// ctx, then logs.
func (l *Logger) LogFromContext(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = log.RequestIDFromContext(ctx)
	}
	if event.Actor == "" {
		if s := auth.SessionFromContext(ctx); s != nil {
			event.Actor, event.ActorName = s.PersonID, s.Name
		} else {
			event.Actor = "system"
		}
	}
	l.Log(event)
}

// Mutation logs a mutating core operation before it is sent. transition is
// the requested transition type and may be empty.
func (l *Logger) Mutation(ctx context.Context, s *auth.Session, operation, transition string) {
	e := Event{
		Type:     EventDispatch,
		Action:   "requested mutating operation",
		Resource: operation,
		Result:   "requested",
	}
	withActor(&e, s)
	if transition != "" {
		e.Details = map[string]string{"type": transition}
	}
	l.LogFromContext(ctx, e)
}

// LockChange logs an acquire, release or forced release.
func (l *Logger) LockChange(ctx context.Context, typ EventType, result string, previousOwner string) {
	e := Event{
		Type:     typ,
		Action:   lockAction(typ),
		Resource: "control-lock",
		Result:   result,
	}
	if previousOwner != "" {
		e.Details = map[string]string{"previous_owner": previousOwner}
	}
	l.LogFromContext(ctx, e)
}

// LockDenied logs a mutation refused by the control lock.
func (l *Logger) LockDenied(ctx context.Context, resource, reason string) {
	l.LogFromContext(ctx, Event{
		Type:     EventLockDenied,
		Action:   "mutation refused by control lock",
		Resource: resource,
		Result:   ResultDenied,
		Details:  map[string]string{"reason": reason},
	})
}

// RequestSubmitted logs a new pending environment request.
func (l *Logger) RequestSubmitted(ctx context.Context, id uint64, workflow string, detectors int) {
	l.LogFromContext(ctx, Event{
		Type:     EventRequestSubmit,
		Action:   "submitted environment request",
		Resource: strconv.FormatUint(id, 10),
		Result:   ResultSuccess,
		Details: map[string]string{
			"workflow":  workflow,
			"detectors": strconv.Itoa(detectors),
		},
	})
}

// RequestAcknowledged logs the removal of a ledger entry.
func (l *Logger) RequestAcknowledged(ctx context.Context, id uint64, result string) {
	l.LogFromContext(ctx, Event{
		Type:     EventRequestAck,
		Action:   "acknowledged environment request",
		Resource: strconv.FormatUint(id, 10),
		Result:   result,
	})
}

// AuxiliaryStarted logs a clean-resources or auto environment start.
func (l *Logger) AuxiliaryStarted(ctx context.Context, operation, channelID, result string) {
	l.LogFromContext(ctx, Event{
		Type:     EventAuxiliary,
		Action:   "started auxiliary operation",
		Resource: operation,
		Result:   result,
		Details:  map[string]string{"channel_id": channelID},
	})
}

// ConfigurationSaved logs a saved workflow configuration.
func (l *Logger) ConfigurationSaved(ctx context.Context, name, result string) {
	l.LogFromContext(ctx, Event{
		Type:     EventConfigSave,
		Action:   "saved workflow configuration",
		Resource: name,
		Result:   result,
	})
}

func withActor(e *Event, s *auth.Session) {
	if s != nil {
		e.Actor, e.ActorName = s.PersonID, s.Name
	}
}

func lockAction(typ EventType) string {
	switch typ {
	case EventLockAcquire:
		return "acquired control lock"
	case EventLockRelease:
		return "released control lock"
	case EventLockForce:
		return "force released control lock"
	default:
		return string(typ)
	}
}
