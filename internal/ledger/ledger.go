// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ledger tracks environment creation requests from submission until
// they succeed or a failed request is acknowledged.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/ManuGH/cogate/internal/notify"
	"github.com/ManuGH/cogate/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Creator performs the remote create call.
type Creator interface {
	CreateEnvironment(ctx context.Context, req core.NewEnvironmentRequest) (*core.NewEnvironmentReply, error)
}

// Broadcaster receives a snapshot after every mutation.
type Broadcaster interface {
	Broadcast(msg notify.Message)
}

// ConfigSource looks up saved workflow configurations by name.
type ConfigSource interface {
	Variables(ctx context.Context, name string) (map[string]string, error)
}

// Entry is one tracked request. Successful requests are removed, so any
// entry in a snapshot is either pending or failed.
type Entry struct {
	ID        uint64    `json:"id"`
	Detectors []string  `json:"detectors"`
	Workflow  string    `json:"workflow"`
	Date      time.Time `json:"date"`
	Owner     string    `json:"owner"`
	PersonID  string    `json:"personid"`
	Failed    bool      `json:"failed"`
	Message   string    `json:"message,omitempty"`
	EnvID     string    `json:"envId,omitempty"`
}

// Snapshot is the ledger as observers see it, in insertion order.
type Snapshot struct {
	Now      time.Time `json:"now"`
	Requests []Entry   `json:"requests"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithConfigSource enables rehydration from saved configurations.
func WithConfigSource(src ConfigSource) Option {
	return func(l *Ledger) { l.configs = src }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is the process-wide request table. Construct once and inject.
type Ledger struct {
	creator Creator
	bc      Broadcaster
	configs ConfigSource
	now     func() time.Time
	logger  zerolog.Logger
	wg      sync.WaitGroup

	mu      sync.Mutex
	next    uint64
	entries []*Entry
}

// New returns an empty ledger.
func New(creator Creator, bc Broadcaster, opts ...Option) *Ledger {
	l := &Ledger{
		creator: creator,
		bc:      bc,
		now:     time.Now,
		logger:  log.WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit records req and returns at once. The create call runs in the
// background and is never cancelled, not even when ctx is.
func (l *Ledger) Submit(ctx context.Context, req Request, s *auth.Session) (Entry, error) {
	e, err := l.insert(req, s)
	if err != nil {
		return Entry{}, err
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.process(context.WithoutCancel(ctx), e.ID, req, s)
	}()
	return e, nil
}

// SubmitSync is Submit followed by waiting for the create call.
func (l *Ledger) SubmitSync(ctx context.Context, req Request, s *auth.Session) (Entry, error) {
	e, err := l.insert(req, s)
	if err != nil {
		return Entry{}, err
	}
	l.process(context.WithoutCancel(ctx), e.ID, req, s)
	return e, nil
}

func (l *Ledger) insert(req Request, s *auth.Session) (Entry, error) {
	if err := req.Validate(); err != nil {
		return Entry{}, err
	}
	if s == nil {
		return Entry{}, errors.New("ledger: session required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	e := &Entry{
		ID:        l.next,
		Detectors: append([]string(nil), req.Detectors...),
		Workflow:  req.WorkflowTemplate,
		Date:      l.now(),
		Owner:     s.Name,
		PersonID:  s.PersonID,
	}
	l.next++
	l.entries = append(l.entries, e)
	l.logger.Debug().
		Str(log.FieldEvent, "ledger.added").
		Uint64(log.FieldLedgerID, e.ID).
		Str(log.FieldWorkflow, e.Workflow).
		Str(log.FieldPersonID, e.PersonID).
		Msg("request added")
	l.changedLocked()
	return *e, nil
}

func (l *Ledger) process(ctx context.Context, id uint64, req Request, s *auth.Session) {
	ctx, span := telemetry.Tracer("cogate/ledger").Start(ctx, "ledger.create",
		trace.WithAttributes(telemetry.RequestAttributes(id, req.WorkflowTemplate)...))
	defer span.End()
	logger := log.WithContext(ctx, l.logger).With().Uint64(log.FieldLedgerID, id).Logger()

	vars := req.Vars
	if req.SelectedConfiguration != "" && l.configs != nil {
		saved, err := l.configs.Variables(ctx, req.SelectedConfiguration)
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "ledger.rehydrate_failed").
				Str("configuration", req.SelectedConfiguration).
				Msg("saved configuration unavailable, using request variables")
		} else {
			vars = Rehydrate(req.Vars, saved)
		}
	}

	payload, err := CreationPayload(req, vars, s)
	if err == nil {
		var reply *core.NewEnvironmentReply
		reply, err = l.creator.CreateEnvironment(ctx, payload)
		if err == nil && reply != nil {
			logger = logger.With().Str(log.FieldEnvironmentID, reply.Environment.ID).Logger()
		}
	}
	telemetry.RecordError(span, err, "create")

	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.indexLocked(id)
	if idx < 0 {
		// Acknowledged while still pending.
		logger.Debug().Str(log.FieldEvent, "ledger.gone").Msg("request finished after removal")
		return
	}
	if err == nil {
		l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
		metrics.IncLedgerOutcome("created")
		logger.Info().Str(log.FieldEvent, "ledger.created").Msg("environment created, request removed")
	} else {
		e := l.entries[idx]
		e.Failed = true
		e.Message, e.EnvID = failureDetails(err)
		metrics.IncLedgerOutcome("failed")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "ledger.failed").
			Str(log.FieldEnvironmentID, e.EnvID).
			Msg("environment creation failed")
	}
	l.changedLocked()
}

func failureDetails(err error) (msg, envID string) {
	var ce *core.CallError
	if errors.As(err, &ce) {
		msg, envID = ce.Details, ce.EnvironmentID
	}
	if msg == "" {
		msg = err.Error()
	}
	return msg, envID
}

// Acknowledge removes the entry with id. Unknown ids are ignored. Whether
// the caller may remove the entry is decided by the caller.
func (l *Ledger) Acknowledge(id uint64) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx := l.indexLocked(id); idx >= 0 {
		l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
		metrics.IncLedgerOutcome("acknowledged")
		l.logger.Debug().Str(log.FieldEvent, "ledger.removed").Uint64(log.FieldLedgerID, id).Msg("request removed")
		return l.changedLocked()
	}
	return l.snapshotLocked()
}

// Get returns a copy of the entry with id.
func (l *Ledger) Get(id uint64) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx := l.indexLocked(id); idx >= 0 {
		return copyEntry(l.entries[idx]), true
	}
	return Entry{}, false
}

// Snapshot returns the current table.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Wait blocks until all background create calls have finished.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

func (l *Ledger) indexLocked(id uint64) int {
	for i, e := range l.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) snapshotLocked() Snapshot {
	out := Snapshot{Now: l.now(), Requests: make([]Entry, 0, len(l.entries))}
	for _, e := range l.entries {
		out.Requests = append(out.Requests, copyEntry(e))
	}
	return out
}

// changedLocked broadcasts while the mutex is held so observers receive
// snapshots in mutation order.
func (l *Ledger) changedLocked() Snapshot {
	snap := l.snapshotLocked()
	failed := 0
	for _, e := range snap.Requests {
		if e.Failed {
			failed++
		}
	}
	metrics.SetLedgerEntries(len(snap.Requests)-failed, failed)
	if l.bc != nil {
		l.bc.Broadcast(notify.Requests(snap))
	}
	return snap
}

func copyEntry(e *Entry) Entry {
	c := *e
	c.Detectors = append([]string(nil), e.Detectors...)
	return c
}
