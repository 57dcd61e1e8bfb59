// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dispatch translates gateway operations into orchestration core
// calls and folds every failure into one classified error type.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/control/authz"
	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/rs/zerolog"
)

// Handler performs one operation against the core.
type Handler func(ctx context.Context, c core.Client, args json.RawMessage) (json.RawMessage, error)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCallTimeout bounds unary core calls other than environment creation,
// which runs until the core answers. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(d2 *Dispatcher) { d2.timeout = d }
}

// WithHandler overrides the handler of op.
func WithHandler(op Operation, h Handler) Option {
	return func(d *Dispatcher) { d.handlers[op] = h }
}

// WithAuditLogger replaces the audit trail for mutating operations.
func WithAuditLogger(l *audit.Logger) Option {
	return func(d *Dispatcher) { d.audit = l }
}

// Dispatcher is stateless apart from its handler table.
type Dispatcher struct {
	core     core.Client
	handlers map[Operation]Handler
	timeout  time.Duration
	audit    *audit.Logger
	logger   zerolog.Logger
}

// New builds a dispatcher over c. It panics if an operation has no handler
// or a handler is registered for an unknown operation.
func New(c core.Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		core:     c,
		handlers: defaultHandlers(),
		audit:    audit.NewLogger(),
		logger:   log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := validateTable(d.handlers); err != nil {
		panic(err)
	}
	return d
}

func defaultHandlers() map[Operation]Handler {
	h := make(map[Operation]Handler, len(Operations))
	for _, op := range Operations {
		h[op] = passthrough(op)
	}
	h[GetEnvironment] = requireFields(GetEnvironment, "id")
	h[ControlEnvironment] = requireFields(ControlEnvironment, "id", "type")
	h[ModifyEnvironment] = requireFields(ModifyEnvironment, "id")
	h[DestroyEnvironment] = requireFields(DestroyEnvironment, "id")
	h[NewEnvironment] = requireFields(NewEnvironment, "workflowTemplate")
	h[NewAutoEnvironment] = requireFields(NewAutoEnvironment, "id", "workflowTemplate")
	return h
}

func validateTable(h map[Operation]Handler) error {
	known := make(map[Operation]struct{}, len(Operations))
	for _, op := range Operations {
		known[op] = struct{}{}
		if h[op] == nil {
			return fmt.Errorf("dispatch: no handler for operation %s", op)
		}
		if _, ok := authz.RequiredAccess(string(op)); !ok {
			return fmt.Errorf("dispatch: operation %s has no access policy", op)
		}
	}
	for op := range h {
		if _, ok := known[op]; !ok {
			return fmt.Errorf("dispatch: handler registered for unknown operation %s", op)
		}
	}
	return nil
}

func passthrough(op Operation) Handler {
	return func(ctx context.Context, c core.Client, args json.RawMessage) (json.RawMessage, error) {
		return c.Invoke(ctx, string(op), args)
	}
}

// requireFields rejects argument objects missing any of fields or holding
// an empty string for them.
func requireFields(op Operation, fields ...string) Handler {
	next := passthrough(op)
	return func(ctx context.Context, c core.Client, args json.RawMessage) (json.RawMessage, error) {
		obj := map[string]json.RawMessage{}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &obj); err != nil {
				return nil, validationError(op, "arguments must be a JSON object")
			}
		}
		for _, f := range fields {
			v, ok := obj[f]
			if !ok || string(v) == `""` || string(v) == "null" {
				return nil, validationError(op, fmt.Sprintf("missing required field %q", f))
			}
		}
		return next(ctx, c, args)
	}
}

// Ready reports whether the core connection can serve calls.
func (d *Dispatcher) Ready() bool {
	return d.core.Ready()
}

// Execute runs op on behalf of session. Mutating operations are written to
// the audit log first. The control lock is checked by the caller.
func (d *Dispatcher) Execute(ctx context.Context, op Operation, session *auth.Session, args json.RawMessage) (json.RawMessage, error) {
	h, ok := d.handlers[op]
	if !ok {
		return nil, &Error{Kind: KindUnsupported, Operation: string(op), Message: fmt.Sprintf("unsupported operation %q", op)}
	}
	if !authz.IsReadOnly(string(op)) {
		d.audit.Mutation(ctx, session, string(op), transition(args))
	}
	return d.call(ctx, op, func(ctx context.Context) (json.RawMessage, error) {
		return h(ctx, d.core, args)
	})
}

// transition extracts the "type" field of a ControlEnvironment body.
func transition(args json.RawMessage) string {
	var body struct {
		Type string `json:"type"`
	}
	if len(args) == 0 || json.Unmarshal(args, &body) != nil {
		return ""
	}
	return body.Type
}

func (d *Dispatcher) call(ctx context.Context, op Operation, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	start := time.Now()
	if !d.core.Ready() {
		metrics.ObserveDispatch(string(op), KindUnavailable.String(), time.Since(start))
		return nil, &Error{Kind: KindUnavailable, Operation: string(op), Message: ErrNotReady.Error(), Cause: ErrNotReady}
	}
	if d.timeout > 0 && op != NewEnvironment {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil {
		de := classify(op, err)
		metrics.ObserveDispatch(string(op), de.Kind.String(), time.Since(start))
		logger := log.WithContext(ctx, d.logger)
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "dispatch.failed").
			Str(log.FieldOperation, string(op)).
			Str("kind", de.Kind.String()).
			Msg("core call failed")
		return nil, de
	}
	metrics.ObserveDispatch(string(op), "ok", time.Since(start))
	return out, nil
}

// FrameworkInfo returns the core's framework metadata with a normalized version.
func (d *Dispatcher) FrameworkInfo(ctx context.Context) (core.FrameworkInfo, error) {
	var info core.FrameworkInfo
	_, err := d.call(ctx, GetFrameworkInfo, func(ctx context.Context) (json.RawMessage, error) {
		var err error
		info, err = core.GetFrameworkInfo(ctx, d.core)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	if v, ok := info["version"].(string); ok {
		info["version"] = ParseCoreVersion(v)
	}
	return info, nil
}

// IntegratedServices returns the auxiliary services known to the core.
func (d *Dispatcher) IntegratedServices(ctx context.Context) (map[string]any, error) {
	var services map[string]any
	_, err := d.call(ctx, GetIntegratedServices, func(ctx context.Context) (json.RawMessage, error) {
		var err error
		services, err = core.GetIntegratedServices(ctx, d.core)
		return nil, err
	})
	return services, err
}

// Repos lists the workflow template repositories.
func (d *Dispatcher) Repos(ctx context.Context) ([]core.Repo, error) {
	var reply *core.ListReposReply
	_, err := d.call(ctx, ListRepos, func(ctx context.Context) (json.RawMessage, error) {
		var err error
		reply, err = core.ListRepos(ctx, d.core)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return reply.Repos, nil
}

// CreateEnvironment calls NewEnvironment and waits for the outcome. A failed
// call still exposes the *core.CallError through errors.As.
func (d *Dispatcher) CreateEnvironment(ctx context.Context, req core.NewEnvironmentRequest) (*core.NewEnvironmentReply, error) {
	if req.WorkflowTemplate == "" {
		return nil, validationError(NewEnvironment, `missing required field "workflowTemplate"`)
	}
	var reply *core.NewEnvironmentReply
	_, err := d.call(ctx, NewEnvironment, func(ctx context.Context) (json.RawMessage, error) {
		var err error
		reply, err = core.NewEnvironment(ctx, d.core, req)
		return nil, err
	})
	return reply, err
}

// StartAutoEnvironment calls NewAutoEnvironment; progress arrives on the
// event stream of req.ID.
func (d *Dispatcher) StartAutoEnvironment(ctx context.Context, req core.NewAutoEnvironmentRequest) error {
	if req.ID == "" || req.WorkflowTemplate == "" {
		return validationError(NewAutoEnvironment, "auto environment needs a channel id and a workflow template")
	}
	_, err := d.call(ctx, NewAutoEnvironment, func(ctx context.Context) (json.RawMessage, error) {
		return nil, core.NewAutoEnvironment(ctx, d.core, req)
	})
	return err
}
