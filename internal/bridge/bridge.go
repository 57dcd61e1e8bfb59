// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bridge turns orchestration core event streams into observer
// notifications, one consumer goroutine per correlation channel.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/ManuGH/cogate/internal/notify"
	"github.com/ManuGH/cogate/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrChannelInUse is returned when a stream for the channel id is still active.
	ErrChannelInUse = errors.New("channel id already has an active stream")
	// ErrMissingChannel is returned for an empty channel id.
	ErrMissingChannel = errors.New("channel id is required")
	// ErrClosed is returned by Watch after Close.
	ErrClosed = errors.New("stream bridge is closed")
)

// Broadcaster receives every notification.
type Broadcaster interface {
	Broadcast(msg notify.Message)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithSilentEnd suppresses the failure notification otherwise sent when a
// stream ends before any terminal message.
func WithSilentEnd() Option {
	return func(b *Bridge) { b.silentEnd = true }
}

// Bridge owns the consumer goroutines. Streams have no timeout; they run
// until the core ends them or the bridge is closed.
type Bridge struct {
	core      core.Client
	bc        Broadcaster
	silentEnd bool
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*watch
	closed bool
}

// watch is one claimed channel. cancel ends its stream.
type watch struct {
	operation string
	ctx       context.Context
	cancel    context.CancelFunc
}

// New returns a bridge publishing to bc.
func New(c core.Client, bc Broadcaster, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		core:   c,
		bc:     bc,
		logger: log.WithComponent("bridge"),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Watch subscribes to the core stream for channelID and relays its events
// labelled with operation. It returns once the subscription is open; ctx
// only scopes the subscribe call and log correlation, not the stream.
func (b *Bridge) Watch(ctx context.Context, channelID, operation string) error {
	if channelID == "" {
		return ErrMissingChannel
	}
	w, err := b.claim(channelID, operation)
	if err != nil {
		return err
	}

	ctx, span := telemetry.Tracer("cogate/bridge").Start(ctx, "bridge.subscribe",
		trace.WithAttributes(telemetry.StreamAttributes(channelID, operation)...))
	defer span.End()
	logger := log.WithContext(log.ContextWithChannelID(ctx, channelID), b.logger).
		With().Str(log.FieldOperation, operation).Logger()

	stream, err := b.subscribe(ctx, w.ctx, channelID)
	if err != nil {
		b.release(channelID, w)
		w.cancel()
		b.wg.Done()
		telemetry.RecordError(span, err, "subscribe")
		logger.Warn().Err(err).Str(log.FieldEvent, "bridge.subscribe_failed").Msg("cannot open core stream")
		return fmt.Errorf("subscribe %s: %w", channelID, err)
	}

	metrics.StreamOpened()
	logger.Debug().Str(log.FieldEvent, "bridge.opened").Msg("core stream opened")
	go b.consume(w, stream, channelID, trace.LinkFromContext(ctx), logger)
	return nil
}

// subscribe opens the stream on the watch context but gives up if the
// caller's ctx ends first.
func (b *Bridge) subscribe(callCtx, streamCtx context.Context, channelID string) (core.EventStream, error) {
	if err := callCtx.Err(); err != nil {
		return nil, err
	}
	return b.core.Subscribe(streamCtx, channelID)
}

func (b *Bridge) claim(channelID, operation string) (*watch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.active[channelID]; ok {
		return nil, ErrChannelInUse
	}
	ctx, cancel := context.WithCancel(b.ctx)
	w := &watch{operation: operation, ctx: ctx, cancel: cancel}
	b.active[channelID] = w
	b.wg.Add(1)
	return w, nil
}

// release frees channelID if it is still claimed by w. A stopped channel
// may already belong to a newer watch.
func (b *Bridge) release(channelID string, w *watch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active[channelID] == w {
		delete(b.active, channelID)
	}
}

// Stop abandons the stream for channelID without notifying observers and
// frees the channel id at once. It reports whether a stream was active.
func (b *Bridge) Stop(channelID string) bool {
	b.mu.Lock()
	w, ok := b.active[channelID]
	if ok {
		delete(b.active, channelID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	b.logger.Debug().
		Str(log.FieldEvent, "bridge.stopped").
		Str(log.FieldChannelID, channelID).
		Str(log.FieldOperation, w.operation).
		Msg("core stream stopped")
	return true
}

func (b *Bridge) consume(w *watch, stream core.EventStream, channelID string, origin trace.Link, logger zerolog.Logger) {
	defer b.wg.Done()
	defer metrics.StreamClosed()
	defer w.cancel()
	defer b.release(channelID, w)
	ctx, operation := w.ctx, w.operation

	// The stream outlives the request that opened it, so it gets its own
	// trace linked to the subscribe span.
	_, span := telemetry.Tracer("cogate/bridge").Start(ctx, "bridge.stream",
		trace.WithNewRoot(), trace.WithLinks(origin),
		trace.WithAttributes(telemetry.StreamAttributes(channelID, operation)...))
	defer span.End()

	ended := false
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !ended && !b.silentEnd && ctx.Err() == nil {
				logger.Warn().Str(log.FieldEvent, "bridge.closed_early").Msg("core stream ended without a terminal message")
				b.publish(notify.StreamClosed(channelID, operation))
			}
			logger.Debug().Str(log.FieldEvent, "bridge.closed").Msg("core stream closed")
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug().Str(log.FieldEvent, "bridge.shutdown").Msg("core stream abandoned")
				return
			}
			if ended {
				// Observers already have the terminal message.
				logger.Debug().Err(err).Str(log.FieldEvent, "bridge.closed").Msg("core stream failed after completion")
				return
			}
			telemetry.RecordError(span, err, "stream")
			logger.Warn().Err(err).Str(log.FieldEvent, "bridge.stream_failed").Msg("core stream failed")
			b.publish(notify.StreamError(channelID, operation, streamCause(err)))
			return
		}

		msg, ok := notify.FromEvent(channelID, operation, ev)
		if !ok {
			continue
		}
		b.publish(msg)
		if msg.Terminal() {
			ended = true
		}
	}
}

func (b *Bridge) publish(msg notify.Message) {
	if p, ok := msg.StreamPayload(); ok {
		metrics.IncNotification(string(p.Type), p.Success)
	}
	b.bc.Broadcast(msg)
}

// streamCause strips the call wrapper so observers see the core's text.
func streamCause(err error) error {
	var ce *core.CallError
	if errors.As(err, &ce) && ce.Details != "" {
		return errors.New(ce.Details)
	}
	return err
}

// Active returns the channel ids with a running consumer.
func (b *Bridge) Active() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.active))
	for id := range b.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until every consumer has exited.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Close abandons all streams without notifying observers and waits for the
// consumers to exit.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
}
