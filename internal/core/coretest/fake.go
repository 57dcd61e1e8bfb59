// Package coretest provides an in-memory orchestration core for tests.
package coretest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ManuGH/cogate/internal/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Call records one Invoke.
type Call struct {
	Method string
	Args   json.RawMessage
}

// Handler answers one unary method.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Fake implements core.Client. Unhandled methods reply with "{}".
type Fake struct {
	mu           sync.Mutex
	handlers     map[string]Handler
	calls        []Call
	streams      map[string]*Stream
	notReady     bool
	subscribeErr error
}

// New returns an empty, ready fake.
func New() *Fake {
	return &Fake{
		handlers: make(map[string]Handler),
		streams:  make(map[string]*Stream),
	}
}

// Handle installs fn for method.
func (f *Fake) Handle(method string, fn Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
}

// Reply makes method answer with v encoded as JSON.
func (f *Fake) Reply(method string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("coretest: encode reply for %s: %v", method, err))
	}
	f.Handle(method, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return raw, nil
	})
}

// Fail makes method return err.
func (f *Fake) Fail(method string, err error) {
	f.Handle(method, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, err
	})
}

// SetReady toggles the connection state reported by Ready.
func (f *Fake) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notReady = !ready
}

// FailSubscribe makes every subsequent Subscribe return err.
func (f *Fake) FailSubscribe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

// Calls returns the recorded invocations in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded invocations of method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Invoke implements core.Client.
func (f *Fake) Invoke(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Args: append(json.RawMessage(nil), args...)})
	h := f.handlers[method]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &core.CallError{Method: method, Details: err.Error(), Err: status.FromContextError(err).Err()}
	}
	if h == nil {
		return json.RawMessage("{}"), nil
	}
	return h(ctx, args)
}

// Subscribe implements core.Client. It attaches to the stream for id,
// creating it if needed.
func (f *Fake) Subscribe(ctx context.Context, id string) (core.EventStream, error) {
	f.mu.Lock()
	err := f.subscribeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &streamReader{ctx: ctx, s: f.Stream(id)}, nil
}

// Ready implements core.Client.
func (f *Fake) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notReady
}

// Stream returns the event stream for id, creating it if needed.
func (f *Fake) Stream(id string) *Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[id]
	if !ok {
		s = &Stream{events: make(chan core.Event, 64), done: make(chan struct{})}
		f.streams[id] = s
	}
	return s
}

// Stream is the producer side of one fake event stream.
type Stream struct {
	events chan core.Event
	once   sync.Once
	done   chan struct{}
	err    error
}

// Send queues ev for the reader.
func (s *Stream) Send(ev core.Event) {
	s.events <- ev
}

// Close ends the stream with io.EOF once queued events are drained.
func (s *Stream) Close() {
	s.end(io.EOF)
}

// Fail ends the stream with err once queued events are drained.
func (s *Stream) Fail(err error) {
	s.end(err)
}

func (s *Stream) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

type streamReader struct {
	ctx context.Context
	s   *Stream
}

func (r *streamReader) Recv() (core.Event, error) {
	select {
	case ev := <-r.s.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-r.s.events:
		return ev, nil
	case <-r.s.done:
		select {
		case ev := <-r.s.events:
			return ev, nil
		default:
		}
		return nil, r.s.err
	case <-r.ctx.Done():
		return nil, &core.CallError{Method: "Subscribe", Details: r.ctx.Err().Error(), Err: status.FromContextError(r.ctx.Err()).Err()}
	}
}

// Rejected is the error the core returns for a refused request. envID is the
// id of a partially created environment and may be empty.
func Rejected(method, msg, envID string) error {
	return &core.CallError{
		Method:        method,
		Details:       msg,
		EnvironmentID: envID,
		Err:           status.Error(codes.Internal, msg),
	}
}

// Unreachable is the error seen when the core cannot be contacted.
func Unreachable(method string) error {
	return &core.CallError{
		Method:  method,
		Details: "connection refused",
		Err:     status.Error(codes.Unavailable, "connection refused"),
	}
}

var _ core.Client = (*Fake)(nil)
