package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// GRPCClient talks to the orchestration core over one shared connection.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DefaultDialOptions returns the options used for the core connection.
// Includes OTel gRPC instrumentation so outbound calls carry trace context.
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
}

// Dial creates the client. The connection is established in the background;
// Ready reports when it can serve calls.
func Dial(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, append(DefaultDialOptions(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial core %s: %w", addr, err)
	}
	conn.Connect()
	return &GRPCClient{conn: conn}, nil
}

// Invoke calls a unary method of the core service.
func (c *GRPCClient) Invoke(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	in := Frame(args)
	var out Frame
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, fullMethod(method), &in, &out, grpc.Trailer(&trailer)); err != nil {
		return nil, newCallError(method, err, trailer)
	}
	if len(out) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(out), nil
}

// Subscribe opens the server stream for id. The stream lives until the core
// closes it or ctx is cancelled.
func (c *GRPCClient) Subscribe(ctx context.Context, id string) (EventStream, error) {
	desc := &grpc.StreamDesc{StreamName: subscribeStreamMethod, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(subscribeStreamMethod))
	if err != nil {
		return nil, newCallError(subscribeStreamMethod, err, nil)
	}
	if err := stream.SendMsg(&SubscribeRequest{ID: id}); err != nil {
		return nil, newCallError(subscribeStreamMethod, err, nil)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, newCallError(subscribeStreamMethod, err, nil)
	}
	return &grpcEventStream{stream: stream}, nil
}

// Ready reports whether the connection is usable.
func (c *GRPCClient) Ready() bool {
	switch c.conn.GetState() {
	case connectivity.Ready, connectivity.Idle:
		return true
	default:
		return false
	}
}

// State returns the connectivity state for health reporting.
func (c *GRPCClient) State() string {
	return c.conn.GetState().String()
}

// Close releases the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

type grpcEventStream struct {
	stream  grpc.ClientStream
	pending []Event
}

func (s *grpcEventStream) Recv() (Event, error) {
	for len(s.pending) == 0 {
		var w wireEvent
		if err := s.stream.RecvMsg(&w); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, newCallError(subscribeStreamMethod, err, nil)
		}
		s.pending = w.events()
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

var _ Client = (*GRPCClient)(nil)
