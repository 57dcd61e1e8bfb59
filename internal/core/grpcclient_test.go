package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type controlServer interface{}

type fakeCore struct {
	events []wireEvent
	// streamErr is returned after all events are sent.
	streamErr error
}

func unaryHandler(fn func(ctx context.Context, in Frame) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		var in Frame
		if err := dec(&in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

func startFakeCore(t *testing.T, fc *fakeCore) *GRPCClient {
	t.Helper()

	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*controlServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ListRepos",
				Handler: unaryHandler(func(context.Context, Frame) (any, error) {
					return &ListReposReply{Repos: []Repo{{Name: "github.com/o2/ControlWorkflows", DefaultRevision: "master", Default: true}}}, nil
				}),
			},
			{
				MethodName: "NewEnvironment",
				Handler: unaryHandler(func(ctx context.Context, in Frame) (any, error) {
					var req NewEnvironmentRequest
					if err := json.Unmarshal(in, &req); err != nil {
						return nil, status.Error(codes.InvalidArgument, err.Error())
					}
					if req.Vars["hosts"] == "" {
						_ = grpc.SetTrailer(ctx, metadata.Pairs(TrailerEnvironmentID, "env-42"))
						return nil, status.Error(codes.Internal, "no slots")
					}
					return &NewEnvironmentReply{Environment: EnvironmentInfo{ID: "env-1", State: "CONFIGURED"}}, nil
				}),
			},
		},
		Streams: []grpc.StreamDesc{
			{
				StreamName:    subscribeStreamMethod,
				ServerStreams: true,
				Handler: func(_ any, stream grpc.ServerStream) error {
					var req SubscribeRequest
					if err := stream.RecvMsg(&req); err != nil {
						return err
					}
					if req.ID == "" {
						return status.Error(codes.InvalidArgument, "missing id")
					}
					for i := range fc.events {
						if err := stream.SendMsg(&fc.events[i]); err != nil {
							return err
						}
					}
					return fc.streamErr
				},
			},
		},
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&desc, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCClientUnaryCalls(t *testing.T) {
	client := startFakeCore(t, &fakeCore{})
	ctx := context.Background()

	repos, err := ListRepos(ctx, client)
	require.NoError(t, err)
	repo, err := DefaultRepo(repos.Repos)
	require.NoError(t, err)
	assert.Equal(t, "master", repo.DefaultRevision)

	reply, err := NewEnvironment(ctx, client, NewEnvironmentRequest{
		WorkflowTemplate: "wf@1",
		Vars:             map[string]string{"hosts": `["h1"]`},
	})
	require.NoError(t, err)
	assert.Equal(t, "env-1", reply.Environment.ID)
	assert.True(t, client.Ready())
}

func TestGRPCClientCallErrorCarriesEnvironmentID(t *testing.T) {
	client := startFakeCore(t, &fakeCore{})

	_, err := NewEnvironment(context.Background(), client, NewEnvironmentRequest{WorkflowTemplate: "wf@1"})
	require.Error(t, err)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "no slots", ce.Details)
	assert.Equal(t, "env-42", ce.EnvironmentID)
	assert.Equal(t, codes.Internal, ce.Code())
}

func TestGRPCClientUnknownMethod(t *testing.T) {
	client := startFakeCore(t, &fakeCore{})

	_, err := client.Invoke(context.Background(), "GetWhatever", nil)
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codes.Unimplemented, ce.Code())
}

func TestGRPCClientSubscribeDecodesVariants(t *testing.T) {
	var both wireEvent
	require.NoError(t, json.Unmarshal([]byte(`{
		"taskEvent": {"taskid": "t-1", "status": "TASK_FAILED", "hostname": "flp01"},
		"environmentEvent": {"state": "ERROR", "error": "task failed"}
	}`), &both))
	var empty wireEvent
	var done wireEvent
	require.NoError(t, json.Unmarshal([]byte(`{"environmentEvent": {"state": "DONE"}}`), &done))

	client := startFakeCore(t, &fakeCore{events: []wireEvent{both, empty, done}})

	stream, err := client.Subscribe(context.Background(), "chan-1")
	require.NoError(t, err)

	var got []Event
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	assert.Equal(t, []Event{
		TaskEvent{TaskID: "t-1", Status: TaskStatusFailed, Hostname: "flp01"},
		EnvironmentEvent{State: "ERROR", Error: "task failed"},
		EnvironmentEvent{State: EnvironmentStateDone},
	}, got)
}

func TestGRPCClientSubscribeStreamError(t *testing.T) {
	client := startFakeCore(t, &fakeCore{streamErr: status.Error(codes.Aborted, "core restarting")})

	stream, err := client.Subscribe(context.Background(), "chan-2")
	require.NoError(t, err)

	_, err = stream.Recv()
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codes.Aborted, ce.Code())
	assert.Equal(t, "core restarting", ce.Details)
}

func TestDefaultRepoMissing(t *testing.T) {
	_, err := DefaultRepo([]Repo{{Name: "a"}})
	assert.ErrorIs(t, err, ErrNoDefaultRepo)
}

func TestFrameworkInfoVersion(t *testing.T) {
	assert.Equal(t, "1.2.3", FrameworkInfo{"version": "1.2.3"}.Version())
	assert.Empty(t, FrameworkInfo{"version": 12}.Version())
}
