package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/core/coretest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ada = &auth.Session{PersonID: "1", Name: "Ada"}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		path string
		want Operation
	}{
		{"/get-environments", GetEnvironments},
		{"GetEnvironments", GetEnvironments},
		{"list-repos/", ListRepos},
		{"set_default_repo", SetDefaultRepo},
		{"/control/environment", ControlEnvironment},
		{"new-auto-environment", NewAutoEnvironment},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseOperation(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOperationUnsupported(t *testing.T) {
	for _, path := range []string{"environment/new", "", "/drop-database"} {
		_, err := ParseOperation(path)
		var de *Error
		require.True(t, errors.As(err, &de), path)
		assert.Equal(t, KindUnsupported, de.Kind)
		assert.Equal(t, http.StatusNotFound, de.Status())
	}
}

func TestNewPanicsOnIncompleteTable(t *testing.T) {
	assert.Panics(t, func() {
		New(coretest.New(), WithHandler(Operation("DropDatabase"), passthrough("DropDatabase")))
	})
	assert.Panics(t, func() {
		New(coretest.New(), WithHandler(GetTasks, nil))
	})
	assert.NotPanics(t, func() { New(coretest.New()) })
}

func TestExecutePassesThrough(t *testing.T) {
	fake := coretest.New()
	fake.Reply("GetEnvironments", map[string]any{"environments": []string{"env-1"}})
	d := New(fake)

	out, err := d.Execute(context.Background(), GetEnvironments, ada, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"environments":["env-1"]}`, string(out))

	calls := fake.CallsTo("GetEnvironments")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{}`, string(calls[0].Args))
}

func TestExecuteValidation(t *testing.T) {
	fake := coretest.New()
	d := New(fake)

	for _, args := range []string{`{}`, `{"id":""}`, `{"id":null}`, `[1]`} {
		_, err := d.Execute(context.Background(), DestroyEnvironment, ada, json.RawMessage(args))
		var de *Error
		require.True(t, errors.As(err, &de), args)
		assert.Equal(t, KindValidation, de.Kind)
		assert.Equal(t, http.StatusBadRequest, de.Status())
	}
	assert.Empty(t, fake.Calls())

	_, err := d.Execute(context.Background(), ControlEnvironment, ada, json.RawMessage(`{"id":"env-1","type":"START_ACTIVITY"}`))
	require.NoError(t, err)
}

func TestExecuteClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
		msg    string
	}{
		{"unreachable", coretest.Unreachable("GetTasks"), KindUnavailable, http.StatusServiceUnavailable, "connection refused"},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), KindUnavailable, http.StatusServiceUnavailable, "slow"},
		{"rejected", coretest.Rejected("GetTasks", "environment not found", ""), KindRemoteRejected, http.StatusBadGateway, "environment not found"},
		{"bare status", status.Error(codes.NotFound, "nope"), KindRemoteRejected, http.StatusBadGateway, "nope"},
		{"local", errors.New("decode failed"), KindProcessing, http.StatusInternalServerError, "decode failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := coretest.New()
			fake.Fail("GetTasks", tt.err)

			_, err := New(fake).Execute(context.Background(), GetTasks, ada, nil)
			var de *Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, tt.status, de.Status())
			assert.Equal(t, tt.msg, de.Error())
			assert.Equal(t, "GetTasks", de.Operation)
		})
	}
}

func TestExecuteNotReady(t *testing.T) {
	fake := coretest.New()
	fake.SetReady(false)
	d := New(fake)
	assert.False(t, d.Ready())

	_, err := d.Execute(context.Background(), GetEnvironments, ada, nil)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, fake.Calls())
}

func TestExecuteCallTimeout(t *testing.T) {
	fake := coretest.New()
	fake.Handle("GetTasks", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, status.FromContextError(ctx.Err()).Err()
	})

	_, err := New(fake, WithCallTimeout(10*time.Millisecond)).Execute(context.Background(), GetTasks, ada, nil)
	assert.True(t, IsUnavailable(err))
}

func TestFrameworkInfoNormalizesVersion(t *testing.T) {
	fake := coretest.New()
	fake.Reply("GetFrameworkInfo", map[string]any{"version": "0.26.1+build.7", "instanceName": "core"})

	info, err := New(fake).FrameworkInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.26.1", info["version"])
	assert.Equal(t, "core", info["instanceName"])
}

func TestIntegratedServices(t *testing.T) {
	fake := coretest.New()
	fake.Reply("GetIntegratedServices", map[string]any{"services": map[string]any{"dcs": map[string]any{"enabled": true}}})

	services, err := New(fake).IntegratedServices(context.Background())
	require.NoError(t, err)
	assert.Contains(t, services, "services")
}

func TestCreateEnvironmentKeepsCallError(t *testing.T) {
	fake := coretest.New()
	fake.Fail("NewEnvironment", coretest.Rejected("NewEnvironment", "no slots", "env-42"))

	_, err := New(fake).CreateEnvironment(context.Background(), core.NewEnvironmentRequest{WorkflowTemplate: "wf@1"})
	var ce *core.CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "env-42", ce.EnvironmentID)
	assert.Equal(t, "no slots", err.Error())
}

func TestCreateEnvironmentRequiresTemplate(t *testing.T) {
	_, err := New(coretest.New()).CreateEnvironment(context.Background(), core.NewEnvironmentRequest{})
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindValidation, de.Kind)
}

func TestStartAutoEnvironment(t *testing.T) {
	fake := coretest.New()
	d := New(fake)

	require.NoError(t, d.StartAutoEnvironment(context.Background(), core.NewAutoEnvironmentRequest{ID: "c1", WorkflowTemplate: "wf@1"}))
	require.Len(t, fake.CallsTo("NewAutoEnvironment"), 1)

	err := d.StartAutoEnvironment(context.Background(), core.NewAutoEnvironmentRequest{WorkflowTemplate: "wf@1"})
	assert.Error(t, err)
}

func TestRepos(t *testing.T) {
	fake := coretest.New()
	fake.Reply("ListRepos", core.ListReposReply{Repos: []core.Repo{{Name: "r", DefaultRevision: "master", Default: true}}})

	repos, err := New(fake).Repos(context.Background())
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestParseCoreVersion(t *testing.T) {
	tests := map[string]string{
		"0.26.1+build.7":  "0.26.1",
		"v1.2":            "1.2.0",
		" 1.0.0-rc1+abc ": "1.0.0-rc1",
		"3":               "3.0.0",
		"not-a-version":   "not-a-version",
		"  dev ":          "dev",
		"":                "",
	}
	for in, want := range tests {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			assert.Equal(t, want, ParseCoreVersion(in))
		})
	}
}

func TestExecuteAuditsMutationsOnly(t *testing.T) {
	var buf bytes.Buffer
	d := New(coretest.New(), WithAuditLogger(audit.NewLoggerWith(zerolog.New(&buf))))

	_, err := d.Execute(context.Background(), GetEnvironments, ada, nil)
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = d.Execute(context.Background(), ControlEnvironment, ada, json.RawMessage(`{"id":"env-1","type":"STOP_ACTIVITY"}`))
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `"event_type":"dispatch.mutation"`)
	assert.Contains(t, out, `"resource":"ControlEnvironment"`)
	assert.Contains(t, out, `"type":"STOP_ACTIVITY"`)
	assert.Contains(t, out, `"actor_name":"Ada"`)
}
