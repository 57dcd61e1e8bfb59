package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/bridge"
	controlhttp "github.com/ManuGH/cogate/internal/control/http"
	"github.com/ManuGH/cogate/internal/control/lock"
	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/core/coretest"
	"github.com/ManuGH/cogate/internal/dispatch"
	"github.com/ManuGH/cogate/internal/ledger"
	"github.com/ManuGH/cogate/internal/notify"
	"github.com/ManuGH/cogate/internal/savedconfig"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Broadcast(msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

type hostList []string

func (h hostList) Hosts(context.Context) ([]string, error) {
	return h, nil
}

type person struct {
	id, name, roles string
}

var (
	ada   = person{id: "1", name: "Ada"}
	bob   = person{id: "2", name: "Bob"}
	admin = person{id: "9", name: "Root", roles: "admin"}
)

type harness struct {
	fake   *coretest.Fake
	lock   *lock.Padlock
	ledger *ledger.Ledger
	bridge *bridge.Bridge
	rec    *recorder
	h      http.Handler
}

type option func(*Deps)

func withoutConfigs() option { return func(d *Deps) { d.Configs = nil } }
func withoutHosts() option   { return func(d *Deps) { d.Hosts = nil } }
func withAudit(buf *bytes.Buffer) option {
	return func(d *Deps) { d.Audit = audit.NewLoggerWith(zerolog.New(buf)) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	fake := coretest.New()
	fake.Reply("ListRepos", core.ListReposReply{Repos: []core.Repo{
		{Name: "other", DefaultRevision: "v1"},
		{Name: "o2", DefaultRevision: "master", Default: true},
	}})
	rec := &recorder{}
	d := dispatch.New(fake)
	lk := lock.New(rec)
	led := ledger.New(d, rec)
	br := bridge.New(fake, rec)
	t.Cleanup(func() {
		br.Close()
		br.Wait()
		led.Wait()
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deps := Deps{
		Dispatcher: d,
		Lock:       lk,
		Ledger:     led,
		Bridge:     br,
		Hosts:      hostList{"h1", "h2"},
		Configs:    savedconfig.New(client, "", zerolog.Nop()),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv := New(Config{}, deps)
	return &harness{fake: fake, lock: lk, ledger: led, bridge: br, rec: rec, h: srv.Handler()}
}

func (h *harness) do(t *testing.T, p *person, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if p != nil {
		req.Header.Set(controlhttp.HeaderPersonID, p.id)
		req.Header.Set(controlhttp.HeaderPersonName, p.name)
		if p.roles != "" {
			req.Header.Set(controlhttp.HeaderRoles, p.roles)
		}
	}
	rr := httptest.NewRecorder()
	h.h.ServeHTTP(rr, req)
	return rr
}

func (h *harness) acquire(t *testing.T, p person) {
	t.Helper()
	_, err := h.lock.Acquire(lock.Owner{PersonID: p.id, Name: p.name})
	require.NoError(t, err)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, nil, http.MethodGet, "/api/lock", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestExecuteReadOnlyWithoutLock(t *testing.T) {
	h := newHarness(t)
	h.fake.Reply("GetEnvironments", map[string]any{"environments": []string{"env-1"}})

	rr := h.do(t, &ada, http.MethodPost, "/api/execute/get-environments", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"environments":["env-1"]}`, rr.Body.String())
}

func TestExecuteMutationRequiresLock(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, &ada, http.MethodPost, "/api/execute/destroy-environment", `{"id":"env-1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "CONTROL_NOT_LOCKED", decode(t, rr)["code"])
	assert.Empty(t, h.fake.CallsTo("DestroyEnvironment"))

	h.acquire(t, ada)
	rr = h.do(t, &bob, http.MethodPost, "/api/execute/destroy-environment", `{"id":"env-1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "CONTROL_LOCKED_BY_OTHER", body["code"])
	assert.Equal(t, "Ada", body["lockedByName"])

	rr = h.do(t, &ada, http.MethodPost, "/api/execute/destroy-environment", `{"id":"env-1"}`)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, h.fake.CallsTo("DestroyEnvironment"), 1)
}

func TestExecuteUnsupportedOperation(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, &ada, http.MethodPost, "/api/execute/drop-database", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "UNSUPPORTED_OPERATION", decode(t, rr)["code"])
}

func TestExecuteCoreNotReady(t *testing.T) {
	h := newHarness(t)
	h.fake.SetReady(false)
	rr := h.do(t, &ada, http.MethodPost, "/api/execute/get-environments", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Empty(t, h.fake.Calls())
}

func TestExecuteRemoteRejection(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, ada)
	h.fake.Fail("ControlEnvironment", coretest.Rejected("ControlEnvironment", "transition not allowed", ""))

	rr := h.do(t, &ada, http.MethodPost, "/api/execute/control-environment", `{"id":"env-1","type":"START_ACTIVITY"}`)
	assert.GreaterOrEqual(t, rr.Code, 400)
	assert.Contains(t, rr.Body.String(), "transition not allowed")
}

func TestExecuteRejectsNonObjectBody(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, &ada, http.MethodPost, "/api/execute/get-environments", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLockLifecycle(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, &ada, http.MethodPost, "/api/lock", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"lockedBy":"1","lockedByName":"Ada"}`, rr.Body.String())

	rr = h.do(t, &bob, http.MethodPost, "/api/lock", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, &bob, http.MethodDelete, "/api/lock", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, &bob, http.MethodDelete, "/api/lock/force", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, &admin, http.MethodDelete, "/api/lock/force", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{}`, rr.Body.String())

	rr = h.do(t, &bob, http.MethodGet, "/api/lock", "")
	assert.JSONEq(t, `{}`, rr.Body.String())
}

func TestRequestSubmitRequiresLock(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, &ada, http.MethodPost, "/api/requests", `{"detectors":["TPC"],"workflowTemplate":"wf@1","vars":{"hosts":["h1"]}}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, h.ledger.Snapshot().Requests)
}

func TestRequestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, ada)

	tests := []struct {
		name string
		body string
	}{
		{"no workflow", `{"detectors":["TPC"],"vars":{"hosts":["h1"]}}`},
		{"no detectors", `{"workflowTemplate":"wf@1","vars":{"hosts":["h1"]}}`},
		{"no hosts", `{"detectors":[],"workflowTemplate":"wf@1","vars":{}}`},
		{"empty hosts", `{"detectors":[],"workflowTemplate":"wf@1","vars":{"hosts":[]}}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := h.do(t, &ada, http.MethodPost, "/api/requests", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
	assert.Empty(t, h.fake.CallsTo("NewEnvironment"))
}

func TestRequestSubmitAndAcknowledge(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail("NewEnvironment", coretest.Rejected("NewEnvironment", "no resources", "env-x"))
	h.acquire(t, ada)

	rr := h.do(t, &ada, http.MethodPost, "/api/requests", `{"detectors":["TPC"],"workflowTemplate":"wf@1","vars":{"hosts":["h1"]}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"ok":1,"id":0}`, rr.Body.String())

	require.Eventually(t, func() bool {
		e, ok := h.ledger.Get(0)
		return ok && e.Failed
	}, 2*time.Second, 10*time.Millisecond)

	rr = h.do(t, &bob, http.MethodGet, "/api/requests", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap ledger.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Len(t, snap.Requests, 1)
	assert.Equal(t, "Ada", snap.Requests[0].Owner)
	assert.Equal(t, "env-x", snap.Requests[0].EnvID)

	rr = h.do(t, &bob, http.MethodDelete, "/api/requests/0", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, &ada, http.MethodDelete, "/api/requests/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, &admin, http.MethodDelete, "/api/requests/0", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, h.ledger.Snapshot().Requests)

	rr = h.do(t, &bob, http.MethodDelete, "/api/requests/42", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCleanResources(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, ada)

	rr := h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"chan-1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var payload notify.Payload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.True(t, payload.Success)
	assert.False(t, payload.Ended)
	assert.Equal(t, "chan-1", payload.ID)
	assert.Equal(t, `Request for "Cleaning Resources" was successfully sent and in progress`, payload.Info.Message)

	calls := h.fake.CallsTo("NewAutoEnvironment")
	require.Len(t, calls, 1)
	var req core.NewAutoEnvironmentRequest
	require.NoError(t, json.Unmarshal(calls[0].Args, &req))
	assert.Equal(t, "chan-1", req.ID)
	assert.Equal(t, "o2/workflows/resources-cleanup@master", req.WorkflowTemplate)
	assert.JSONEq(t, `["h1","h2"]`, req.Vars["hosts"])
	assert.Contains(t, h.bridge.Active(), "chan-1")

	rr = h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"chan-1"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCleanResourcesGeneratesChannel(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, ada)

	rr := h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var payload notify.Payload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.NotEmpty(t, payload.ID)
}

func TestCleanResourcesFailures(t *testing.T) {
	t.Run("requires lock", func(t *testing.T) {
		h := newHarness(t)
		rr := h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"c"}`)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
	t.Run("no hosts", func(t *testing.T) {
		h := newHarness(t, withoutHosts())
		h.acquire(t, ada)
		rr := h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"c"}`)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Empty(t, h.bridge.Active())
	})
	t.Run("core rejects", func(t *testing.T) {
		h := newHarness(t)
		h.acquire(t, ada)
		h.fake.Fail("ListRepos", coretest.Unreachable("ListRepos"))
		rr := h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"c"}`)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		var payload notify.Payload
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
		assert.True(t, payload.Ended)
		assert.False(t, payload.Success)
		assert.Equal(t, "c", payload.ID)
	})
	t.Run("subscribe fails", func(t *testing.T) {
		h := newHarness(t)
		h.acquire(t, ada)
		h.fake.FailSubscribe(errors.New("stream refused"))
		rr := h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"c"}`)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Empty(t, h.fake.CallsTo("NewAutoEnvironment"))
	})
	t.Run("start fails then retry", func(t *testing.T) {
		h := newHarness(t)
		h.acquire(t, ada)
		h.fake.Fail("NewAutoEnvironment", coretest.Rejected("NewAutoEnvironment", "workflow not found", ""))
		rr := h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"c"}`)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Empty(t, h.bridge.Active(), "the stream is stopped with the failed start")

		h.fake.Reply("NewAutoEnvironment", map[string]any{})
		rr = h.do(t, &ada, http.MethodPost, "/api/environments/clean-resources", `{"channelId":"c"}`)
		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, []string{"c"}, h.bridge.Active())
	})
}

func TestAutoEnvironment(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, ada)

	rr := h.do(t, &ada, http.MethodPost, "/api/environments/auto", `{"hosts":["h1"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = h.do(t, &ada, http.MethodPost, "/api/environments/auto", `{"channelId":"c1","hosts":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "List of Hosts should be provided")
	rr = h.do(t, &ada, http.MethodPost, "/api/environments/auto", `{"channelId":"c1","hosts":[" ",""]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, &ada, http.MethodPost, "/api/environments/auto", `{"channelId":"c1","hosts":["FLP2"," flp1","flp2"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `Request for \"o2-roc-config\" was successfully sent and is now in progress`)

	calls := h.fake.CallsTo("NewAutoEnvironment")
	require.Len(t, calls, 1)
	var req core.NewAutoEnvironmentRequest
	require.NoError(t, json.Unmarshal(calls[0].Args, &req))
	assert.Equal(t, "o2/workflows/o2-roc-config@master", req.WorkflowTemplate)
	assert.JSONEq(t, `["flp1","flp2"]`, req.Vars["hosts"])
}

func TestAutoEnvironmentNeedsDefaultRevision(t *testing.T) {
	h := newHarness(t)
	h.acquire(t, ada)
	h.fake.Reply("ListRepos", core.ListReposReply{Repos: []core.Repo{{Name: "o2", Default: true}}})

	rr := h.do(t, &ada, http.MethodPost, "/api/environments/auto", `{"channelId":"c1","hosts":["flp1"]}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "unable to find a default revision for repository: o2")
	assert.Empty(t, h.bridge.Active())
}

func TestConfigurations(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, &ada, http.MethodPut, "/api/configurations/physics", `{"workflow":"wf@1","variables":{"odc_n_epns":4}}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	h.acquire(t, ada)
	rr = h.do(t, &ada, http.MethodPut, "/api/configurations/physics", `{"workflow":"wf@1","variables":{}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, &ada, http.MethodPut, "/api/configurations/physics", `{"workflow":"wf@1","variables":{"odc_n_epns":4}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = h.do(t, &bob, http.MethodGet, "/api/configurations/physics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var cfg savedconfig.Configuration
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, "physics", cfg.Name)
	assert.Equal(t, "Ada", cfg.SavedBy)
	assert.Equal(t, map[string]string{"odc_n_epns": "4"}, cfg.Variables)

	rr = h.do(t, &bob, http.MethodGet, "/api/configurations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"names":["physics"]}`, rr.Body.String())

	rr = h.do(t, &bob, http.MethodGet, "/api/configurations/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConfigurationsWithoutStore(t *testing.T) {
	h := newHarness(t, withoutConfigs())
	rr := h.do(t, &ada, http.MethodGet, "/api/configurations", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAuditTrail(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, withAudit(&buf))

	h.do(t, &bob, http.MethodPost, "/api/execute/destroy-environment", `{"id":"env-1"}`)
	h.do(t, &ada, http.MethodPost, "/api/lock", "")
	h.do(t, &admin, http.MethodDelete, "/api/lock/force", "")

	out := buf.String()
	assert.Contains(t, out, `"event_type":"lock.denied"`)
	assert.Contains(t, out, `"reason":"not_locked"`)
	assert.Contains(t, out, `"event_type":"lock.acquire"`)
	assert.Contains(t, out, `"event_type":"lock.force_release"`)
	assert.Contains(t, out, `"previous_owner":"1"`)
}
