// SPDX-License-Identifier: MIT

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLoggerWith(zerolog.New(&buf)), &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger()
	assert.NotNil(t, logger)
}

func TestLogger_Log(t *testing.T) {
	logger, buf := capture()

	logger.Log(Event{
		Type:      EventLockAcquire,
		Actor:     "1",
		ActorName: "Ada",
		Action:    "acquired control lock",
		Resource:  "control-lock",
		Result:    ResultSuccess,
		RequestID: "req-123",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Details:   map[string]string{"previous_owner": "2"},
	})

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "audit", got[0]["log_type"])
	assert.Equal(t, "lock.acquire", got[0]["event_type"])
	assert.Equal(t, "Ada", got[0]["actor_name"])
	assert.Equal(t, "req-123", got[0]["request_id"])
	assert.Equal(t, "2", got[0]["previous_owner"])
}

func TestLogger_LogFromContext(t *testing.T) {
	logger, buf := capture()

	ctx := log.ContextWithRequestID(context.Background(), "req-456")
	ctx = auth.WithSession(ctx, &auth.Session{PersonID: "7", Name: "Grace"})
	logger.ConfigurationSaved(ctx, "physics", ResultSuccess)

	logger.LogFromContext(context.Background(), Event{Type: EventRequestAck, Result: ResultSuccess})

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "7", got[0]["actor"])
	assert.Equal(t, "Grace", got[0]["actor_name"])
	assert.Equal(t, "req-456", got[0]["request_id"])
	assert.Equal(t, "physics", got[0]["resource"])
	assert.Equal(t, "system", got[1]["actor"])
}

func TestMutationRecordsTransition(t *testing.T) {
	logger, buf := capture()

	logger.Mutation(context.Background(), &auth.Session{PersonID: "1", Name: "Ada"}, "ControlEnvironment", "START_ACTIVITY")
	logger.Mutation(context.Background(), nil, "DestroyEnvironment", "")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "ControlEnvironment", got[0]["resource"])
	assert.Equal(t, "START_ACTIVITY", got[0]["type"])
	assert.Equal(t, "1", got[0]["actor"])
	assert.Equal(t, "system", got[1]["actor"])
	assert.NotContains(t, got[1], "type")
}

func TestHelpers(t *testing.T) {
	logger, buf := capture()
	ctx := auth.WithSession(context.Background(), &auth.Session{PersonID: "1", Name: "Ada"})

	logger.LockChange(ctx, EventLockForce, ResultSuccess, "2")
	logger.LockDenied(ctx, "DestroyEnvironment", "locked_by_other")
	logger.RequestSubmitted(ctx, 3, "wf@1", 2)
	logger.RequestAcknowledged(ctx, 3, ResultSuccess)
	logger.AuxiliaryStarted(ctx, "o2-roc-config", "chan-1", ResultFailure)

	got := lines(t, buf)
	require.Len(t, got, 5)
	assert.Equal(t, "force released control lock", got[0]["action"])
	assert.Equal(t, "locked_by_other", got[1]["reason"])
	assert.Equal(t, "3", got[2]["resource"])
	assert.Equal(t, "2", got[2]["detectors"])
	assert.Equal(t, "request.acknowledge", got[3]["event_type"])
	assert.Equal(t, "chan-1", got[4]["channel_id"])
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.Log(Event{Type: EventLockAcquire})
		logger.LockDenied(context.Background(), "x", "y")
	})
}
