package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ManuGH/cogate/internal/notify"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoSigs: true,
		NoLog:  true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNATSRelayForwardsNotifications(t *testing.T) {
	ns := startNATS(t)

	nc, err := ConnectNATS(ns.ClientURL(), "cogate-test")
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	remote, err := ConnectNATS(ns.ClientURL(), "observer")
	require.NoError(t, err)
	t.Cleanup(remote.Close)
	inbox, err := remote.SubscribeSync("cogate.notifications")
	require.NoError(t, err)
	require.NoError(t, remote.Flush())

	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	relay, err := NewNATSRelay(ctx, nc, "cogate.notifications", "gw-1", b, TopicNotifications)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	NewNotifier(b, TopicNotifications).Broadcast(notify.Padlock(map[string]string{"lockedBy": "1"}))

	m, err := inbox.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var env struct {
		Origin  string `json:"origin"`
		Message struct {
			Command string            `json:"command"`
			Payload map[string]string `json:"payload"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(m.Data, &env))
	assert.Equal(t, "gw-1", env.Origin)
	assert.Equal(t, notify.CommandPadlock, env.Message.Command)
	assert.Equal(t, "1", env.Message.Payload["lockedBy"])

	cancel()
	require.NoError(t, <-done)
}
