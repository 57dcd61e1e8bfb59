package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/cogate/internal/log"
	"github.com/nats-io/nats.go"
)

// Envelope is the NATS wire form of a relayed notification.
type Envelope struct {
	Origin  string  `json:"origin"`
	SentAt  string  `json:"sentAt"`
	Message Message `json:"message"`
}

// ConnectNATS dials url with reconnects enabled and logging handlers.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	logger := log.WithComponent("nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Str(log.FieldEvent, "nats.disconnected").Msg("nats connection lost")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str(log.FieldEvent, "nats.reconnected").Str("url", c.ConnectedUrl()).Msg("nats connection restored")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSRelay forwards local notifications to a NATS subject so observers
// attached to other processes see them too.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	origin  string
	sub     Subscriber
}

// NewNATSRelay subscribes to topic on b immediately.
func NewNATSRelay(ctx context.Context, nc *nats.Conn, subject, origin string, b Bus, topic string) (*NATSRelay, error) {
	sub, err := b.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	return &NATSRelay{nc: nc, subject: subject, origin: origin, sub: sub}, nil
}

// Run forwards until ctx is cancelled and flushes pending publishes on exit.
func (r *NATSRelay) Run(ctx context.Context) error {
	logger := log.WithComponent("nats")
	defer func() {
		_ = r.sub.Close()
		if err := r.nc.FlushTimeout(2 * time.Second); err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "nats.flush_failed").Msg("pending notifications not flushed")
		}
	}()
	for {
		select {
		case msg, ok := <-r.sub.C():
			if !ok {
				return nil
			}
			data, err := json.Marshal(Envelope{Origin: r.origin, SentAt: time.Now().UTC().Format(time.RFC3339Nano), Message: msg})
			if err != nil {
				logger.Error().Err(err).Str(log.FieldEvent, "nats.encode_failed").Msg("cannot encode notification")
				continue
			}
			if err := r.nc.Publish(r.subject, data); err != nil {
				logger.Warn().Err(err).Str(log.FieldEvent, "nats.publish_failed").Str("subject", r.subject).Msg("relay publish failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}
