package bus

import (
	"context"

	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/ManuGH/cogate/internal/notify"
)

// Notifier is the publish-only broadcast primitive handed to the lock,
// ledger and stream bridge.
type Notifier struct {
	bus   Bus
	topic string
}

// NewNotifier publishes to topic on b.
func NewNotifier(b Bus, topic string) *Notifier {
	return &Notifier{bus: b, topic: topic}
}

// Broadcast publishes msg to every observer. Failures are logged only.
func (n *Notifier) Broadcast(msg notify.Message) {
	if err := n.bus.Publish(context.Background(), n.topic, msg); err != nil {
		log.L().Error().
			Err(err).
			Str(log.FieldEvent, "bus.publish_failed").
			Str("command", msg.Command).
			Msg("broadcast failed")
		return
	}
	metrics.IncPublished(msg.Command)
}
