// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus fans notifications out to observers. Publishers never block:
// a subscriber that cannot keep up loses messages.
package bus

import (
	"context"

	"github.com/ManuGH/cogate/internal/notify"
)

// TopicNotifications carries every observer-facing message.
const TopicNotifications = "notifications"

// Message is one notification.
type Message = notify.Message

type Subscriber interface {
	// C returns a read-only message channel. It is closed by Close.
	C() <-chan Message
	// Close unsubscribes.
	Close() error
}

// Bus is the event transport abstraction.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
