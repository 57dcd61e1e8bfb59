// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

const dropLogEvery = 100

// MemoryBus is an in-process pub/sub. Delivery to each subscriber is in
// publish order; full subscriber queues drop the message.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	buffer int
	drops  atomic.Uint64
}

// NewMemoryBus returns a bus with DefaultBufferSize queues.
func NewMemoryBus() *MemoryBus {
	return NewMemoryBusWithBuffer(DefaultBufferSize)
}

// NewMemoryBusWithBuffer returns a bus with per-subscriber queues of size n.
func NewMemoryBusWithBuffer(n int) *MemoryBus {
	if n < 1 {
		n = 1
	}
	return &MemoryBus{subs: make(map[string][]chan Message), buffer: n}
}

// Publish never blocks. The read lock is held across the sends so a
// concurrent Close cannot close a channel mid-send.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		metrics.IncBusDropReason(topic, "canceled")
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
			metrics.IncBusDrop(topic)
			count := b.drops.Add(1)
			if count%dropLogEvery == 1 {
				log.L().Warn().
					Str(log.FieldEvent, "bus.dropped").
					Str("topic", topic).
					Str("command", msg.Command).
					Uint64("dropped", count).
					Msg("subscriber queue full, dropping notification")
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, b.buffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

// Dropped returns how many deliveries were dropped.
func (b *MemoryBus) Dropped() uint64 {
	return b.drops.Load()
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
	once  sync.Once
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s.ch {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
