// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// memoryOutputBuffer is the per-subscription gochannel buffer.
const memoryOutputBuffer = 256

// MemoryBroker is an in-process Broker on watermill's gochannel pub/sub.
// Only messages published through the same MemoryBroker are delivered.
type MemoryBroker struct {
	pubsub *gochannel.GoChannel
	prefix string

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemory creates a memory broker. A nil logger discards watermill logs.
func NewMemory(prefix string, logger watermill.LoggerAdapter) *MemoryBroker {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &MemoryBroker{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: memoryOutputBuffer,
			// Publish waits for handler acks, which keeps per-channel order.
			BlockPublishUntilSubscriberAck: true,
		}, logger),
		prefix: prefix,
		done:   make(chan struct{}),
	}
}

// Subscribe starts a gochannel subscription owned by the returned handle.
func (m *MemoryBroker) Subscribe(_ context.Context, channel string, h Handler) (Subscription, error) {
	if err := ValidateChannel(channel); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, ErrBrokerClosed
	}

	subCtx, cancel := context.WithCancel(context.Background())
	msgs, err := m.pubsub.Subscribe(subCtx, subjectFor(m.prefix, channel))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailure, channel, err)
	}

	sub := &memorySubscription{channel: channel, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range msgs {
			h(Delivery{Channel: channel, Payload: msg.Payload})
			msg.Ack()
		}
	}()

	return sub, nil
}

// Publish delivers payload to every current subscription on channel.
func (m *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrBrokerClosed
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := m.pubsub.Publish(subjectFor(m.prefix, channel), msg); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Connected is true until Close.
func (m *MemoryBroker) Connected() bool {
	return !m.closed.Load()
}

// Done is closed by Close.
func (m *MemoryBroker) Done() <-chan struct{} {
	return m.done
}

// Close stops all subscriptions.
func (m *MemoryBroker) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		err = m.pubsub.Close()
		close(m.done)
	})
	return err
}

type memorySubscription struct {
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *memorySubscription) Channel() string { return s.channel }

// Unsubscribe cancels the subscription context and waits for the delivery
// goroutine to exit, so h is not called after Unsubscribe returns. It must
// not be called from inside the subscription's own Handler.
func (s *memorySubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return nil
}
