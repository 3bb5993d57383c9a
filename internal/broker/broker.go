// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

// Package broker adapts a publish/subscribe backing store for the relay.
//
// A Broker hands out one independent Subscription per Subscribe call, even
// when several sessions subscribe to the same channel; the backing store does
// the fan-out. Payloads are delivered as opaque bytes and never parsed here.
//
// Backends:
//   - NATS core pub/sub (nats.go), optionally against an in-process
//     nats-server started by the relay
//   - Redis PUBLISH/SUBSCRIBE (go-redis), one PubSub connection per
//     subscription
//   - an in-process memory backend built on watermill's gochannel, for
//     development and tests
//
// Any backend can be wrapped with a subscribe circuit breaker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrBrokerUnavailable means the backing store could not be reached.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrSubscribeFailure means the backing store rejected or failed a subscribe.
	ErrSubscribeFailure = errors.New("subscribe failed")

	// ErrInvalidChannel is returned for channel identifiers that cannot be
	// used as a subscription key. It wraps ErrSubscribeFailure.
	ErrInvalidChannel = fmt.Errorf("%w: invalid channel", ErrSubscribeFailure)

	// ErrBrokerClosed is returned by operations on a closed broker.
	ErrBrokerClosed = errors.New("broker closed")
)

// MaxChannelLength is the longest accepted channel identifier, in bytes.
const MaxChannelLength = 256

// Delivery is one message received on a channel.
type Delivery struct {
	Channel string
	Payload []byte
}

// Handler receives deliveries for a subscription. Handlers are called
// sequentially per subscription and must not block.
type Handler func(Delivery)

// Subscription is a registered interest in one channel.
type Subscription interface {
	Channel() string
	// Unsubscribe releases the subscription. It is safe to call more than once.
	Unsubscribe() error
}

// Broker is the relay's view of the backing store.
type Broker interface {
	// Subscribe registers h for messages published to channel. ctx bounds the
	// subscribe call only; the subscription lives until Unsubscribe or Close.
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)

	// Publish sends payload to every subscription on channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Connected reports whether the backing store is currently reachable.
	Connected() bool

	// Done is closed when the backend is permanently gone.
	Done() <-chan struct{}

	Close() error
}

// ValidateChannel checks that channel can be used as a routing key.
//
// The rules come from the NATS backend: channels are dot-separated subjects
// on the wire, so wildcard tokens would let a client receive other
// experiments' traffic. They are applied to every backend so that a channel
// accepted by one is accepted by all.
func ValidateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	if len(channel) > MaxChannelLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidChannel, MaxChannelLength)
	}
	if strings.IndexFunc(channel, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidChannel, channel)
	}
	for _, token := range strings.Split(channel, ".") {
		switch token {
		case "":
			return fmt.Errorf("%w: %q has an empty token", ErrInvalidChannel, channel)
		case "*", ">":
			return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidChannel, channel)
		}
	}
	return nil
}

// subjectFor maps a channel to its wire subject.
func subjectFor(prefix, channel string) string {
	if prefix == "" {
		return channel
	}
	return prefix + "." + channel
}
