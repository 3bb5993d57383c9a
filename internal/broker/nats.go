// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"

	"github.com/evilkost/mixgene-notify/internal/logging"
)

// subscribeFlushTimeout bounds the round trip that confirms a new
// subscription has reached the server.
const subscribeFlushTimeout = 2 * time.Second

// NATSConfig configures the NATS backend.
type NATSConfig struct {
	URL           string
	Username      string
	Password      string
	Token         string
	Name          string
	SubjectPrefix string

	// ConnectTimeout bounds the initial connect retry loop.
	ConnectTimeout time.Duration

	// ReconnectWait is the delay between runtime reconnect attempts.
	ReconnectWait time.Duration
}

// NATSBroker is a Broker over NATS core pub/sub.
type NATSBroker struct {
	conn   *nats.Conn
	prefix string

	// embedded is shut down on Close when the relay owns the server.
	embedded *EmbeddedServer

	done     chan struct{}
	doneOnce sync.Once
	closed   sync.Once
}

var _ Broker = (*NATSBroker)(nil)

// ConnectNATS connects to NATS, retrying with exponential backoff until
// cfg.ConnectTimeout elapses. Failure wraps ErrBrokerUnavailable.
//
// Once connected, nats.go reconnects indefinitely and restores
// subscriptions on its own; the broker only logs those transitions.
func ConnectNATS(ctx context.Context, cfg NATSConfig) (*NATSBroker, error) {
	b := &NATSBroker{
		prefix: cfg.SubjectPrefix,
		done:   make(chan struct{}),
	}

	opts := b.options(cfg)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		attempt++
		nc, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			if errors.Is(err, nats.ErrAuthorization) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return nc, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(cfg.ConnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Warn().
				Err(err).
				Str("url", cfg.URL).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("NATS connect failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBrokerUnavailable, cfg.URL, err)
	}

	b.conn = conn
	logging.Info().
		Str("url", conn.ConnectedUrl()).
		Str("server_id", conn.ConnectedServerId()).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("Connected to NATS")

	return b, nil
}

func (b *NATSBroker) options(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("NATS disconnected, reconnecting")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.Warn().Msg("NATS connection closed")
			b.markDone()
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			event := logging.Warn().Err(err)
			if sub != nil {
				event = event.Str("subject", sub.Subject)
			}
			event.Msg("NATS async error")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

// Subscribe registers a new core NATS subscription for channel.
func (b *NATSBroker) Subscribe(_ context.Context, channel string, h Handler) (Subscription, error) {
	if err := ValidateChannel(channel); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrBrokerClosed
	}

	sub, err := b.conn.Subscribe(subjectFor(b.prefix, channel), func(m *nats.Msg) {
		h(Delivery{Channel: channel, Payload: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailure, channel, err)
	}

	// While disconnected the SUB is buffered and replayed on reconnect, so a
	// failed flush is not a rejection.
	if err := b.conn.FlushTimeout(subscribeFlushTimeout); err != nil {
		logging.Debug().Err(err).Str("channel", channel).Msg("NATS flush after subscribe failed")
	}

	return &natsSubscription{channel: channel, sub: sub}, nil
}

// Publish sends payload on channel.
func (b *NATSBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	if err := b.conn.Publish(subjectFor(b.prefix, channel), payload); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrBrokerClosed
		}
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (b *NATSBroker) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return b.conn.FlushTimeout(subscribeFlushTimeout)
	}
	return b.conn.FlushWithContext(ctx)
}

// Connected reports whether the connection is currently up.
func (b *NATSBroker) Connected() bool {
	return b.conn.IsConnected()
}

// Done is closed once the connection is permanently closed.
func (b *NATSBroker) Done() <-chan struct{} {
	return b.done
}

// Close closes the connection without draining; undelivered messages are
// dropped. An owned embedded server is shut down afterwards.
func (b *NATSBroker) Close() error {
	b.closed.Do(func() {
		b.conn.Close()
		b.markDone()
		if b.embedded != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.embedded.Shutdown(ctx); err != nil {
				logging.Warn().Err(err).Msg("Embedded NATS shutdown incomplete")
			}
		}
	})
	return nil
}

func (b *NATSBroker) markDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

type natsSubscription struct {
	channel string
	sub     *nats.Subscription
	once    sync.Once
	err     error
}

func (s *natsSubscription) Channel() string { return s.channel }

func (s *natsSubscription) Unsubscribe() error {
	s.once.Do(func() {
		err := s.sub.Unsubscribe()
		if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			s.err = fmt.Errorf("unsubscribe %s: %w", s.channel, err)
		}
	})
	return s.err
}
