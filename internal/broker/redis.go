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
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/evilkost/mixgene-notify/internal/logging"
)

const (
	// redisChannelSize is the per-subscription buffer between go-redis and
	// the handler.
	redisChannelSize = 256

	// redisHealthInterval is how often the connection is pinged to keep
	// Connected current.
	redisHealthInterval = 5 * time.Second
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL.
	URL           string
	Name          string
	SubjectPrefix string

	// ConnectTimeout bounds the initial connect retry loop.
	ConnectTimeout time.Duration
}

// RedisBroker is a Broker over Redis PUBLISH/SUBSCRIBE.
//
// Every Subscribe opens its own PubSub connection, so releasing one session
// never affects another subscribed to the same channel.
type RedisBroker struct {
	client *redis.Client
	prefix string

	connected atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Broker = (*RedisBroker)(nil)

// ConnectRedis connects to Redis, retrying with exponential backoff until
// cfg.ConnectTimeout elapses. Failure wraps ErrBrokerUnavailable.
//
// go-redis redials on demand and PubSub connections resubscribe on their own
// after a network error; the broker only tracks reachability.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %w", ErrBrokerUnavailable, err)
	}
	if cfg.Name != "" {
		opts.ClientName = cfg.Name
	}
	client := redis.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	_, err = backoff.Retry(ctx, func() (string, error) {
		attempt++
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(cfg.ConnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Warn().
				Err(err).
				Str("addr", opts.Addr).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("Redis connect failed, retrying")
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrBrokerUnavailable, opts.Addr, err)
	}

	b := &RedisBroker{
		client: client,
		prefix: cfg.SubjectPrefix,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	b.connected.Store(true)

	b.wg.Add(1)
	go b.watchHealth()

	logging.Info().
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("Connected to Redis")

	return b, nil
}

// watchHealth pings the server until Close and logs reachability changes.
func (b *RedisBroker) watchHealth() {
	defer b.wg.Done()

	ticker := time.NewTicker(redisHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), redisHealthInterval)
			err := b.client.Ping(ctx).Err()
			cancel()

			up := err == nil
			if was := b.connected.Swap(up); was != up {
				if up {
					logging.Info().Msg("Redis reachable again")
				} else {
					logging.Warn().Err(err).Msg("Redis unreachable, go-redis will redial")
				}
			}
		}
	}
}

// Subscribe opens a dedicated PubSub for channel and waits for the server to
// confirm the subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	if err := ValidateChannel(channel); err != nil {
		return nil, err
	}
	if b.closed() {
		return nil, ErrBrokerClosed
	}

	pubsub := b.client.Subscribe(ctx, subjectFor(b.prefix, channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrBrokerClosed
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailure, channel, err)
	}

	sub := &redisSubscription{channel: channel, pubsub: pubsub, done: make(chan struct{})}
	msgs := pubsub.Channel(redis.WithChannelSize(redisChannelSize))
	go func() {
		defer close(sub.done)
		for msg := range msgs {
			h(Delivery{Channel: channel, Payload: []byte(msg.Payload)})
		}
	}()

	return sub, nil
}

// Publish sends payload on channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	if b.closed() {
		return ErrBrokerClosed
	}
	if err := b.client.Publish(ctx, subjectFor(b.prefix, channel), payload).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrBrokerClosed
		}
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Connected reports the result of the latest health ping.
func (b *RedisBroker) Connected() bool {
	return !b.closed() && b.connected.Load()
}

// Done is closed by Close. Network errors alone never close it; go-redis
// keeps redialing.
func (b *RedisBroker) Done() <-chan struct{} {
	return b.done
}

// Close stops the health loop and closes the client. Open PubSubs are closed
// with it.
func (b *RedisBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stop)
		b.wg.Wait()
		b.connected.Store(false)
		err = b.client.Close()
		close(b.done)
	})
	return err
}

func (b *RedisBroker) closed() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

type redisSubscription struct {
	channel string
	pubsub  *redis.PubSub
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *redisSubscription) Channel() string { return s.channel }

// Unsubscribe closes the PubSub and waits for the delivery goroutine, so h
// is not called after it returns. It must not be called from inside the
// subscription's own Handler.
func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		if err := s.pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			s.err = fmt.Errorf("unsubscribe %s: %w", s.channel, err)
		}
		<-s.done
	})
	return s.err
}
