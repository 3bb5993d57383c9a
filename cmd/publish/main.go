// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

// Command publish is a producer emulator. It publishes messages to a relay
// channel through the broker configured for the relay, which makes it handy
// for smoke tests and for poking at a running deployment.
//
//	publish --channel ENPK-42 --message '{"status":"done"}'
//	tail -f events.log | publish -c ENPK-42
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/evilkost/mixgene-notify/internal/broker"
	"github.com/evilkost/mixgene-notify/internal/config"
	"github.com/evilkost/mixgene-notify/internal/logging"
)

type options struct {
	Channel  string        `short:"c" long:"channel" description:"relay channel to publish to" required:"true"`
	Message  string        `short:"m" long:"message" description:"payload to publish; when empty, each stdin line is published"`
	Count    int           `short:"n" long:"count" default:"1" description:"times to publish --message"`
	Interval time.Duration `short:"i" long:"interval" default:"0s" description:"pause between repeated publishes"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin))
}

func run(args []string, stdin io.Reader) int {
	opts, err := parseFlags(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, flagsErr.Message)
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console", Timestamp: true})

	brokerCfg, err := publisherBrokerConfig(cfg.Broker)
	if err != nil {
		logging.Error().Err(err).Msg("Unusable broker configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brk, err := broker.Open(ctx, brokerCfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to connect to broker")
		return 1
	}
	defer func() {
		_ = brk.Close() // Explicitly ignore error - process is exiting
	}()

	var published int
	if opts.Message != "" {
		published, err = publishRepeated(ctx, brk, opts)
	} else {
		published, err = publishLines(ctx, brk, opts.Channel, stdin)
	}

	if f, ok := brk.Broker.(interface{ Flush(context.Context) error }); ok {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if flushErr := f.Flush(flushCtx); flushErr != nil && err == nil {
			err = flushErr
		}
		cancel()
	}

	logging.Info().Str("channel", opts.Channel).Int("published", published).Msg("Done")
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Publish failed")
		return 1
	}
	return 0
}

func parseFlags(args []string) (options, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "publish"
	if _, err := parser.ParseArgs(args); err != nil {
		return opts, err
	}

	if err := broker.ValidateChannel(opts.Channel); err != nil {
		return opts, fmt.Errorf("--channel: %w", err)
	}
	if opts.Count < 1 {
		return opts, errors.New("--count must be at least 1")
	}
	return opts, nil
}

// publisherBrokerConfig points the publisher at the relay's broker. An
// embedded relay server is reached over the network instead of starting a
// second one.
func publisherBrokerConfig(c config.BrokerConfig) (config.BrokerConfig, error) {
	if c.Backend == "memory" {
		return c, errors.New("the memory backend only relays in-process publishers; use BROKER_BACKEND=nats or redis")
	}
	if c.Backend == "nats" && c.Embedded {
		if c.EmbeddedPort <= 0 {
			return c, fmt.Errorf("NATS_EMBEDDED_PORT=%d gives the relay's embedded server a port the publisher cannot know; set a fixed port or NATS_URL", c.EmbeddedPort)
		}
		host := c.EmbeddedHost
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		c.URL = "nats://" + net.JoinHostPort(host, strconv.Itoa(c.EmbeddedPort))
		c.Embedded = false
	}
	return c, nil
}

func publishRepeated(ctx context.Context, b broker.Broker, opts options) (int, error) {
	for i := 0; i < opts.Count; i++ {
		if i > 0 && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		if err := b.Publish(ctx, opts.Channel, []byte(opts.Message)); err != nil {
			return i, err
		}
	}
	return opts.Count, nil
}

func publishLines(ctx context.Context, b broker.Broker, channel string, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		// Scanner reuses its buffer between lines.
		line := append([]byte(nil), scanner.Bytes()...)
		if err := b.Publish(ctx, channel, line); err != nil {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}
