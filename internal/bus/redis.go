// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Redis-backed Bus implementation for multi-process
// deployments. Each page maps to one Redis channel; Redis pub/sub gives
// at-least-once delivery to connected subscribers and no history, which is
// exactly the contract subscribers are written against.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	closed atomic.Bool
}

// RedisBusOptions configures the Redis bus.
type RedisBusOptions struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	// Prefix is prepended to all channel names (e.g., "opad:")
	Prefix string

	// ConnectTimeout is the timeout for establishing a connection
	ConnectTimeout time.Duration
}

// DefaultRedisBusOptions returns sensible defaults.
func DefaultRedisBusOptions() RedisBusOptions {
	return RedisBusOptions{
		Prefix:         "opad:",
		ConnectTimeout: 5 * time.Second,
	}
}

// NewRedisBus creates a Redis bus with the given options.
func NewRedisBus(opts RedisBusOptions, logger *slog.Logger) (*RedisBus, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisBus{client: client, prefix: opts.Prefix, logger: logger}, nil
}

// channel maps a page id to its Redis channel name.
func (b *RedisBus) channel(pageID string) string {
	return b.prefix + "page:" + pageID
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(ev.PageID), payload).Err()
}

// Subscribe implements Bus. The pump goroutine runs until Cancel is called
// or the bus is closed.
func (b *RedisBus) Subscribe(ctx context.Context, pageID string) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	ps := b.client.Subscribe(ctx, b.channel(pageID))

	// Confirm the subscription before handing it out so no committed event
	// published after Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	var sub *Subscription
	sub = newSubscription(DefaultSubscriberBuffer, func() {
		_ = ps.Close()
	})

	go func() {
		defer func() {
			close(sub.done)
			close(sub.ch)
		}()
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping malformed bus event", "page_id", pageID, "error", err)
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				// Slow consumer: evict rather than block or reorder.
				b.logger.Warn("evicting slow subscriber", "page_id", pageID)
				_ = ps.Close()
				return
			}
		}
	}()

	return sub, nil
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
