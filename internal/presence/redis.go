// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/model"
)

// RedisRegistry is a Redis-backed Registry for multi-process deployments.
// Online sessions live in a ZSET per page whose score is the entry's logical
// expiry (unix milliseconds), with a companion hash for display names; typing
// locks use the same shape keyed by block id.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	b      bus.Bus
	logger *slog.Logger
	now    func() time.Time
}

// RedisRegistryOptions configures the Redis registry.
type RedisRegistryOptions struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	// Prefix is prepended to all keys (e.g., "opad:")
	Prefix string

	// ConnectTimeout is the timeout for establishing a connection
	ConnectTimeout time.Duration
}

// DefaultRedisRegistryOptions returns sensible defaults.
func DefaultRedisRegistryOptions() RedisRegistryOptions {
	return RedisRegistryOptions{
		Prefix:         "opad:",
		ConnectTimeout: 5 * time.Second,
	}
}

// NewRedisRegistry creates a Redis registry publishing to the given bus.
func NewRedisRegistry(opts RedisRegistryOptions, b bus.Bus, logger *slog.Logger) (*RedisRegistry, error) {
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

	return &RedisRegistry{
		client: client,
		prefix: opts.Prefix,
		b:      b,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close releases the Redis connection.
func (r *RedisRegistry) Close() error { return r.client.Close() }

func (r *RedisRegistry) presenceKey(pageID string) string {
	return r.prefix + "presence:" + pageID
}

func (r *RedisRegistry) namesKey(pageID string) string {
	return r.prefix + "presence:names:" + pageID
}

func (r *RedisRegistry) typingKey(pageID string) string {
	return r.prefix + "typing:" + pageID
}

func (r *RedisRegistry) locksKey(pageID string) string {
	return r.prefix + "typing:locks:" + pageID
}

// Heartbeat implements Registry.
func (r *RedisRegistry) Heartbeat(ctx context.Context, pageID, sessionID, userName string) error {
	expireAt := r.now().Add(model.PresenceTTL).UnixMilli()

	tx := r.client.TxPipeline()
	tx.ZAdd(ctx, r.presenceKey(pageID), redis.Z{Score: float64(expireAt), Member: sessionID})
	tx.HSet(ctx, r.namesKey(pageID), sessionID, userName)
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}

	return r.b.Publish(ctx, bus.PresenceEvent(model.PresenceSignal{
		PageID:    pageID,
		SessionID: sessionID,
		UserName:  userName,
		IsOnline:  true,
	}))
}

// Leave implements Registry.
func (r *RedisRegistry) Leave(ctx context.Context, pageID, sessionID string) error {
	userName, _ := r.client.HGet(ctx, r.namesKey(pageID), sessionID).Result()

	tx := r.client.TxPipeline()
	tx.ZRem(ctx, r.presenceKey(pageID), sessionID)
	tx.HDel(ctx, r.namesKey(pageID), sessionID)
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}

	return r.b.Publish(ctx, bus.PresenceEvent(model.PresenceSignal{
		PageID:    pageID,
		SessionID: sessionID,
		UserName:  userName,
		IsOnline:  false,
	}))
}

// SetTyping implements Registry.
func (r *RedisRegistry) SetTyping(ctx context.Context, sig model.TypingSignal) error {
	if sig.IsTyping {
		lock := model.TypingLock{
			PageID:    sig.PageID,
			BlockID:   sig.BlockID,
			SessionID: sig.SessionID,
			UserName:  sig.UserName,
			ExpiresAt: r.now().Add(model.TypingTTL),
		}
		payload, err := json.Marshal(lock)
		if err != nil {
			return err
		}

		tx := r.client.TxPipeline()
		tx.ZAdd(ctx, r.typingKey(sig.PageID), redis.Z{
			Score:  float64(lock.ExpiresAt.UnixMilli()),
			Member: sig.BlockID,
		})
		tx.HSet(ctx, r.locksKey(sig.PageID), sig.BlockID, payload)
		if _, err := tx.Exec(ctx); err != nil {
			return err
		}
	} else {
		// Only the holder's stop clears the lock.
		raw, err := r.client.HGet(ctx, r.locksKey(sig.PageID), sig.BlockID).Result()
		if err == nil {
			var lock model.TypingLock
			if json.Unmarshal([]byte(raw), &lock) == nil && lock.SessionID == sig.SessionID {
				tx := r.client.TxPipeline()
				tx.ZRem(ctx, r.typingKey(sig.PageID), sig.BlockID)
				tx.HDel(ctx, r.locksKey(sig.PageID), sig.BlockID)
				if _, err := tx.Exec(ctx); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, redis.Nil) {
			return err
		}
	}

	return r.b.Publish(ctx, bus.TypingEvent(sig))
}

// Online implements Registry.
func (r *RedisRegistry) Online(ctx context.Context, pageID string) ([]model.PresenceEntry, error) {
	now := r.now()

	ids, err := r.client.ZRangeByScore(ctx, r.presenceKey(pageID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	names, err := r.client.HMGet(ctx, r.namesKey(pageID), ids...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]model.PresenceEntry, 0, len(ids))
	for i, id := range ids {
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		out = append(out, model.PresenceEntry{
			PageID:     pageID,
			SessionID:  id,
			UserName:   name,
			LastSeenAt: now,
		})
	}
	return out, nil
}

// Typing implements Registry.
func (r *RedisRegistry) Typing(ctx context.Context, pageID string) ([]model.TypingLock, error) {
	now := r.now()

	blockIDs, err := r.client.ZRangeByScore(ctx, r.typingKey(pageID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(blockIDs) == 0 {
		return nil, nil
	}

	raws, err := r.client.HMGet(ctx, r.locksKey(pageID), blockIDs...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]model.TypingLock, 0, len(blockIDs))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var lock model.TypingLock
		if err := json.Unmarshal([]byte(s), &lock); err != nil {
			continue
		}
		out = append(out, lock)
	}
	return out, nil
}

// Prune implements Registry. Expired members are announced offline before
// removal so other viewers converge without waiting for their local TTL.
func (r *RedisRegistry) Prune(ctx context.Context) error {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)

	var cursor uint64
	pattern := r.prefix + "presence:*"

	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}

		for _, key := range keys {
			if strings.HasPrefix(key, r.prefix+"presence:names:") {
				continue
			}
			pageID := strings.TrimPrefix(key, r.prefix+"presence:")
			if pageID == "" {
				continue
			}

			expired, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
				Min: "-inf",
				Max: now,
			}).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if len(expired) == 0 {
				continue
			}

			names, _ := r.client.HMGet(ctx, r.namesKey(pageID), expired...).Result()

			tx := r.client.TxPipeline()
			tx.ZRemRangeByScore(ctx, key, "-inf", now)
			tx.HDel(ctx, r.namesKey(pageID), expired...)
			if _, err := tx.Exec(ctx); err != nil {
				return err
			}

			for i, sessionID := range expired {
				name := ""
				if i < len(names) && names[i] != nil {
					name, _ = names[i].(string)
				}
				err := r.b.Publish(ctx, bus.PresenceEvent(model.PresenceSignal{
					PageID:    pageID,
					SessionID: sessionID,
					UserName:  name,
					IsOnline:  false,
				}))
				if err != nil {
					r.logger.Warn("failed to announce reaped session offline",
						"page_id", pageID, "session_id", sessionID, "error", err)
				}
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	// Typing locks just lapse; receiving clients run their own decay.
	cursor = 0
	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, r.prefix+"typing:*", 100).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if strings.HasPrefix(key, r.prefix+"typing:locks:") {
				continue
			}
			pageID := strings.TrimPrefix(key, r.prefix+"typing:")
			expired, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
				Min: "-inf",
				Max: now,
			}).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if len(expired) == 0 {
				continue
			}
			tx := r.client.TxPipeline()
			tx.ZRemRangeByScore(ctx, key, "-inf", now)
			tx.HDel(ctx, r.locksKey(pageID), expired...)
			if _, err := tx.Exec(ctx); err != nil {
				return err
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}
