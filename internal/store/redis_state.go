package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-decision-engine/internal/position"
)

const (
	// positionKeyPrefix namespaces position state keys.
	// Format: engine:position:{symbol}:{mode}
	positionKeyPrefix = "engine:position"

	// positionStateTTL keeps stale keys from accumulating. Positions close
	// within hours, the TTL is generous.
	positionStateTTL = 7 * 24 * time.Hour
)

// PositionCache stores open position state in Redis so a restart can resume
// managing positions. When Redis is unavailable it falls back to an in-memory
// map, so position management never blocks on the cache.
type PositionCache struct {
	client *redis.Client
	log    zerolog.Logger

	mu       sync.Mutex
	fallback map[string][]byte
}

// NewPositionCache creates a cache over an optional Redis client. A nil client
// runs fully in memory.
func NewPositionCache(client *redis.Client, log zerolog.Logger) *PositionCache {
	return &PositionCache{
		client:   client,
		log:      log,
		fallback: make(map[string][]byte),
	}
}

func positionKey(symbol, mode string) string {
	return fmt.Sprintf("%s:%s:%s", positionKeyPrefix, symbol, mode)
}

// Save persists one position's state. Redis failures degrade to the in-memory
// fallback and are logged, not returned: losing cache durability must not
// abort position management.
func (c *PositionCache) Save(ctx context.Context, p *position.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal position state: %w", err)
	}
	key := positionKey(p.Symbol, p.Mode)

	if c.client != nil {
		err := c.client.Set(ctx, key, data, positionStateTTL).Err()
		if err == nil {
			return nil
		}
		c.log.Warn().Err(err).Str("key", key).Msg("redis save failed, using in-memory fallback")
	}

	c.mu.Lock()
	c.fallback[key] = data
	c.mu.Unlock()
	return nil
}

// Load returns the persisted state for (symbol, mode), or nil when absent.
func (c *PositionCache) Load(ctx context.Context, symbol, mode string) (*position.Position, error) {
	key := positionKey(symbol, mode)

	var data []byte
	if c.client != nil {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			data = raw
		case err == redis.Nil:
			// fall through to the in-memory copy
		default:
			c.log.Warn().Err(err).Str("key", key).Msg("redis load failed, using in-memory fallback")
		}
	}
	if data == nil {
		c.mu.Lock()
		data = c.fallback[key]
		c.mu.Unlock()
	}
	if data == nil {
		return nil, nil
	}

	var p position.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position state %s: %w", key, err)
	}
	return &p, nil
}

// Delete removes the persisted state once a position closes.
func (c *PositionCache) Delete(ctx context.Context, symbol, mode string) {
	key := positionKey(symbol, mode)
	if c.client != nil {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("redis delete failed")
		}
	}
	c.mu.Lock()
	delete(c.fallback, key)
	c.mu.Unlock()
}

// LoadAll returns every persisted position. Used at startup to restore the
// manager's book. The in-memory fallback is merged in for keys Redis lost.
func (c *PositionCache) LoadAll(ctx context.Context) ([]*position.Position, error) {
	seen := make(map[string]bool)
	var out []*position.Position

	if c.client != nil {
		iter := c.client.Scan(ctx, 0, positionKeyPrefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			raw, err := c.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var p position.Position
			if err := json.Unmarshal(raw, &p); err != nil {
				c.log.Warn().Err(err).Str("key", key).Msg("skipping corrupt position state")
				continue
			}
			seen[key] = true
			out = append(out, &p)
		}
		if err := iter.Err(); err != nil {
			c.log.Warn().Err(err).Msg("redis scan failed, restoring from in-memory fallback only")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, raw := range c.fallback {
		if seen[key] {
			continue
		}
		var p position.Position
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}
