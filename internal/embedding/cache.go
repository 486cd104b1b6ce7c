package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/core"
	"invoice-agent/internal/logging"
)

// CachedEmbedder memoises another embedder in Redis. A nil client passes every
// call through; cache failures are logged and never fail the call.
type CachedEmbedder struct {
	inner core.Embedder
	rdb   *redis.Client
	model string
	ttl   time.Duration
	log   *logrus.Entry
}

// NewCachedEmbedder wraps inner. model scopes the keys so a model change never
// serves stale vectors.
func NewCachedEmbedder(inner core.Embedder, rdb *redis.Client, model string, ttl time.Duration, log *logrus.Entry) *CachedEmbedder {
	if log == nil {
		log = logging.Discard()
	}
	return &CachedEmbedder{inner: inner, rdb: rdb, model: model, ttl: ttl, log: log}
}

// CacheKey returns the Redis key for text under model.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.rdb == nil {
		return c.inner.Embed(ctx, text)
	}

	key := CacheKey(c.model, text)
	val, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal(val, &vec); jerr == nil && len(vec) > 0 {
			return vec, nil
		}
		c.log.WithField("key", key).Warn("discarding unreadable cached embedding")
	case !errors.Is(err, redis.Nil):
		logging.LogError(c.log, "CachedEmbedder.Embed", "read embedding cache", key, err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if raw, jerr := json.Marshal(vec); jerr == nil {
		if serr := c.rdb.Set(ctx, key, raw, c.ttl).Err(); serr != nil {
			logging.LogError(c.log, "CachedEmbedder.Embed", "write embedding cache", key, serr)
		}
	}
	return vec, nil
}
