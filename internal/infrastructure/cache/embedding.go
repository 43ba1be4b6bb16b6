// Package cache memoizes embedding vectors in Redis so repeated questions
// and re-ingestions do not pay for the same embedding twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

// CachedEmbedder decorates an EmbeddingProvider with a Redis read-through
// cache. Cache failures are logged and bypassed, never returned.
type CachedEmbedder struct {
	repository.EmbeddingProvider
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedEmbedder(inner repository.EmbeddingProvider, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		EmbeddingProvider: inner,
		rdb:               rdb,
		ttl:               ttl,
		logger:            logger.Named("embedding-cache"),
	}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s:%s", c.Name(), c.Model(), hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch serves hits from Redis and sends only the misses to the
// provider, keeping input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("cache read failed, embedding without cache", zap.Error(err))
		cached = nil
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if cached != nil {
			if raw, ok := cached[i].(string); ok {
				if v, err := decodeVector([]byte(raw)); err == nil && len(v) == c.Dimensions() {
					out[i] = v
					continue
				}
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	c.logger.Debug("embedding cache lookup", zap.Int("hits", len(texts)-len(missIdx)), zap.Int("misses", len(missIdx)))
	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := c.EmbeddingProvider.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], encodeVector(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("corrupt cached vector")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
