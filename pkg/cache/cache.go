// Package cache keeps a read-through copy of each entity's step list. Every
// mutation that touches an entity's steps or probability invalidates it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DefaultTTL = 5 * time.Minute

	// generations must outlive any read that started before an invalidation
	minGenerationTTL = 24 * time.Hour
)

// StepCache is best-effort: failures are logged and treated as misses.
//
// Readers take the entity's generation before loading from the store and
// hand it back to SetSteps. Invalidate bumps the generation, so a load that
// raced a committed write is never cached.
type StepCache interface {
	GetSteps(ctx context.Context, entityID uuid.UUID) ([]models.Step, bool)
	// Generation reports the entity's current generation. ok is false when
	// the cache cannot tell, and the caller should not write back.
	Generation(ctx context.Context, entityID uuid.UUID) (generation int64, ok bool)
	SetSteps(ctx context.Context, entityID uuid.UUID, generation int64, steps []models.Step)
	Invalidate(ctx context.Context, entityIDs ...uuid.UUID)
}

// Key returns the cache key for an entity's steps. The hash tag keeps it in
// the same cluster slot as GenerationKey.
func Key(entityID uuid.UUID) string {
	return fmt.Sprintf("fern:steps:{%s}", entityID)
}

// GenerationKey returns the counter bumped on every invalidation.
func GenerationKey(entityID uuid.UUID) string {
	return fmt.Sprintf("fern:steps:{%s}:gen", entityID)
}

// setIfCurrent writes KEYS[1] only while KEYS[2] still holds ARGV[1]. A
// missing generation counts as 0.
var setIfCurrent = goredis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type RedisStepCache struct {
	client        *redis.Client
	ttl           time.Duration
	generationTTL time.Duration
	logger        ectologger.Logger
}

func NewRedisStepCache(client *redis.Client, ttl time.Duration, logger ectologger.Logger) *RedisStepCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	generationTTL := minGenerationTTL
	if 2*ttl > generationTTL {
		generationTTL = 2 * ttl
	}
	return &RedisStepCache{client: client, ttl: ttl, generationTTL: generationTTL, logger: logger}
}

func (c *RedisStepCache) GetSteps(ctx context.Context, entityID uuid.UUID) ([]models.Step, bool) {
	ctx, span := tracing.StartSpan(ctx, "StepCache.GetSteps")
	defer span.End()

	data, err := c.client.Get(ctx, Key(entityID))
	if err != nil {
		if !redis.IsNil(err) {
			c.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Warn("step cache read failed")
		}
		metrics.RecordCacheLookup(false)
		return nil, false
	}

	var steps []models.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Warn("dropping undecodable step cache entry")
		c.Invalidate(ctx, entityID)
		metrics.RecordCacheLookup(false)
		return nil, false
	}

	metrics.RecordCacheLookup(true)
	return steps, true
}

func (c *RedisStepCache) Generation(ctx context.Context, entityID uuid.UUID) (int64, bool) {
	generation, err := c.client.Redis().Get(ctx, GenerationKey(entityID)).Int64()
	switch {
	case redis.IsNil(err):
		return 0, true
	case err != nil:
		c.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Warn("step cache generation read failed")
		return 0, false
	}
	return generation, true
}

func (c *RedisStepCache) SetSteps(ctx context.Context, entityID uuid.UUID, generation int64, steps []models.Step) {
	ctx, span := tracing.StartSpan(ctx, "StepCache.SetSteps")
	defer span.End()

	data, err := json.Marshal(steps)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Warn("failed to encode steps for cache")
		return
	}

	keys := []string{Key(entityID), GenerationKey(entityID)}
	written, err := setIfCurrent.Run(ctx, c.client.Redis(), keys, generation, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Warn("step cache write failed")
		return
	}
	if written == 0 {
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_id":  entityID,
			"generation": generation,
		}).Debug("skipping step cache write, entity changed during read")
	}
}

func (c *RedisStepCache) Invalidate(ctx context.Context, entityIDs ...uuid.UUID) {
	if len(entityIDs) == 0 {
		return
	}
	ctx, span := tracing.StartSpan(ctx, "StepCache.Invalidate")
	defer span.End()

	_, err := c.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range entityIDs {
			pipe.Incr(ctx, GenerationKey(id))
			pipe.Expire(ctx, GenerationKey(id), c.generationTTL)
			pipe.Del(ctx, Key(id))
		}
		return nil
	})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("entity_ids", entityIDs).Warn("step cache invalidation failed")
	}
}

// Noop never hits.
type Noop struct{}

func (Noop) GetSteps(context.Context, uuid.UUID) ([]models.Step, bool) { return nil, false }
func (Noop) Generation(context.Context, uuid.UUID) (int64, bool)       { return 0, false }
func (Noop) SetSteps(context.Context, uuid.UUID, int64, []models.Step) {}
func (Noop) Invalidate(context.Context, ...uuid.UUID)                  {}

var (
	_ StepCache = (*RedisStepCache)(nil)
	_ StepCache = Noop{}
)
