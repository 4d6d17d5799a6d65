package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/lessongate/lessongate/internal/gate"
	"github.com/redis/go-redis/v9"
)

const DefaultRequirementsTTL = 30 * time.Second

// RequirementsSource produces a learner's requirements snapshot for a lesson.
type RequirementsSource interface {
	Requirements(ctx context.Context, lessonID, learnerID string) (gate.Requirements, error)
}

// RedisClient is the subset of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedRequirements is a cache-aside layer over a RequirementsSource. Redis
// failures degrade to the source; they never fail a request.
type CachedRequirements struct {
	source RequirementsSource
	redis  RedisClient
	ttl    time.Duration
}

func NewCachedRequirements(source RequirementsSource, client RedisClient, ttl time.Duration) *CachedRequirements {
	if ttl <= 0 {
		ttl = DefaultRequirementsTTL
	}
	return &CachedRequirements{source: source, redis: client, ttl: ttl}
}

func requirementsKey(lessonID, learnerID string) string {
	return "lessongate:requirements:" + lessonID + ":" + learnerID
}

func (c *CachedRequirements) Requirements(ctx context.Context, lessonID, learnerID string) (gate.Requirements, error) {
	key := requirementsKey(lessonID, learnerID)

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var req gate.Requirements
		if jsonErr := json.Unmarshal(raw, &req); jsonErr == nil {
			return req, nil
		}
		slog.Warn("lesson: discarding unreadable cached requirements", "lesson_id", lessonID)
	case !errors.Is(err, redis.Nil):
		slog.Warn("lesson: requirements cache read failed", "lesson_id", lessonID, "error", err)
	}

	req, err := c.source.Requirements(ctx, lessonID, learnerID)
	if err != nil {
		return gate.Requirements{}, err
	}

	payload, err := json.Marshal(req)
	if err == nil {
		err = c.redis.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		slog.Warn("lesson: requirements cache write failed", "lesson_id", lessonID, "error", err)
	}
	return req, nil
}

// Invalidate drops the cached snapshot so the next read sees fresh state.
func (c *CachedRequirements) Invalidate(ctx context.Context, lessonID, learnerID string) {
	if err := c.redis.Del(ctx, requirementsKey(lessonID, learnerID)).Err(); err != nil {
		slog.Warn("lesson: requirements cache invalidate failed", "lesson_id", lessonID, "error", err)
	}
}
