package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

const cacheKeyPrefix = "calinsight:directory:"

// Cached stores lookups of next in Redis so repeated sync runs and the
// dashboard share results. Redis failures fall through to next.
type Cached struct {
	next   Directory
	client redis.UniversalClient
	ttl    time.Duration
	logger logging.Logger
}

// NewCached wraps next with a Redis cache.
func NewCached(next Directory, client redis.UniversalClient, ttl time.Duration, logger logging.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

// Resolve implements Directory.
func (c *Cached) Resolve(ctx context.Context, email string) (OrgInfo, error) {
	key := cacheKeyPrefix + NormalizeEmail(email)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var info OrgInfo
		if jerr := json.Unmarshal(raw, &info); jerr == nil {
			return info, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Debug("directory cache read failed", logging.Err(err))
	}

	info, err := c.next.Resolve(ctx, email)
	if err != nil {
		return info, err
	}
	if data, jerr := json.Marshal(info); jerr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Debug("directory cache write failed", logging.Err(serr))
		}
	}
	return info, nil
}

// Invalidate drops the cached entry for email.
func (c *Cached) Invalidate(ctx context.Context, email string) error {
	return c.client.Del(ctx, cacheKeyPrefix+NormalizeEmail(email)).Err()
}
