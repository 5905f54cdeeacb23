package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"verifykit/internal/domain"
	"verifykit/internal/infra/memory"
)

// ProfileRepository caches profiles in Redis as JSON and falls back to a loader on cache miss.
// Profiles are stored as: SET verify:profile:{profileID} {json} EX ttl
type ProfileRepository struct {
	client *redis.Client
	loader memory.ProfileLoader
	ttl    time.Duration
	logger *zap.Logger
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewProfileRepository(client *redis.Client, loader memory.ProfileLoader, ttl time.Duration, logger *zap.Logger) *ProfileRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ProfileRepository) GetProfile(ctx context.Context, profileID string) (domain.Profile, error) {
	key := r.key(profileID)
	if p, ok := r.cached(ctx, key); ok {
		return p, nil
	}

	result, err, _ := r.sf.Do(profileID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if p, ok := r.cached(ctx, key); ok {
			return p, nil
		}

		profile, err := r.loader.LoadProfile(ctx, profileID)
		if err != nil {
			return domain.Profile{}, err
		}

		raw, err := json.Marshal(profile)
		if err != nil {
			return domain.Profile{}, err
		}
		if err := r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err(); err != nil {
			r.logger.Warn("cache profile failed", zap.String("profile", profileID), zap.Error(err))
		}
		return profile, nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return result.(domain.Profile), nil
}

// Invalidate removes a cached profile.
func (r *ProfileRepository) Invalidate(ctx context.Context, profileID string) error {
	return r.client.Del(ctx, r.key(profileID)).Err()
}

func (r *ProfileRepository) cached(ctx context.Context, key string) (domain.Profile, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("read cached profile failed", zap.String("key", key), zap.Error(err))
		}
		return domain.Profile{}, false
	}
	var p domain.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		r.logger.Warn("corrupt cached profile", zap.String("key", key), zap.Error(err))
		return domain.Profile{}, false
	}
	return p, true
}

func (r *ProfileRepository) key(profileID string) string {
	return "verify:profile:" + profileID
}

func (r *ProfileRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
