package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"verifykit/internal/domain"
)

// ProfileLoader fetches widget profiles from a backing store (e.g., Postgres, SQLite).
type ProfileLoader interface {
	LoadProfile(ctx context.Context, profileID string) (domain.Profile, error)
}

// ProfileRepository caches profiles with TTL to avoid repeated DB hits.
type ProfileRepository struct {
	loader ProfileLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedProfile
}

type cachedProfile struct {
	profile   domain.Profile
	expiresAt time.Time
}

func NewProfileRepository(loader ProfileLoader, ttl time.Duration) *ProfileRepository {
	return &ProfileRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedProfile),
	}
}

func (r *ProfileRepository) GetProfile(ctx context.Context, profileID string) (domain.Profile, error) {
	if p, ok := r.cached(profileID); ok {
		return p, nil
	}

	result, err, _ := r.sf.Do(profileID, func() (interface{}, error) {
		if p, ok := r.cached(profileID); ok {
			return p, nil
		}

		profile, err := r.loader.LoadProfile(ctx, profileID)
		if err != nil {
			return domain.Profile{}, err
		}

		r.mu.Lock()
		r.cache[profileID] = cachedProfile{
			profile:   profile,
			expiresAt: r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return profile, nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return result.(domain.Profile), nil
}

// Invalidate drops a cached profile so the next read hits the loader.
func (r *ProfileRepository) Invalidate(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, profileID)
}

func (r *ProfileRepository) cached(profileID string) (domain.Profile, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[profileID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.Profile{}, false
	}
	return entry.profile, true
}

func (r *ProfileRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticProfileLoader is a simple loader backed by an in-memory map (config profiles, tests, demos).
type StaticProfileLoader struct {
	profiles map[string]domain.Profile
}

func NewStaticProfileLoader(profiles []domain.Profile) *StaticProfileLoader {
	m := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	return &StaticProfileLoader{profiles: m}
}

func (l *StaticProfileLoader) LoadProfile(_ context.Context, profileID string) (domain.Profile, error) {
	if p, ok := l.profiles[profileID]; ok {
		return p, nil
	}
	return domain.Profile{}, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, profileID)
}

// ChainLoader tries loaders in order and returns the first profile found.
type ChainLoader []ProfileLoader

func (c ChainLoader) LoadProfile(ctx context.Context, profileID string) (domain.Profile, error) {
	for _, l := range c {
		p, err := l.LoadProfile(ctx, profileID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrProfileNotFound) {
			return domain.Profile{}, err
		}
	}
	return domain.Profile{}, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, profileID)
}
