package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"verifykit/internal/app"
)

// SessionStore is a Redis-aware implementation of SessionRepository.
// Notes:
//   - Sessions stay in a local map; their engine state, timers and
//     subscriptions cannot leave the process.
//   - Redis holds a liveness marker per session (mode and profile) so other
//     instances and operators can see which sessions are open.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Put(session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = session
	// best-effort liveness marker
	p := session.Profile()
	_ = s.client.HSet(context.Background(), s.key(session.ID()), "profile", p.ID, "mode", string(p.Mode)).Err()
	if s.ttl > 0 {
		_ = s.client.Expire(context.Background(), s.key(session.ID()), s.ttl).Err()
	}
}

func (s *SessionStore) Get(id string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	_ = s.client.Del(context.Background(), s.key(id)).Err()
}

// Expired returns the ids of local sessions created before cutoff.
func (s *SessionStore) Expired(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, session := range s.sessions {
		if session.CreatedAt().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *SessionStore) key(id string) string {
	return "verify:session:" + id
}
