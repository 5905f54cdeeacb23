package app

import (
	"context"
	"sync"
	"time"

	"verifykit/internal/captcha"
	"verifykit/internal/domain"
	"verifykit/internal/locale"
)

// Session is a hosted widget instance: the engine session plus the profile
// it was created from.
type Session struct {
	id        string
	profile   domain.Profile
	locale    locale.Locale
	createdAt time.Time
	engine    *captcha.Session

	mu         sync.Mutex
	cancelLoad context.CancelFunc
	loadGen    uint64
	images     renderedImages
}

// renderedImages caches the images of one challenge generation.
type renderedImages struct {
	generation    uint64
	hasBackground bool
	valid         bool
	challenge     domain.Challenge
	image         string
	piece         string
}

// NewSession wraps an engine session. It is exported for infrastructure
// layers that need to seed sessions.
func NewSession(id string, profile domain.Profile, engine *captcha.Session, now time.Time) *Session {
	loc, _ := locale.Parse(profile.Params.Locale)
	return &Session{id: id, profile: profile, locale: loc, createdAt: now, engine: engine}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Profile returns the profile the session was created from.
func (s *Session) Profile() domain.Profile { return s.profile }

// Engine exposes the underlying verification session.
func (s *Session) Engine() *captcha.Session { return s.engine }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// replaceLoad cancels a previous background load and remembers the load for
// generation gen. It reports false when a newer generation is already loading.
func (s *Session) replaceLoad(gen uint64, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.loadGen {
		return false
	}
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	s.cancelLoad, s.loadGen = cancel, gen
	return true
}

// close stops the engine and any running load.
func (s *Session) close() {
	s.mu.Lock()
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.mu.Unlock()
	s.engine.Close()
}
