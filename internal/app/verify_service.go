package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifykit/internal/captcha"
	"verifykit/internal/domain"
	"verifykit/internal/render"
)

// SessionRepository abstracts where hosted sessions live (in-memory, Redis, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(id string) (*Session, bool)
	Delete(id string)
}

// ProfileRepository loads widget profiles (from cache/backing store).
type ProfileRepository interface {
	GetProfile(ctx context.Context, profileID string) (domain.Profile, error)
}

// OutcomeRecorder persists completed attempts.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error
}

// Recorders fans a record out to several recorders.
type Recorders []OutcomeRecorder

func (rs Recorders) RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	var errs []error
	for _, r := range rs {
		if err := r.RecordOutcome(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Option customises a VerifyService.
type Option func(*VerifyService)

// WithRecorder records every completed attempt.
func WithRecorder(r OutcomeRecorder) Option {
	return func(s *VerifyService) { s.recorder = r }
}

// WithLogger attaches a logger, also handed to every engine session.
func WithLogger(l *zap.Logger) Option {
	return func(s *VerifyService) { s.logger = l }
}

// WithImageLoader sets the loader used for profile background images.
func WithImageLoader(l captcha.ImageLoader) Option {
	return func(s *VerifyService) { s.loader = l }
}

// WithRenderer enables image rendering in views.
func WithRenderer(r *render.Renderer) Option {
	return func(s *VerifyService) { s.renderer = r }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *VerifyService) { s.now = now }
}

// WithIDs replaces uuid generation of session ids.
func WithIDs(next func() string) Option {
	return func(s *VerifyService) { s.newID = next }
}

// WithSessionOptions passes extra options to every engine session.
func WithSessionOptions(opts ...captcha.Option) Option {
	return func(s *VerifyService) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// WithCooldown overrides the error cool-down of every session.
func WithCooldown(d time.Duration) Option {
	return func(s *VerifyService) { s.cooldown = d }
}

// VerifyService contains the widget host use cases.
type VerifyService struct {
	sessions    SessionRepository
	profiles    ProfileRepository
	recorder    OutcomeRecorder
	loader      captcha.ImageLoader
	renderer    *render.Renderer
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
	cooldown    time.Duration
	sessionOpts []captcha.Option

	loads      sync.WaitGroup
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewVerifyService(sessions SessionRepository, profiles ProfileRepository, opts ...Option) *VerifyService {
	s := &VerifyService{
		sessions: sessions,
		profiles: profiles,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loader == nil {
		s.loader = captcha.NewHTTPImageLoader(0)
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	return s
}

// Create starts a session for a profile and returns its first view.
func (s *VerifyService) Create(ctx context.Context, profileID string) (View, error) {
	profile, err := s.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return View{}, err
	}

	cfg := captcha.ConfigFromProfile(profile)
	cfg.Cooldown = s.cooldown
	opts := append([]captcha.Option{captcha.WithLogger(s.logger), captcha.WithClock(s.now)}, s.sessionOpts...)
	engine, err := captcha.NewSession(cfg, opts...)
	if err != nil {
		return View{}, fmt.Errorf("create %s session: %w", profile.Mode, err)
	}

	session := NewSession(s.newID(), profile, engine, s.now())
	s.sessions.Put(session)
	s.logger.Debug("session created",
		zap.String("session", session.id), zap.String("profile", profile.ID), zap.String("mode", string(profile.Mode)))

	if s.loadsBackground(session) {
		s.startLoad(session, engine.BeginLoad())
	}
	return s.buildView(session)
}

// View returns the current view of a session.
func (s *VerifyService) View(_ context.Context, sessionID string) (View, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return View{}, err
	}
	return s.buildView(session)
}

// Refresh replaces the challenge and reloads the background image.
func (s *VerifyService) Refresh(_ context.Context, sessionID string) (View, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return View{}, err
	}
	if !s.loadsBackground(session) {
		if err := session.engine.Refresh(); err != nil {
			return View{}, err
		}
		return s.buildView(session)
	}
	gen, err := session.engine.RefreshLoading()
	if err != nil {
		return View{}, err
	}
	s.startLoad(session, gen)
	return s.buildView(session)
}

// SetRect records the on-screen rectangle of a pick image.
func (s *VerifyService) SetRect(_ context.Context, sessionID string, rect captcha.Rect) error {
	session, err := s.get(sessionID)
	if err != nil {
		return err
	}
	session.engine.SetRect(rect)
	return nil
}

// Press starts a slider drag.
func (s *VerifyService) Press(_ context.Context, sessionID string, x float64) (bool, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return false, err
	}
	return session.engine.Press(x)
}

// Move updates a slider drag and returns the clamped distance.
func (s *VerifyService) Move(_ context.Context, sessionID string, x float64) (float64, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return 0, err
	}
	return session.engine.Move(x)
}

// Release ends a drag. done is false when no comparison happened.
func (s *VerifyService) Release(ctx context.Context, sessionID string) (outcome domain.Outcome, done bool, err error) {
	session, err := s.get(sessionID)
	if err != nil {
		return domain.Outcome{}, false, err
	}
	gen := session.engine.Generation()
	outcome, done, err = session.engine.Release()
	if err == nil && done {
		s.record(ctx, session, gen, outcome)
	}
	return outcome, done, err
}

// Click adds a pick click. done is true once the sequence is complete.
func (s *VerifyService) Click(ctx context.Context, sessionID string, clientX, clientY float64) (outcome domain.Outcome, done bool, err error) {
	session, err := s.get(sessionID)
	if err != nil {
		return domain.Outcome{}, false, err
	}
	gen := session.engine.Generation()
	outcome, done, err = session.engine.Click(clientX, clientY)
	if err == nil && done {
		s.record(ctx, session, gen, outcome)
	}
	return outcome, done, err
}

// Verify compares typed input for picture and compute sessions.
func (s *VerifyService) Verify(ctx context.Context, sessionID, input string) (domain.Outcome, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return domain.Outcome{}, err
	}
	gen := session.engine.Generation()
	resolved := session.engine.Status() == domain.StatusSuccess
	outcome, err := session.engine.Verify(input)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !resolved {
		s.record(ctx, session, gen, outcome)
	}
	return outcome, nil
}

// Subscribe returns a channel that receives session events.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *VerifyService) Subscribe(_ context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	session, err := s.get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.engine.Subscribe()
	return ch, cancel, nil
}

// Close ends a session and drops it from the repository.
func (s *VerifyService) Close(_ context.Context, sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.close()
	s.sessions.Delete(sessionID)
}

// Expirer is implemented by repositories that can list stale sessions.
type Expirer interface {
	Expired(cutoff time.Time) []string
}

// Expire closes sessions older than maxAge and returns how many were closed.
// Repositories that cannot list sessions are left alone.
func (s *VerifyService) Expire(ctx context.Context, maxAge time.Duration) int {
	exp, ok := s.sessions.(Expirer)
	if !ok || maxAge <= 0 {
		return 0
	}
	ids := exp.Expired(s.now().Add(-maxAge))
	for _, id := range ids {
		s.Close(ctx, id)
	}
	if len(ids) > 0 {
		s.logger.Debug("expired sessions", zap.Int("count", len(ids)))
	}
	return len(ids)
}

// Shutdown cancels background loads and waits for them to return.
func (s *VerifyService) Shutdown() {
	s.cancelBase()
	s.loads.Wait()
}

func (s *VerifyService) get(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// loadsBackground reports whether the profile's challenges draw on a loaded
// background image.
func (s *VerifyService) loadsBackground(session *Session) bool {
	if session.profile.Params.ImageURL == "" {
		return false
	}
	m := session.profile.Mode
	return m == domain.ModePuzzle || m == domain.ModePick
}

// startLoad loads the profile background for challenge generation gen.
func (s *VerifyService) startLoad(session *Session, gen uint64) {
	src := session.profile.Params.ImageURL
	ctx, cancel := context.WithCancel(s.baseCtx)
	if !session.replaceLoad(gen, cancel) {
		cancel()
		return
	}

	s.loads.Add(1)
	go func() {
		defer s.loads.Done()
		defer cancel()
		if err := session.engine.LoadBackground(ctx, gen, s.loader, src); err != nil {
			s.logger.Warn("background load failed",
				zap.String("session", session.id), zap.String("src", src), zap.Error(err))
		}
	}()
}

func (s *VerifyService) record(ctx context.Context, session *Session, gen uint64, outcome domain.Outcome) {
	if s.recorder == nil {
		return
	}
	rec := domain.OutcomeRecord{
		SessionID:  session.id,
		ProfileID:  session.profile.ID,
		Mode:       session.profile.Mode,
		Generation: gen,
		Success:    outcome.Success,
		Duration:   outcome.Duration,
		RecordedAt: s.now(),
	}
	if err := s.recorder.RecordOutcome(ctx, rec); err != nil {
		s.logger.Warn("record outcome failed", zap.String("session", session.id), zap.Error(err))
	}
}
