package captcha

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"verifykit/internal/domain"
)

// Timer is the part of *time.Timer the session needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// Option customises a Session.
type Option func(*Session)

// WithRand fixes the random source, mostly for tests.
func WithRand(r *Rand) Option {
	return func(s *Session) { s.rnd = r }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock replaces time.Now for duration measurement.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithAfterFunc replaces time.AfterFunc for the error cool-down.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Session) { s.afterFunc = f }
}

// Session is one widget instance: exactly one live challenge, one live
// interaction record and one status. All methods are safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	cfg       Config
	eng       engine
	rnd       *Rand
	logger    *zap.Logger
	now       func() time.Time
	afterFunc AfterFunc

	generation uint64
	challenge  domain.Challenge
	issuedAt   time.Time
	drag       *DragTracker
	clicks     *ClickTracker
	life       *Lifecycle
	cooldown   Timer
	attempts   uint64
	background image.Image
	loaded     bool
	closed     bool

	subscribers map[chan domain.Event]struct{}
}

// NewSession validates cfg and generates the first challenge.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	eng, err := modeFor(cfg.Mode)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:         cfg,
		eng:         eng,
		now:         time.Now,
		afterFunc:   func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		life:        NewLifecycle(),
		drag:        NewDragTracker(cfg.MaxDistance()),
		clicks:      NewClickTracker(float64(cfg.Width), float64(cfg.Height), cfg.CheckNum),
		subscribers: make(map[chan domain.Event]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = NewRand()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.regenerateLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Mode returns the session mode.
func (s *Session) Mode() domain.Mode {
	return s.cfg.Mode
}

// Config returns the normalised configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Rand returns the session's random source.
func (s *Session) Rand() *Rand {
	return s.rnd
}

// Challenge returns a copy of the live challenge.
func (s *Session) Challenge() domain.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyChallenge(s.challenge)
}

// Generation increments on every refresh.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Status returns the lifecycle state.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life.Status()
}

// DragRecord returns the slider interaction state.
func (s *Session) DragRecord() domain.DragRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drag.Record()
}

// ClickRecord returns the pick interaction state.
func (s *Session) ClickRecord() domain.ClickRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks.Record()
}

// Background returns the loaded background image, if any, and whether the
// last load succeeded.
func (s *Session) Background() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.background, s.loaded
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	Challenge  domain.Challenge
	Generation uint64
	Status     domain.Status
	Background image.Image
	Loaded     bool
}

// Snapshot reads the challenge, generation, status and background under one
// lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Challenge:  copyChallenge(s.challenge),
		Generation: s.generation,
		Status:     s.life.Status(),
		Background: s.background,
		Loaded:     s.loaded,
	}
}

// Refresh discards the challenge and interaction, generates a new challenge
// and returns to idle. On a generation error the old state is kept.
func (s *Session) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.regenerateLocked(); err != nil {
		return err
	}
	s.publishLocked(domain.Event{Type: domain.EventStatus, Status: domain.StatusIdle})
	s.publishLocked(domain.Event{Type: domain.EventReady, Loaded: s.loaded})
	return nil
}

// RefreshLoading is Refresh for challenges whose background is loaded next:
// the session goes straight to loading and ready is left to the load. It
// returns the generation to pass to LoadBackground.
func (s *Session) RefreshLoading() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.regenerateLocked(); err != nil {
		return 0, err
	}
	s.beginLoadLocked()
	return s.generation, nil
}

// BeginLoad abandons any attempt, moves to loading and returns the generation
// the load belongs to.
func (s *Session) BeginLoad() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginLoadLocked()
	return s.generation
}

func (s *Session) beginLoadLocked() {
	s.stopCooldownLocked()
	s.drag.Reset()
	s.clicks.Reset(s.cfg.CheckNum)
	s.life.Load()
	s.publishLocked(domain.Event{Type: domain.EventStatus, Status: domain.StatusLoading})
}

func (s *Session) regenerateLocked() error {
	ch, err := s.eng.generate(s.rnd, s.cfg)
	if err != nil {
		return err
	}
	s.stopCooldownLocked()
	s.generation++
	s.challenge = ch
	s.issuedAt = s.now()
	s.drag.Reset()
	s.clicks.Reset(s.cfg.CheckNum)
	s.life.Reset()
	s.background = nil
	s.loaded = true
	return nil
}

// SetRect updates the on-page rectangle of the pick image.
func (s *Session) SetRect(r Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks.SetRect(r)
}

// Press starts a slider drag at x. It reports false when the press was
// ignored because an attempt is already resolved or loading.
func (s *Session) Press(x float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng.input != inputDrag {
		return false, domain.ErrWrongMode
	}
	if s.life.Status() != domain.StatusIdle || !s.drag.Press(x) {
		return false, nil
	}
	s.beginLocked()
	return true, nil
}

// Move updates the drag and returns the clamped distance.
func (s *Session) Move(x float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng.input != inputDrag {
		return 0, domain.ErrWrongMode
	}
	return s.drag.Move(x), nil
}

// Release ends the drag and compares the distance with the target. ok is
// false when no drag was active, in which case no comparison ran.
func (s *Session) Release() (domain.Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng.input != inputDrag {
		return domain.Outcome{}, false, domain.ErrWrongMode
	}
	distance, ok := s.drag.Release()
	if !ok {
		return domain.Outcome{}, false, nil
	}
	return s.compareLocked(attempt{distance: distance}), true, nil
}

// Click records a pick click in client coordinates. ok is true once the
// required number of clicks has been collected and the comparison ran.
func (s *Session) Click(clientX, clientY float64) (domain.Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng.input != inputClick {
		return domain.Outcome{}, false, domain.ErrWrongMode
	}
	if !s.life.Accepting() {
		return domain.Outcome{}, false, nil
	}
	accepted, complete := s.clicks.Click(clientX, clientY)
	if accepted && s.life.Status() == domain.StatusIdle {
		s.beginLocked()
	}
	if !complete {
		return domain.Outcome{}, false, nil
	}
	return s.compareLocked(attempt{clicks: s.clicks.Points()}), true, nil
}

// Verify compares typed input for the picture and compute modes. A
// verification during the error cool-down starts a fresh attempt on the same
// challenge; after success the input is compared without changing state.
func (s *Session) Verify(input string) (domain.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng.input != inputText {
		return domain.Outcome{}, domain.ErrWrongMode
	}
	in := attempt{text: input}
	switch s.life.Status() {
	case domain.StatusSuccess:
		ok, detail := s.eng.compare(s.challenge, in, s.cfg)
		return s.outcomeLocked(ok, detail), nil
	case domain.StatusError:
		s.stopCooldownLocked()
		_ = s.life.Recover()
	}
	if s.life.Status() == domain.StatusIdle {
		s.beginLocked()
	}
	return s.compareLocked(in), nil
}

// LoadBackground loads src and attaches it to challenge generation gen. A
// load for an older generation, or one whose ctx was cancelled, is discarded:
// it never touches the newer challenge. Callers wanting asynchronous loading
// take gen from BeginLoad or RefreshLoading and run this in a goroutine.
func (s *Session) LoadBackground(ctx context.Context, gen uint64, loader ImageLoader, src string) error {
	s.mu.Lock()
	if s.staleLocked(ctx, gen) {
		s.mu.Unlock()
		s.logger.Debug("skipping stale image load", zap.String("src", src), zap.Uint64("generation", gen))
		return nil
	}
	if s.life.Status() != domain.StatusLoading {
		s.beginLoadLocked()
	}
	s.mu.Unlock()

	img, err := loader.Load(ctx, src)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(ctx, gen) {
		s.logger.Debug("discarding stale image load",
			zap.String("src", src), zap.Uint64("generation", gen), zap.Uint64("current", s.generation))
		return nil
	}
	_ = s.life.Loaded()
	s.publishLocked(domain.Event{Type: domain.EventStatus, Status: domain.StatusIdle})
	if err != nil {
		if !errors.Is(err, domain.ErrImageLoad) {
			err = errors.Join(domain.ErrImageLoad, err)
		}
		s.loaded = false
		s.logger.Warn("background image load failed", zap.String("src", src), zap.Error(err))
		s.publishLocked(domain.Event{Type: domain.EventReady, Loaded: false})
		s.publishLocked(domain.Event{Type: domain.EventError, Message: err.Error(), Code: "image_load"})
		return err
	}
	s.background = img
	s.loaded = true
	s.publishLocked(domain.Event{Type: domain.EventReady, Loaded: true})
	return nil
}

func (s *Session) staleLocked(ctx context.Context, gen uint64) bool {
	return gen != s.generation || s.closed || ctx.Err() != nil
}

// Subscribe returns a channel of session events, starting with the current
// status. The caller must invoke cancel to release it.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	s.mu.Lock()
	ch <- s.stampLocked(domain.Event{Type: domain.EventStatus, Status: s.life.Status()})
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close stops timers and closes every subscription.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopCooldownLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Session) beginLocked() {
	if err := s.life.Begin(); err == nil {
		s.publishLocked(domain.Event{Type: domain.EventStatus, Status: domain.StatusVerifying})
	}
}

func (s *Session) compareLocked(in attempt) domain.Outcome {
	ok, detail := s.eng.compare(s.challenge, in, s.cfg)
	out := s.outcomeLocked(ok, detail)
	if err := s.life.Finish(ok); err != nil {
		s.logger.Debug("comparison outside an attempt", zap.Error(err))
		return out
	}
	s.attempts++
	s.publishLocked(domain.Event{Type: domain.EventStatus, Status: s.life.Status()})
	if ok {
		s.publishLocked(domain.Event{Type: domain.EventSuccess, Duration: out.Duration, Value: detail})
		return out
	}
	s.publishLocked(domain.Event{Type: domain.EventError, Message: "verification failed", Code: "mismatch", Duration: out.Duration})
	s.scheduleCooldownLocked()
	return out
}

func (s *Session) outcomeLocked(ok bool, detail any) domain.Outcome {
	return domain.Outcome{Success: ok, Duration: s.now().Sub(s.issuedAt), Detail: detail}
}

func (s *Session) scheduleCooldownLocked() {
	gen, seq := s.generation, s.attempts
	s.cooldown = s.afterFunc(s.cfg.Cooldown, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.generation != gen || s.attempts != seq {
			return
		}
		if err := s.life.Recover(); err != nil {
			return
		}
		s.cooldown = nil
		s.drag.Reset()
		s.clicks.Reset(s.cfg.CheckNum)
		s.publishLocked(domain.Event{Type: domain.EventStatus, Status: domain.StatusIdle})
	})
}

func (s *Session) stopCooldownLocked() {
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
}

func (s *Session) stampLocked(ev domain.Event) domain.Event {
	ev.Mode = s.cfg.Mode
	ev.Generation = s.generation
	return ev
}

// publishLocked never blocks: a full subscriber loses its oldest event.
func (s *Session) publishLocked(ev domain.Event) {
	ev = s.stampLocked(ev)
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func copyChallenge(ch domain.Challenge) domain.Challenge {
	if pc, ok := ch.(domain.PointsChallenge); ok {
		pc.Targets = append([]domain.Target(nil), pc.Targets...)
		return pc
	}
	return ch
}
