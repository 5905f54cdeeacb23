package app_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"verifykit/internal/app"
	"verifykit/internal/captcha"
	"verifykit/internal/domain"
	"verifykit/internal/infra/memory"
	"verifykit/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCreateUnknownProfile(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Create(context.Background(), "missing")
	if !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected profile error, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	if _, err := service.Verify(ctx, "nope", "x"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session error, got %v", err)
	}
	if _, _, err := service.Release(ctx, "nope"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session error, got %v", err)
	}
	if _, _, err := service.Subscribe(ctx, "nope"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session error, got %v", err)
	}
}

func TestSlideFlowRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	service, log := newTestService(t)

	view, err := service.Create(ctx, "slide")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Mode != domain.ModeSlide || view.Status != domain.StatusIdle {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Texts["explain"] != "Slide to verify" {
		t.Fatalf("expected english texts, got %v", view.Texts)
	}
	if view.Image != "" {
		t.Fatalf("slide sessions have no image")
	}

	if _, err := service.Verify(ctx, view.SessionID, "1"); !errors.Is(err, domain.ErrWrongMode) {
		t.Fatalf("expected wrong mode, got %v", err)
	}

	pressed, err := service.Press(ctx, view.SessionID, 10)
	if err != nil || !pressed {
		t.Fatalf("press: %v %v", pressed, err)
	}
	dist, err := service.Move(ctx, view.SessionID, 10+float64(view.BarWidth-view.BlockWidth))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if dist != float64(view.BarWidth-view.BlockWidth) {
		t.Fatalf("expected full distance, got %v", dist)
	}
	out, done, err := service.Release(ctx, view.SessionID)
	if err != nil || !done {
		t.Fatalf("release: %v %v", done, err)
	}
	if !out.Success {
		t.Fatalf("expected success")
	}

	records := log.Records()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].SessionID != view.SessionID || records[0].ProfileID != "slide" || !records[0].Success {
		t.Fatalf("unexpected record %+v", records[0])
	}

	if _, done, _ := service.Release(ctx, view.SessionID); done {
		t.Fatalf("second release must not compare")
	}
	if len(log.Records()) != 1 {
		t.Fatalf("second release must not record")
	}
}

func TestPictureVerifyAndRefresh(t *testing.T) {
	ctx := context.Background()
	service, log := newTestService(t)

	view, err := service.Create(ctx, "picture")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(view.Image, "data:image/png;base64,") {
		t.Fatalf("expected rendered code image")
	}
	if view.Texts["placeholder"] != "请输入验证码" {
		t.Fatalf("expected default zh-CN texts, got %v", view.Texts)
	}

	out, err := service.Verify(ctx, view.SessionID, "definitely wrong")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Success {
		t.Fatalf("expected failure")
	}

	current, err := service.View(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if current.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", current.Status)
	}
	if current.Image != view.Image {
		t.Fatalf("image must be stable within a generation")
	}

	refreshed, err := service.Refresh(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Generation != view.Generation+1 || refreshed.Status != domain.StatusIdle {
		t.Fatalf("unexpected refreshed view %+v", refreshed)
	}
	if len(log.Records()) != 1 {
		t.Fatalf("expected one record, got %d", len(log.Records()))
	}
}

func TestComputeSuccessRecordsOnce(t *testing.T) {
	ctx := context.Background()
	service, log := newTestService(t)
	sessions := service.Sessions()

	view, err := service.Create(ctx, "compute")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess, ok := sessions.Get(view.SessionID)
	if !ok {
		t.Fatalf("session not stored")
	}
	ch := sess.Engine().Challenge().(domain.ArithmeticChallenge)
	answer := strconv.Itoa(ch.Expected)

	for i := 0; i < 2; i++ {
		out, err := service.Verify(ctx, view.SessionID, " "+answer+" ")
		if err != nil || !out.Success {
			t.Fatalf("verify %d: %+v %v", i, out, err)
		}
	}
	if len(log.Records()) != 1 {
		t.Fatalf("comparisons after success must not record, got %d", len(log.Records()))
	}
}

func TestPickFlowAndExplain(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	view, err := service.Create(ctx, "pick")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess, _ := service.Sessions().Get(view.SessionID)
	ch := sess.Engine().Challenge().(domain.PointsChallenge)
	if view.Required != ch.Required {
		t.Fatalf("expected required %d, got %d", ch.Required, view.Required)
	}
	if want := "Click in order: " + strings.Join(ch.Labels(), ", "); view.Texts["explain"] != want {
		t.Fatalf("expected explain %q, got %q", want, view.Texts["explain"])
	}

	if err := service.SetRect(ctx, view.SessionID, captcha.Rect{Left: 100, Top: 50, Width: float64(view.Width), Height: float64(view.Height)}); err != nil {
		t.Fatalf("set rect: %v", err)
	}
	var (
		out  domain.Outcome
		done bool
	)
	for _, tgt := range ch.Sequence() {
		out, done, err = service.Click(ctx, view.SessionID, tgt.X+100, tgt.Y+50)
		if err != nil {
			t.Fatalf("click: %v", err)
		}
	}
	if !done || !out.Success {
		t.Fatalf("expected completed success, got done=%v %+v", done, out)
	}
}

func TestPuzzleLoadsBackground(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{img: filled(620, 310, color.RGBA{R: 80, G: 120, B: 160, A: 255}), gate: make(chan struct{})}
	service, _ := newTestService(t, app.WithImageLoader(loader))

	view, err := service.Create(ctx, "puzzle")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	events, cancel, err := service.Subscribe(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	close(loader.gate)

	waitFor(t, events, func(ev domain.Event) bool { return ev.Type == domain.EventReady && ev.Loaded })
	if loader.calls() != 1 {
		t.Fatalf("expected one load, got %d", loader.calls())
	}

	loadedView, err := service.View(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if loadedView.Piece == "" || loadedView.Image == "" || loadedView.PieceY == 0 {
		t.Fatalf("expected puzzle images, got %+v", loadedView)
	}
}

func TestFailedBackgroundLoadEmitsError(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{err: errors.New("unreachable"), gate: make(chan struct{})}
	service, _ := newTestService(t, app.WithImageLoader(loader))

	view, err := service.Create(ctx, "puzzle")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	events, cancel, err := service.Subscribe(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	close(loader.gate)

	ev := waitFor(t, events, func(ev domain.Event) bool { return ev.Type == domain.EventError })
	if ev.Code != "image_load" {
		t.Fatalf("expected image_load error, got %+v", ev)
	}

	// the placeholder still renders
	v, err := service.View(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.Loaded || v.Image == "" {
		t.Fatalf("expected fallback image with loaded=false, got %+v", v)
	}
}

func TestRefreshSupersedesPendingLoad(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{img: filled(620, 310, color.RGBA{R: 40, G: 90, B: 30, A: 255}), gate: make(chan struct{})}
	service, _ := newTestService(t, app.WithImageLoader(loader))

	view, err := service.Create(ctx, "puzzle")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Status != domain.StatusLoading {
		t.Fatalf("expected loading view, got %s", view.Status)
	}
	events, cancel, err := service.Subscribe(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := service.Refresh(ctx, view.SessionID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	last, err := service.Refresh(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	close(loader.gate)

	var seen []domain.Event
	waitFor(t, events, func(ev domain.Event) bool {
		seen = append(seen, ev)
		return ev.Type == domain.EventReady && ev.Generation == last.Generation
	})
	for _, ev := range seen {
		if ev.Type == domain.EventError {
			t.Fatalf("superseded load published an error: %+v", ev)
		}
		if ev.Type == domain.EventReady && (ev.Generation != last.Generation || !ev.Loaded) {
			t.Fatalf("unexpected ready %+v", ev)
		}
	}

	v, err := service.View(ctx, view.SessionID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.Status != domain.StatusIdle || !v.Loaded || v.Generation != last.Generation {
		t.Fatalf("unexpected view after load %+v", v)
	}
}

func TestCloseAndExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	service, _ := newTestService(t, app.WithClock(clock))

	first, _ := service.Create(ctx, "slide")
	second, _ := service.Create(ctx, "slide")
	events, _, err := service.Subscribe(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-events // status snapshot

	service.Close(ctx, first.SessionID)
	if _, ok := <-events; ok {
		t.Fatalf("expected subscription closed")
	}
	if _, err := service.View(ctx, first.SessionID); err != domain.ErrSessionNotFound {
		t.Fatalf("expected closed session gone, got %v", err)
	}

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()
	if n := service.Expire(ctx, 5*time.Minute); n != 1 {
		t.Fatalf("expected one expired session, got %d", n)
	}
	if _, err := service.View(ctx, second.SessionID); err != domain.ErrSessionNotFound {
		t.Fatalf("expected expired session gone, got %v", err)
	}
}

func TestRecordersJoinErrors(t *testing.T) {
	boom := errors.New("boom")
	log := memory.NewOutcomeLog()
	err := app.Recorders{log, failingRecorder{boom}}.RecordOutcome(context.Background(), domain.OutcomeRecord{SessionID: "s"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(log.Records()) != 1 {
		t.Fatalf("healthy recorders must still record")
	}
}

type testService struct {
	*app.VerifyService
	store *memory.SessionStore
}

func (s testService) Sessions() *memory.SessionStore { return s.store }

func newTestService(t *testing.T, opts ...app.Option) (testService, *memory.OutcomeLog) {
	t.Helper()
	renderer, err := render.New(nil)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	profiles := memory.NewProfileRepository(memory.NewStaticProfileLoader([]domain.Profile{
		{ID: "slide", Mode: domain.ModeSlide, Params: domain.ProfileParams{Locale: "en-US"}},
		{ID: "picture", Mode: domain.ModePicture},
		{ID: "compute", Mode: domain.ModeCompute},
		{ID: "pick", Mode: domain.ModePick, Params: domain.ProfileParams{Locale: "en-US"}},
		{ID: "puzzle", Mode: domain.ModePuzzle, Params: domain.ProfileParams{ImageURL: "https://example.test/bg.png"}},
	}), time.Minute)
	store := memory.NewSessionStore()
	log := memory.NewOutcomeLog()

	counter := 0
	base := []app.Option{
		app.WithRecorder(log),
		app.WithRenderer(renderer),
		app.WithImageLoader(&stubLoader{err: errors.New("no network in tests")}),
		app.WithIDs(func() string { counter++; return "session-" + strconv.Itoa(counter) }),
	}
	service := app.NewVerifyService(store, profiles, append(base, opts...)...)
	t.Cleanup(func() {
		for _, id := range store.Expired(time.Now().Add(time.Hour)) {
			service.Close(context.Background(), id)
		}
		service.Shutdown()
	})
	return testService{VerifyService: service, store: store}, log
}

type stubLoader struct {
	img  image.Image
	err  error
	gate chan struct{}

	mu sync.Mutex
	n  int
}

func (l *stubLoader) Load(ctx context.Context, _ string) (image.Image, error) {
	l.mu.Lock()
	l.n++
	l.mu.Unlock()
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.img, ctx.Err()
}

func (l *stubLoader) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

func filled(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

type failingRecorder struct{ err error }

func (r failingRecorder) RecordOutcome(context.Context, domain.OutcomeRecord) error { return r.err }

func waitFor(t *testing.T, events <-chan domain.Event, match func(domain.Event) bool) domain.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed before match")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event")
		}
	}
}
