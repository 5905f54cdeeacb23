package app

import (
	"fmt"
	"image"

	"verifykit/internal/captcha"
	"verifykit/internal/domain"
	"verifykit/internal/locale"
	"verifykit/internal/render"
)

// View is what a presentation layer needs to draw the widget. It never
// contains the answer in plain form.
type View struct {
	SessionID   string        `json:"sessionId"`
	ProfileID   string        `json:"profileId"`
	Mode        domain.Mode   `json:"mode"`
	Generation  uint64        `json:"generation"`
	Status      domain.Status `json:"status"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	BarWidth    int           `json:"barWidth,omitempty"`
	BlockWidth  int           `json:"blockWidth,omitempty"`
	BlockHeight int           `json:"blockHeight,omitempty"`
	PieceY      float64       `json:"pieceY,omitempty"`
	Required    int           `json:"required,omitempty"`
	Loaded      bool          `json:"loaded"`
	Texts       locale.Text   `json:"texts"`
	Image       string        `json:"image,omitempty"`
	Piece       string        `json:"piece,omitempty"`
}

func (s *VerifyService) buildView(sess *Session) (View, error) {
	cfg := sess.engine.Config()
	snap := sess.engine.Snapshot()

	v := View{
		SessionID:  sess.id,
		ProfileID:  sess.profile.ID,
		Mode:       cfg.Mode,
		Generation: snap.Generation,
		Status:     snap.Status,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Loaded:     snap.Loaded,
		Texts:      locale.Messages(sess.locale, cfg.Mode, sess.profile.Params.Texts),
	}
	switch c := snap.Challenge.(type) {
	case domain.PuzzleChallenge:
		v.BarWidth, v.BlockWidth, v.BlockHeight = cfg.BarWidth, cfg.BlockWidth, cfg.BlockHeight
		if cfg.Mode == domain.ModePuzzle {
			v.PieceY = c.TargetY
		}
	case domain.PointsChallenge:
		v.Required = c.Required
		v.Texts["explain"] = locale.PickExplain(sess.locale, c.Labels(), sess.profile.Params.Texts)
	}

	if s.renderer == nil {
		return v, nil
	}
	imgs, err := s.images(sess, snap)
	if err != nil {
		return View{}, err
	}
	v.Image, v.Piece = imgs.image, imgs.piece
	return v, nil
}

// images renders the snapshot's challenge once per generation and background.
func (s *VerifyService) images(sess *Session, snap captcha.Snapshot) (renderedImages, error) {
	hasBackground := snap.Background != nil
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.images.valid && sess.images.generation == snap.Generation && sess.images.hasBackground == hasBackground {
		return sess.images, nil
	}
	if sess.images.valid && sess.images.generation > snap.Generation {
		// A newer generation is cached; render without replacing it.
		return s.render(sess.engine, snap)
	}

	out, err := s.render(sess.engine, snap)
	if err != nil {
		return renderedImages{}, err
	}
	sess.images = out
	return out, nil
}

func (s *VerifyService) render(eng *captcha.Session, snap captcha.Snapshot) (renderedImages, error) {
	cfg := eng.Config()
	out := renderedImages{
		generation:    snap.Generation,
		hasBackground: snap.Background != nil,
		valid:         true,
		challenge:     snap.Challenge,
	}
	var err error
	switch c := snap.Challenge.(type) {
	case domain.CodeChallenge:
		out.image, err = render.DataURL(s.renderer.Caption(eng.Rand(), c.Text, cfg.Width, cfg.Height))
	case domain.ArithmeticChallenge:
		out.image, err = render.DataURL(s.renderer.Caption(eng.Rand(), c.Expression, cfg.Width, cfg.Height))
	case domain.PuzzleChallenge:
		if cfg.Mode != domain.ModePuzzle {
			break
		}
		var bg, piece image.Image
		bg, piece, err = s.renderer.Puzzle(s.background(eng, snap), c, cfg.Width, cfg.Height)
		if err == nil {
			if out.image, err = render.DataURL(bg); err == nil {
				out.piece, err = render.DataURL(piece)
			}
		}
	case domain.PointsChallenge:
		out.image, err = render.DataURL(s.renderer.Points(eng.Rand(), s.background(eng, snap), c, cfg.Width, cfg.Height))
	}
	if err != nil {
		return renderedImages{}, fmt.Errorf("render %s challenge: %w", cfg.Mode, err)
	}
	return out, nil
}

func (s *VerifyService) background(eng *captcha.Session, snap captcha.Snapshot) image.Image {
	if snap.Loaded && snap.Background != nil {
		return snap.Background
	}
	cfg := eng.Config()
	return s.renderer.Placeholder(eng.Rand(), cfg.Width, cfg.Height)
}
