// Package render draws challenge images: code and compute captions, slide
// and puzzle backgrounds with the cut-out piece, and pick images with their
// labels.
package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/ernyoke/imger/blur"
	"github.com/ernyoke/imger/grayscale"
	"github.com/ernyoke/imger/padding"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"verifykit/internal/captcha"
	"verifykit/internal/domain"
)

const (
	noiseLines = 6
	holeShade  = 0.45
)

// Renderer draws images with the bundled Go Bold face.
type Renderer struct {
	font   *truetype.Font
	logger *zap.Logger
}

// New parses the bundled font.
func New(logger *zap.Logger) (*Renderer, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{font: f, logger: logger}, nil
}

// faces are not safe for concurrent use, so every call gets its own.
func (r *Renderer) face(size float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{Size: size, Hinting: font.HintingFull})
}

// Caption draws text on a noisy random background. Each glyph gets a colour
// contrasting with the pixels under it.
func (r *Renderer) Caption(rnd *captcha.Rand, text string, width, height int) image.Image {
	dc := gg.NewContext(width, height)
	bg := rnd.Color(180, 250)
	dc.SetRGB255(int(bg.R), int(bg.G), int(bg.B))
	dc.Clear()

	for i := 0; i < noiseLines; i++ {
		c := rnd.Color(60, 200)
		dc.SetRGB255(int(c.R), int(c.G), int(c.B))
		dc.SetLineWidth(rnd.Float(0.5, 1.5))
		dc.DrawLine(rnd.Float(0, float64(width)), rnd.Float(0, float64(height)),
			rnd.Float(0, float64(width)), rnd.Float(0, float64(height)))
		dc.Stroke()
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return dc.Image()
	}
	size := math.Min(float64(height)*0.7, float64(width)/float64(len(runes)))
	dc.SetFontFace(r.face(size))
	step := float64(width) / float64(len(runes)+1)
	for i, ch := range runes {
		x := step * float64(i+1)
		y := float64(height) / 2
		hex := captcha.ContrastColor(rnd, captcha.ImageSampler{Image: dc.Image()},
			[]domain.Point{{X: x, Y: y}, {X: x - size/4, Y: y}, {X: x + size/4, Y: y}}, r.logger)
		dc.Push()
		dc.SetHexColor(hex)
		dc.RotateAbout(gg.Radians(rnd.Float(-25, 25)), x, y)
		dc.DrawStringAnchored(string(ch), x, y, 0.5, 0.35)
		dc.Pop()
	}
	return dc.Image()
}

// Placeholder is the background used when no image source is configured or
// the configured one failed to load.
func (r *Renderer) Placeholder(rnd *captcha.Rand, width, height int) image.Image {
	dc := gg.NewContext(width, height)
	from, to := rnd.Color(90, 200), rnd.Color(90, 200)
	grad := gg.NewLinearGradient(0, 0, float64(width), float64(height))
	grad.AddColorStop(0, color.RGBA{R: from.R, G: from.G, B: from.B, A: 255})
	grad.AddColorStop(1, color.RGBA{R: to.R, G: to.G, B: to.B, A: 255})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	for i := 0; i < 12; i++ {
		c := rnd.Color(40, 240)
		dc.SetRGBA255(int(c.R), int(c.G), int(c.B), 140)
		dc.DrawCircle(rnd.Float(0, float64(width)), rnd.Float(0, float64(height)), rnd.Float(8, float64(height)/3))
		dc.Fill()
	}
	return dc.Image()
}

// Fit scales img to exactly width x height.
func Fit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dc := gg.NewContext(width, height)
	if b.Empty() {
		return dc.Image()
	}
	dc.Scale(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	return dc.Image()
}

// Puzzle cuts the piece described by ch out of bg. The returned background
// shows a blurred, darkened hole where the piece belongs.
func (r *Renderer) Puzzle(bg image.Image, ch domain.PuzzleChallenge, width, height int) (background, piece image.Image, err error) {
	src := Fit(bg, width, height)
	hole := image.Rect(int(ch.TargetX), int(ch.TargetY),
		int(ch.TargetX+ch.PieceWidth), int(ch.TargetY+ch.PieceHeight))
	if !hole.In(src.Bounds()) {
		return nil, nil, fmt.Errorf("piece %v outside image %v", hole, src.Bounds())
	}

	pc := image.NewRGBA(image.Rect(0, 0, hole.Dx(), hole.Dy()))
	draw.Draw(pc, pc.Bounds(), src, hole.Min, draw.Src)

	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)

	blurred, err := blur.GaussianBlurGray(grayscale.Grayscale(pc), 7, 3, padding.BorderConstant)
	if err != nil {
		return nil, nil, fmt.Errorf("blur hole: %w", err)
	}
	draw.Draw(out, hole, blurred, image.Point{}, draw.Src)

	dc := gg.NewContextForRGBA(out)
	dc.SetRGBA(0, 0, 0, holeShade)
	dc.DrawRectangle(float64(hole.Min.X), float64(hole.Min.Y), float64(hole.Dx()), float64(hole.Dy()))
	dc.Fill()
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.SetLineWidth(1)
	dc.DrawRectangle(float64(hole.Min.X)+0.5, float64(hole.Min.Y)+0.5, float64(hole.Dx())-1, float64(hole.Dy())-1)
	dc.Stroke()

	pdc := gg.NewContextForRGBA(pc)
	pdc.SetRGBA(1, 1, 1, 0.9)
	pdc.SetLineWidth(2)
	pdc.DrawRectangle(1, 1, float64(hole.Dx())-2, float64(hole.Dy())-2)
	pdc.Stroke()

	return out, pc, nil
}

// Points draws every target label of ch, decoys included, on bg.
func (r *Renderer) Points(rnd *captcha.Rand, bg image.Image, ch domain.PointsChallenge, width, height int) image.Image {
	dc := gg.NewContextForImage(Fit(bg, width, height))
	size := math.Max(14, float64(height)/7)
	dc.SetFontFace(r.face(size))
	for _, t := range ch.Targets {
		hex := captcha.ContrastColor(rnd, captcha.ImageSampler{Image: dc.Image()}, []domain.Point{t.Point()}, r.logger)
		dc.Push()
		dc.SetHexColor(hex)
		dc.RotateAbout(gg.Radians(rnd.Float(-30, 30)), t.X, t.Y)
		dc.DrawStringAnchored(t.Label, t.X, t.Y, 0.5, 0.35)
		dc.Pop()
	}
	return dc.Image()
}

// DataURL encodes img as a base64 PNG data URL.
func DataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
