package captcha

import (
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"verifykit/internal/domain"
)

// DarkPalette is used on light backgrounds.
var DarkPalette = []string{"#000000", "#1a1a1a", "#2d2d2d", "#0C2340", "#003D79"}

// LightPalette is used on dark backgrounds.
var LightPalette = []string{"#FFFFFF", "#F0F0F0", "#E8E8E8", "#FAFAFA"}

// fallbackLuminance is assumed when no sample could be read.
const fallbackLuminance = 0.5

// Sampler reads one background pixel.
type Sampler interface {
	Sample(x, y int) (domain.RGB, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(x, y int) (domain.RGB, error)

func (f SamplerFunc) Sample(x, y int) (domain.RGB, error) { return f(x, y) }

// ImageSampler samples an image.Image and rejects positions outside it.
type ImageSampler struct {
	Image image.Image
}

func (s ImageSampler) Sample(x, y int) (domain.RGB, error) {
	if s.Image == nil {
		return domain.RGB{}, fmt.Errorf("sample (%d,%d): no image", x, y)
	}
	if !image.Pt(x, y).In(s.Image.Bounds()) {
		return domain.RGB{}, fmt.Errorf("sample (%d,%d): outside %v", x, y, s.Image.Bounds())
	}
	r, g, b, _ := s.Image.At(x, y).RGBA()
	return domain.RGB{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}, nil
}

// RelativeLuminance is the WCAG 2.0 relative luminance of c, in [0, 1].
func RelativeLuminance(c domain.RGB) float64 {
	return 0.2126*linearize(c.R) + 0.7152*linearize(c.G) + 0.0722*linearize(c.B)
}

func linearize(v uint8) float64 {
	s := float64(v) / 255
	if s <= 0.03928 {
		return s / 12.92
	}
	return math.Pow((s+0.055)/1.055, 2.4)
}

// ContrastColor picks a foreground colour legible on the sampled background.
// Samples that fail are logged and skipped; with no valid sample the
// background is assumed to be of neutral luminance, which selects a dark colour.
func ContrastColor(r *Rand, sampler Sampler, positions []domain.Point, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	total, valid := 0.0, 0
	for _, pos := range positions {
		x, y := int(pos.X), int(pos.Y)
		c, err := sampleSafely(sampler, x, y)
		if err != nil {
			logger.Warn("failed to sample pixel", zap.Int("x", x), zap.Int("y", y), zap.Error(err))
			continue
		}
		total += RelativeLuminance(c)
		valid++
	}

	avg := fallbackLuminance
	if valid > 0 {
		avg = total / float64(valid)
	}
	if avg > 0.5 || valid == 0 {
		return Pick(r, DarkPalette)
	}
	return Pick(r, LightPalette)
}

// sampleSafely turns a panicking sampler into a failed sample.
func sampleSafely(sampler Sampler, x, y int) (c domain.RGB, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sample (%d,%d): %v", x, y, rec)
		}
	}()
	return sampler.Sample(x, y)
}

// Hex formats c as #RRGGBB.
func Hex(c domain.RGB) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}
