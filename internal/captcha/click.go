package captcha

import "verifykit/internal/domain"

// Rect is the on-page bounding rectangle of the image element.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClickTracker collects image-relative clicks until Required is reached.
type ClickTracker struct {
	naturalWidth  float64
	naturalHeight float64
	rect          Rect
	rec           domain.ClickRecord
	done          bool
}

// NewClickTracker tracks clicks on an image of the given natural size. Until
// SetRect is called the element is assumed to sit at the origin unscaled.
func NewClickTracker(width, height float64, required int) *ClickTracker {
	return &ClickTracker{
		naturalWidth:  width,
		naturalHeight: height,
		rect:          Rect{Width: width, Height: height},
		rec:           domain.ClickRecord{Required: required},
	}
}

// SetRect updates the element rectangle used to convert client coordinates.
func (c *ClickTracker) SetRect(r Rect) {
	if r.Width <= 0 || r.Height <= 0 {
		r.Width, r.Height = c.naturalWidth, c.naturalHeight
	}
	c.rect = r
}

// ToImage converts client coordinates to natural image coordinates. ok is
// false when the click landed outside the element.
func (c *ClickTracker) ToImage(clientX, clientY float64) (domain.Point, bool) {
	x, y := clientX-c.rect.Left, clientY-c.rect.Top
	if x < 0 || y < 0 || x > c.rect.Width || y > c.rect.Height {
		return domain.Point{}, false
	}
	return domain.Point{
		X: x * c.naturalWidth / c.rect.Width,
		Y: y * c.naturalHeight / c.rect.Height,
	}, true
}

// Click records a click. accepted reports whether it was appended; complete
// is true exactly once, on the click that reaches Required. Clicks after
// completion are ignored until Reset.
func (c *ClickTracker) Click(clientX, clientY float64) (accepted, complete bool) {
	if c.done {
		return false, false
	}
	p, ok := c.ToImage(clientX, clientY)
	if !ok {
		return false, false
	}
	c.rec.Points = append(c.rec.Points, p)
	if len(c.rec.Points) >= c.rec.Required {
		c.done = true
		return true, true
	}
	return true, false
}

// Points returns a copy of the recorded clicks.
func (c *ClickTracker) Points() []domain.Point {
	return append([]domain.Point(nil), c.rec.Points...)
}

// Record returns a copy of the current state.
func (c *ClickTracker) Record() domain.ClickRecord {
	return domain.ClickRecord{Points: c.Points(), Required: c.rec.Required}
}

// Reset clears the clicks, optionally with a new required count.
func (c *ClickTracker) Reset(required int) {
	c.rec = domain.ClickRecord{Required: required}
	c.done = false
}
