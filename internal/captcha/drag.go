package captcha

import "verifykit/internal/domain"

// DragTracker accumulates slider movement into a distance. It is not safe
// for concurrent use; Session serialises access.
type DragTracker struct {
	maxDistance float64
	rec         domain.DragRecord
}

// NewDragTracker bounds the distance to [0, maxDistance].
func NewDragTracker(maxDistance float64) *DragTracker {
	if maxDistance < 0 {
		maxDistance = 0
	}
	return &DragTracker{maxDistance: maxDistance, rec: domain.DragRecord{Phase: domain.DragIdle}}
}

// Press starts a drag at x. It is ignored unless the tracker is idle.
func (d *DragTracker) Press(x float64) bool {
	if d.rec.Phase != domain.DragIdle {
		return false
	}
	d.rec = domain.DragRecord{StartX: x, CurrentX: x, Phase: domain.DragDragging}
	return true
}

// Move updates the distance while dragging and returns it.
func (d *DragTracker) Move(x float64) float64 {
	if d.rec.Phase != domain.DragDragging {
		return d.rec.Distance
	}
	d.rec.CurrentX = x
	d.rec.Distance = clamp(x-d.rec.StartX, 0, d.maxDistance)
	return d.rec.Distance
}

// Release ends the drag. The second return is true only for the release that
// ended an active drag, so comparison runs exactly once per drag.
func (d *DragTracker) Release() (float64, bool) {
	if d.rec.Phase != domain.DragDragging {
		return d.rec.Distance, false
	}
	d.rec.Phase = domain.DragReleased
	return d.rec.Distance, true
}

// Record returns a copy of the current state.
func (d *DragTracker) Record() domain.DragRecord {
	return d.rec
}

// Reset returns the tracker to idle.
func (d *DragTracker) Reset() {
	d.rec = domain.DragRecord{Phase: domain.DragIdle}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
