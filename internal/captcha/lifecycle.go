package captcha

import (
	"fmt"

	"verifykit/internal/domain"
)

// Lifecycle is the status machine shared by all modes:
//
//	idle -> verifying -> success | error
//	error -> idle        (after the cool-down)
//	any   -> idle        (refresh)
//	any   -> loading -> idle
//
// success is terminal until Reset.
type Lifecycle struct {
	status domain.Status
}

// NewLifecycle starts idle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{status: domain.StatusIdle}
}

// Status returns the current state.
func (l *Lifecycle) Status() domain.Status {
	return l.status
}

// Begin marks the first input of an attempt.
func (l *Lifecycle) Begin() error {
	return l.move(domain.StatusVerifying, domain.StatusIdle)
}

// Finish records the comparison result.
func (l *Lifecycle) Finish(success bool) error {
	to := domain.StatusError
	if success {
		to = domain.StatusSuccess
	}
	return l.move(to, domain.StatusVerifying)
}

// Recover ends the error cool-down.
func (l *Lifecycle) Recover() error {
	return l.move(domain.StatusIdle, domain.StatusError)
}

// Load marks an in-flight background load. Any prior attempt is abandoned.
func (l *Lifecycle) Load() {
	l.status = domain.StatusLoading
}

// Loaded ends a background load.
func (l *Lifecycle) Loaded() error {
	return l.move(domain.StatusIdle, domain.StatusLoading)
}

// Reset returns to idle from any state.
func (l *Lifecycle) Reset() {
	l.status = domain.StatusIdle
}

// Accepting reports whether new input may start or continue an attempt.
func (l *Lifecycle) Accepting() bool {
	return l.status == domain.StatusIdle || l.status == domain.StatusVerifying
}

func (l *Lifecycle) move(to domain.Status, from ...domain.Status) error {
	for _, f := range from {
		if l.status == f {
			l.status = to
			return nil
		}
	}
	return fmt.Errorf("status %s cannot move to %s", l.status, to)
}
