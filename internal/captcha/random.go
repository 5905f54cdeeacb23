// Package captcha implements the verification engine: challenge generation,
// interaction tracking, tolerance comparison and the status lifecycle shared
// by the picture, compute, slide, puzzle and pick widgets.
package captcha

import (
	"math/rand"
	"sync"
	"time"

	"verifykit/internal/domain"
)

// CodeChars is the alphabet picture codes are drawn from.
const CodeChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Rand is a goroutine-safe source for every random draw the engine makes.
type Rand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand seeds a Rand from the clock.
func NewRand() *Rand {
	return NewRandWithSeed(time.Now().UnixNano())
}

// NewRandWithSeed is deterministic for a given seed.
func NewRandWithSeed(seed int64) *Rand {
	return &Rand{rnd: rand.New(rand.NewSource(seed))}
}

// Int returns an integer in [min, max], both inclusive.
func (r *Rand) Int(min, max int) int {
	if min > max {
		min, max = max, min
	}
	if min == max {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + r.rnd.Intn(max-min+1)
}

// Float returns a float in [min, max).
func (r *Rand) Float(min, max float64) float64 {
	if min > max {
		min, max = max, min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + r.rnd.Float64()*(max-min)
}

// Code returns length characters drawn independently from CodeChars.
func (r *Rand) Code(length int) string {
	if length <= 0 {
		return ""
	}
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = CodeChars[r.Int(0, len(CodeChars)-1)]
	}
	return string(buf)
}

// Color returns a colour with every channel drawn from [min, max].
func (r *Rand) Color(min, max int) domain.RGB {
	min, max = clampChannel(min), clampChannel(max)
	return domain.RGB{
		R: uint8(r.Int(min, max)),
		G: uint8(r.Int(min, max)),
		B: uint8(r.Int(min, max)),
	}
}

// Pick returns a uniformly chosen element of items. items must not be empty.
func Pick[T any](r *Rand, items []T) T {
	return items[r.Int(0, len(items)-1)]
}

func clampChannel(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
