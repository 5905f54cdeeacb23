package captcha

import (
	"fmt"

	"verifykit/internal/domain"
)

type inputKind int

const (
	inputText inputKind = iota
	inputDrag
	inputClick
)

// attempt is the user input handed to a comparator.
type attempt struct {
	text     string
	distance float64
	clicks   []domain.Point
}

// engine is the generator/comparator pair of one mode.
type engine struct {
	input    inputKind
	generate func(r *Rand, cfg Config) (domain.Challenge, error)
	compare  func(ch domain.Challenge, in attempt, cfg Config) (bool, any)
}

// modeFor is the only place modes are switched on.
func modeFor(m domain.Mode) (engine, error) {
	switch m {
	case domain.ModePicture:
		return engine{
			input: inputText,
			generate: func(r *Rand, cfg Config) (domain.Challenge, error) {
				return GenerateCode(r, cfg.CodeLength), nil
			},
			compare: func(ch domain.Challenge, in attempt, _ Config) (bool, any) {
				return CompareCode(in.text, ch.(domain.CodeChallenge).Text), in.text
			},
		}, nil
	case domain.ModeCompute:
		return engine{
			input: inputText,
			generate: func(r *Rand, cfg Config) (domain.Challenge, error) {
				return GenerateArithmetic(r, cfg.Arith, cfg.Figure), nil
			},
			compare: func(ch domain.Challenge, in attempt, _ Config) (bool, any) {
				return CompareArithmetic(in.text, ch.(domain.ArithmeticChallenge).Expected), in.text
			},
		}, nil
	case domain.ModeSlide:
		return engine{
			input: inputDrag,
			generate: func(_ *Rand, cfg Config) (domain.Challenge, error) {
				return GenerateSlide(cfg), nil
			},
			compare: compareDrag,
		}, nil
	case domain.ModePuzzle:
		return engine{
			input: inputDrag,
			generate: func(r *Rand, cfg Config) (domain.Challenge, error) {
				return GeneratePuzzle(r, cfg)
			},
			compare: compareDrag,
		}, nil
	case domain.ModePick:
		return engine{
			input: inputClick,
			generate: func(r *Rand, cfg Config) (domain.Challenge, error) {
				return GeneratePoints(r, cfg)
			},
			compare: func(ch domain.Challenge, in attempt, cfg Config) (bool, any) {
				seq := ch.(domain.PointsChallenge).Sequence()
				targets := make([]domain.Point, len(seq))
				for i, t := range seq {
					targets[i] = t.Point()
				}
				return ComparePoints(targets, in.clicks, cfg.Tolerance, cfg.Metric), in.clicks
			},
		}, nil
	}
	return engine{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedMode, m)
}

func compareDrag(ch domain.Challenge, in attempt, cfg Config) (bool, any) {
	return CompareSlide(in.distance, ch.(domain.PuzzleChallenge).TargetX, cfg.Tolerance), in.distance
}

// Generate draws a challenge for cfg.Mode without creating a session.
func Generate(cfg Config, r *Rand) (domain.Challenge, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	eng, err := modeFor(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = NewRand()
	}
	return eng.generate(r, cfg)
}
