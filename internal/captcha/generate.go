package captcha

import (
	"fmt"
	"math"

	"verifykit/internal/domain"
)

// GenerateCode draws a picture challenge.
func GenerateCode(r *Rand, length int) domain.CodeChallenge {
	if length < 0 {
		length = 0
	}
	return domain.CodeChallenge{Text: r.Code(length), Length: length}
}

// GenerateArithmetic draws a compute challenge whose operands stay below
// figure. Subtraction is ordered so the result is never negative and
// multiplication keeps operands small enough to answer mentally.
func GenerateArithmetic(r *Rand, kind ArithKind, figure int) domain.ArithmeticChallenge {
	if figure <= 0 {
		figure = DefaultFigure
	}
	if kind == ArithRandom {
		kind = ArithKind(r.Int(int(ArithAdd), int(ArithMul)))
	}

	bound := figure
	if kind == ArithMul && bound > maxMultiplierOperand {
		bound = maxMultiplierOperand
	}
	a := r.Int(0, bound-1)
	b := r.Int(0, bound-1)

	var op domain.Operator
	var expected int
	switch kind {
	case ArithSub:
		if a < b {
			a, b = b, a
		}
		op, expected = domain.OpSub, a-b
	case ArithMul:
		op, expected = domain.OpMul, a*b
	default:
		op, expected = domain.OpAdd, a+b
	}
	return domain.ArithmeticChallenge{
		OperandA:   a,
		OperandB:   b,
		Operator:   op,
		Expected:   expected,
		Expression: fmt.Sprintf("%d %s %d = ?", a, op, b),
	}
}

// GeneratePuzzle places the cut-out with one block width of margin on both
// sides and VOffset of margin above and below.
func GeneratePuzzle(r *Rand, cfg Config) (domain.PuzzleChallenge, error) {
	minX, maxX := cfg.BlockWidth, cfg.Width-2*cfg.BlockWidth
	if maxX < minX {
		return domain.PuzzleChallenge{}, &ConfigError{Field: "width", Reason: fmt.Sprintf("%d leaves no room for a %dpx block with margins", cfg.Width, cfg.BlockWidth)}
	}
	minY, maxY := cfg.VOffset, cfg.Height-cfg.BlockHeight-cfg.VOffset
	if maxY < minY {
		return domain.PuzzleChallenge{}, &ConfigError{Field: "height", Reason: fmt.Sprintf("%d leaves no room for a %dpx block with offset %d", cfg.Height, cfg.BlockHeight, cfg.VOffset)}
	}
	if float64(maxX) > cfg.MaxDistance() {
		return domain.PuzzleChallenge{}, &ConfigError{Field: "barWidth", Reason: fmt.Sprintf("slider travel %.0f cannot reach x=%d", cfg.MaxDistance(), maxX)}
	}
	return domain.PuzzleChallenge{
		TargetX:     float64(r.Int(minX, maxX)),
		TargetY:     float64(r.Int(minY, maxY)),
		PieceWidth:  float64(cfg.BlockWidth),
		PieceHeight: float64(cfg.BlockHeight),
	}, nil
}

// GenerateSlide has no image: the block must be dragged to the end of the bar.
func GenerateSlide(cfg Config) domain.PuzzleChallenge {
	return domain.PuzzleChallenge{
		TargetX:     cfg.MaxDistance(),
		PieceWidth:  float64(cfg.BlockWidth),
		PieceHeight: float64(cfg.BlockHeight),
	}
}

// GeneratePoints places PointCount labelled targets at least Spacing apart
// and inside the image minus Margin. Placement gives up after MaxAttempts
// candidate draws.
func GeneratePoints(r *Rand, cfg Config) (domain.PointsChallenge, error) {
	minX, maxX := cfg.Margin, float64(cfg.Width)-cfg.Margin
	minY, maxY := cfg.Margin, float64(cfg.Height)-cfg.Margin
	if maxX <= minX || maxY <= minY {
		return domain.PointsChallenge{}, &ConfigError{Field: "margin", Reason: fmt.Sprintf("%.0fpx leaves no drawable area in %dx%d", cfg.Margin, cfg.Width, cfg.Height)}
	}

	labels := distinctLabels(r, cfg.PointCount)
	targets := make([]domain.Target, 0, cfg.PointCount)
	for attempt := 0; len(targets) < cfg.PointCount; attempt++ {
		if attempt >= cfg.MaxAttempts {
			return domain.PointsChallenge{}, &ConfigError{
				Field:  "pointCount",
				Reason: fmt.Sprintf("placed %d of %d targets %.0fpx apart in %dx%d", len(targets), cfg.PointCount, cfg.Spacing, cfg.Width, cfg.Height),
				Err:    domain.ErrPlacementExhausted,
			}
		}
		candidate := domain.Point{X: math.Round(r.Float(minX, maxX)), Y: math.Round(r.Float(minY, maxY))}
		if !farFromAll(candidate, targets, cfg.Spacing) {
			continue
		}
		targets = append(targets, domain.Target{X: candidate.X, Y: candidate.Y, Label: labels[len(targets)]})
	}
	return domain.PointsChallenge{Targets: targets, Required: cfg.CheckNum}, nil
}

func farFromAll(p domain.Point, targets []domain.Target, spacing float64) bool {
	for _, t := range targets {
		if Distance(p, t.Point()) < spacing {
			return false
		}
	}
	return true
}

// distinctLabels draws n different characters so the click order is unambiguous.
func distinctLabels(r *Rand, n int) []string {
	pool := []byte(CodeChars)
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		j := r.Int(i, len(pool)-1)
		pool[i], pool[j] = pool[j], pool[i]
		labels[i] = string(pool[i])
	}
	return labels
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b domain.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
