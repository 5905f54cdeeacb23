package captcha

import (
	"fmt"
	"strings"
	"time"

	"verifykit/internal/domain"
)

// Defaults mirror the stock widget sizes.
const (
	DefaultImageWidth    = 310
	DefaultImageHeight   = 155
	DefaultBlockWidth    = 50
	DefaultBlockHeight   = 50
	DefaultBarWidth      = 310
	DefaultVOffset       = 5
	DefaultTolerance     = 5
	DefaultCodeLength    = 4
	DefaultFigure        = 100
	DefaultPointCount    = 4
	DefaultCheckNum      = 3
	DefaultPointSpacing  = 40
	DefaultPointMargin   = 20
	DefaultMaxAttempts   = 1000
	DefaultCooldown      = 500 * time.Millisecond
	DefaultImageTimeout  = 2 * time.Second
	DefaultPictureWidth  = 116
	DefaultComputeWidth  = 320
	DefaultCodeHeight    = 34
	maxMultiplierOperand = 10
)

// ArithKind selects the operator of compute challenges.
type ArithKind int

const (
	ArithRandom ArithKind = iota
	ArithAdd
	ArithSub
	ArithMul
)

// Metric selects how a click is measured against its target.
type Metric int

const (
	MetricEuclidean Metric = iota
	MetricPerAxis
)

var metricNames = map[string]Metric{
	"":          MetricEuclidean,
	"euclidean": MetricEuclidean,
	"per-axis":  MetricPerAxis,
}

// ParseMetric maps a profile metric name to a Metric.
func ParseMetric(name string) (Metric, error) {
	m, ok := metricNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, &ConfigError{Field: "metric", Reason: fmt.Sprintf("unknown metric %q", name)}
	}
	return m, nil
}

// Config parameterises generation and comparison for one session. Zero
// values are replaced by the defaults in Normalize.
type Config struct {
	Mode        domain.Mode
	Width       int
	Height      int
	BlockWidth  int
	BlockHeight int
	BarWidth    int
	VOffset     int
	Tolerance   float64
	CodeLength  int
	Arith       ArithKind
	Figure      int
	PointCount  int
	CheckNum    int
	Spacing     float64
	Margin      float64
	MaxAttempts int
	Metric      Metric
	Cooldown    time.Duration
}

// ConfigError reports a configuration that cannot produce a challenge.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConfigFromProfile maps a stored profile onto an engine config. An unknown
// metric name yields a config that Normalize rejects.
func ConfigFromProfile(p domain.Profile) Config {
	metric, err := ParseMetric(p.Params.Metric)
	if err != nil {
		metric = -1
	}
	return Config{
		Mode:        p.Mode,
		Width:       p.Params.Width,
		Height:      p.Params.Height,
		BlockWidth:  p.Params.BlockWidth,
		BlockHeight: p.Params.BlockHeight,
		BarWidth:    p.Params.BarWidth,
		VOffset:     p.Params.VOffset,
		Tolerance:   p.Params.Tolerance,
		CodeLength:  p.Params.CodeLength,
		Arith:       ArithKind(p.Params.Arith),
		Figure:      p.Params.Figure,
		PointCount:  p.Params.PointCount,
		CheckNum:    p.Params.CheckNum,
		Spacing:     p.Params.Spacing,
		Margin:      p.Params.Margin,
		MaxAttempts: p.Params.MaxAttempts,
		Metric:      metric,
	}
}

// Normalize fills defaults and validates the result.
func (c Config) Normalize() (Config, error) {
	if !c.Mode.Valid() {
		return c, fmt.Errorf("%w: %q", domain.ErrUnsupportedMode, c.Mode)
	}
	if c.Width <= 0 {
		switch c.Mode {
		case domain.ModePicture:
			c.Width = DefaultPictureWidth
		case domain.ModeCompute:
			c.Width = DefaultComputeWidth
		default:
			c.Width = DefaultImageWidth
		}
	}
	if c.Height <= 0 {
		switch c.Mode {
		case domain.ModePicture, domain.ModeCompute:
			c.Height = DefaultCodeHeight
		default:
			c.Height = DefaultImageHeight
		}
	}
	if c.BlockWidth <= 0 {
		c.BlockWidth = DefaultBlockWidth
	}
	if c.BlockHeight <= 0 {
		c.BlockHeight = DefaultBlockHeight
	}
	if c.BarWidth <= 0 {
		c.BarWidth = c.Width
		if c.Mode == domain.ModePicture || c.Mode == domain.ModeCompute {
			c.BarWidth = DefaultBarWidth
		}
	}
	if c.VOffset <= 0 {
		c.VOffset = DefaultVOffset
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.Figure <= 0 {
		c.Figure = DefaultFigure
	}
	if c.CheckNum <= 0 {
		c.CheckNum = DefaultCheckNum
	}
	if c.PointCount <= 0 {
		c.PointCount = DefaultPointCount
	}
	if c.PointCount < c.CheckNum {
		c.PointCount = c.CheckNum
	}
	if c.Spacing <= 0 {
		c.Spacing = DefaultPointSpacing
	}
	if c.Margin <= 0 {
		c.Margin = DefaultPointMargin
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Arith < ArithRandom || c.Arith > ArithMul {
		return c, &ConfigError{Field: "arith", Reason: fmt.Sprintf("unknown kind %d", c.Arith)}
	}
	if c.Metric < MetricEuclidean || c.Metric > MetricPerAxis {
		return c, &ConfigError{Field: "metric", Reason: fmt.Sprintf("unknown metric %d", c.Metric)}
	}
	if c.PointCount > len(CodeChars) {
		return c, &ConfigError{Field: "pointCount", Reason: fmt.Sprintf("at most %d labels available", len(CodeChars))}
	}
	if (c.Mode == domain.ModeSlide || c.Mode == domain.ModePuzzle) && c.BarWidth < c.BlockWidth {
		return c, &ConfigError{Field: "barWidth", Reason: "narrower than the block"}
	}
	return c, nil
}

// MaxDistance is how far the slider block can travel.
func (c Config) MaxDistance() float64 {
	return float64(c.BarWidth - c.BlockWidth)
}
