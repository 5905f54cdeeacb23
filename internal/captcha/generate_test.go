package captcha

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifykit/internal/domain"
)

func normalized(t *testing.T, cfg Config) Config {
	t.Helper()
	cfg, err := cfg.Normalize()
	require.NoError(t, err)
	return cfg
}

func TestGenerateCode_DefaultLength(t *testing.T) {
	ch, err := Generate(Config{Mode: domain.ModePicture}, NewRandWithSeed(1))
	require.NoError(t, err)
	code := ch.(domain.CodeChallenge)
	assert.Len(t, code.Text, DefaultCodeLength)
	assert.Equal(t, DefaultCodeLength, code.Length)
}

var expressionPattern = regexp.MustCompile(`^\d+ [+\-×] \d+ = \?$`)

func TestGenerateArithmetic_Operators(t *testing.T) {
	r := NewRandWithSeed(2)
	tests := []struct {
		kind ArithKind
		op   domain.Operator
	}{
		{ArithAdd, domain.OpAdd},
		{ArithSub, domain.OpSub},
		{ArithMul, domain.OpMul},
	}
	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			ch := GenerateArithmetic(r, tt.kind, 50)
			require.Equal(t, tt.op, ch.Operator)
			require.Regexp(t, expressionPattern, ch.Expression)
			require.True(t, strings.Contains(ch.Expression, string(tt.op)))
		}
	}
}

func TestGenerateArithmetic_Expected(t *testing.T) {
	r := NewRandWithSeed(3)
	for i := 0; i < 300; i++ {
		ch := GenerateArithmetic(r, ArithRandom, 100)
		switch ch.Operator {
		case domain.OpAdd:
			require.Equal(t, ch.OperandA+ch.OperandB, ch.Expected)
		case domain.OpSub:
			require.Equal(t, ch.OperandA-ch.OperandB, ch.Expected)
		case domain.OpMul:
			require.Equal(t, ch.OperandA*ch.OperandB, ch.Expected)
		default:
			t.Fatalf("unexpected operator %q", ch.Operator)
		}
	}
}

func TestGenerateArithmetic_SubtractionNeverNegative(t *testing.T) {
	r := NewRandWithSeed(4)
	for i := 0; i < 1000; i++ {
		ch := GenerateArithmetic(r, ArithSub, 100)
		require.GreaterOrEqual(t, ch.Expected, 0, "%s", ch.Expression)
	}
}

func TestGenerateArithmetic_FigureBoundsOperands(t *testing.T) {
	r := NewRandWithSeed(5)
	for i := 0; i < 500; i++ {
		ch := GenerateArithmetic(r, ArithAdd, 50)
		require.Less(t, ch.OperandA, 50)
		require.Less(t, ch.OperandB, 50)
		require.Less(t, ch.Expected, 100)

		mul := GenerateArithmetic(r, ArithMul, 1000)
		require.Less(t, mul.OperandA, maxMultiplierOperand)
		require.Less(t, mul.OperandB, maxMultiplierOperand)
	}
}

func TestGenerateArithmetic_RandomUsesAllOperators(t *testing.T) {
	r := NewRandWithSeed(6)
	seen := map[domain.Operator]bool{}
	for i := 0; i < 200; i++ {
		seen[GenerateArithmetic(r, ArithRandom, 10).Operator] = true
	}
	assert.Len(t, seen, 3)
}

func TestGeneratePuzzle_WithinBounds(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModePuzzle})
	r := NewRandWithSeed(7)
	for i := 0; i < 500; i++ {
		ch, err := GeneratePuzzle(r, cfg)
		require.NoError(t, err)
		require.GreaterOrEqual(t, ch.TargetX, float64(cfg.BlockWidth))
		require.LessOrEqual(t, ch.TargetX, float64(cfg.Width-2*cfg.BlockWidth))
		require.LessOrEqual(t, ch.TargetX, float64(cfg.Width-cfg.BlockWidth))
		require.GreaterOrEqual(t, ch.TargetY, float64(cfg.VOffset))
		require.LessOrEqual(t, ch.TargetY, float64(cfg.Height-cfg.BlockHeight-cfg.VOffset))
		require.Equal(t, float64(cfg.BlockWidth), ch.PieceWidth)
		require.Equal(t, float64(cfg.BlockHeight), ch.PieceHeight)
	}
}

func TestGeneratePuzzle_ImageTooSmall(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModePuzzle, Width: 120, BarWidth: 120})
	_, err := GeneratePuzzle(NewRandWithSeed(1), cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "width", cfgErr.Field)

	cfg = normalized(t, Config{Mode: domain.ModePuzzle, Height: 55})
	_, err = GeneratePuzzle(NewRandWithSeed(1), cfg)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "height", cfgErr.Field)
}

func TestGeneratePuzzle_BarTooShort(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModePuzzle, BarWidth: 150})
	_, err := GeneratePuzzle(NewRandWithSeed(1), cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "barWidth", cfgErr.Field)
}

func TestGenerateSlide_TargetsBarEnd(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModeSlide})
	ch := GenerateSlide(cfg)
	assert.Equal(t, float64(DefaultBarWidth-DefaultBlockWidth), ch.TargetX)
}

func TestGeneratePoints_SpacingAndBounds(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModePick})
	r := NewRandWithSeed(8)
	for i := 0; i < 200; i++ {
		ch, err := GeneratePoints(r, cfg)
		require.NoError(t, err)
		require.Len(t, ch.Targets, DefaultPointCount)
		require.Equal(t, DefaultCheckNum, ch.Required)
		labels := map[string]bool{}
		for a := range ch.Targets {
			ta := ch.Targets[a]
			require.GreaterOrEqual(t, ta.X, cfg.Margin)
			require.LessOrEqual(t, ta.X, float64(cfg.Width)-cfg.Margin)
			require.GreaterOrEqual(t, ta.Y, cfg.Margin)
			require.LessOrEqual(t, ta.Y, float64(cfg.Height)-cfg.Margin)
			require.False(t, labels[ta.Label], "duplicate label %q", ta.Label)
			labels[ta.Label] = true
			for b := a + 1; b < len(ch.Targets); b++ {
				require.GreaterOrEqual(t, Distance(ta.Point(), ch.Targets[b].Point()), cfg.Spacing)
			}
		}
	}
}

func TestGeneratePoints_ExhaustionIsConfigError(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModePick, PointCount: 30, Spacing: 100, MaxAttempts: 200})
	_, err := GeneratePoints(NewRandWithSeed(9), cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "pointCount", cfgErr.Field)
	assert.True(t, errors.Is(err, domain.ErrPlacementExhausted))
}

func TestGeneratePoints_NoDrawableArea(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModePick, Width: 30, Height: 30})
	_, err := GeneratePoints(NewRandWithSeed(1), cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "margin", cfgErr.Field)
}

func TestPointsChallenge_SequenceIsPrefix(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModePick, PointCount: 5, CheckNum: 2})
	ch, err := GeneratePoints(NewRandWithSeed(10), cfg)
	require.NoError(t, err)
	seq := ch.Sequence()
	require.Len(t, seq, 2)
	assert.Equal(t, ch.Targets[:2], seq)
	assert.Equal(t, []string{ch.Targets[0].Label, ch.Targets[1].Label}, ch.Labels())
}

func TestNormalize_Defaults(t *testing.T) {
	cfg := normalized(t, Config{Mode: domain.ModeCompute})
	assert.Equal(t, DefaultComputeWidth, cfg.Width)
	assert.Equal(t, DefaultCodeHeight, cfg.Height)
	assert.Equal(t, DefaultFigure, cfg.Figure)

	cfg = normalized(t, Config{Mode: domain.ModePicture})
	assert.Equal(t, DefaultPictureWidth, cfg.Width)

	cfg = normalized(t, Config{Mode: domain.ModePick, PointCount: 2, CheckNum: 3})
	assert.Equal(t, 3, cfg.PointCount)
	assert.Equal(t, float64(DefaultTolerance), cfg.Tolerance)
}

func TestNormalize_Rejects(t *testing.T) {
	_, err := Config{Mode: "captcha"}.Normalize()
	assert.ErrorIs(t, err, domain.ErrUnsupportedMode)

	_, err = Config{Mode: domain.ModeCompute, Arith: 9}.Normalize()
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Config{Mode: domain.ModePick, PointCount: 100}.Normalize()
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Config{Mode: domain.ModeSlide, BarWidth: 20}.Normalize()
	assert.ErrorAs(t, err, &cfgErr)

	_, err = ConfigFromProfile(domain.Profile{Mode: domain.ModePick, Params: domain.ProfileParams{Metric: "manhattan"}}).Normalize()
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "metric", cfgErr.Field)
}

func TestConfigFromProfile_PointsTuning(t *testing.T) {
	cfg := normalized(t, ConfigFromProfile(domain.Profile{
		Mode: domain.ModePick,
		Params: domain.ProfileParams{
			Metric:      "Per-Axis",
			Margin:      12,
			MaxAttempts: 50,
		},
	}))
	assert.Equal(t, MetricPerAxis, cfg.Metric)
	assert.Equal(t, 12.0, cfg.Margin)
	assert.Equal(t, 50, cfg.MaxAttempts)

	cfg = normalized(t, ConfigFromProfile(domain.Profile{Mode: domain.ModePick}))
	assert.Equal(t, MetricEuclidean, cfg.Metric)
	assert.Equal(t, float64(DefaultPointMargin), cfg.Margin)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
}
