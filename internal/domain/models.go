package domain

import "time"

// Mode selects which verification widget a session drives.
type Mode string

const (
	ModePicture Mode = "picture" // code
	ModeCompute Mode = "compute" // arithmetic
	ModeSlide   Mode = "slide"
	ModePuzzle  Mode = "puzzle"
	ModePick    Mode = "pick" // points
)

// Modes lists every supported mode in a stable order.
func Modes() []Mode {
	return []Mode{ModePicture, ModeCompute, ModeSlide, ModePuzzle, ModePick}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePicture, ModeCompute, ModeSlide, ModePuzzle, ModePick:
		return true
	}
	return false
}

// Status is the verification lifecycle state shared by all modes.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusVerifying Status = "verifying"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusLoading   Status = "loading"
)

// Point is an image-relative coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RGB is an 8-bit per channel colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Challenge is the randomly generated target of one verification attempt.
// The concrete types are CodeChallenge, ArithmeticChallenge, PuzzleChallenge
// and PointsChallenge.
type Challenge interface {
	challenge()
}

// CodeChallenge must be typed back, case-insensitively.
type CodeChallenge struct {
	Text   string `json:"text"`
	Length int    `json:"length"`
}

// Operator is an arithmetic operator shown in a compute challenge.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "×"
)

// ArithmeticChallenge must be answered with Expected.
type ArithmeticChallenge struct {
	OperandA   int      `json:"operandA"`
	OperandB   int      `json:"operandB"`
	Operator   Operator `json:"operator"`
	Expected   int      `json:"expected"`
	Expression string   `json:"expression"`
}

// PuzzleChallenge places a cut-out of PieceWidth x PieceHeight at
// (TargetX, TargetY). The drag distance must match TargetX.
type PuzzleChallenge struct {
	TargetX     float64 `json:"targetX"`
	TargetY     float64 `json:"targetY"`
	PieceWidth  float64 `json:"pieceWidth"`
	PieceHeight float64 `json:"pieceHeight"`
}

// Target is one labelled point drawn on a pick image.
type Target struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
}

// Point returns the target position.
func (t Target) Point() Point {
	return Point{X: t.X, Y: t.Y}
}

// PointsChallenge draws len(Targets) labels; the first Required of them must
// be clicked in order, the rest are decoys.
type PointsChallenge struct {
	Targets  []Target `json:"targets"`
	Required int      `json:"required"`
}

// Sequence returns the targets that must be clicked, in click order.
func (c PointsChallenge) Sequence() []Target {
	n := c.Required
	if n > len(c.Targets) {
		n = len(c.Targets)
	}
	return c.Targets[:n]
}

// Labels returns the labels of the click sequence.
func (c PointsChallenge) Labels() []string {
	seq := c.Sequence()
	labels := make([]string, len(seq))
	for i, t := range seq {
		labels[i] = t.Label
	}
	return labels
}

func (CodeChallenge) challenge()       {}
func (ArithmeticChallenge) challenge() {}
func (PuzzleChallenge) challenge()     {}
func (PointsChallenge) challenge()     {}

// DragPhase tracks a slider drag.
type DragPhase string

const (
	DragIdle     DragPhase = "idle"
	DragDragging DragPhase = "dragging"
	DragReleased DragPhase = "released"
)

// DragRecord is the accumulated state of a slider interaction.
type DragRecord struct {
	StartX   float64   `json:"startX"`
	CurrentX float64   `json:"currentX"`
	Distance float64   `json:"distance"`
	Phase    DragPhase `json:"phase"`
}

// ClickRecord is the accumulated state of a pick interaction.
type ClickRecord struct {
	Points   []Point `json:"points"`
	Required int     `json:"required"`
}

// Outcome is the result of one comparison. It is never mutated after creation.
type Outcome struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Detail   any           `json:"detail,omitempty"`
}

// EventType names a session notification.
type EventType string

const (
	EventReady   EventType = "ready"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
	EventStatus  EventType = "status"
)

// Event is published to session subscribers.
type Event struct {
	Type       EventType     `json:"type"`
	Mode       Mode          `json:"mode"`
	Generation uint64        `json:"generation"`
	Loaded     bool          `json:"loaded,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Value      any           `json:"value,omitempty"`
	Message    string        `json:"message,omitempty"`
	Code       string        `json:"code,omitempty"`
	Status     Status        `json:"status,omitempty"`
}

// Profile is a named widget preset.
type Profile struct {
	ID     string        `json:"id" yaml:"id"`
	Mode   Mode          `json:"mode" yaml:"mode"`
	Params ProfileParams `json:"params" yaml:"params"`
}

// ProfileParams overrides engine defaults for one profile. Zero values keep
// the defaults.
type ProfileParams struct {
	Width       int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height      int     `json:"height,omitempty" yaml:"height,omitempty"`
	BlockWidth  int     `json:"blockWidth,omitempty" yaml:"blockWidth,omitempty"`
	BlockHeight int     `json:"blockHeight,omitempty" yaml:"blockHeight,omitempty"`
	BarWidth    int     `json:"barWidth,omitempty" yaml:"barWidth,omitempty"`
	VOffset     int     `json:"vOffset,omitempty" yaml:"vOffset,omitempty"`
	Tolerance   float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	CodeLength  int     `json:"codeLength,omitempty" yaml:"codeLength,omitempty"`
	Arith       int     `json:"arith,omitempty" yaml:"arith,omitempty"`
	Figure      int     `json:"figure,omitempty" yaml:"figure,omitempty"`
	PointCount  int     `json:"pointCount,omitempty" yaml:"pointCount,omitempty"`
	CheckNum    int     `json:"checkNum,omitempty" yaml:"checkNum,omitempty"`
	Spacing     float64 `json:"spacing,omitempty" yaml:"spacing,omitempty"`
	Margin      float64 `json:"margin,omitempty" yaml:"margin,omitempty"`
	MaxAttempts int     `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	// Metric is "euclidean" (default) or "per-axis".
	Metric      string  `json:"metric,omitempty" yaml:"metric,omitempty"`
	ImageURL    string  `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty"`
	Locale      string  `json:"locale,omitempty" yaml:"locale,omitempty"`

	// Texts overrides locale messages by key.
	Texts map[string]string `json:"texts,omitempty" yaml:"texts,omitempty"`
}

// OutcomeRecord is a completed attempt as persisted by outcome recorders.
type OutcomeRecord struct {
	SessionID  string        `json:"sessionId"`
	ProfileID  string        `json:"profileId"`
	Mode       Mode          `json:"mode"`
	Generation uint64        `json:"generation"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	RecordedAt time.Time     `json:"recordedAt"`
}
