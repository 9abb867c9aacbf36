package risk

import (
	"context"
	"errors"

	"forewarn/internal/types"
)

// ErrNoVerdict signals that a classifier could not produce a verdict. The
// orchestrator treats it like any other classifier error and moves on to the
// next classifier in the chain.
var ErrNoVerdict = errors.New("risk: classifier produced no verdict")

// Input is everything a classifier may draw on for one condition at one
// subscriber-location. Scores and weights are already sensitivity-adjusted.
type Input struct {
	Condition  types.Condition
	Location   types.Location
	Profile    *types.SensitivityProfile
	Locale     string
	Forecast   types.Window
	Comparison types.Window

	// Outlook optionally extends the horizon to the next 24 hours so the
	// remote classifier can see approaching systems beyond the assessed
	// window. Empty is fine.
	Outlook types.Window

	Scores  types.FactorScores
	Weights types.Weights

	// HighThreshold and MediumThreshold are the sensitivity-shifted cut
	// points for the deterministic path.
	HighThreshold   float64
	MediumThreshold float64

	// History holds recent prior verdicts, newest first, for prompt context.
	History []*types.RiskVerdict
}

// Outcome is a classifier's answer.
type Outcome struct {
	Probability types.ProbabilityLevel
	Source      types.ClassifierSource

	// Total is the weighted sum, set by the deterministic path.
	Total *float64

	// Detail carries remote-model audit data, set by the remote path.
	Detail *types.RemoteDetail
}

// Classifier turns scored weather input into a probability level.
type Classifier interface {
	Classify(ctx context.Context, in Input) (*Outcome, error)
}

// ClassifyError is a classifier failure that still carries audit detail
// (raw request/response bodies, failure reason) worth persisting on the
// fallback verdict.
type ClassifyError struct {
	Err    error
	Detail *types.RemoteDetail
}

func (e *ClassifyError) Error() string { return e.Err.Error() }

func (e *ClassifyError) Unwrap() error { return e.Err }

// Deterministic classifies by comparing the weighted factor total against
// the shifted cut points. It never fails, which makes it the guaranteed
// terminal fallback in every classifier chain.
type Deterministic struct{}

// Classify computes the weighted total and maps it to a level. Totals at or
// above a cut point take that level, so a total exactly on the HIGH cut is
// HIGH.
func (Deterministic) Classify(_ context.Context, in Input) (*Outcome, error) {
	total := WeightedTotal(in.Scores, in.Weights)
	level := types.ProbabilityLow
	switch {
	case total >= in.HighThreshold:
		level = types.ProbabilityHigh
	case total >= in.MediumThreshold:
		level = types.ProbabilityMedium
	}
	return &Outcome{
		Probability: level,
		Source:      types.SourceDeterministic,
		Total:       &total,
	}, nil
}
