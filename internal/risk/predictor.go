package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"forewarn/internal/types"
)

// Predictor orchestrates one condition assessment end to end: score the
// window, apply the subscriber's sensitivity, run the classifier chain, and
// assemble the verdict record.
type Predictor struct {
	// Classifiers are tried in order. The last entry must be infallible
	// (Deterministic) so a verdict is always produced for a non-empty window.
	Classifiers []Classifier

	Clock types.Clock
	Log   types.Logger
}

// NewPredictor wires the standard chain: the remote classifier first when
// provided, the deterministic classifier as terminal fallback.
func NewPredictor(remote Classifier, clock types.Clock, log types.Logger) *Predictor {
	chain := make([]Classifier, 0, 2)
	if remote != nil {
		chain = append(chain, remote)
	}
	chain = append(chain, Deterministic{})
	return &Predictor{Classifiers: chain, Clock: clock, Log: log}
}

// Predict assesses one condition for one subscriber-location.
//
// It returns (nil, nil) without error when the condition is disabled for the
// subscriber or the forecast window is empty; absence of data is not a
// failure. Otherwise it always returns a verdict: classifier errors fall
// through the chain until the deterministic terminal answers, and the raw
// failure from an earlier classifier is preserved on the verdict for audit.
func (p *Predictor) Predict(
	ctx context.Context,
	sub types.Subscriber,
	loc types.Location,
	cond types.Condition,
	forecast, comparison, outlook types.Window,
	history []*types.RiskVerdict,
) (*types.RiskVerdict, error) {
	if !sub.ConditionEnabled(cond) {
		return nil, nil
	}
	if forecast.Empty() {
		p.Log.Warn("no forecast window, skipping assessment",
			"subscriber_id", sub.ID,
			"location_id", loc.ID,
			"condition", string(cond),
		)
		return nil, nil
	}

	scores := Score(forecast, comparison, ThresholdsFor(cond))
	weights := AdjustWeights(WeightsFor(cond), sub.Profile)
	high, medium := ShiftThresholds(BandsFor(cond), sub.Profile)

	in := Input{
		Condition:       cond,
		Location:        loc,
		Profile:         sub.Profile,
		Locale:          sub.Locale,
		Forecast:        forecast,
		Comparison:      comparison,
		Outlook:         outlook,
		Scores:          scores,
		Weights:         weights,
		HighThreshold:   high,
		MediumThreshold: medium,
		History:         history,
	}

	outcome, priorFailure := p.classify(ctx, in, sub, loc)
	if outcome == nil {
		// Unreachable with Deterministic as the terminal, but a chain
		// misconfiguration must surface loudly rather than drop a verdict.
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("no classifier produced a verdict for %s", cond), nil)
	}

	now := p.Clock.Now()
	v := &types.RiskVerdict{
		ID:           uuid.New().String(),
		SubscriberID: sub.ID,
		LocationID:   loc.ID,
		Condition:    cond,
		Probability:  outcome.Probability,
		WindowStart:  forecast.Start(),
		WindowEnd:    forecast.End(),
		Scores:       scores,
		Weights:      weights,
		Source:       outcome.Source,
		Total:        outcome.Total,
		Remote:       outcome.Detail,
		CreatedAt:    now,
	}

	// A fallback verdict still records what the failed remote attempt saw
	// and said, so operators can audit degraded assessments.
	if priorFailure != nil && v.Source == types.SourceDeterministic {
		var ce *ClassifyError
		if errors.As(priorFailure, &ce) && ce.Detail != nil {
			v.Remote = ce.Detail
		}
		if v.Remote == nil {
			v.Remote = &types.RemoteDetail{}
		}
		if v.Remote.Failure == "" {
			v.Remote.Failure = priorFailure.Error()
		}
	}

	p.Log.Info("risk verdict produced",
		"subscriber_id", sub.ID,
		"location_id", loc.ID,
		"condition", string(cond),
		"probability", string(v.Probability),
		"source", string(v.Source),
	)
	return v, nil
}

// classify walks the chain, returning the first successful outcome together
// with the error (if any) from the last failed attempt before it.
func (p *Predictor) classify(ctx context.Context, in Input, sub types.Subscriber, loc types.Location) (*Outcome, error) {
	var lastErr error
	for _, c := range p.Classifiers {
		outcome, err := c.Classify(ctx, in)
		if err != nil {
			lastErr = err
			p.Log.Warn("classifier failed, falling back",
				"subscriber_id", sub.ID,
				"location_id", loc.ID,
				"condition", string(in.Condition),
				"error", err,
			)
			continue
		}
		if outcome != nil {
			return outcome, lastErr
		}
	}
	return nil, lastErr
}
