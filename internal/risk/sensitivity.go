package risk

import (
	"math"

	"forewarn/internal/types"
)

// thresholdShiftPerUnit is the classification threshold shift applied per
// unit of overall sensitivity away from 1.0. A subscriber at overall 2.0
// lowers both cut points by 0.15; one at 0.5 raises them by 0.075.
const thresholdShiftPerUnit = 0.15

// AdjustWeights applies a subscriber's sensitivity profile to the base
// factor weights. Each weight is scaled by the overall multiplier and the
// factor-specific multiplier, floored at zero, then the table is
// re-normalized to sum to 1.0 so totals stay comparable across subscribers.
//
// A nil profile returns the base weights unchanged. If every adjusted weight
// collapses to zero the zero table is returned as-is; the weighted total is
// then zero and classification lands on LOW.
func AdjustWeights(base types.Weights, p *types.SensitivityProfile) types.Weights {
	out := make(types.Weights, len(base))
	if p == nil {
		for k, v := range base {
			out[k] = v
		}
		return out
	}

	var sum float64
	for factor, w := range base {
		adjusted := math.Max(0, w*p.Overall*p.ForFactor(factor))
		out[factor] = adjusted
		sum += adjusted
	}
	if sum == 0 {
		return out
	}
	for factor := range out {
		out[factor] /= sum
	}
	return out
}

// ShiftThresholds moves the classification cut points by the subscriber's
// overall sensitivity and clamps them to the band's allowed range. More
// sensitive subscribers get lower cut points, less sensitive ones higher.
//
// A nil profile returns the default cut points.
func ShiftThresholds(b Bands, p *types.SensitivityProfile) (high, medium float64) {
	high, medium = b.High, b.Medium
	if p == nil {
		return high, medium
	}
	shift := (p.Overall - 1.0) * thresholdShiftPerUnit
	high = clamp(b.High-shift, b.HighFloor, b.HighCeil)
	medium = clamp(b.Medium-shift, b.MedFloor, b.MedCeil)
	return high, medium
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
