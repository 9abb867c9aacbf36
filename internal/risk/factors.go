// Package risk implements the condition risk pipeline: factor scoring from
// hourly weather windows, sensitivity adjustment, classification, and the
// prediction orchestrator that ties them together.
package risk

import (
	"math"

	"forewarn/internal/types"
)

// ThresholdTable holds the trigger thresholds for one condition. Values come
// from published research on weather-related symptom triggers.
type ThresholdTable struct {
	TemperatureChange float64 // Celsius, significant short-term change
	HumidityHigh      float64 // percent
	HumidityLow       float64 // percent
	PressureChange    float64 // hPa, significant short-term change
	PressureLow       float64 // hPa, low-pressure system floor
	PrecipitationHigh float64 // mm per hour
	CloudCoverHigh    float64 // percent
}

// Bands holds the classification cut points for one condition, together with
// the clamp ranges a sensitivity shift may not leave.
type Bands struct {
	High       float64
	Medium     float64
	HighFloor  float64
	HighCeil   float64
	MedFloor   float64
	MedCeil    float64
}

var (
	// MigraineThresholds are the migraine trigger thresholds.
	MigraineThresholds = ThresholdTable{
		TemperatureChange: 5.0,
		HumidityHigh:      70.0,
		HumidityLow:       30.0,
		PressureChange:    5.0,
		PressureLow:       1005.0,
		PrecipitationHigh: 5.0,
		CloudCoverHigh:    80.0,
	}

	// MigraineWeights are the base factor weights for migraine scoring.
	MigraineWeights = types.Weights{
		types.FactorTemperatureChange: 0.25,
		types.FactorHumidityExtreme:   0.15,
		types.FactorPressureChange:    0.30,
		types.FactorPressureLow:       0.15,
		types.FactorPrecipitation:     0.05,
		types.FactorCloudCover:        0.10,
	}

	// MigraineBands are the migraine classification cut points.
	MigraineBands = Bands{
		High: 0.70, Medium: 0.40,
		HighFloor: 0.50, HighCeil: 0.90,
		MedFloor: 0.25, MedCeil: 0.70,
	}

	// SinusitisThresholds are the sinusitis trigger thresholds. Sinusitis
	// reacts more to humidity and sustained low pressure, less to abrupt
	// swings, hence the different table.
	SinusitisThresholds = ThresholdTable{
		TemperatureChange: 7.0,
		HumidityHigh:      75.0,
		HumidityLow:       25.0,
		PressureChange:    6.0,
		PressureLow:       1000.0,
		PrecipitationHigh: 3.0,
		CloudCoverHigh:    70.0,
	}

	// SinusitisWeights are the base factor weights for sinusitis scoring.
	SinusitisWeights = types.Weights{
		types.FactorTemperatureChange: 0.30,
		types.FactorHumidityExtreme:   0.25,
		types.FactorPressureChange:    0.20,
		types.FactorPressureLow:       0.10,
		types.FactorPrecipitation:     0.10,
		types.FactorCloudCover:        0.05,
	}

	// SinusitisBands are the sinusitis classification cut points.
	SinusitisBands = Bands{
		High: 0.65, Medium: 0.35,
		HighFloor: 0.45, HighCeil: 0.85,
		MedFloor: 0.20, MedCeil: 0.65,
	}
)

// ThresholdsFor returns the threshold table for the condition.
func ThresholdsFor(c types.Condition) ThresholdTable {
	if c == types.ConditionSinusitis {
		return SinusitisThresholds
	}
	return MigraineThresholds
}

// WeightsFor returns a copy of the base weight table for the condition.
// Callers get a copy because sensitivity adjustment mutates weights.
func WeightsFor(c types.Condition) types.Weights {
	base := MigraineWeights
	if c == types.ConditionSinusitis {
		base = SinusitisWeights
	}
	out := make(types.Weights, len(base))
	for k, v := range base {
		out[k] = v
	}
	return out
}

// BandsFor returns the classification bands for the condition.
func BandsFor(c types.Condition) Bands {
	if c == types.ConditionSinusitis {
		return SinusitisBands
	}
	return MigraineBands
}

// Score computes the normalized factor scores for a forecast window against
// an optional trailing comparison window.
//
// Every factor is in [0,1] except pressure_low, whose linear ramp below the
// floor is intentionally left uncapped so deep low-pressure systems keep
// raising the weighted total. The two delta factors (temperature_change,
// pressure_change) need a comparison baseline and score zero when the
// comparison window is empty; absolute factors are always computed.
//
// All scores are rounded to two decimals so stored audit rows and prompt
// context agree exactly.
func Score(forecast, comparison types.Window, t ThresholdTable) types.FactorScores {
	scores := types.FactorScores{
		types.FactorTemperatureChange: 0,
		types.FactorHumidityExtreme:   0,
		types.FactorPressureChange:    0,
		types.FactorPressureLow:       0,
		types.FactorPrecipitation:     0,
		types.FactorCloudCover:        0,
	}
	if forecast.Empty() {
		return scores
	}

	if !comparison.Empty() {
		tempChange := math.Abs(forecast.MeanTemperature() - comparison.MeanTemperature())
		scores[types.FactorTemperatureChange] = math.Min(tempChange/t.TemperatureChange, 1.0)

		pressureChange := math.Abs(forecast.MeanPressure() - comparison.MeanPressure())
		scores[types.FactorPressureChange] = math.Min(pressureChange/t.PressureChange, 1.0)
	}

	humidity := forecast.MeanHumidity()
	switch {
	case humidity >= t.HumidityHigh:
		scores[types.FactorHumidityExtreme] = (humidity - t.HumidityHigh) / (100 - t.HumidityHigh)
	case humidity <= t.HumidityLow:
		scores[types.FactorHumidityExtreme] = (t.HumidityLow - humidity) / t.HumidityLow
	}

	pressure := forecast.MeanPressure()
	if pressure <= t.PressureLow {
		// Linear ramp, 20 hPa below the floor maps to 1.0. Not capped.
		scores[types.FactorPressureLow] = (t.PressureLow - pressure) / 20.0
	}

	scores[types.FactorPrecipitation] = math.Min(forecast.MaxPrecipitation()/t.PrecipitationHigh, 1.0)
	scores[types.FactorCloudCover] = math.Min(forecast.MeanCloudCover()/t.CloudCoverHigh, 1.0)

	for k, v := range scores {
		scores[k] = round2(v)
	}
	return scores
}

// WeightedTotal computes the weighted sum of scores. Factors missing from
// either map contribute zero.
func WeightedTotal(scores types.FactorScores, weights types.Weights) float64 {
	var total float64
	for factor, score := range scores {
		total += score * weights[factor]
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
