package types

// Condition identifies one of the weather-sensitive health conditions the
// platform scores independently. Both share the same pipeline shape but
// carry distinct thresholds, weights, and prompts.
type Condition string

const (
	ConditionMigraine  Condition = "migraine"
	ConditionSinusitis Condition = "sinusitis"
)

// AllConditions lists every supported condition in evaluation order.
var AllConditions = []Condition{ConditionMigraine, ConditionSinusitis}

// ProbabilityLevel is the three-level risk verdict emitted by a classifier.
type ProbabilityLevel string

const (
	ProbabilityLow    ProbabilityLevel = "LOW"
	ProbabilityMedium ProbabilityLevel = "MEDIUM"
	ProbabilityHigh   ProbabilityLevel = "HIGH"
)

// Valid reports whether the level is one of the three allowed values.
// Used to validate remote-model output before trusting it.
func (p ProbabilityLevel) Valid() bool {
	switch p {
	case ProbabilityLow, ProbabilityMedium, ProbabilityHigh:
		return true
	}
	return false
}

// Rank orders levels for severity comparisons (LOW < MEDIUM < HIGH).
// Unknown values rank below LOW so they never pass a severity filter.
func (p ProbabilityLevel) Rank() int {
	switch p {
	case ProbabilityLow:
		return 1
	case ProbabilityMedium:
		return 2
	case ProbabilityHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether p is at or above the given severity.
func (p ProbabilityLevel) AtLeast(min ProbabilityLevel) bool {
	return p.Rank() >= min.Rank()
}

// ClassifierSource records which classification path produced a verdict.
type ClassifierSource string

const (
	SourceRemote        ClassifierSource = "remote"
	SourceDeterministic ClassifierSource = "deterministic"
)

// Factor names a single normalized weather risk factor.
type Factor string

const (
	FactorTemperatureChange Factor = "temperature_change"
	FactorHumidityExtreme   Factor = "humidity_extreme"
	FactorPressureChange    Factor = "pressure_change"
	FactorPressureLow       Factor = "pressure_low"
	FactorPrecipitation     Factor = "precipitation"
	FactorCloudCover        Factor = "cloud_cover"
)

// AllFactors lists every factor in stable order for serialization.
var AllFactors = []Factor{
	FactorTemperatureChange,
	FactorHumidityExtreme,
	FactorPressureChange,
	FactorPressureLow,
	FactorPrecipitation,
	FactorCloudCover,
}

// NotificationMode selects between per-verdict alerts and daily digests.
type NotificationMode string

const (
	ModeImmediate NotificationMode = "IMMEDIATE"
	ModeDigest    NotificationMode = "DIGEST"
)

// DeliveryStatus enumerates the states recorded in the delivery log.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// DeliveryKind categorizes a delivery log entry.
type DeliveryKind string

const (
	DeliveryAlert  DeliveryKind = "alert"
	DeliveryDigest DeliveryKind = "digest"
)
