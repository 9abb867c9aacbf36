package types

import (
	"encoding/json"
	"time"
)

// Location is a subscriber-owned place for which forecasts are scored.
type Location struct {
	ID           string    `json:"id" db:"id"`
	SubscriberID string    `json:"subscriber_id" db:"subscriber_id"`
	City         string    `json:"city" db:"city"`
	Country      string    `json:"country" db:"country"`
	Latitude     float64   `json:"latitude" db:"latitude"`
	Longitude    float64   `json:"longitude" db:"longitude"`
	Timezone     string    `json:"timezone" db:"timezone"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Label returns the human-readable "City, Country" form used in prompts
// and email subjects.
func (l Location) Label() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + ", " + l.Country
}

// WeatherSample is one hour of forecast data. Immutable once produced by
// the weather source.
type WeatherSample struct {
	Time            time.Time `json:"time"`
	TemperatureC    float64   `json:"temperature_c"`
	HumidityPct     float64   `json:"humidity_pct"`
	PressureHPa     float64   `json:"pressure_hpa"`
	WindSpeedKmh    float64   `json:"wind_speed_kmh"`
	PrecipitationMM float64   `json:"precipitation_mm"`
	CloudCoverPct   float64   `json:"cloud_cover_pct"`
}

// Window is an ordered, time-ascending sequence of hourly samples. The
// same type serves both the forecast window being assessed and the
// trailing comparison window used for deltas.
type Window struct {
	Samples []WeatherSample `json:"samples"`
}

// Empty reports whether the window holds no samples. An empty forecast
// window means classification is skipped, not defaulted.
func (w Window) Empty() bool { return len(w.Samples) == 0 }

// Len returns the number of hourly samples.
func (w Window) Len() int { return len(w.Samples) }

// Start returns the timestamp of the first sample (zero time if empty).
func (w Window) Start() time.Time {
	if w.Empty() {
		return time.Time{}
	}
	return w.Samples[0].Time
}

// End returns the timestamp of the last sample (zero time if empty).
func (w Window) End() time.Time {
	if w.Empty() {
		return time.Time{}
	}
	return w.Samples[len(w.Samples)-1].Time
}

func (w Window) mean(f func(WeatherSample) float64) float64 {
	if w.Empty() {
		return 0
	}
	var sum float64
	for _, s := range w.Samples {
		sum += f(s)
	}
	return sum / float64(len(w.Samples))
}

// MeanTemperature returns the average temperature over the window.
func (w Window) MeanTemperature() float64 {
	return w.mean(func(s WeatherSample) float64 { return s.TemperatureC })
}

// MeanHumidity returns the average relative humidity over the window.
func (w Window) MeanHumidity() float64 {
	return w.mean(func(s WeatherSample) float64 { return s.HumidityPct })
}

// MeanPressure returns the average surface pressure over the window.
func (w Window) MeanPressure() float64 {
	return w.mean(func(s WeatherSample) float64 { return s.PressureHPa })
}

// MeanCloudCover returns the average cloud cover over the window.
func (w Window) MeanCloudCover() float64 {
	return w.mean(func(s WeatherSample) float64 { return s.CloudCoverPct })
}

// MaxPrecipitation returns the highest single-hour precipitation in the window.
func (w Window) MaxPrecipitation() float64 {
	var max float64
	for _, s := range w.Samples {
		if s.PrecipitationMM > max {
			max = s.PrecipitationMM
		}
	}
	return max
}

// TotalPrecipitation returns the summed precipitation over the window.
func (w Window) TotalPrecipitation() float64 {
	var sum float64
	for _, s := range w.Samples {
		sum += s.PrecipitationMM
	}
	return sum
}

// SensitivityProfile holds per-subscriber multipliers applied to factor
// weights and classification thresholds. Values are clamped to [0,3] by
// the owning settings layer before reaching the core; the core never
// mutates a profile.
type SensitivityProfile struct {
	Overall       float64 `json:"sensitivity_overall" db:"sensitivity_overall"`
	Temperature   float64 `json:"sensitivity_temperature" db:"sensitivity_temperature"`
	Humidity      float64 `json:"sensitivity_humidity" db:"sensitivity_humidity"`
	Pressure      float64 `json:"sensitivity_pressure" db:"sensitivity_pressure"`
	CloudCover    float64 `json:"sensitivity_cloud_cover" db:"sensitivity_cloud_cover"`
	Precipitation float64 `json:"sensitivity_precipitation" db:"sensitivity_precipitation"`
}

// ForFactor returns the factor-specific multiplier. Both pressure factors
// share the pressure sensitivity.
func (p SensitivityProfile) ForFactor(f Factor) float64 {
	switch f {
	case FactorTemperatureChange:
		return p.Temperature
	case FactorHumidityExtreme:
		return p.Humidity
	case FactorPressureChange, FactorPressureLow:
		return p.Pressure
	case FactorPrecipitation:
		return p.Precipitation
	case FactorCloudCover:
		return p.CloudCover
	}
	return 1.0
}

// QuietPeriod is one entry in a quiet-hours schedule. Times are "HH:MM"
// wall clock in the schedule's timezone; an empty Days list matches all days.
type QuietPeriod struct {
	Days  []string `json:"days"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

// QuietHoursConfig suppresses deliveries during configured local-time windows.
type QuietHoursConfig struct {
	Enabled  bool          `json:"enabled"`
	Timezone string        `json:"timezone"`
	Schedule []QuietPeriod `json:"schedule"`
}

// NotificationSettings are the per-subscriber throttling rules consumed by
// the policy engine.
type NotificationSettings struct {
	Enabled           bool              `json:"enabled" db:"notifications_enabled"`
	Mode              NotificationMode  `json:"mode" db:"notification_mode"`
	MaxPerDay         int               `json:"max_per_day" db:"max_notifications_per_day"`
	MinSpacingHours   int               `json:"min_spacing_hours" db:"min_hours_between_notifications"`
	SeverityThreshold ProbabilityLevel  `json:"severity_threshold" db:"notification_severity_threshold"`
	QuietHours        *QuietHoursConfig `json:"quiet_hours,omitempty" db:"quiet_hours"`
	// DigestTime is the "HH:MM" local time-of-day a DIGEST-mode subscriber
	// receives their daily summary.
	DigestTime string `json:"digest_time,omitempty" db:"digest_time"`
}

// Subscriber is the alert recipient. Account/session management lives
// outside this service; only the fields the pipeline needs are carried.
type Subscriber struct {
	ID               string               `json:"id" db:"id"`
	Email            string               `json:"email" db:"email"`
	Name             string               `json:"name" db:"name"`
	Locale           string               `json:"locale" db:"locale"`
	MigraineEnabled  bool                 `json:"migraine_enabled" db:"migraine_enabled"`
	SinusitisEnabled bool                 `json:"sinusitis_enabled" db:"sinusitis_enabled"`
	Profile          *SensitivityProfile  `json:"profile,omitempty" db:"-"`
	Notifications    NotificationSettings `json:"notifications" db:"-"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
}

// ConditionEnabled reports whether predictions for the condition are
// switched on for this subscriber.
func (s Subscriber) ConditionEnabled(c Condition) bool {
	switch c {
	case ConditionMigraine:
		return s.MigraineEnabled
	case ConditionSinusitis:
		return s.SinusitisEnabled
	}
	return false
}

// FactorScores maps factor name to its normalized score. Every value is
// in [0,1] except pressure_low, which is intentionally unbounded above.
type FactorScores map[Factor]float64

// Weights maps factor name to its contribution weight. A freshly adjusted
// table sums to 1.0 unless every weight collapsed to zero.
type Weights map[Factor]float64

// RemoteDetail is the audit payload captured from the remote classifier,
// populated on both success and failure so operators can inspect what the
// model saw and said.
type RemoteDetail struct {
	Rationale      string          `json:"rationale,omitempty"`
	Confidence     *float64        `json:"confidence,omitempty"`
	AnalysisText   string          `json:"analysis_text,omitempty"`
	PreventionTips []string        `json:"prevention_tips,omitempty"`
	RequestBody    json.RawMessage `json:"request_body,omitempty"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	// Failure carries the raw error string when the remote path produced
	// no usable verdict. Never shown to subscribers.
	Failure string `json:"failure,omitempty"`
}

// RiskVerdict is the classification result for one condition at one
// subscriber-location. Created by the prediction orchestrator, persisted
// by the store, and mutated only to flip NotificationSent.
type RiskVerdict struct {
	ID           string           `json:"id" db:"id"`
	SubscriberID string           `json:"subscriber_id" db:"subscriber_id"`
	LocationID   string           `json:"location_id" db:"location_id"`
	Condition    Condition        `json:"condition" db:"condition"`
	Probability  ProbabilityLevel `json:"probability" db:"probability"`
	WindowStart  time.Time        `json:"window_start" db:"window_start"`
	WindowEnd    time.Time        `json:"window_end" db:"window_end"`

	Scores  FactorScores     `json:"scores" db:"scores"`
	Weights Weights          `json:"weights" db:"weights"`
	Source  ClassifierSource `json:"source" db:"source"`
	// Total is the deterministic weighted sum, recorded whenever the
	// fallback path computed it (nil when the remote verdict stood alone).
	Total  *float64      `json:"total,omitempty" db:"total"`
	Remote *RemoteDetail `json:"remote,omitempty" db:"remote"`

	NotificationSent bool      `json:"notification_sent" db:"notification_sent"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// DeliveryRecord is one row in the delivery log, used for daily-cap
// counting, spacing checks, and digest dedup.
type DeliveryRecord struct {
	ID           string         `json:"id" db:"id"`
	SubscriberID string         `json:"subscriber_id" db:"subscriber_id"`
	LocationID   string         `json:"location_id" db:"location_id"`
	Kind         DeliveryKind   `json:"kind" db:"kind"`
	Status       DeliveryStatus `json:"status" db:"status"`
	VerdictIDs   []string       `json:"verdict_ids" db:"verdict_ids"`
	Detail       string         `json:"detail,omitempty" db:"detail"`
	SentAt       time.Time      `json:"sent_at" db:"sent_at"`
}
