package llm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"forewarn/internal/risk"
	"forewarn/internal/types"
)

// ContextBuilder serializes weather windows and subscriber context into the
// user turn of a completion prompt. Two token budgets are supported:
// Detailed emits full hourly tables and sectioned prose; the default emits
// one-line compact summaries.
type ContextBuilder struct {
	Detailed bool
}

// diurnalBand maps an absolute-latitude band to expected diurnal
// temperature ranges per season.
type diurnalBand struct {
	minLat, maxLat float64
	ranges         map[string][2]int
}

var diurnalBands = []diurnalBand{
	{0, 23, map[string][2]int{"spring": {6, 10}, "summer": {6, 10}, "fall": {6, 10}, "winter": {6, 10}}},
	{23, 45, map[string][2]int{"spring": {8, 14}, "summer": {10, 18}, "fall": {8, 14}, "winter": {6, 12}}},
	{45, 66, map[string][2]int{"spring": {6, 12}, "summer": {8, 15}, "fall": {6, 12}, "winter": {4, 10}}},
	{66, 90, map[string][2]int{"spring": {4, 10}, "summer": {5, 12}, "fall": {4, 10}, "winter": {2, 8}}},
}

// pollenSeasons maps hemisphere and month to a qualitative pollen level.
var pollenSeasons = map[string]map[time.Month]string{
	"northern": {
		time.January: "low", time.February: "low", time.March: "moderate",
		time.April: "high", time.May: "very_high", time.June: "high",
		time.July: "moderate", time.August: "moderate", time.September: "moderate",
		time.October: "low", time.November: "low", time.December: "low",
	},
	"southern": {
		time.January: "moderate", time.February: "moderate", time.March: "low",
		time.April: "low", time.May: "low", time.June: "low",
		time.July: "low", time.August: "moderate", time.September: "high",
		time.October: "very_high", time.November: "high", time.December: "moderate",
	},
}

// Build renders the full prompt context for one classification input.
func (b ContextBuilder) Build(in risk.Input, now time.Time) string {
	if in.Forecast.Empty() {
		return "No forecast data available."
	}

	lat := in.Location.Latitude
	season := seasonFor(now, lat)

	parts := []string{
		b.header(in.Location, lat, season, now),
		b.diurnal(lat, season, in.Forecast),
	}
	if in.Condition == types.ConditionSinusitis {
		parts = append(parts, b.seasonalHealth(lat, now, in.Forecast))
	}
	if !in.Comparison.Empty() {
		parts = append(parts, b.comparison(in.Forecast, in.Comparison))
	}
	parts = append(parts,
		b.hourly(in.Forecast),
		b.stability(in.Forecast),
	)
	if !in.Outlook.Empty() {
		parts = append(parts, b.outlook(in.Outlook))
	}
	if in.Profile != nil {
		parts = append(parts, b.sensitivity(in.Profile))
	}
	if len(in.History) > 0 {
		parts = append(parts, b.history(in.History))
	}

	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func (b ContextBuilder) header(loc types.Location, lat float64, season string, now time.Time) string {
	hemi := "N"
	if lat < 0 {
		hemi = "S"
	}
	latStr := fmt.Sprintf("%.1f°%s", math.Abs(lat), hemi)
	day := now.Weekday().String()
	clock := now.Format("15:04") + " UTC"

	if b.Detailed {
		return fmt.Sprintf("Location: %s (%s)\nSeason: %s | %s | %s",
			loc.Label(), latStr, capitalize(season), day, clock)
	}
	return fmt.Sprintf("%s (%s) | %s | %s %s", loc.Label(), latStr, capitalize(season), day[:3], clock)
}

func (b ContextBuilder) diurnal(lat float64, season string, forecast types.Window) string {
	lo, hi := expectedDiurnalRange(lat, season)
	span := timeSpanDescription(forecast.Start().Hour(), forecast.End().Hour())

	if b.Detailed {
		return fmt.Sprintf("## Expected Conditions\nTypical diurnal temperature range for this location/season: %d-%d°C\nForecast spans %s",
			lo, hi, span)
	}
	return fmt.Sprintf("Expected diurnal range: %d-%d°C | Forecast: %s", lo, hi, span)
}

func (b ContextBuilder) seasonalHealth(lat float64, now time.Time, forecast types.Window) string {
	hemisphere := "northern"
	if lat < 0 {
		hemisphere = "southern"
	}
	pollen := pollenSeasons[hemisphere][now.Month()]
	if pollen == "" {
		pollen = "moderate"
	}

	humidity := forecast.MeanHumidity()
	temp := forecast.MeanTemperature()
	mold := moldRisk(humidity, temp)
	heating := heatingStatus(temp, now.Month(), hemisphere)

	if b.Detailed {
		pollenDesc := map[string]string{
			"low":       "Low pollen season",
			"moderate":  "Moderate pollen season",
			"high":      "High pollen season - elevated allergen exposure",
			"very_high": "Peak pollen season - high allergen exposure",
		}[pollen]
		return fmt.Sprintf("## Seasonal Health Context\nPollen: %s\nMold risk: %s\nIndoor heating: %s",
			pollenDesc, mold, heating)
	}
	return fmt.Sprintf("Pollen: %s | Mold: %s | Heating: %s",
		pollen, strings.ToLower(firstWord(mold)), strings.ToLower(firstWord(heating)))
}

func (b ContextBuilder) comparison(forecast, past types.Window) string {
	pastTempMin, pastTempMax := rangeOf(past, func(s types.WeatherSample) float64 { return s.TemperatureC })
	fcTempMin, fcTempMax := rangeOf(forecast, func(s types.WeatherSample) float64 { return s.TemperatureC })
	pastPresMin, pastPresMax := rangeOf(past, func(s types.WeatherSample) float64 { return s.PressureHPa })
	fcPresMin, fcPresMax := rangeOf(forecast, func(s types.WeatherSample) float64 { return s.PressureHPa })
	pastHumMin, pastHumMax := rangeOf(past, func(s types.WeatherSample) float64 { return s.HumidityPct })
	fcHumMin, fcHumMax := rangeOf(forecast, func(s types.WeatherSample) float64 { return s.HumidityPct })

	tempChange := forecast.MeanTemperature() - past.MeanTemperature()
	pressureChange := forecast.MeanPressure() - past.MeanPressure()
	humidityChange := forecast.MeanHumidity() - past.MeanHumidity()

	if b.Detailed {
		lines := []string{"## Weather Comparison: Past 24h vs Forecast Window"}

		tempLine := fmt.Sprintf("Temperature: Past 24h %.1f-%.1f°C (avg %.1f°C) → Forecast %.1f-%.1f°C (avg %.1f°C)",
			pastTempMin, pastTempMax, past.MeanTemperature(), fcTempMin, fcTempMax, forecast.MeanTemperature())
		switch {
		case tempChange >= 5:
			tempLine += " - significant warming"
		case tempChange <= -5:
			tempLine += " - significant cooling"
		case math.Abs(tempChange) >= 2:
			tempLine += fmt.Sprintf(" (%+.1f°C change)", tempChange)
		}
		lines = append(lines, tempLine)

		pressureLine := fmt.Sprintf("Pressure: Past 24h %.1f-%.1fhPa (avg %.1fhPa) → Forecast %.1f-%.1fhPa (avg %.1fhPa)",
			pastPresMin, pastPresMax, past.MeanPressure(), fcPresMin, fcPresMax, forecast.MeanPressure())
		switch {
		case pressureChange <= -5:
			pressureLine += " - notable drop"
		case pressureChange >= 5:
			pressureLine += " - notable rise"
		case math.Abs(pressureChange) >= 2:
			pressureLine += fmt.Sprintf(" (%+.1fhPa change)", pressureChange)
		}
		lines = append(lines, pressureLine)

		humidityLine := fmt.Sprintf("Humidity: Past 24h %.0f-%.0f%% (avg %.0f%%) → Forecast %.0f-%.0f%% (avg %.0f%%)",
			pastHumMin, pastHumMax, past.MeanHumidity(), fcHumMin, fcHumMax, forecast.MeanHumidity())
		if math.Abs(humidityChange) >= 10 {
			humidityLine += fmt.Sprintf(" (%+.0f%% change)", humidityChange)
		}
		lines = append(lines, humidityLine)

		lines = append(lines, fmt.Sprintf("Precipitation: Past 24h %.1fmm → Forecast %.1fmm",
			past.TotalPrecipitation(), forecast.TotalPrecipitation()))
		return strings.Join(lines, "\n")
	}

	tempNote := ""
	if math.Abs(tempChange) >= 8 {
		tempNote = " (major change)"
	} else if math.Abs(tempChange) >= 5 {
		tempNote = " (significant)"
	}
	pressureNote := ""
	if pressureChange <= -5 {
		pressureNote = " (dropping)"
	} else if pressureChange >= 5 {
		pressureNote = " (rising)"
	}
	return fmt.Sprintf("Past 24h vs Forecast: Temp: %.1f°C → %.1f°C%s | Pressure: %.1f → %.1fhPa%s | Humidity: %.0f%% → %.0f%%",
		past.MeanTemperature(), forecast.MeanTemperature(), tempNote,
		past.MeanPressure(), forecast.MeanPressure(), pressureNote,
		past.MeanHumidity(), forecast.MeanHumidity())
}

func (b ContextBuilder) hourly(forecast types.Window) string {
	n := forecast.Len()
	startTime := forecast.Start().Format("15:04")
	endTime := forecast.End().Format("15:04")

	if !b.Detailed {
		tempMin, tempMax := rangeOf(forecast, func(s types.WeatherSample) float64 { return s.TemperatureC })
		presMin, presMax := rangeOf(forecast, func(s types.WeatherSample) float64 { return s.PressureHPa })
		humMin, humMax := rangeOf(forecast, func(s types.WeatherSample) float64 { return s.HumidityPct })
		return fmt.Sprintf("Forecast (%s): Temp %.1f-%.1f°C, Pressure %.1f-%.1fhPa, Humidity %.0f-%.0f%%, Precip %.1fmm",
			spanDescription(forecast), tempMin, tempMax, presMin, presMax, humMin, humMax, forecast.TotalPrecipitation())
	}

	step := hourlyStep(n)
	sampled := make([]types.WeatherSample, 0, n/step+2)
	for i := 0; i < n; i += step {
		sampled = append(sampled, forecast.Samples[i])
	}
	if last := forecast.Samples[n-1]; sampled[len(sampled)-1].Time != last.Time {
		sampled = append(sampled, last)
	}

	stepDesc := ""
	if step > 1 {
		stepDesc = fmt.Sprintf(", every %dh", step)
	}
	lines := []string{
		fmt.Sprintf("## Forecast (%s-%s UTC, %s%s)", startTime, endTime, hoursDescription(n), stepDesc),
		"Time  | Temp   | Pressure  | Humidity | Precip | Cloud",
		"------|--------|-----------|----------|--------|------",
	}
	for _, s := range sampled {
		timeStr := s.Time.Format("15:04")
		if n > 24 {
			timeStr = s.Time.Format("02 15:04")
		}
		lines = append(lines, fmt.Sprintf("%s | %6s | %9s | %8s | %6s | %5s",
			timeStr,
			fmt.Sprintf("%.1f°C", s.TemperatureC),
			fmt.Sprintf("%.1fhPa", s.PressureHPa),
			fmt.Sprintf("%.0f%%", s.HumidityPct),
			fmt.Sprintf("%.1fmm", s.PrecipitationMM),
			fmt.Sprintf("%.0f%%", s.CloudCoverPct),
		))
	}
	return strings.Join(lines, "\n")
}

func (b ContextBuilder) stability(forecast types.Window) string {
	samples := forecast.Samples
	if len(samples) < 2 {
		return ""
	}

	var maxTempDelta, maxPressureDelta float64
	for i := 1; i < len(samples); i++ {
		if d := math.Abs(samples[i].TemperatureC - samples[i-1].TemperatureC); d > maxTempDelta {
			maxTempDelta = d
		}
		if d := math.Abs(samples[i].PressureHPa - samples[i-1].PressureHPa); d > maxPressureDelta {
			maxPressureDelta = d
		}
	}

	tempStability := "stable"
	if maxTempDelta >= 1.5 {
		tempStability = "variable"
	}
	pressureStability := "stable"
	if maxPressureDelta >= 2 {
		pressureStability = "variable"
	}

	if b.Detailed {
		tempTrend := samples[len(samples)-1].TemperatureC - samples[0].TemperatureC
		pressureTrend := samples[len(samples)-1].PressureHPa - samples[0].PressureHPa
		return strings.Join([]string{
			"## Stability Within Forecast Window",
			fmt.Sprintf("Max hourly temp change: %.1f°C (%s)", maxTempDelta, tempStability),
			fmt.Sprintf("Max hourly pressure change: %.1fhPa (%s)", maxPressureDelta, pressureStability),
			fmt.Sprintf("Overall trend: Temperature %s, pressure %s", trendWord(tempTrend), trendWord(pressureTrend)),
		}, "\n")
	}
	return fmt.Sprintf("Window stability: Δ%.1f°C/hr temp, Δ%.1fhPa/hr pressure (%s)",
		maxTempDelta, maxPressureDelta, tempStability)
}

// outlook summarizes the next 24 hours in 6-hour chunks so the model can
// spot approaching systems outside the assessed window.
func (b ContextBuilder) outlook(w types.Window) string {
	samples := w.Samples
	if len(samples) < 4 {
		return ""
	}
	if len(samples) > 24 {
		samples = samples[:24]
	}

	type chunk struct {
		label                        string
		tempStart, tempEnd, tempAvg  float64
		presStart, presEnd, presAvg  float64
		humidityAvg, precipitation   float64
	}

	const chunkSize = 6
	var chunks []chunk
	for i := 0; i < len(samples); i += chunkSize {
		end := i + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		part := types.Window{Samples: samples[i:end]}
		chunks = append(chunks, chunk{
			label:         fmt.Sprintf("%d-%dh", i, end),
			tempStart:     samples[i].TemperatureC,
			tempEnd:       samples[end-1].TemperatureC,
			tempAvg:       part.MeanTemperature(),
			presStart:     samples[i].PressureHPa,
			presEnd:       samples[end-1].PressureHPa,
			presAvg:       part.MeanPressure(),
			humidityAvg:   part.MeanHumidity(),
			precipitation: part.TotalPrecipitation(),
		})
	}
	if len(chunks) < 2 {
		return ""
	}

	totalPressureChange := chunks[len(chunks)-1].presEnd - chunks[0].presStart
	totalTempChange := chunks[len(chunks)-1].tempEnd - chunks[0].tempStart

	var patterns []string
	switch {
	case totalPressureChange <= -5:
		patterns = append(patterns, "significant pressure drop (possible approaching front)")
	case totalPressureChange <= -3:
		patterns = append(patterns, "moderate pressure drop")
	case totalPressureChange >= 5:
		patterns = append(patterns, "significant pressure rise (clearing conditions)")
	case totalPressureChange >= 3:
		patterns = append(patterns, "moderate pressure rise")
	}
	if math.Abs(totalTempChange) >= 5 {
		direction := "warming"
		if totalTempChange < 0 {
			direction = "cooling"
		}
		magnitude := "notable"
		if math.Abs(totalTempChange) >= 8 {
			magnitude = "major"
		}
		patterns = append(patterns, fmt.Sprintf("%s %s trend (%+.1f°C)", magnitude, direction, totalTempChange))
	}
	for _, ch := range chunks {
		if math.Abs(ch.presEnd-ch.presStart) >= 4 {
			patterns = append(patterns, fmt.Sprintf("rapid pressure change in %s window", ch.label))
			break
		}
	}

	if b.Detailed {
		lines := []string{
			"## 24-Hour Outlook (6-hour chunks)",
			"Period | Temp | Pressure | Humidity | Precip",
			"-------|------|----------|----------|-------",
		}
		for _, ch := range chunks {
			lines = append(lines, fmt.Sprintf("%6s | %10s | %12s | %8s | %6s",
				ch.label,
				fmt.Sprintf("%.0f→%.0f°C", ch.tempStart, ch.tempEnd),
				fmt.Sprintf("%.0f→%.0fhPa", ch.presStart, ch.presEnd),
				fmt.Sprintf("%.0f%%", ch.humidityAvg),
				fmt.Sprintf("%.1fmm", ch.precipitation),
			))
		}
		if len(patterns) > 0 {
			lines = append(lines, "", "24h patterns: "+strings.Join(patterns, "; "))
		}
		return strings.Join(lines, "\n")
	}

	parts := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		indicator := ""
		if d := ch.presEnd - ch.presStart; d <= -2 {
			indicator = "v"
		} else if d >= 2 {
			indicator = "^"
		}
		parts = append(parts, fmt.Sprintf("%s: %.0f°C, %.0fhPa%s", ch.label, ch.tempAvg, ch.presAvg, indicator))
	}
	result := "24h outlook: " + strings.Join(parts, " | ")
	if len(patterns) > 0 {
		result += " [" + patterns[0] + "]"
	}
	return result
}

func (b ContextBuilder) sensitivity(p *types.SensitivityProfile) string {
	named := []struct {
		value float64
		name  string
	}{
		{p.Pressure, "barometric pressure"},
		{p.Temperature, "temperature"},
		{p.Humidity, "humidity"},
		{p.Precipitation, "precipitation"},
		{p.CloudCover, "cloud cover"},
	}

	var high, moderate []string
	for _, s := range named {
		switch {
		case s.value >= 1.5:
			high = append(high, s.name)
		case s.value >= 1.2:
			moderate = append(moderate, s.name)
		}
	}

	if b.Detailed {
		lines := []string{"## User Health Profile"}
		if p.Overall > 1.2 {
			lines = append(lines, "This user has elevated overall sensitivity to weather changes.")
		} else if p.Overall < 0.8 {
			lines = append(lines, "This user has lower than average sensitivity to weather changes.")
		}
		if len(high) > 0 {
			lines = append(lines, "High sensitivity to: "+strings.Join(high, ", "))
		}
		if len(moderate) > 0 {
			lines = append(lines, "Moderate sensitivity to: "+strings.Join(moderate, ", "))
		}
		if len(high) == 0 && len(moderate) == 0 {
			lines = append(lines, "No specific elevated sensitivities reported.")
		}
		return strings.Join(lines, "\n")
	}

	var parts []string
	if len(high) > 0 {
		parts = append(parts, "High: "+strings.Join(high, ", "))
	}
	if len(moderate) > 0 {
		parts = append(parts, "Moderate: "+strings.Join(moderate, ", "))
	}
	if len(parts) == 0 {
		return "User sensitivity: Normal"
	}
	return "User sensitivity: " + strings.Join(parts, "; ")
}

func (b ContextBuilder) history(verdicts []*types.RiskVerdict) string {
	if b.Detailed {
		limit := 5
		if len(verdicts) < limit {
			limit = len(verdicts)
		}
		lines := []string{"## Recent Assessments"}
		for _, v := range verdicts[:limit] {
			lines = append(lines, fmt.Sprintf("%s: %s (%s)",
				v.CreatedAt.Format("Jan 2 15:04"), v.Probability, v.Source))
		}
		return strings.Join(lines, "\n")
	}

	var high, medium, low int
	for _, v := range verdicts {
		switch v.Probability {
		case types.ProbabilityHigh:
			high++
		case types.ProbabilityMedium:
			medium++
		default:
			low++
		}
	}
	var parts []string
	if high > 0 {
		parts = append(parts, fmt.Sprintf("%dH", high))
	}
	if medium > 0 {
		parts = append(parts, fmt.Sprintf("%dM", medium))
	}
	if low > 0 {
		parts = append(parts, fmt.Sprintf("%dL", low))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Recent predictions: " + strings.Join(parts, "/")
}

// --- helpers ---

func seasonFor(now time.Time, latitude float64) string {
	var season string
	switch now.Month() {
	case time.December, time.January, time.February:
		season = "winter"
	case time.March, time.April, time.May:
		season = "spring"
	case time.June, time.July, time.August:
		season = "summer"
	default:
		season = "fall"
	}
	if latitude < 0 {
		flip := map[string]string{"winter": "summer", "summer": "winter", "spring": "fall", "fall": "spring"}
		season = flip[season]
	}
	return season
}

func expectedDiurnalRange(latitude float64, season string) (int, int) {
	absLat := math.Abs(latitude)
	for _, band := range diurnalBands {
		if band.minLat <= absLat && absLat < band.maxLat {
			if r, ok := band.ranges[season]; ok {
				return r[0], r[1]
			}
		}
	}
	return 6, 12
}

func moldRisk(humidity, temperature float64) string {
	switch {
	case humidity >= 80 && temperature >= 10 && temperature <= 30:
		return "High - conditions favor mold growth (high humidity + mild temps)"
	case humidity >= 70 && temperature >= 10 && temperature <= 30:
		return "Elevated - moderate mold growth conditions"
	case humidity >= 60:
		return "Moderate - some mold risk"
	default:
		return "Low - conditions not favorable for mold"
	}
}

func heatingStatus(temperature float64, month time.Month, hemisphere string) string {
	heatingMonths := map[time.Month]bool{
		time.October: true, time.November: true, time.December: true,
		time.January: true, time.February: true, time.March: true,
	}
	if hemisphere == "southern" {
		heatingMonths = map[time.Month]bool{
			time.April: true, time.May: true, time.June: true,
			time.July: true, time.August: true, time.September: true,
		}
	}
	switch {
	case heatingMonths[month] && temperature < 15:
		return "Likely active - may dry indoor air and irritate sinuses"
	case heatingMonths[month]:
		return "Possibly active - monitor indoor humidity"
	default:
		return "Unlikely - not heating season"
	}
}

func timeSpanDescription(startHour, endHour int) string {
	period := func(h int) string {
		switch {
		case h >= 5 && h < 12:
			return "morning"
		case h >= 12 && h < 17:
			return "afternoon"
		case h >= 17 && h < 21:
			return "evening"
		default:
			return "night"
		}
	}
	start, end := period(startHour), period(endHour)
	if start == end {
		return start
	}
	warming := map[string]bool{"night": true, "evening": true}
	cooling := map[string]bool{"morning": true, "afternoon": true}
	switch {
	case cooling[start] && warming[end]:
		return fmt.Sprintf("%s to %s (natural cooling expected)", start, end)
	case warming[start] && cooling[end]:
		return fmt.Sprintf("%s to %s (natural warming expected)", start, end)
	}
	return start + " to " + end
}

func hourlyStep(n int) int {
	switch {
	case n <= 6:
		return 1
	case n <= 12:
		return 2
	case n <= 24:
		return 3
	case n <= 48:
		return 6
	default:
		return 8
	}
}

func hoursDescription(n int) string {
	if n <= 24 {
		return fmt.Sprintf("%dh", n)
	}
	days, rem := n/24, n%24
	if rem > 0 {
		return fmt.Sprintf("%dd %dh", days, rem)
	}
	return fmt.Sprintf("%dd", days)
}

func spanDescription(w types.Window) string {
	n := w.Len()
	if n <= 24 {
		return w.Start().Format("15:04") + "-" + w.End().Format("15:04")
	}
	return fmt.Sprintf("%s-%s (%s)",
		w.Start().Format("02 15:04"), w.End().Format("02 15:04"), hoursDescription(n))
}

func trendWord(v float64) string {
	switch {
	case v > 0.5:
		return "rising"
	case v < -0.5:
		return "falling"
	default:
		return "stable"
	}
}

func rangeOf(w types.Window, f func(types.WeatherSample) float64) (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, s := range w.Samples {
		v := f(s)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func firstWord(s string) string {
	if idx := strings.IndexByte(s, ' '); idx > 0 {
		return s[:idx]
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
