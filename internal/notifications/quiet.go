package notifications

import (
	"fmt"
	"strings"
	"time"

	"forewarn/internal/types"
)

// quietHoursActive reports whether now falls inside any configured quiet
// period, and when delivery may resume. Errors are returned so the caller
// can fail open; a suppression feature must never turn into an outage.
func quietHoursActive(config *types.QuietHoursConfig, now time.Time) (bool, time.Time, error) {
	if config == nil || !config.Enabled || len(config.Schedule) == 0 {
		return false, time.Time{}, nil
	}

	tz := config.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	local := now.In(loc)
	currentDay := strings.ToLower(local.Weekday().String())

	for _, period := range config.Schedule {
		if !dayMatches(period.Days, currentDay) {
			continue
		}
		start, err := parseTimeOfDay(period.Start)
		if err != nil {
			return false, time.Time{}, fmt.Errorf("invalid quiet hours start %q: %w", period.Start, err)
		}
		end, err := parseTimeOfDay(period.End)
		if err != nil {
			return false, time.Time{}, fmt.Errorf("invalid quiet hours end %q: %w", period.End, err)
		}
		if in, resumeAt := isInQuietPeriod(local, start, end); in {
			return true, resumeAt, nil
		}
	}
	return false, time.Time{}, nil
}

// timeOfDay is a wall-clock time with hour and minute components.
type timeOfDay struct {
	hour   int
	minute int
}

func (t timeOfDay) toMinutes() int {
	return t.hour*60 + t.minute
}

// parseTimeOfDay parses a "HH:MM" string.
func parseTimeOfDay(s string) (timeOfDay, error) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return timeOfDay{}, fmt.Errorf("expected HH:MM format, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return timeOfDay{}, fmt.Errorf("time out of range: %q", s)
	}
	return timeOfDay{hour: h, minute: m}, nil
}

// dayMatches checks if the current day name appears in the day list,
// case-insensitively. An empty list matches every day.
func dayMatches(days []string, currentDay string) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if strings.EqualFold(d, currentDay) {
			return true
		}
	}
	return false
}

// isInQuietPeriod checks whether now falls within the period, handling
// overnight spans like 22:00-08:00. Returns the time the period ends.
func isInQuietPeriod(now time.Time, start, end timeOfDay) (bool, time.Time) {
	nowMinutes := now.Hour()*60 + now.Minute()
	startMinutes := start.toMinutes()
	endMinutes := end.toMinutes()

	endToday := time.Date(now.Year(), now.Month(), now.Day(), end.hour, end.minute, 0, 0, now.Location())

	if startMinutes <= endMinutes {
		// Same-day period (e.g. 09:00-17:00).
		if nowMinutes >= startMinutes && nowMinutes < endMinutes {
			return true, endToday
		}
		return false, time.Time{}
	}

	// Overnight period (e.g. 22:00-08:00).
	if nowMinutes >= startMinutes {
		// Before midnight; the period ends tomorrow.
		return true, endToday.AddDate(0, 0, 1)
	}
	if nowMinutes < endMinutes {
		return true, endToday
	}
	return false, time.Time{}
}
