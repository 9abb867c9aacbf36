package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"forewarn/internal/types"
)

// SubscriberRepository provides data access for subscribers and their
// locations. Account management happens elsewhere; this repository only
// reads what the prediction and notification passes need.
type SubscriberRepository struct {
	db DBTX
}

// NewSubscriberRepository creates a SubscriberRepository.
func NewSubscriberRepository(db DBTX) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

const subscriberColumns = `s.id, s.email, s.name, s.locale,
	s.migraine_enabled, s.sinusitis_enabled,
	s.sensitivity_overall, s.sensitivity_temperature, s.sensitivity_humidity,
	s.sensitivity_pressure, s.sensitivity_cloud_cover, s.sensitivity_precipitation,
	s.notifications_enabled, s.notification_mode, s.max_notifications_per_day,
	s.min_hours_between_notifications, s.notification_severity_threshold,
	s.quiet_hours, s.digest_time, s.created_at`

func scanSubscriber(row pgx.Row) (*types.Subscriber, error) {
	var s types.Subscriber
	var profile types.SensitivityProfile
	var hasProfile bool
	var (
		overall, temperature, humidity      *float64
		pressure, cloudCover, precipitation *float64
		quietHours                          []byte
		digestTime                          *string
	)

	err := row.Scan(
		&s.ID,
		&s.Email,
		&s.Name,
		&s.Locale,
		&s.MigraineEnabled,
		&s.SinusitisEnabled,
		&overall,
		&temperature,
		&humidity,
		&pressure,
		&cloudCover,
		&precipitation,
		&s.Notifications.Enabled,
		&s.Notifications.Mode,
		&s.Notifications.MaxPerDay,
		&s.Notifications.MinSpacingHours,
		&s.Notifications.SeverityThreshold,
		&quietHours,
		&digestTime,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// A subscriber without a stored profile gets nil, which downstream
	// adjustment treats as a no-op.
	assign := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
			hasProfile = true
		} else {
			*dst = 1.0
		}
	}
	assign(&profile.Overall, overall)
	assign(&profile.Temperature, temperature)
	assign(&profile.Humidity, humidity)
	assign(&profile.Pressure, pressure)
	assign(&profile.CloudCover, cloudCover)
	assign(&profile.Precipitation, precipitation)
	if hasProfile {
		s.Profile = &profile
	}

	if quietHours != nil {
		s.Notifications.QuietHours = &types.QuietHoursConfig{}
		if err := json.Unmarshal(quietHours, s.Notifications.QuietHours); err != nil {
			return nil, fmt.Errorf("failed to decode quiet hours config: %w", err)
		}
	}
	if digestTime != nil {
		s.Notifications.DigestTime = *digestTime
	}
	return &s, nil
}

// GetByID loads a single subscriber, or nil when not found.
func (r *SubscriberRepository) GetByID(ctx context.Context, id string) (*types.Subscriber, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers s
		WHERE s.id = $1`, id)
	s, err := scanSubscriber(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}
	return s, nil
}

// ListActive returns all subscribers with at least one condition enabled.
func (r *SubscriberRepository) ListActive(ctx context.Context) ([]*types.Subscriber, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers s
		WHERE s.migraine_enabled OR s.sinusitis_enabled
		ORDER BY s.created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var out []*types.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListLocations returns a subscriber's locations ordered by creation time.
func (r *SubscriberRepository) ListLocations(ctx context.Context, subscriberID string) ([]types.Location, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, subscriber_id, city, country, latitude, longitude, timezone, created_at
		FROM locations
		WHERE subscriber_id = $1
		ORDER BY created_at`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var out []types.Location
	for rows.Next() {
		var loc types.Location
		if err := rows.Scan(
			&loc.ID, &loc.SubscriberID, &loc.City, &loc.Country,
			&loc.Latitude, &loc.Longitude, &loc.Timezone, &loc.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}
