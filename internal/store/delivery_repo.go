package store

import (
	"context"
	"fmt"
	"time"

	"forewarn/internal/types"
)

// DeliveryRepository provides data access for the delivery_log table. It
// implements types.DeliveryLog; the policy engine's cap, spacing, and digest
// dedup queries all run against this table.
type DeliveryRepository struct {
	db DBTX
}

// NewDeliveryRepository creates a DeliveryRepository.
func NewDeliveryRepository(db DBTX) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Record inserts one delivery outcome.
func (r *DeliveryRepository) Record(ctx context.Context, rec *types.DeliveryRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO delivery_log (
			id, subscriber_id, location_id, kind, status, verdict_ids, detail, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SubscriberID, rec.LocationID, rec.Kind, rec.Status,
		rec.VerdictIDs, rec.Detail, rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// CountSent returns the number of successful deliveries to the
// subscriber-location since the given instant.
func (r *DeliveryRepository) CountSent(ctx context.Context, subscriberID, locationID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM delivery_log
		WHERE subscriber_id = $1
		  AND location_id = $2
		  AND status = 'sent'
		  AND sent_at >= $3`,
		subscriberID, locationID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}

// LastSentAt returns the time of the most recent successful delivery to the
// subscriber-location, or nil when none exists.
func (r *DeliveryRepository) LastSentAt(ctx context.Context, subscriberID, locationID string) (*time.Time, error) {
	var last *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(sent_at)
		FROM delivery_log
		WHERE subscriber_id = $1
		  AND location_id = $2
		  AND status = 'sent'`,
		subscriberID, locationID,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to load last delivery time: %w", err)
	}
	return last, nil
}

// DigestSentSince reports whether a digest delivery succeeded for the
// subscriber since the given instant.
func (r *DeliveryRepository) DigestSentSince(ctx context.Context, subscriberID string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_log
			WHERE subscriber_id = $1
			  AND kind = 'digest'
			  AND status = 'sent'
			  AND sent_at >= $2
		)`,
		subscriberID, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check digest history: %w", err)
	}
	return exists, nil
}

// DeleteOlderThan removes delivery records older than the cutoff.
func (r *DeliveryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM delivery_log WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old delivery records: %w", err)
	}
	return tag.RowsAffected(), nil
}
