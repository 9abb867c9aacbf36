package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"forewarn/internal/types"
)

// VerdictRepository provides data access for the risk_verdicts table. It
// implements types.VerdictStore.
type VerdictRepository struct {
	db DBTX
}

// NewVerdictRepository creates a VerdictRepository backed by the given
// connection (pool or transaction).
func NewVerdictRepository(db DBTX) *VerdictRepository {
	return &VerdictRepository{db: db}
}

const verdictColumns = `v.id, v.subscriber_id, v.location_id, v.condition, v.probability,
	v.window_start, v.window_end, v.scores, v.weights, v.source, v.total,
	v.remote, v.notification_sent, v.created_at`

func scanVerdict(row pgx.Row) (*types.RiskVerdict, error) {
	var v types.RiskVerdict
	var scores, weights []byte
	var remote []byte

	err := row.Scan(
		&v.ID,
		&v.SubscriberID,
		&v.LocationID,
		&v.Condition,
		&v.Probability,
		&v.WindowStart,
		&v.WindowEnd,
		&scores,
		&weights,
		&v.Source,
		&v.Total,
		&remote,
		&v.NotificationSent,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(scores, &v.Scores); err != nil {
		return nil, fmt.Errorf("failed to decode verdict scores: %w", err)
	}
	if err := json.Unmarshal(weights, &v.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode verdict weights: %w", err)
	}
	if remote != nil {
		v.Remote = &types.RemoteDetail{}
		if err := json.Unmarshal(remote, v.Remote); err != nil {
			return nil, fmt.Errorf("failed to decode verdict remote detail: %w", err)
		}
	}
	return &v, nil
}

// Insert persists a new verdict.
func (r *VerdictRepository) Insert(ctx context.Context, v *types.RiskVerdict) error {
	scores, err := json.Marshal(v.Scores)
	if err != nil {
		return fmt.Errorf("failed to encode verdict scores: %w", err)
	}
	weights, err := json.Marshal(v.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode verdict weights: %w", err)
	}
	var remote []byte
	if v.Remote != nil {
		remote, err = json.Marshal(v.Remote)
		if err != nil {
			return fmt.Errorf("failed to encode verdict remote detail: %w", err)
		}
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO risk_verdicts (
			id, subscriber_id, location_id, condition, probability,
			window_start, window_end, scores, weights, source, total,
			remote, notification_sent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		v.ID, v.SubscriberID, v.LocationID, v.Condition, v.Probability,
		v.WindowStart, v.WindowEnd, scores, weights, v.Source, v.Total,
		remote, v.NotificationSent, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verdict: %w", err)
	}
	return nil
}

// LatestUnnotified returns, per condition, the most recent unsent verdict at
// MEDIUM or above for the subscriber-location created since the given time.
func (r *VerdictRepository) LatestUnnotified(ctx context.Context, subscriberID, locationID string, since time.Time) (map[types.Condition]*types.RiskVerdict, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (v.condition) `+verdictColumns+`
		FROM risk_verdicts v
		WHERE v.subscriber_id = $1
		  AND v.location_id = $2
		  AND v.created_at >= $3
		  AND v.notification_sent = FALSE
		  AND v.probability IN ('MEDIUM', 'HIGH')
		ORDER BY v.condition, v.created_at DESC`,
		subscriberID, locationID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending verdicts: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Condition]*types.RiskVerdict)
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		out[v.Condition] = v
	}
	return out, rows.Err()
}

// UnnotifiedForSubscriber returns all unsent verdicts across the
// subscriber's locations created since the given time, newest first.
func (r *VerdictRepository) UnnotifiedForSubscriber(ctx context.Context, subscriberID string, since time.Time) ([]*types.RiskVerdict, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+verdictColumns+`
		FROM risk_verdicts v
		WHERE v.subscriber_id = $1
		  AND v.created_at >= $2
		  AND v.notification_sent = FALSE
		ORDER BY v.created_at DESC`,
		subscriberID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest verdicts: %w", err)
	}
	defer rows.Close()

	return collectVerdicts(rows)
}

// History returns the most recent verdicts for a subscriber-location and
// condition, newest first.
func (r *VerdictRepository) History(ctx context.Context, subscriberID, locationID string, cond types.Condition, limit int) ([]*types.RiskVerdict, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+verdictColumns+`
		FROM risk_verdicts v
		WHERE v.subscriber_id = $1
		  AND v.location_id = $2
		  AND v.condition = $3
		ORDER BY v.created_at DESC
		LIMIT $4`,
		subscriberID, locationID, cond, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdict history: %w", err)
	}
	defer rows.Close()

	return collectVerdicts(rows)
}

// MarkNotified flips notification_sent for the given verdicts.
func (r *VerdictRepository) MarkNotified(ctx context.Context, verdictIDs []string) error {
	if len(verdictIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE risk_verdicts
		SET notification_sent = TRUE
		WHERE id = ANY($1)`,
		verdictIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to mark verdicts notified: %w", err)
	}
	return nil
}

// DeleteOlderThan removes verdicts created before the cutoff. Used by the
// retention job; returns the number of rows removed.
func (r *VerdictRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM risk_verdicts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old verdicts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectVerdicts(rows pgx.Rows) ([]*types.RiskVerdict, error) {
	var out []*types.RiskVerdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
