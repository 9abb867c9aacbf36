// Package notifications implements the delivery policy engine: per-day
// caps, minimum spacing, quiet hours, combined alerts for co-occurring
// conditions, and the daily digest mode.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"forewarn/internal/types"
)

// lookbackWindow bounds how far back a policy pass considers unsent
// verdicts. Anything older is stale weather and not worth alerting on.
const lookbackWindow = 24 * time.Hour

// Engine applies subscriber notification settings to unsent verdicts and
// drives delivery. Counting, sending, and flag flipping are serialized per
// subscriber-location so concurrent passes cannot double-send past a cap.
type Engine struct {
	verdicts types.VerdictStore
	log      types.DeliveryLog
	sender   types.Sender
	clock    types.Clock
	logger   types.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine builds a policy engine.
func NewEngine(verdicts types.VerdictStore, log types.DeliveryLog, sender types.Sender, clock types.Clock, logger types.Logger) *Engine {
	return &Engine{
		verdicts: verdicts,
		log:      log,
		sender:   sender,
		clock:    clock,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(subscriberID, locationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := subscriberID + "/" + locationID
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// ProcessImmediate runs one immediate-mode policy pass for a
// subscriber-location. It returns true when a delivery went out.
//
// The pass is deliberately conservative: any throttling rule that matches
// leaves the verdicts unsent, so the next pass reconsiders them. Only a
// confirmed successful send flips notification_sent.
func (e *Engine) ProcessImmediate(ctx context.Context, sub types.Subscriber, loc types.Location) (bool, error) {
	settings := sub.Notifications
	if !settings.Enabled || settings.Mode != types.ModeImmediate {
		return false, nil
	}
	if settings.MaxPerDay <= 0 {
		return false, nil
	}

	lock := e.lockFor(sub.ID, loc.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock.Now()

	pending, err := e.verdicts.LatestUnnotified(ctx, sub.ID, loc.ID, now.Add(-lookbackWindow))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to load pending verdicts", err)
	}

	eligible := e.eligibleVerdicts(sub, pending)
	if len(eligible) == 0 {
		return false, nil
	}

	// Quiet hours defer rather than drop: the verdicts stay unsent and the
	// next pass after the window retries them. Evaluation errors fail open.
	active, resumeAt, err := quietHoursActive(settings.QuietHours, now)
	if err != nil {
		e.logger.Error("quiet hours evaluation failed, delivering anyway",
			"subscriber_id", sub.ID,
			"error", err,
		)
	} else if active {
		e.logger.Info("delivery deferred by quiet hours",
			"subscriber_id", sub.ID,
			"location_id", loc.ID,
			"resume_at", resumeAt.Format(time.RFC3339),
		)
		return false, nil
	}

	dayStart := e.localMidnight(now, loc, settings)
	sentToday, err := e.log.CountSent(ctx, sub.ID, loc.ID, dayStart)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to count deliveries", err)
	}
	if sentToday >= settings.MaxPerDay {
		e.logger.Info("delivery suppressed by daily cap",
			"subscriber_id", sub.ID,
			"location_id", loc.ID,
			"sent_today", sentToday,
			"max_per_day", settings.MaxPerDay,
		)
		return false, nil
	}

	if settings.MinSpacingHours > 0 {
		lastAt, err := e.log.LastSentAt(ctx, sub.ID, loc.ID)
		if err != nil {
			return false, types.NewAppError(types.ErrCodeInternalDB, "failed to load last delivery time", err)
		}
		if lastAt != nil {
			spacing := time.Duration(settings.MinSpacingHours) * time.Hour
			if now.Sub(*lastAt) < spacing {
				e.logger.Info("delivery suppressed by minimum spacing",
					"subscriber_id", sub.ID,
					"location_id", loc.ID,
					"last_sent_at", lastAt.Format(time.RFC3339),
					"min_spacing_hours", settings.MinSpacingHours,
				)
				return false, nil
			}
		}
	}

	// Both conditions merge into a single delivery so the subscriber never
	// gets two emails for the same weather.
	return e.deliver(ctx, sub, loc, types.DeliveryAlert, eligible)
}

// eligibleVerdicts filters the pending map down to verdicts worth alerting
// on, in stable condition order.
func (e *Engine) eligibleVerdicts(sub types.Subscriber, pending map[types.Condition]*types.RiskVerdict) []*types.RiskVerdict {
	var out []*types.RiskVerdict
	for _, cond := range types.AllConditions {
		v := pending[cond]
		if v == nil || v.NotificationSent {
			continue
		}
		if !sub.ConditionEnabled(cond) {
			continue
		}
		if !v.Probability.AtLeast(types.ProbabilityMedium) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// deliver sends, then flips flags and records the outcome. Failures leave
// every verdict unsent (at-least-once delivery).
func (e *Engine) deliver(ctx context.Context, sub types.Subscriber, loc types.Location, kind types.DeliveryKind, verdicts []*types.RiskVerdict) (bool, error) {
	ids := make([]string, len(verdicts))
	for i, v := range verdicts {
		ids[i] = v.ID
	}

	payload := types.AlertPayload{Kind: kind, Location: loc, Verdicts: verdicts}
	now := e.clock.Now()

	if err := e.sender.Send(ctx, sub, payload); err != nil {
		rec := &types.DeliveryRecord{
			ID:           uuid.New().String(),
			SubscriberID: sub.ID,
			LocationID:   loc.ID,
			Kind:         kind,
			Status:       types.DeliveryFailed,
			VerdictIDs:   ids,
			Detail:       err.Error(),
			SentAt:       now,
		}
		if recErr := e.log.Record(ctx, rec); recErr != nil {
			e.logger.Error("failed to record delivery failure", "error", recErr)
		}
		return false, types.NewAppError(types.ErrCodeDeliveryFailed, "delivery failed, verdicts left pending", err)
	}

	if err := e.verdicts.MarkNotified(ctx, ids); err != nil {
		// The send went out but the flag flip failed. The verdicts may be
		// re-sent on the next pass, which is the at-least-once trade-off.
		e.logger.Error("delivery sent but flag update failed",
			"subscriber_id", sub.ID,
			"verdict_ids", ids,
			"error", err,
		)
	}

	rec := &types.DeliveryRecord{
		ID:           uuid.New().String(),
		SubscriberID: sub.ID,
		LocationID:   loc.ID,
		Kind:         kind,
		Status:       types.DeliverySent,
		VerdictIDs:   ids,
		SentAt:       now,
	}
	if err := e.log.Record(ctx, rec); err != nil {
		e.logger.Error("failed to record delivery", "error", err)
	}

	e.logger.Info("notification delivered",
		"subscriber_id", sub.ID,
		"location_id", loc.ID,
		"kind", string(kind),
		"verdicts", len(ids),
	)
	return true, nil
}

// localMidnight resolves the start of the subscriber's current calendar day
// for daily-cap counting. The location timezone wins, then the quiet-hours
// timezone, then UTC.
func (e *Engine) localMidnight(now time.Time, loc types.Location, settings types.NotificationSettings) time.Time {
	tz := loc.Timezone
	if tz == "" && settings.QuietHours != nil {
		tz = settings.QuietHours.Timezone
	}
	location := time.UTC
	if tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			location = parsed
		} else {
			e.logger.Warn("invalid timezone for daily cap, using UTC", "timezone", tz)
		}
	}
	local := now.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
}
