package notifications

import (
	"context"
	"time"

	"forewarn/internal/types"
)

// digestTolerance is how far past the configured digest time a pass may
// still fire. Wide enough that a digest whose time fell between two
// scheduler ticks is not silently skipped.
const digestTolerance = 15 * time.Minute

// ProcessDigest runs one digest-mode pass for a subscriber. A digest goes
// out when the subscriber's local clock is within the tolerance window past
// their configured digest time, at most once per calendar day, batching all
// unsent verdicts from the trailing 24 hours that clear the severity
// threshold.
func (e *Engine) ProcessDigest(ctx context.Context, sub types.Subscriber) (bool, error) {
	settings := sub.Notifications
	if !settings.Enabled || settings.Mode != types.ModeDigest {
		return false, nil
	}
	if settings.DigestTime == "" {
		return false, nil
	}

	digestAt, err := parseTimeOfDay(settings.DigestTime)
	if err != nil {
		e.logger.Warn("invalid digest time, skipping",
			"subscriber_id", sub.ID,
			"digest_time", settings.DigestTime,
		)
		return false, nil
	}

	now := e.clock.Now()
	local := now.In(e.subscriberZone(settings))

	// Minutes past the configured time, wrapped around midnight so a
	// 23:55 digest still fires on the 00:05 pass.
	elapsed := (local.Hour()*60 + local.Minute()) - digestAt.toMinutes()
	if elapsed < 0 {
		elapsed += 24 * 60
	}
	if elapsed >= int(digestTolerance.Minutes()) {
		return false, nil
	}

	lock := e.lockFor(sub.ID, "digest")
	lock.Lock()
	defer lock.Unlock()

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	alreadySent, err := e.log.DigestSentSince(ctx, sub.ID, dayStart)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check digest history", err)
	}
	if alreadySent {
		return false, nil
	}

	pending, err := e.verdicts.UnnotifiedForSubscriber(ctx, sub.ID, now.Add(-lookbackWindow))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to load digest verdicts", err)
	}

	threshold := settings.SeverityThreshold
	if !threshold.Valid() {
		threshold = types.ProbabilityMedium
	}

	var batch []*types.RiskVerdict
	locationID := ""
	for _, v := range pending {
		if !sub.ConditionEnabled(v.Condition) {
			continue
		}
		if !v.Probability.AtLeast(threshold) {
			continue
		}
		batch = append(batch, v)
		if locationID == "" {
			locationID = v.LocationID
		}
	}
	if len(batch) == 0 {
		return false, nil
	}

	return e.deliver(ctx, sub, types.Location{ID: locationID}, types.DeliveryDigest, batch)
}

// subscriberZone resolves the timezone a digest subscriber's clock runs in:
// the quiet-hours timezone when configured, UTC otherwise.
func (e *Engine) subscriberZone(settings types.NotificationSettings) *time.Location {
	if settings.QuietHours != nil && settings.QuietHours.Timezone != "" {
		if loc, err := time.LoadLocation(settings.QuietHours.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}
