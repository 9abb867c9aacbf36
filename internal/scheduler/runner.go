// Package scheduler drives the periodic prediction, digest, and retention
// passes.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"forewarn/internal/observability"
	"forewarn/internal/types"
)

// historyLimit caps how many prior verdicts are handed to the classifier as
// context.
const historyLimit = 5

// SubscriberDirectory lists the subscribers and locations a pass covers.
type SubscriberDirectory interface {
	ListActive(ctx context.Context) ([]*types.Subscriber, error)
	ListLocations(ctx context.Context, subscriberID string) ([]types.Location, error)
}

// ConditionPredictor assesses one condition for one subscriber-location.
// Satisfied by risk.Predictor.
type ConditionPredictor interface {
	Predict(
		ctx context.Context,
		sub types.Subscriber,
		loc types.Location,
		cond types.Condition,
		forecast, comparison, outlook types.Window,
		history []*types.RiskVerdict,
	) (*types.RiskVerdict, error)
}

// Notifier applies delivery policy after a pass. Satisfied by
// notifications.Engine.
type Notifier interface {
	ProcessImmediate(ctx context.Context, sub types.Subscriber, loc types.Location) (bool, error)
	ProcessDigest(ctx context.Context, sub types.Subscriber) (bool, error)
}

// RetentionStore removes rows older than a cutoff. Satisfied by the verdict
// and delivery repositories.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds scheduler cadence and fan-out settings.
type Config struct {
	PredictionInterval time.Duration
	DigestInterval     time.Duration
	CleanupInterval    time.Duration
	RetentionDays      int

	// Forecast geometry: predictions target [now+LeadStartHours,
	// now+LeadEndHours], compared against the ComparisonHours immediately
	// before the window, with an OutlookHours forward view for the prompt.
	LeadStartHours  int
	LeadEndHours    int
	ComparisonHours int
	OutlookHours    int

	// Concurrency bounds the number of locations processed in parallel.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.PredictionInterval <= 0 {
		c.PredictionInterval = 2 * time.Hour
	}
	if c.DigestInterval <= 0 {
		c.DigestInterval = 15 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 24 * time.Hour
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
	if c.LeadStartHours <= 0 {
		c.LeadStartHours = 3
	}
	if c.LeadEndHours <= c.LeadStartHours {
		c.LeadEndHours = c.LeadStartHours + 3
	}
	if c.ComparisonHours <= 0 {
		c.ComparisonHours = 6
	}
	if c.OutlookHours <= 0 {
		c.OutlookHours = 24
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// Runner executes the periodic passes.
type Runner struct {
	cfg       Config
	subs      SubscriberDirectory
	weather   types.WindowSource
	predictor ConditionPredictor
	verdicts  types.VerdictStore
	notifier  Notifier
	metrics   *observability.Metrics
	clock     types.Clock
	log       types.Logger

	verdictRetention  RetentionStore
	deliveryRetention RetentionStore
}

// NewRunner wires a scheduler.
func NewRunner(
	cfg Config,
	subs SubscriberDirectory,
	weather types.WindowSource,
	predictor ConditionPredictor,
	verdicts types.VerdictStore,
	notifier Notifier,
	verdictRetention, deliveryRetention RetentionStore,
	metrics *observability.Metrics,
	clock types.Clock,
	log types.Logger,
) *Runner {
	return &Runner{
		cfg:               cfg.withDefaults(),
		subs:              subs,
		weather:           weather,
		predictor:         predictor,
		verdicts:          verdicts,
		notifier:          notifier,
		verdictRetention:  verdictRetention,
		deliveryRetention: deliveryRetention,
		metrics:           metrics,
		clock:             clock,
		log:               log,
	}
}

// Run blocks until the context is canceled, firing passes on their tickers.
// A prediction pass runs immediately on startup so a fresh deploy does not
// wait a full interval before assessing anyone.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("scheduler started",
		"prediction_interval", r.cfg.PredictionInterval.String(),
		"digest_interval", r.cfg.DigestInterval.String(),
		"concurrency", r.cfg.Concurrency,
	)

	predict := time.NewTicker(r.cfg.PredictionInterval)
	defer predict.Stop()
	digest := time.NewTicker(r.cfg.DigestInterval)
	defer digest.Stop()
	cleanup := time.NewTicker(r.cfg.CleanupInterval)
	defer cleanup.Stop()

	r.RunPredictionPass(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("scheduler stopping")
			return ctx.Err()
		case <-predict.C:
			r.RunPredictionPass(ctx)
		case <-digest.C:
			r.RunDigestPass(ctx)
		case <-cleanup.C:
			r.RunCleanup(ctx)
		}
	}
}

// RunPredictionPass assesses every active subscriber-location once. Failures
// are contained per location; one broken upstream never aborts the pass.
func (r *Runner) RunPredictionPass(ctx context.Context) {
	r.metrics.SchedulerPassActive.Set(1)
	defer r.metrics.SchedulerPassActive.Set(0)
	started := time.Now()
	defer func() {
		r.metrics.PassDuration.Observe(time.Since(started).Seconds())
	}()

	subscribers, err := r.subs.ListActive(ctx)
	if err != nil {
		r.log.Error("failed to list subscribers, skipping pass", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, sub := range subscribers {
		locations, err := r.subs.ListLocations(ctx, sub.ID)
		if err != nil {
			r.log.Error("failed to list locations, skipping subscriber",
				"subscriber_id", sub.ID, "error", err)
			continue
		}
		for _, loc := range locations {
			sub, loc := sub, loc
			g.Go(func() error {
				r.processLocation(gctx, *sub, loc)
				return nil
			})
		}
	}
	g.Wait()

	r.log.Info("prediction pass complete",
		"subscribers", len(subscribers),
		"duration", time.Since(started).String(),
	)
}

func (r *Runner) processLocation(ctx context.Context, sub types.Subscriber, loc types.Location) {
	forecast, err := r.weather.GetWindow(ctx, loc, r.cfg.LeadStartHours, r.cfg.LeadEndHours)
	if err != nil {
		r.metrics.WeatherFetchErrors.Inc()
		r.log.Warn("forecast fetch failed, skipping location",
			"location", loc.Label(), "error", err)
		return
	}
	if forecast.Empty() {
		r.log.Warn("forecast window empty, skipping location", "location", loc.Label())
		return
	}

	// Comparison and outlook windows are best effort: a missing comparison
	// zeroes the delta factors, a missing outlook just thins the prompt.
	comparison, err := r.weather.GetComparisonWindow(ctx, loc, forecast.Start(), r.cfg.ComparisonHours)
	if err != nil {
		r.log.Warn("comparison fetch failed, using empty window",
			"location", loc.Label(), "error", err)
		comparison = types.Window{}
	}
	outlook, err := r.weather.GetWindow(ctx, loc, 0, r.cfg.OutlookHours)
	if err != nil {
		outlook = types.Window{}
	}

	for _, cond := range types.AllConditions {
		if !sub.ConditionEnabled(cond) {
			continue
		}

		history, err := r.verdicts.History(ctx, sub.ID, loc.ID, cond, historyLimit)
		if err != nil {
			r.log.Warn("history load failed, predicting without it",
				"location", loc.Label(), "condition", string(cond), "error", err)
			history = nil
		}

		v, err := r.predictor.Predict(ctx, sub, loc, cond, forecast, comparison, outlook, history)
		if err != nil {
			r.metrics.PredictionErrors.WithLabelValues(string(cond)).Inc()
			r.log.Error("prediction failed",
				"subscriber_id", sub.ID, "location_id", loc.ID,
				"condition", string(cond), "error", err)
			continue
		}
		if v == nil {
			continue
		}

		if err := r.verdicts.Insert(ctx, v); err != nil {
			r.metrics.PredictionErrors.WithLabelValues(string(cond)).Inc()
			r.log.Error("verdict insert failed",
				"subscriber_id", sub.ID, "condition", string(cond), "error", err)
			continue
		}

		r.metrics.PredictionsTotal.WithLabelValues(
			string(v.Condition), string(v.Source), string(v.Probability)).Inc()
		if v.Source == types.SourceDeterministic && v.Remote != nil && v.Remote.Failure != "" {
			r.metrics.RemoteFailures.Inc()
		}
	}

	sent, err := r.notifier.ProcessImmediate(ctx, sub, loc)
	if err != nil {
		r.metrics.DeliveriesTotal.WithLabelValues(string(types.DeliveryAlert), "failed").Inc()
		r.log.Error("immediate delivery failed",
			"subscriber_id", sub.ID, "location_id", loc.ID, "error", err)
		return
	}
	if sent {
		r.metrics.DeliveriesTotal.WithLabelValues(string(types.DeliveryAlert), "sent").Inc()
	}
}

// RunDigestPass gives every digest-mode subscriber a chance to fire.
func (r *Runner) RunDigestPass(ctx context.Context) {
	subscribers, err := r.subs.ListActive(ctx)
	if err != nil {
		r.log.Error("failed to list subscribers for digest pass", "error", err)
		return
	}

	for _, sub := range subscribers {
		sent, err := r.notifier.ProcessDigest(ctx, *sub)
		if err != nil {
			r.metrics.DeliveriesTotal.WithLabelValues(string(types.DeliveryDigest), "failed").Inc()
			r.log.Error("digest delivery failed", "subscriber_id", sub.ID, "error", err)
			continue
		}
		if sent {
			r.metrics.DeliveriesTotal.WithLabelValues(string(types.DeliveryDigest), "sent").Inc()
		}
	}
}

// RunCleanup purges verdicts and delivery records past the retention window.
func (r *Runner) RunCleanup(ctx context.Context) {
	cutoff := r.clock.Now().AddDate(0, 0, -r.cfg.RetentionDays)

	purged, err := r.verdictRetention.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.log.Error("verdict cleanup failed", "error", err)
	} else if purged > 0 {
		r.metrics.VerdictsPurged.Add(float64(purged))
		r.log.Info("old verdicts purged", "count", purged)
	}

	if _, err := r.deliveryRetention.DeleteOlderThan(ctx, cutoff); err != nil {
		r.log.Error("delivery log cleanup failed", "error", err)
	}
}
