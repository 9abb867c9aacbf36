package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forewarn/internal/observability"
	"forewarn/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

var schedulerNow = time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	subscribers []*types.Subscriber
	locations   map[string][]types.Location
}

func (d *fakeDirectory) ListActive(context.Context) ([]*types.Subscriber, error) {
	return d.subscribers, nil
}

func (d *fakeDirectory) ListLocations(_ context.Context, subscriberID string) ([]types.Location, error) {
	return d.locations[subscriberID], nil
}

type fakeWeather struct {
	mu          sync.Mutex
	forecast    types.Window
	forecastErr error
	comparison  types.Window
	compareErr  error
	fetches     int
}

func (w *fakeWeather) GetWindow(_ context.Context, _ types.Location, _, _ int) (types.Window, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fetches++
	if w.forecastErr != nil {
		return types.Window{}, w.forecastErr
	}
	return w.forecast, nil
}

func (w *fakeWeather) GetComparisonWindow(_ context.Context, _ types.Location, _ time.Time, _ int) (types.Window, error) {
	if w.compareErr != nil {
		return types.Window{}, w.compareErr
	}
	return w.comparison, nil
}

type predictCall struct {
	cond       types.Condition
	comparison types.Window
}

type fakePredictor struct {
	mu    sync.Mutex
	calls []predictCall
	err   error
}

func (p *fakePredictor) Predict(
	_ context.Context,
	sub types.Subscriber,
	loc types.Location,
	cond types.Condition,
	forecast, comparison, _ types.Window,
	_ []*types.RiskVerdict,
) (*types.RiskVerdict, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, predictCall{cond: cond, comparison: comparison})
	if p.err != nil {
		return nil, p.err
	}
	return &types.RiskVerdict{
		ID:           "v-" + string(cond) + "-" + loc.ID,
		SubscriberID: sub.ID,
		LocationID:   loc.ID,
		Condition:    cond,
		Probability:  types.ProbabilityHigh,
		Source:       types.SourceRemote,
		WindowStart:  forecast.Start(),
		WindowEnd:    forecast.End(),
		CreatedAt:    schedulerNow,
	}, nil
}

type memVerdicts struct {
	mu       sync.Mutex
	inserted []*types.RiskVerdict
}

func (m *memVerdicts) Insert(_ context.Context, v *types.RiskVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, v)
	return nil
}

func (m *memVerdicts) LatestUnnotified(context.Context, string, string, time.Time) (map[types.Condition]*types.RiskVerdict, error) {
	return nil, nil
}

func (m *memVerdicts) UnnotifiedForSubscriber(context.Context, string, time.Time) ([]*types.RiskVerdict, error) {
	return nil, nil
}

func (m *memVerdicts) History(context.Context, string, string, types.Condition, int) ([]*types.RiskVerdict, error) {
	return nil, nil
}

func (m *memVerdicts) MarkNotified(context.Context, []string) error { return nil }

type fakeNotifier struct {
	mu         sync.Mutex
	immediate  []string
	digests    []string
	sent       bool
	processErr error
}

func (n *fakeNotifier) ProcessImmediate(_ context.Context, sub types.Subscriber, loc types.Location) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.immediate = append(n.immediate, sub.ID+"/"+loc.ID)
	return n.sent, n.processErr
}

func (n *fakeNotifier) ProcessDigest(_ context.Context, sub types.Subscriber) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, sub.ID)
	return n.sent, n.processErr
}

type fakeRetention struct {
	cutoff  time.Time
	deleted int64
}

func (r *fakeRetention) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.cutoff = cutoff
	return r.deleted, nil
}

func forecastWindow() types.Window {
	samples := make([]types.WeatherSample, 4)
	for i := range samples {
		samples[i] = types.WeatherSample{
			Time:         schedulerNow.Add(time.Duration(3+i) * time.Hour),
			TemperatureC: 20,
			HumidityPct:  60,
			PressureHPa:  1010,
		}
	}
	return types.Window{Samples: samples}
}

type fixture struct {
	runner    *Runner
	dir       *fakeDirectory
	weather   *fakeWeather
	predictor *fakePredictor
	verdicts  *memVerdicts
	notifier  *fakeNotifier
	vRet      *fakeRetention
	dRet      *fakeRetention
	metrics   *observability.Metrics
}

func newFixture() *fixture {
	sub := &types.Subscriber{
		ID:               "sub-1",
		Email:            "ana@example.com",
		MigraineEnabled:  true,
		SinusitisEnabled: true,
	}
	f := &fixture{
		dir: &fakeDirectory{
			subscribers: []*types.Subscriber{sub},
			locations: map[string][]types.Location{
				"sub-1": {
					{ID: "loc-1", SubscriberID: "sub-1", City: "Porto"},
					{ID: "loc-2", SubscriberID: "sub-1", City: "Braga"},
				},
			},
		},
		weather:   &fakeWeather{forecast: forecastWindow()},
		predictor: &fakePredictor{},
		verdicts:  &memVerdicts{},
		notifier:  &fakeNotifier{},
		vRet:      &fakeRetention{deleted: 3},
		dRet:      &fakeRetention{},
		metrics:   observability.NewMetricsForTesting(),
	}
	f.runner = NewRunner(
		Config{},
		f.dir, f.weather, f.predictor, f.verdicts, f.notifier,
		f.vRet, f.dRet,
		f.metrics, fixedClock{schedulerNow}, nopLogger{},
	)
	return f
}

func TestPredictionPass_CoversEveryLocationAndCondition(t *testing.T) {
	f := newFixture()

	f.runner.RunPredictionPass(context.Background())

	// Two locations, two conditions each.
	assert.Len(t, f.predictor.calls, 4)
	assert.Len(t, f.verdicts.inserted, 4)
	assert.ElementsMatch(t, []string{"sub-1/loc-1", "sub-1/loc-2"}, f.notifier.immediate)

	count := testutil.ToFloat64(f.metrics.PredictionsTotal.WithLabelValues("migraine", "remote", "HIGH"))
	assert.Equal(t, 2.0, count)
}

func TestPredictionPass_WeatherFailureSkipsLocation(t *testing.T) {
	f := newFixture()
	f.weather.forecastErr = errors.New("upstream down")

	f.runner.RunPredictionPass(context.Background())

	assert.Empty(t, f.predictor.calls)
	assert.Empty(t, f.verdicts.inserted)
	assert.Empty(t, f.notifier.immediate)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.WeatherFetchErrors))
}

func TestPredictionPass_ComparisonFailureToleratedWithEmptyWindow(t *testing.T) {
	f := newFixture()
	f.weather.compareErr = errors.New("no history")

	f.runner.RunPredictionPass(context.Background())

	require.NotEmpty(t, f.predictor.calls)
	for _, call := range f.predictor.calls {
		assert.True(t, call.comparison.Empty())
	}
	assert.Len(t, f.verdicts.inserted, 4)
}

func TestPredictionPass_DisabledConditionSkipped(t *testing.T) {
	f := newFixture()
	f.dir.subscribers[0].SinusitisEnabled = false

	f.runner.RunPredictionPass(context.Background())

	assert.Len(t, f.predictor.calls, 2)
	for _, call := range f.predictor.calls {
		assert.Equal(t, types.ConditionMigraine, call.cond)
	}
}

func TestPredictionPass_PredictorErrorDoesNotAbortPass(t *testing.T) {
	f := newFixture()
	f.predictor.err = errors.New("boom")

	f.runner.RunPredictionPass(context.Background())

	assert.Empty(t, f.verdicts.inserted)
	// Delivery policy still runs so earlier pending verdicts can go out.
	assert.Len(t, f.notifier.immediate, 2)
	errs := testutil.ToFloat64(f.metrics.PredictionErrors.WithLabelValues("migraine"))
	assert.Equal(t, 2.0, errs)
}

func TestPredictionPass_SuccessfulDeliveryCounted(t *testing.T) {
	f := newFixture()
	f.notifier.sent = true

	f.runner.RunPredictionPass(context.Background())

	sent := testutil.ToFloat64(f.metrics.DeliveriesTotal.WithLabelValues("alert", "sent"))
	assert.Equal(t, 2.0, sent)
}

func TestDigestPass_CallsEverySubscriber(t *testing.T) {
	f := newFixture()
	f.notifier.sent = true

	f.runner.RunDigestPass(context.Background())

	assert.Equal(t, []string{"sub-1"}, f.notifier.digests)
	sent := testutil.ToFloat64(f.metrics.DeliveriesTotal.WithLabelValues("digest", "sent"))
	assert.Equal(t, 1.0, sent)
}

func TestCleanup_UsesRetentionCutoff(t *testing.T) {
	f := newFixture()

	f.runner.RunCleanup(context.Background())

	wantCutoff := schedulerNow.AddDate(0, 0, -7)
	assert.Equal(t, wantCutoff, f.vRet.cutoff)
	assert.Equal(t, wantCutoff, f.dRet.cutoff)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.VerdictsPurged))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 2*time.Hour, cfg.PredictionInterval)
	assert.Equal(t, 15*time.Minute, cfg.DigestInterval)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 3, cfg.LeadStartHours)
	assert.Equal(t, 6, cfg.LeadEndHours)
	assert.Equal(t, 6, cfg.ComparisonHours)
	assert.Equal(t, 24, cfg.OutlookHours)
	assert.Equal(t, 8, cfg.Concurrency)
}
