package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forewarn/internal/types"
)

var renderWindowStart = time.Date(2026, 4, 7, 13, 0, 0, 0, time.UTC)

func renderSubscriber() types.Subscriber {
	return types.Subscriber{
		ID:    "sub-1",
		Email: "ana@example.com",
		Name:  "Ana",
	}
}

func renderLocation() types.Location {
	return types.Location{ID: "loc-1", City: "Porto", Country: "Portugal"}
}

func migraineVerdict() *types.RiskVerdict {
	return &types.RiskVerdict{
		ID:          "v-1",
		Condition:   types.ConditionMigraine,
		Probability: types.ProbabilityHigh,
		WindowStart: renderWindowStart,
		WindowEnd:   renderWindowStart.Add(3 * time.Hour),
		Scores: types.FactorScores{
			types.FactorPressureChange:    0.9,
			types.FactorTemperatureChange: 0.6,
			types.FactorCloudCover:        0.3,
		},
		Remote: &types.RemoteDetail{
			AnalysisText:   "A sharp pressure drop is expected this afternoon.",
			PreventionTips: []string{"Stay hydrated", "Avoid bright light"},
		},
	}
}

func sinusitisVerdict() *types.RiskVerdict {
	return &types.RiskVerdict{
		ID:          "v-2",
		Condition:   types.ConditionSinusitis,
		Probability: types.ProbabilityMedium,
		WindowStart: renderWindowStart,
		WindowEnd:   renderWindowStart.Add(3 * time.Hour),
		Scores:      types.FactorScores{types.FactorHumidityExtreme: 0.7},
	}
}

func TestRender_SingleAlert(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := types.AlertPayload{
		Kind:     types.DeliveryAlert,
		Location: renderLocation(),
		Verdicts: []*types.RiskVerdict{migraineVerdict()},
	}
	require.NoError(t, r.Render(renderSubscriber(), &payload))

	assert.Equal(t, "Migraine Alert for Porto", payload.Subject)
	assert.Contains(t, payload.Body, "Hi Ana,")
	assert.Contains(t, payload.Body, "Migraine risk: HIGH")
	assert.Contains(t, payload.Body, "Apr 7 13:00 to 16:00 UTC")
	assert.Contains(t, payload.Body, "A sharp pressure drop is expected this afternoon.")
	assert.Contains(t, payload.Body, "- Stay hydrated")
	assert.Contains(t, payload.Body, "- Avoid bright light")
	// Drivers are strongest first and below-threshold factors are dropped.
	assert.Contains(t, payload.Body, "Main drivers: pressure change, temperature change")
	assert.NotContains(t, payload.Body, "cloud cover")
}

func TestRender_CombinedAlert(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := types.AlertPayload{
		Kind:     types.DeliveryAlert,
		Location: renderLocation(),
		Verdicts: []*types.RiskVerdict{migraineVerdict(), sinusitisVerdict()},
	}
	require.NoError(t, r.Render(renderSubscriber(), &payload))

	assert.Equal(t, "Migraine and Sinusitis Alert for Porto", payload.Subject)
	assert.Contains(t, payload.Body, "Migraine risk: HIGH")
	assert.Contains(t, payload.Body, "Sinusitis risk: MEDIUM")
}

func TestRender_Digest(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := types.AlertPayload{
		Kind:     types.DeliveryDigest,
		Verdicts: []*types.RiskVerdict{migraineVerdict(), sinusitisVerdict()},
	}
	require.NoError(t, r.Render(renderSubscriber(), &payload))

	assert.Equal(t, "Your Daily Health Digest", payload.Subject)
	assert.Contains(t, payload.Body, "daily health outlook")
	assert.Contains(t, payload.Body, "Migraine: HIGH")
	assert.Contains(t, payload.Body, "Sinusitis: MEDIUM")
	assert.Contains(t, payload.Body, "once per day")
}

func TestRender_NamelessSubscriberGetsGenericGreeting(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	sub := renderSubscriber()
	sub.Name = ""
	payload := types.AlertPayload{
		Kind:     types.DeliveryAlert,
		Location: renderLocation(),
		Verdicts: []*types.RiskVerdict{sinusitisVerdict()},
	}
	require.NoError(t, r.Render(sub, &payload))
	assert.Contains(t, payload.Body, "Hi there,")
}

func TestRender_DeterministicVerdictHasNoSummaryOrTips(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := types.AlertPayload{
		Kind:     types.DeliveryAlert,
		Location: renderLocation(),
		Verdicts: []*types.RiskVerdict{sinusitisVerdict()},
	}
	require.NoError(t, r.Render(renderSubscriber(), &payload))

	assert.Equal(t, "Sinusitis Alert for Porto", payload.Subject)
	assert.NotContains(t, payload.Body, "What may help:")
	assert.Contains(t, payload.Body, "Main drivers: humidity extreme")
}

func TestRender_EmptyVerdictsRejected(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := types.AlertPayload{Kind: types.DeliveryAlert}
	assert.Error(t, r.Render(renderSubscriber(), &payload))
}
