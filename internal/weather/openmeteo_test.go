package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forewarn/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

var weatherNow = time.Date(2026, 4, 7, 10, 0, 0, 0, time.UTC)

var testLocation = types.Location{
	ID:        "loc-1",
	City:      "Porto",
	Country:   "Portugal",
	Latitude:  41.1496,
	Longitude: -8.611,
	Timezone:  "Europe/Lisbon",
}

// hourlyBody builds an Open-Meteo style response with one sample per hour
// starting at the given instant.
func hourlyBody(start time.Time, hours int) map[string]any {
	times := make([]string, hours)
	temps := make([]float64, hours)
	hums := make([]float64, hours)
	press := make([]float64, hours)
	winds := make([]float64, hours)
	precips := make([]float64, hours)
	clouds := make([]float64, hours)
	for i := 0; i < hours; i++ {
		times[i] = start.Add(time.Duration(i) * time.Hour).Format(hourlyTimeLayout)
		temps[i] = 15 + float64(i)
		hums[i] = 60
		press[i] = 1010 - float64(i)
		winds[i] = 10
		precips[i] = 0.2
		clouds[i] = 50
	}
	return map[string]any{
		"hourly": map[string]any{
			"time":                 times,
			"temperature_2m":       temps,
			"relative_humidity_2m": hums,
			"surface_pressure":     press,
			"wind_speed_10m":       winds,
			"precipitation":        precips,
			"cloud_cover":          clouds,
		},
	}
}

func TestGetWindow_FiltersToRequestedHours(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		json.NewEncoder(w).Encode(hourlyBody(weatherNow.Add(-2*time.Hour), 24))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, fixedClock{weatherNow}, nopLogger{})
	window, err := client.GetWindow(context.Background(), testLocation, 3, 6)
	require.NoError(t, err)

	// 13:00 through 16:00 inclusive.
	require.Equal(t, 4, window.Len())
	assert.Equal(t, weatherNow.Add(3*time.Hour), window.Start())
	assert.Equal(t, weatherNow.Add(6*time.Hour), window.End())

	assert.Equal(t, "41.1496", gotQuery["latitude"])
	assert.Equal(t, "-8.6110", gotQuery["longitude"])
	assert.Equal(t, "UTC", gotQuery["timezone"])
	assert.Equal(t, "1", gotQuery["forecast_days"])
	assert.Contains(t, gotQuery["hourly"], "surface_pressure")
	assert.Contains(t, gotQuery["hourly"], "cloud_cover")
}

func TestGetWindow_SamplesCarryAllFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(hourlyBody(weatherNow, 8))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, fixedClock{weatherNow}, nopLogger{})
	window, err := client.GetWindow(context.Background(), testLocation, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 3, window.Len())

	first := window.Samples[0]
	assert.Equal(t, 15.0, first.TemperatureC)
	assert.Equal(t, 60.0, first.HumidityPct)
	assert.Equal(t, 1010.0, first.PressureHPa)
	assert.Equal(t, 10.0, first.WindSpeedKmh)
	assert.Equal(t, 0.2, first.PrecipitationMM)
	assert.Equal(t, 50.0, first.CloudCoverPct)
}

func TestGetComparisonWindow_RequestsPastHours(t *testing.T) {
	var pastHours string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pastHours = r.URL.Query().Get("past_hours")
		json.NewEncoder(w).Encode(hourlyBody(weatherNow.Add(-12*time.Hour), 16))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, fixedClock{weatherNow}, nopLogger{})
	before := weatherNow.Add(3 * time.Hour)
	window, err := client.GetComparisonWindow(context.Background(), testLocation, before, 6)
	require.NoError(t, err)

	// [before-6h, before] = [07:00, 13:00], seven hourly samples.
	require.Equal(t, 7, window.Len())
	assert.Equal(t, before.Add(-6*time.Hour), window.Start())
	assert.Equal(t, before, window.End())
	assert.NotEmpty(t, pastHours)
}

func TestGetWindow_NoOverlapYieldsEmptyWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(hourlyBody(weatherNow.Add(48*time.Hour), 4))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, fixedClock{weatherNow}, nopLogger{})
	window, err := client.GetWindow(context.Background(), testLocation, 3, 6)
	require.NoError(t, err)
	assert.True(t, window.Empty())
}

func TestGetWindow_UpstreamErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, fixedClock{weatherNow}, nopLogger{})
	_, err := client.GetWindow(context.Background(), testLocation, 3, 6)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamWeather, appErr.Code)
}

func TestGetWindow_MismatchedSeriesRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := hourlyBody(weatherNow, 4)
		hourly := body["hourly"].(map[string]any)
		hourly["surface_pressure"] = []float64{1010}
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, fixedClock{weatherNow}, nopLogger{})
	_, err := client.GetWindow(context.Background(), testLocation, 0, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched")
}
