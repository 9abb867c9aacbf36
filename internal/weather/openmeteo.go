// Package weather fetches hourly forecast windows from the Open-Meteo API.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"forewarn/internal/types"
)

const (
	// hourlyTimeLayout is Open-Meteo's hourly timestamp format when
	// timezone=UTC is requested.
	hourlyTimeLayout = "2006-01-02T15:04"

	defaultTimeout = 15 * time.Second
)

// hourlyParams are the variables requested from the hourly endpoint. Order
// matters only for URL stability in tests.
var hourlyParams = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"surface_pressure",
	"wind_speed_10m",
	"precipitation",
	"cloud_cover",
}

// Client talks to the Open-Meteo forecast API. Forecast fetches are plain
// GETs with no retry; a failed fetch surfaces as an upstream weather error
// and the caller skips the location until the next pass.
type Client struct {
	baseURL string
	http    *http.Client
	clock   types.Clock
	log     types.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates an Open-Meteo client. baseURL points at the forecast
// endpoint, e.g. "https://api.open-meteo.com/v1/forecast".
func NewClient(baseURL string, clock types.Clock, log types.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		clock:   clock,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetWindow returns hourly samples for loc covering the interval
// [now+startHours, now+endHours], inclusive on both ends.
func (c *Client) GetWindow(ctx context.Context, loc types.Location, startHours, endHours int) (types.Window, error) {
	now := c.clock.Now()
	from := now.Add(time.Duration(startHours) * time.Hour)
	to := now.Add(time.Duration(endHours) * time.Hour)

	forecastDays := endHours/24 + 1
	samples, err := c.fetchHourly(ctx, loc, forecastDays, 0)
	if err != nil {
		return types.Window{}, err
	}
	return windowBetween(samples, from, to), nil
}

// GetComparisonWindow returns hourly samples for loc covering the interval
// [before-hours, before]. Open-Meteo serves recent history on the forecast
// endpoint through the past_hours parameter.
func (c *Client) GetComparisonWindow(ctx context.Context, loc types.Location, before time.Time, hours int) (types.Window, error) {
	now := c.clock.Now()
	from := before.Add(-time.Duration(hours) * time.Hour)

	pastHours := int(now.Sub(from).Hours()) + 1
	if pastHours < 0 {
		pastHours = 0
	}
	samples, err := c.fetchHourly(ctx, loc, 1, pastHours)
	if err != nil {
		return types.Window{}, err
	}
	return windowBetween(samples, from, before), nil
}

func (c *Client) fetchHourly(ctx context.Context, loc types.Location, forecastDays, pastHours int) ([]types.WeatherSample, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("hourly", strings.Join(hourlyParams, ","))
	q.Set("forecast_days", fmt.Sprintf("%d", forecastDays))
	q.Set("timezone", "UTC")
	if pastHours > 0 {
		q.Set("past_hours", fmt.Sprintf("%d", pastHours))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build weather request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "weather request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to read weather response", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("weather fetch failed",
			"status", resp.StatusCode, "location", loc.Label())
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather,
			fmt.Sprintf("weather API returned status %d", resp.StatusCode), nil)
	}

	var decoded forecastResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to decode weather response", err)
	}
	return decoded.samples()
}

type forecastResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature   []float64 `json:"temperature_2m"`
		Humidity      []float64 `json:"relative_humidity_2m"`
		Pressure      []float64 `json:"surface_pressure"`
		WindSpeed     []float64 `json:"wind_speed_10m"`
		Precipitation []float64 `json:"precipitation"`
		CloudCover    []float64 `json:"cloud_cover"`
	} `json:"hourly"`
}

func (r *forecastResponse) samples() ([]types.WeatherSample, error) {
	h := r.Hourly
	n := len(h.Time)
	if len(h.Temperature) != n || len(h.Humidity) != n || len(h.Pressure) != n ||
		len(h.WindSpeed) != n || len(h.Precipitation) != n || len(h.CloudCover) != n {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "weather response has mismatched hourly series", nil)
	}

	out := make([]types.WeatherSample, 0, n)
	for i, ts := range h.Time {
		at, err := time.Parse(hourlyTimeLayout, ts)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamWeather,
				fmt.Sprintf("weather response has invalid timestamp %q", ts), err)
		}
		out = append(out, types.WeatherSample{
			Time:            at.UTC(),
			TemperatureC:    h.Temperature[i],
			HumidityPct:     h.Humidity[i],
			PressureHPa:     h.Pressure[i],
			WindSpeedKmh:    h.WindSpeed[i],
			PrecipitationMM: h.Precipitation[i],
			CloudCoverPct:   h.CloudCover[i],
		})
	}
	return out, nil
}

func windowBetween(samples []types.WeatherSample, from, to time.Time) types.Window {
	var kept []types.WeatherSample
	for _, s := range samples {
		if !s.Time.Before(from) && !s.Time.After(to) {
			kept = append(kept, s)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Time.Before(kept[j].Time) })
	return types.Window{Samples: kept}
}
