// ABOUTME: Weather adapter backed by the OpenWeather geocoding and forecast APIs
// ABOUTME: Resolves free-text locations to coordinates and summarises the next 24 hours

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultGeocodeURL  = "https://api.openweathermap.org/geo/1.0/direct"
	defaultForecastURL = "https://api.openweathermap.org/data/2.5/forecast"

	// forecastPeriods is 24 hours of 3-hour forecast periods
	forecastPeriods = 8
)

// WeatherRequest names the place to look up. Coordinates, when set, skip geocoding.
type WeatherRequest struct {
	FarmerID    string
	Location    string
	Coordinates *Coordinates
}

// WeatherConfig configures the weather adapter
type WeatherConfig struct {
	GeocodeURL  string
	ForecastURL string
	APIKey      string
	Policy      Policy
}

// WeatherAdapter fetches weather snapshots
type WeatherAdapter struct {
	cfg    WeatherConfig
	client *http.Client
	logger *slog.Logger
}

// NewWeatherAdapter creates a weather adapter. A nil client uses http.DefaultClient.
func NewWeatherAdapter(cfg WeatherConfig, client *http.Client, logger *slog.Logger) *WeatherAdapter {
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = defaultGeocodeURL
	}
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = defaultForecastURL
	}
	if cfg.Policy.Timeout == 0 {
		cfg.Policy.Timeout = DefaultWeatherTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "weather"),
	}
}

type geocodeResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  float64 `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"` // m/s with metric units
		} `json:"wind"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Rain *struct {
			ThreeHour float64 `json:"3h"`
		} `json:"rain,omitempty"`
	} `json:"list"`
}

// Invoke resolves the location and returns current conditions with the 24h rain outlook.
func (w *WeatherAdapter) Invoke(ctx context.Context, req WeatherRequest) (WeatherSnapshot, error) {
	if req.Coordinates == nil && strings.TrimSpace(req.Location) == "" {
		return WeatherSnapshot{}, newError(AdapterWeather, KindLocationNotResolved, fmt.Errorf("no location given"))
	}

	res, err := run(ctx, w.cfg.Policy, AdapterWeather, w.logger, func(ctx context.Context) (WeatherSnapshot, error) {
		return w.call(ctx, req)
	})
	if err != nil {
		w.logger.Warn("weather call failed", "farmer_id", req.FarmerID, "location", req.Location, "kind", KindOf(err), "error", err)
		return WeatherSnapshot{}, err
	}

	w.logger.Debug("weather snapshot",
		"farmer_id", req.FarmerID,
		"location", res.Location,
		"temp_c", res.TempC,
		"precipitation", res.Precipitation)
	return res, nil
}

func (w *WeatherAdapter) call(ctx context.Context, req WeatherRequest) (WeatherSnapshot, error) {
	var place geocodeResult
	if req.Coordinates != nil {
		place = geocodeResult{Name: req.Location, Lat: req.Coordinates.Lat, Lon: req.Coordinates.Lon}
		if place.Name == "" {
			place.Name = fmt.Sprintf("%.2f,%.2f", place.Lat, place.Lon)
		}
	} else {
		var err error
		place, err = w.geocode(ctx, req.Location)
		if err != nil {
			return WeatherSnapshot{}, err
		}
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(place.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(place.Lon, 'f', -1, 64))
	q.Set("appid", w.cfg.APIKey)
	q.Set("units", "metric")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.ForecastURL+"?"+q.Encode(), nil)
	if err != nil {
		return WeatherSnapshot{}, newError(AdapterWeather, KindMalformedResponse, err)
	}
	body, err := doRequest(w.client, AdapterWeather, httpReq, maxResponseBytes)
	if err != nil {
		return WeatherSnapshot{}, err
	}

	var fc forecastResponse
	if err := decodeJSON(AdapterWeather, body, &fc); err != nil {
		return WeatherSnapshot{}, err
	}
	if len(fc.List) == 0 {
		return WeatherSnapshot{}, newError(AdapterWeather, KindMalformedResponse, fmt.Errorf("empty forecast"))
	}

	current := fc.List[0]
	snap := WeatherSnapshot{
		Location:    place.Name,
		Country:     place.Country,
		Coordinates: Coordinates{Lat: place.Lat, Lon: place.Lon},
		TempC:       current.Main.Temp,
		FeelsLikeC:  current.Main.FeelsLike,
		Humidity:    current.Main.Humidity,
		WindKPH:     current.Wind.Speed * 3.6,
		ObservedAt:  time.Unix(current.Dt, 0).UTC(),
	}
	if len(current.Weather) > 0 {
		snap.Description = current.Weather[0].Description
	}

	horizon := fc.List
	if len(horizon) > forecastPeriods {
		horizon = horizon[:forecastPeriods]
	}
	for _, period := range horizon {
		if period.Rain != nil {
			snap.Precipitation = true
			snap.RainMM += period.Rain.ThreeHour
		}
	}

	return snap, nil
}

func (w *WeatherAdapter) geocode(ctx context.Context, location string) (geocodeResult, error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("limit", "1")
	q.Set("appid", w.cfg.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.GeocodeURL+"?"+q.Encode(), nil)
	if err != nil {
		return geocodeResult{}, newError(AdapterWeather, KindMalformedResponse, err)
	}

	body, err := doRequest(w.client, AdapterWeather, httpReq, maxResponseBytes)
	if err != nil {
		if IsKind(err, KindMalformedResponse) {
			// 4xx from the geocoder means the query itself was rejected
			return geocodeResult{}, newError(AdapterWeather, KindLocationNotResolved, err)
		}
		return geocodeResult{}, err
	}

	var results []geocodeResult
	if err := decodeJSON(AdapterWeather, body, &results); err != nil {
		return geocodeResult{}, err
	}
	if len(results) == 0 {
		return geocodeResult{}, newError(AdapterWeather, KindLocationNotResolved, fmt.Errorf("no match for %q", location))
	}
	return results[0], nil
}
