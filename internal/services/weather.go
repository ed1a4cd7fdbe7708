package services

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"

	"lumen/internal/skills"
)

const (
	DefaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
)

// WMO weather interpretation codes.
var wmoCodes = map[int64]string{
	0: "clear sky", 1: "mainly clear", 2: "partly cloudy", 3: "overcast",
	45: "foggy", 48: "depositing rime fog",
	51: "light drizzle", 53: "moderate drizzle", 55: "dense drizzle",
	56: "light freezing drizzle", 57: "dense freezing drizzle",
	61: "slight rain", 63: "moderate rain", 65: "heavy rain",
	66: "light freezing rain", 67: "heavy freezing rain",
	71: "slight snow", 73: "moderate snow", 75: "heavy snow", 77: "snow grains",
	80: "slight rain showers", 81: "moderate rain showers", 82: "violent rain showers",
	85: "slight snow showers", 86: "heavy snow showers",
	95: "thunderstorm", 96: "thunderstorm with slight hail", 99: "thunderstorm with heavy hail",
}

type OpenMeteoConfig struct {
	GeocodeURL  string
	ForecastURL string
	HTTPClient  *http.Client
	CacheSize   int
	CacheTTL    time.Duration
}

type place struct {
	name     string
	lat, lon float64
}

// OpenMeteo reports current conditions. Geocoding results are cached for
// the life of the process, reports for CacheTTL.
type OpenMeteo struct {
	geocodeURL  string
	forecastURL string
	client      *http.Client
	reports     *expirable.LRU[string, string]
	places      *expirable.LRU[string, place]
}

func NewOpenMeteo(cfg OpenMeteoConfig) *OpenMeteo {
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = DefaultGeocodeURL
	}
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &OpenMeteo{
		geocodeURL:  cfg.GeocodeURL,
		forecastURL: cfg.ForecastURL,
		client:      httpClient(cfg.HTTPClient),
		reports:     newCache(size, cfg.CacheTTL),
		places:      expirable.NewLRU[string, place](size, nil, 0),
	}
}

func (o *OpenMeteo) Weather(ctx context.Context, location string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(location))
	if report, ok := o.reports.Get(key); ok {
		return report, nil
	}

	p, err := o.geocode(ctx, key)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(p.lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(p.lon, 'f', 4, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m")
	q.Set("temperature_unit", "celsius")
	q.Set("wind_speed_unit", "kmh")

	body, err := getJSON(ctx, o.client, o.forecastURL+"?"+q.Encode())
	if err != nil {
		return "", fmt.Errorf("forecast %s: %w", p.name, err)
	}

	cur := gjson.GetBytes(body, "current")
	if !cur.Exists() {
		return "", fmt.Errorf("forecast %s: no current conditions", p.name)
	}

	condition, ok := wmoCodes[cur.Get("weather_code").Int()]
	if !ok {
		condition = "unknown conditions"
	}
	report := fmt.Sprintf("Weather in %s: %s°C, %s, humidity %s%%, wind %s km/h.",
		p.name,
		number(cur.Get("temperature_2m")),
		condition,
		number(cur.Get("relative_humidity_2m")),
		number(cur.Get("wind_speed_10m")),
	)

	o.reports.Add(key, report)
	return report, nil
}

func (o *OpenMeteo) geocode(ctx context.Context, key string) (place, error) {
	if p, ok := o.places.Get(key); ok {
		return p, nil
	}

	q := url.Values{}
	q.Set("name", key)
	q.Set("count", "1")
	body, err := getJSON(ctx, o.client, o.geocodeURL+"?"+q.Encode())
	if err != nil {
		return place{}, fmt.Errorf("geocode %q: %w", key, err)
	}

	first := gjson.GetBytes(body, "results.0")
	if !first.Exists() {
		return place{}, fmt.Errorf("%w: %q", skills.ErrUnknownLocation, key)
	}
	p := place{
		name: first.Get("name").String(),
		lat:  first.Get("latitude").Float(),
		lon:  first.Get("longitude").Float(),
	}
	if p.name == "" {
		p.name = key
	}
	log.Debug("Geocoded", "location", key, "name", p.name, "lat", p.lat, "lon", p.lon)

	o.places.Add(key, p)
	return p, nil
}

// number renders a reading without a trailing ".0" and as "?" when absent.
func number(r gjson.Result) string {
	if !r.Exists() {
		return "?"
	}
	return strconv.FormatFloat(r.Float(), 'f', -1, 64)
}
