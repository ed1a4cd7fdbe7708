package skills

import (
	"context"
	log "log/slog"
	"time"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
)

const (
	DefaultWeatherTimeout = 10 * time.Second

	// WeatherApology is spoken for every failed lookup except an unknown place.
	WeatherApology = "Sorry, I couldn't get the weather right now. Please try again in a bit."
)

// Weather reports current conditions. Without a spoken location the default
// one is used; with neither the turn fails as NotFound.
func Weather(w WeatherService, defaultLocation string, timeout time.Duration) intent.Capability {
	if timeout <= 0 {
		timeout = DefaultWeatherTimeout
	}
	defaults := map[string]string{"location": defaultLocation}

	return intent.Capability{
		Name:        NameWeather,
		Description: "Report the current weather for a place",
		Timeout:     timeout,
		Matchers: []intent.Matcher{
			intent.Pattern(`(?:what's|what is|how's|how is) the weather(?: like)?(?: (?:in|for|at) (?P<location>.+?))?(?: today| right now| now)?`, 1, defaults),
			intent.Pattern(`(?:tell me |give me )?the weather(?: report| forecast)?(?: (?:in|for|at) (?P<location>.+?))?`, 0.9, defaults),
			intent.Pattern(`weather(?: (?:in|for|at))? (?P<location>.+)`, 0.8, defaults),
			intent.Pattern(`(?:is it|will it) (?:be )?(?:raining|rain|snowing|snow|sunny|cold|hot|windy)(?: (?:in|at) (?P<location>.+?))?(?: today| now| right now)?`, 0.8, defaults),
		},
		Execute: func(ctx context.Context, p core.Params, _ memory.View) (core.Reply, error) {
			location := p.Get("location")
			if location == "" {
				return core.Reply{}, core.NotFound("no location and no default configured")
			}

			log.Debug("Weather lookup", "location", location)
			report, err := w.Weather(ctx, location)
			if err != nil {
				return core.Reply{}, fail(err, core.KindServiceUnavailable, "weather "+location)
			}
			return core.Reply{Text: report}, nil
		},
		Apologies: map[core.Kind]string{
			core.KindNotFound:           "Sorry, I couldn't find that place. Try naming a city.",
			core.KindTimeout:            WeatherApology,
			core.KindServiceUnavailable: WeatherApology,
			core.KindExecutionFailed:    WeatherApology,
		},
	}
}
