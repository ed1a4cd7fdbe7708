// Package skills holds the built-in capabilities. Each constructor takes the
// collaborator it delegates to; the collaborators themselves live in
// internal/services.
package skills

import (
	"context"
	"errors"
	"time"

	"lumen/internal/core"
	"lumen/internal/intent"
)

const (
	NameAppLauncher = "app_launcher"
	NameOpenFolder  = "open_folder"
	NameMessaging   = "messaging"
	NameWebSearch   = "web_search"
	NameWeather     = "weather"
	NameDateTime    = "date_time"
	NameRemember    = "remember"
)

var (
	ErrUnknownTarget    = errors.New("unknown launch target")
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrUnknownLocation  = errors.New("unknown location")
	ErrNoResults        = errors.New("no results")
)

type Launcher interface {
	Launch(ctx context.Context, target string) error
}

type Messenger interface {
	SendMessage(ctx context.Context, recipient, body string) error
}

type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type WeatherService interface {
	Weather(ctx context.Context, location string) (string, error)
}

// Deps wires the built-ins. A nil collaborator leaves its capability out,
// so those utterances reach the conversational fallback instead.
type Deps struct {
	Launcher  Launcher
	Messenger Messenger
	Searcher  Searcher
	Weather   WeatherService
	Catalog   *Catalog

	DefaultLocation string
	SearchTimeout   time.Duration
	WeatherTimeout  time.Duration
	Now             func() time.Time
}

// Builtins returns the built-in capabilities in registration order. Broad
// matchers go last so ties favor the specific ones.
func Builtins(d Deps) []intent.Capability {
	if d.Catalog == nil {
		d.Catalog = DefaultCatalog()
	}

	var caps []intent.Capability
	if d.Launcher != nil {
		caps = append(caps, AppLauncher(d.Launcher, d.Catalog), OpenFolder(d.Launcher, d.Catalog))
	}
	if d.Messenger != nil {
		caps = append(caps, Messaging(d.Messenger))
	}
	if d.Weather != nil {
		caps = append(caps, Weather(d.Weather, d.DefaultLocation, d.WeatherTimeout))
	}
	caps = append(caps, DateTime(d.Now), Remember())
	if d.Searcher != nil {
		caps = append(caps, WebSearch(d.Searcher, d.SearchTimeout))
	}
	return caps
}

// fail converts a collaborator error into an ActionError. Lookup sentinels
// from this package become NotFound, context errors keep their meaning and
// anything else gets kind. ErrUnknownTarget is left to kind: a launch that
// cannot resolve its target has failed to execute.
func fail(err error, kind core.Kind, detail string) error {
	var ae *core.ActionError
	if errors.As(err, &ae) {
		return ae
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.Timeout(detail, err)
	case errors.Is(err, context.Canceled):
		return core.NewActionError(core.KindCancelled, detail, err)
	case errors.Is(err, ErrUnknownRecipient),
		errors.Is(err, ErrUnknownLocation),
		errors.Is(err, ErrNoResults):
		return core.NewActionError(core.KindNotFound, detail, err)
	}
	return core.NewActionError(kind, detail, err)
}
