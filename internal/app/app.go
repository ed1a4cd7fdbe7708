// Package app assembles the assistant from a Config. The binaries add the
// input and output devices.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"

	"lumen/internal/assistant"
	"lumen/internal/bus"
	"lumen/internal/config"
	"lumen/internal/intent"
	"lumen/internal/llm"
	"lumen/internal/memory"
	"lumen/internal/proxy"
	"lumen/internal/services"
	"lumen/internal/skills"
	"lumen/internal/telemetry"
)

// Devices are the pieces that differ per binary.
type Devices struct {
	Listener assistant.Listener
	Speaker  assistant.Speaker
	// Bus is required by the bus messaging backend.
	Bus *bus.Client
	// MetricsOut receives periodic metric dumps when metrics are enabled.
	MetricsOut io.Writer
	// Completer replaces the OpenAI-compatible client, mainly for tests.
	Completer llm.Completer
	// Launcher replaces the process launcher, mainly for tests.
	Launcher skills.Launcher
}

type App struct {
	Session    *assistant.Session
	Dispatcher *assistant.Dispatcher
	Registry   *intent.Registry
	Memory     *memory.Store

	closers []func(context.Context) error
}

// Build wires every component. A fact store that cannot be loaded is an
// error; the caller should treat it as fatal.
func Build(ctx context.Context, cfg *config.Config, dev Devices) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	backend, err := openBackend(cfg.Memory)
	if err != nil {
		return nil, err
	}
	a.Memory, err = memory.Open(ctx, backend, memory.Options{
		HistorySize:  cfg.Memory.History,
		FlushOnWrite: cfg.Memory.FlushOnWrite,
	})
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, fmt.Errorf("open memory: %w", err)
	}
	a.closers = append(a.closers, a.Memory.Close)

	var recorder assistant.Recorder
	if cfg.Memory.Transcript != "" {
		tr, err := memory.OpenTranscript(cfg.Memory.Transcript)
		if err != nil {
			return nil, err
		}
		recorder = tr
		a.closers = append(a.closers, func(context.Context) error { return tr.Close() })
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		out := dev.MetricsOut
		if out == nil {
			out = io.Discard
		}
		shutdown, err := telemetry.SetupStdoutMetrics(out, cfg.Metrics.Interval)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
		if metrics, err = telemetry.NewMetrics(); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	httpClient, err := proxy.NewHTTPClient(cfg.LLM.Proxy, 0)
	if err != nil {
		return nil, err
	}

	deps, err := skillDeps(cfg, dev, httpClient)
	if err != nil {
		return nil, err
	}
	a.Registry = intent.NewRegistry()
	for _, c := range skills.Builtins(deps) {
		if err := a.Registry.Register(c); err != nil {
			return nil, err
		}
	}
	a.Registry.Seal()
	log.Info("Capabilities registered", "count", a.Registry.Len())

	completer := dev.Completer
	if completer == nil {
		completer = llm.NewClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			HTTPClient:  httpClient,
		})
	}
	fallback := assistant.NewFallback(completer, assistant.FallbackConfig{
		Preamble:       cfg.LLM.Preamble,
		PromptTurns:    cfg.Memory.PromptTurns,
		Timeout:        cfg.LLM.Timeout,
		Retries:        cfg.LLM.Retries,
		InitialBackoff: cfg.LLM.BackoffInitial,
		MaxBackoff:     cfg.LLM.BackoffMax,
	})

	a.Dispatcher = assistant.NewDispatcher(a.Registry, intent.NewResolver(cfg.Intent.MinScore), fallback, a.Memory,
		assistant.DispatcherConfig{
			ExecTimeout: cfg.Dispatch.ExecTimeout,
			Metrics:     metrics,
			Recorder:    recorder,
		})

	if dev.Listener != nil && dev.Speaker != nil {
		a.Session = assistant.NewSession(a.Dispatcher, dev.Listener, dev.Speaker, assistant.SessionConfig{
			WakePhrase:    cfg.Session.WakePhrase,
			SleepTimeout:  cfg.Session.SleepTimeout,
			SpeechTimeout: cfg.Session.SpeechTimeout,
		})
	}
	return a, nil
}

func openBackend(cfg config.MemoryConfig) (memory.Backend, error) {
	switch cfg.Backend {
	case "json":
		return memory.NewJSONFile(cfg.Path), nil
	case "sqlite":
		db, err := memory.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory: %w", err)
		}
		return db, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
}

func skillDeps(cfg *config.Config, dev Devices, client *http.Client) (skills.Deps, error) {
	catalog := skills.DefaultCatalog()
	if cfg.Apps.Catalog != "" {
		var err error
		if catalog, err = skills.LoadCatalog(cfg.Apps.Catalog); err != nil {
			return skills.Deps{}, err
		}
	}

	deps := skills.Deps{
		Launcher:        dev.Launcher,
		Catalog:         catalog,
		DefaultLocation: cfg.Weather.DefaultLocation,
		SearchTimeout:   cfg.Search.Timeout,
		WeatherTimeout:  cfg.Weather.Timeout,
	}
	if deps.Launcher == nil {
		deps.Launcher = services.NewProcessLauncher(catalog.Commands(), cfg.Apps.Opener, cfg.Apps.LaunchGrace)
	}

	switch cfg.Messaging.Backend {
	case "discord":
		d, err := services.NewDiscord(services.DiscordConfig{
			Token:      cfg.Messaging.DiscordToken,
			Contacts:   cfg.Messaging.Contacts,
			HTTPClient: client,
		})
		if err != nil {
			return skills.Deps{}, err
		}
		deps.Messenger = d
	case "bus":
		if dev.Bus == nil {
			return skills.Deps{}, errors.New("messaging backend bus needs a bus connection")
		}
		names := make([]string, 0, len(cfg.Messaging.Contacts))
		for name := range cfg.Messaging.Contacts {
			names = append(names, name)
		}
		deps.Messenger = services.NewBusMessenger(dev.Bus, cfg.Messaging.Shard, names)
	}

	if cfg.Search.Enabled {
		deps.Searcher = services.NewDuckDuckGo(services.DuckDuckGoConfig{
			BaseURL:     cfg.Search.BaseURL,
			HTTPClient:  client,
			CacheTTL:    cfg.Search.CacheTTL,
			MinInterval: cfg.Search.MinInterval,
		})
	}
	if cfg.Weather.Enabled {
		deps.Weather = services.NewOpenMeteo(services.OpenMeteoConfig{
			GeocodeURL:  cfg.Weather.GeocodeURL,
			ForecastURL: cfg.Weather.ForecastURL,
			HTTPClient:  client,
			CacheTTL:    cfg.Weather.CacheTTL,
		})
	}
	return deps, nil
}

// Close releases everything Build opened, newest first. The fact store is
// flushed on the way.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
