// Command lumen runs the assistant on the terminal, or as a shard on the
// websocket bus. With --hub it also serves the bus itself.
package main

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"lumen/internal/app"
	"lumen/internal/bus"
	"lumen/internal/config"
	"lumen/internal/listen"
	"lumen/internal/telemetry"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "YAML config file")
	logLevel := cli.StringP("log", "l", "", "Log level, overrides the config")
	onBus := cli.BoolP("bus", "b", false, "Run as a bus shard instead of on the terminal")
	hubAddr := cli.String("hub", "", "Serve the bus on this address, e.g. :8092")
	cli.Parse()

	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	// The terminal belongs to the conversation; logs go to stderr.
	telemetry.SetupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *onBus, *hubAddr); err != nil {
		log.Error("Exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, onBus bool, hubAddr string) error {
	g, ctx := errgroup.WithContext(ctx)

	if hubAddr != "" {
		hub := bus.NewHub()
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: hubAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("Serving bus", "addr", hubAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	dev := app.Devices{MetricsOut: os.Stderr}
	var onStop func()
	if onBus {
		client, err := bus.Dial(ctx, bus.Config{
			Shard:     cfg.Bus.Shard,
			URL:       cfg.Bus.URL,
			Reconnect: cfg.Bus.Reconnect,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		g.Go(func() error { return client.Run(ctx) })

		dev.Bus = client
		dev.Listener = bus.NewListener(client, nil, func() { onStop() })
		dev.Speaker = bus.NewSpeaker(client, cfg.Bus.SpeakTo)
	} else {
		console := listen.NewConsole(os.Stdin, os.Stdout, "> ")
		dev.Listener, dev.Speaker = console, console
	}

	a, err := app.Build(ctx, cfg, dev)
	if err != nil {
		return err
	}
	onStop = func() { a.Session.Interrupt() }

	g.Go(func() error {
		defer func() {
			if err := a.Close(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Shutdown", "err", err)
			}
		}()
		err := a.Session.Run(ctx)
		if !onBus && hubAddr != "" {
			// Keep serving the hub after the terminal closed.
			<-ctx.Done()
		}
		return err
	})
	return g.Wait()
}
