// Command lumen-daemon is the voice front end: microphone, whisper and
// espeak-ng around the assistant, controlled through a unix socket.
package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"lumen/internal/app"
	"lumen/internal/assistant"
	"lumen/internal/audio"
	"lumen/internal/audio/pulse"
	"lumen/internal/config"
	"lumen/internal/ipc"
	"lumen/internal/listen"
	"lumen/internal/notify"
	"lumen/internal/telemetry"
	"lumen/internal/tts"
	"lumen/pkg/audioconv"
	"lumen/pkg/stt"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "YAML config file")
	logLevel := cli.StringP("log", "l", "", "Log level, overrides the config")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for the language model")
	continuous := cli.Bool("continuous", false, "Record continuously instead of waiting for a trigger")
	replay := cli.StringSlice("replay", nil, "Transcribe these audio files instead of using the microphone")
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
	if *proxyAddr != "" {
		cfg.LLM.Proxy = *proxyAddr
	}
	telemetry.SetupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *continuous, *replay); err != nil {
		log.Error("Exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, continuous bool, replay []string) error {
	whisper, err := stt.NewTranscriber(cfg.STT.Model, stt.Options{
		Language: cfg.STT.Language,
		Threads:  cfg.STT.Threads,
	})
	if err != nil {
		return fmt.Errorf("init whisper: %w", err)
	}
	defer whisper.Close()
	log.Debug("Loaded whisper", "model", cfg.STT.Model)

	engine, err := tts.OpenEspeak(cfg.Speech.Voice, cfg.Speech.Rate)
	if err != nil {
		return fmt.Errorf("init espeak: %w", err)
	}
	defer engine.Close()

	speechCfg := tts.Config{DuckFactor: cfg.Speech.DuckFactor, Fade: cfg.Speech.Fade}
	if cfg.Speech.Duck {
		speechCfg.Ducker = pulse.NewDucker([]string{"lumen", "espeak-ng"}, cfg.Speech.DuckFloor)
	}
	speaker := tts.NewSpeaker(engine, speechCfg)

	trigger := make(chan struct{}, 1)
	var listener assistant.Listener
	if len(replay) > 0 {
		decode := func(ctx context.Context, path string) ([]float32, error) {
			return audioconv.DecodeFile(ctx, path, audioconv.Options{MaxSeconds: cfg.Audio.MaxLength.Seconds()})
		}
		listener = listen.NewReplay(replay, decode, whisper)
	} else {
		rec, err := audio.NewRecorder(audio.VAD{
			Threshold: cfg.Audio.Threshold,
			Silence:   cfg.Audio.Silence,
			MaxLength: cfg.Audio.MaxLength,
		})
		if err != nil {
			return fmt.Errorf("init audio: %w", err)
		}
		defer rec.Close()

		earcon := notify.NewEarcon(cfg.Speech.Earcon)
		micCfg := listen.MicConfig{
			BeforeRecord: func() {
				if err := earcon.Play(ctx); err != nil {
					log.Debug("Earcon failed", "err", err)
				}
			},
			NoSpeech: audio.ErrNoSpeech,
		}
		if !continuous {
			micCfg.Trigger = trigger
		}
		listener = listen.NewMic(rec, whisper, micCfg)
	}

	a, err := app.Build(ctx, cfg, app.Devices{Listener: listener, Speaker: speaker, MetricsOut: os.Stdout})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Shutdown", "err", err)
		}
	}()
	log.Info("Boot up - successful")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ipc.Serve(ctx, cfg.IPC.Socket, func(ctx context.Context, msg ipc.ControlMessage) error {
			return control(ctx, a.Session, trigger, msg.Cmd)
		})
	})
	g.Go(func() error {
		if err := a.Session.Run(ctx); err != nil || len(replay) == 0 {
			return err
		}
		// Replays end on their own; take the control socket down with them.
		return errDone
	})
	if err := g.Wait(); !errors.Is(err, errDone) {
		return err
	}
	return nil
}

var errDone = errors.New("replay finished")

func control(ctx context.Context, s *assistant.Session, trigger chan<- struct{}, cmd string) error {
	switch cmd {
	case ipc.CmdTrigger:
		s.Interrupt()
		select {
		case trigger <- struct{}{}:
			if err := notify.Desktop(ctx, "lumen", "Listening..."); err != nil {
				log.Debug("Notification failed", "err", err)
			}
		default:
			return errors.New("already listening")
		}
	case ipc.CmdStop:
		s.Interrupt()
	// Both speak; reply to the caller right away.
	case ipc.CmdSleep:
		go s.Sleep(ctx)
	case ipc.CmdWake:
		go s.Wake(ctx)
	}
	return nil
}
