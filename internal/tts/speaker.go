// Package tts speaks replies aloud through espeak-ng, optionally lowering
// other audio streams while it talks.
package tts

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"
	"time"
)

// Engine is a blocking synthesizer. Stop must make an in-progress Say return
// early; it is called from another goroutine.
type Engine interface {
	Say(text string) error
	Stop()
}

// Ducker lowers and restores the volume of other applications.
type Ducker interface {
	DuckOthers(ctx context.Context, factor float64, fade time.Duration) error
	UnduckOthers(ctx context.Context, fade time.Duration) error
}

type Config struct {
	Ducker     Ducker
	DuckFactor float64 // volume multiplier for other streams, default 0.3
	Fade       time.Duration
}

// Speaker serializes speech through one engine.
type Speaker struct {
	engine Engine
	cfg    Config
	mu     sync.Mutex
}

func NewSpeaker(engine Engine, cfg Config) *Speaker {
	if cfg.DuckFactor <= 0 || cfg.DuckFactor > 1 {
		cfg.DuckFactor = 0.3
	}
	if cfg.Fade < 0 {
		cfg.Fade = 0
	}
	return &Speaker{engine: engine, cfg: cfg}
}

// Speak blocks until text has been spoken or ctx is done, in which case
// playback is cut off and ctx.Err() returned.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if d := s.cfg.Ducker; d != nil {
		if err := d.DuckOthers(ctx, s.cfg.DuckFactor, s.cfg.Fade); err != nil {
			log.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			// Restore even when the turn was interrupted.
			if err := d.UnduckOthers(context.WithoutCancel(ctx), s.cfg.Fade); err != nil {
				log.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- s.engine.Say(text) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.engine.Stop()
		<-done
		return ctx.Err()
	}
}

// ErrUnavailable is returned by engines that were built without a backend.
var ErrUnavailable = errors.New("speech engine unavailable")
