// Package listen turns input sources into utterances for the session loop.
package listen

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"

	"lumen/internal/core"
)

// Console reads one utterance per line and prints replies. It serves as
// both Listener and Speaker for the text shell.
type Console struct {
	out    io.Writer
	prompt string
	lines  chan string
	errc   chan error
}

// NewConsole starts reading r in the background.
func NewConsole(r io.Reader, w io.Writer, prompt string) *Console {
	c := &Console{out: w, prompt: prompt, lines: make(chan string), errc: make(chan error, 1)}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		c.errc <- err
	}()
	return c
}

func (c *Console) Next(ctx context.Context) (core.Utterance, error) {
	for {
		if c.prompt != "" {
			fmt.Fprint(c.out, c.prompt)
		}
		select {
		case line := <-c.lines:
			if text := strings.TrimSpace(line); text != "" {
				return core.NewUtterance(text, 1), nil
			}
		case err := <-c.errc:
			c.errc <- err
			return core.Utterance{}, err
		case <-ctx.Done():
			return core.Utterance{}, ctx.Err()
		}
	}
}

func (c *Console) Speak(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.out, "lumen: %s\n", text)
	return err
}

type Capture interface {
	Record(ctx context.Context) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

// Mic records an utterance and transcribes it. Empty transcriptions and
// recordings without speech are skipped.
type Mic struct {
	capture  Capture
	stt      Transcriber
	trigger  <-chan struct{}
	before   func()
	noSpeech error
}

type MicConfig struct {
	// Trigger, when set, gates each recording on a receive; otherwise the
	// microphone records continuously.
	Trigger <-chan struct{}
	// BeforeRecord runs right before recording, e.g. to play an earcon.
	BeforeRecord func()
	// NoSpeech is the capture error meaning nothing was said.
	NoSpeech error
}

func NewMic(c Capture, t Transcriber, cfg MicConfig) *Mic {
	return &Mic{capture: c, stt: t, trigger: cfg.Trigger, before: cfg.BeforeRecord, noSpeech: cfg.NoSpeech}
}

func (m *Mic) Next(ctx context.Context) (core.Utterance, error) {
	for {
		if m.trigger != nil {
			select {
			case _, ok := <-m.trigger:
				if !ok {
					return core.Utterance{}, io.EOF
				}
			case <-ctx.Done():
				return core.Utterance{}, ctx.Err()
			}
		}
		if m.before != nil {
			m.before()
		}

		pcm, err := m.capture.Record(ctx)
		if err != nil {
			if m.noSpeech != nil && errors.Is(err, m.noSpeech) {
				log.Debug("No speech")
				continue
			}
			return core.Utterance{}, fmt.Errorf("record: %w", err)
		}

		text, err := m.stt.Transcribe(ctx, pcm)
		if err != nil {
			return core.Utterance{}, fmt.Errorf("transcribe: %w", err)
		}
		if text = strings.TrimSpace(text); text != "" {
			log.Info("Heard", "text", text)
			return core.NewUtterance(text, 1), nil
		}
	}
}

// Decoder loads an audio file as mono 16 kHz samples.
type Decoder func(ctx context.Context, path string) ([]float32, error)

// Replay transcribes a fixed list of audio files in order, then reports
// io.EOF.
type Replay struct {
	paths  []string
	decode Decoder
	stt    Transcriber
}

func NewReplay(paths []string, decode Decoder, t Transcriber) *Replay {
	return &Replay{paths: paths, decode: decode, stt: t}
}

func (r *Replay) Next(ctx context.Context) (core.Utterance, error) {
	for len(r.paths) > 0 {
		path := r.paths[0]
		r.paths = r.paths[1:]

		pcm, err := r.decode(ctx, path)
		if err != nil {
			return core.Utterance{}, fmt.Errorf("decode %s: %w", path, err)
		}
		text, err := r.stt.Transcribe(ctx, pcm)
		if err != nil {
			return core.Utterance{}, fmt.Errorf("transcribe %s: %w", path, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			log.Info("Replayed", "file", path, "text", text)
			return core.NewUtterance(text, 1), nil
		}
	}
	return core.Utterance{}, io.EOF
}
