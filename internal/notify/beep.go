// Package notify plays the short earcon that tells the user the assistant is
// listening.
package notify

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

const sampleRate = beep.SampleRate(44100)

var (
	initOnce sync.Once
	initErr  error
)

func initSpeaker() error {
	initOnce.Do(func() {
		initErr = speaker.Init(sampleRate, sampleRate.N(time.Second/10))
	})
	return initErr
}

// Earcon plays an mp3 cue, or a short generated tone when no file is set.
type Earcon struct {
	path string
}

func NewEarcon(path string) *Earcon {
	return &Earcon{path: path}
}

// Play blocks until the cue finished or ctx is done.
func (e *Earcon) Play(ctx context.Context) error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	s, closeFn, err := e.streamer()
	if err != nil {
		return err
	}
	defer closeFn()

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func (e *Earcon) streamer() (beep.Streamer, func(), error) {
	if e.path == "" {
		return tone(880, 120*time.Millisecond), func() {}, nil
	}

	f, err := os.Open(e.path)
	if err != nil {
		return nil, nil, fmt.Errorf("open earcon: %w", err)
	}
	s, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("decode earcon %s: %w", e.path, err)
	}
	return beep.Resample(4, format.SampleRate, sampleRate, s), func() { s.Close() }, nil
}

// tone is a sine wave with a short linear fade at both ends.
func tone(freq float64, d time.Duration) beep.Streamer {
	total := sampleRate.N(d)
	fade := total / 10
	pos := 0
	return beep.Take(total, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			gain := 0.3
			if pos < fade {
				gain *= float64(pos) / float64(fade)
			} else if left := total - pos; left < fade {
				gain *= float64(left) / float64(fade)
			}
			v := gain * math.Sin(2*math.Pi*freq*float64(pos)/float64(sampleRate))
			samples[i] = [2]float64{v, v}
			pos++
		}
		return len(samples), true
	}))
}

// Desktop shows a desktop notification through notify-send.
func Desktop(ctx context.Context, summary, body string) error {
	if err := exec.CommandContext(ctx, "notify-send", "-a", "lumen", summary, body).Run(); err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}
