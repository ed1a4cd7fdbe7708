// Package audio captures microphone input through PortAudio.
package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	SampleRate = 16000
	frameSize  = 320 // 20ms at 16 kHz
	frameDur   = 20 * time.Millisecond
)

var ErrNoSpeech = errors.New("no speech detected")

// VAD configures the energy-based end-of-utterance detector.
type VAD struct {
	Threshold float64       // RMS above which a frame counts as speech
	Silence   time.Duration // trailing silence that ends an utterance
	MaxLength time.Duration // hard cap on one utterance
	Wait      time.Duration // how long to wait for speech to start; 0 waits forever
}

func DefaultVAD() VAD {
	return VAD{
		Threshold: 0.015,
		Silence:   600 * time.Millisecond,
		MaxLength: 10 * time.Second,
	}
}

type Recorder struct {
	vad VAD
}

// NewRecorder initializes PortAudio. Close must be called to release it.
func NewRecorder(vad VAD) (*Recorder, error) {
	def := DefaultVAD()
	if vad.Threshold <= 0 {
		vad.Threshold = def.Threshold
	}
	if vad.Silence <= 0 {
		vad.Silence = def.Silence
	}
	if vad.MaxLength <= 0 {
		vad.MaxLength = def.MaxLength
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &Recorder{vad: vad}, nil
}

func (r *Recorder) Close() error {
	return portaudio.Terminate()
}

// Record captures one utterance: it waits for speech, then stops after the
// configured trailing silence or MaxLength.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	det := newDetector(r.vad)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("read input stream: %w", err)
		}
		if done := det.push(buf); done {
			break
		}
	}

	if len(det.out) == 0 {
		return nil, ErrNoSpeech
	}
	log.Debug("Recorded utterance", "samples", len(det.out), "seconds", float64(len(det.out))/SampleRate)
	return det.out, nil
}

// detector accumulates frames from the first speech frame on and reports
// when the utterance is over.
type detector struct {
	vad      VAD
	out      []float32
	speaking bool
	silent   time.Duration
	waited   time.Duration
	total    time.Duration
}

func newDetector(vad VAD) *detector {
	return &detector{vad: vad, out: make([]float32, 0, SampleRate*3)}
}

func (d *detector) push(frame []float32) bool {
	d.total += frameDur
	if d.total >= d.vad.MaxLength {
		return true
	}

	if rms(frame) > d.vad.Threshold {
		d.speaking = true
		d.silent = 0
		d.out = append(d.out, frame...)
		return false
	}

	if !d.speaking {
		d.waited += frameDur
		// Frames before speech do not count toward MaxLength.
		d.total -= frameDur
		return d.vad.Wait > 0 && d.waited >= d.vad.Wait
	}

	d.silent += frameDur
	d.out = append(d.out, frame...)
	return d.silent >= d.vad.Silence
}

func rms(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}
