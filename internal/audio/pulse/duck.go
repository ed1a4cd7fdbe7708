// Package pulse lowers the volume of other PulseAudio/PipeWire streams while
// the assistant is talking. It shells out to pactl.
package pulse

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type stream struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id       int
	from, to int
}

// Runner executes pactl with args and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func pactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// Ducker fades every sink input except the assistant's own, and remembers
// the original volumes so UnduckOthers can restore them.
type Ducker struct {
	mu       sync.Mutex
	active   bool
	self     []string
	original map[int]int
	floor    int
	run      Runner
	step     time.Duration
}

// NewDucker ignores streams whose application.name is in self. Ducked
// streams never go below floor percent.
func NewDucker(self []string, floor int) *Ducker {
	return &Ducker{
		self:     slices.Clone(self),
		original: map[int]int{},
		floor:    min(max(floor, 0), maxVolume),
		run:      pactl,
		step:     10 * time.Millisecond,
	}
}

// WithRunner replaces pactl, mainly for tests.
func (d *Ducker) WithRunner(r Runner) *Ducker {
	d.run = r
	return d
}

func (d *Ducker) DuckOthers(ctx context.Context, factor float64, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil
	}

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = map[int]int{}
	var fades []fade
	for _, s := range streams {
		if slices.Contains(d.self, s.AppName) {
			continue
		}
		to := int(math.Round(float64(s.Volume) * factor))
		to = min(max(to, d.floor), maxVolume)
		d.original[s.ID] = s.Volume
		fades = append(fades, fade{id: s.ID, from: s.Volume, to: to})
	}

	if err := d.apply(ctx, fades, duration); err != nil {
		return err
	}
	d.active = true
	return nil
}

func (d *Ducker) UnduckOthers(ctx context.Context, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return nil
	}

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, s := range streams {
		// Streams that appeared after ducking are left alone.
		if orig, ok := d.original[s.ID]; ok && !slices.Contains(d.self, s.AppName) {
			fades = append(fades, fade{id: s.ID, from: s.Volume, to: orig})
		}
	}

	if err := d.apply(ctx, fades, duration); err != nil {
		return err
	}
	d.original = map[int]int{}
	d.active = false
	return nil
}

func (d *Ducker) apply(ctx context.Context, fades []fade, duration time.Duration) error {
	if len(fades) == 0 {
		return nil
	}

	steps := max(int(duration/d.step), 1)
	if duration <= 0 {
		steps = 0
	}
	pause := time.Duration(0)
	if steps > 0 {
		pause = duration / time.Duration(steps)
	}

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := 1.0
		if steps > 0 {
			frac = float64(i) / float64(steps)
		}
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.setVolume(ctx, f.id, v); err != nil {
				return err
			}
		}

		if i < steps {
			time.Sleep(pause)
		}
	}
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]stream, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxVolume)
	if _, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)); err != nil {
		return fmt.Errorf("set volume of sink input %d: %w", id, err)
	}
	return nil
}

// parseSinkInputs reads the id, first volume and application.name of every
// block in `pactl list sink-inputs` output.
func parseSinkInputs(text string) []stream {
	blocks := strings.Split(text, "Sink Input #")
	var res []stream

	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		s := stream{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "Volume:") && s.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); m != nil {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && s.AppName == "":
				_, v, _ := strings.Cut(line, "=")
				s.AppName = strings.Trim(strings.TrimSpace(v), `"`)
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}
