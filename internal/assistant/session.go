package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"lumen/internal/core"
)

// Listener yields recognized utterances. io.EOF ends the session.
type Listener interface {
	Next(ctx context.Context) (core.Utterance, error)
}

// Speaker voices a reply.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

var (
	interruptCommands = []string{"stop", "mute", "cancel", "never mind", "nevermind", "be quiet"}
	sleepCommands     = []string{"go to sleep", "lumen go to sleep", "lumen sleep"}
)

type SessionConfig struct {
	// WakePhrase gates the session. Empty means always awake.
	WakePhrase    string
	SleepTimeout  time.Duration
	SpeechTimeout time.Duration
	RetryPause    time.Duration

	Sanitize func(string) string
	Now      func() time.Time
	Logger   *log.Logger
}

func (c *SessionConfig) defaults() {
	c.WakePhrase = plainWords(c.WakePhrase)
	if c.SleepTimeout <= 0 {
		c.SleepTimeout = 120 * time.Second
	}
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = 30 * time.Second
	}
	if c.RetryPause <= 0 {
		c.RetryPause = time.Second
	}
	if c.Sanitize == nil {
		c.Sanitize = Sanitize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Session is the listen, dispatch, speak loop.
type Session struct {
	dispatcher *Dispatcher
	listener   Listener
	speaker    Speaker
	cfg        SessionConfig
	log        *log.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	awake      bool
	lastActive time.Time
}

func NewSession(d *Dispatcher, l Listener, sp Speaker, cfg SessionConfig) *Session {
	cfg.defaults()
	return &Session{
		dispatcher: d,
		listener:   l,
		speaker:    sp,
		cfg:        cfg,
		log:        cfg.Logger.With("component", "session"),
		awake:      cfg.WakePhrase == "",
		lastActive: cfg.Now(),
	}
}

// Run pulls utterances until the listener is exhausted or ctx is done. Only a
// failure on the very first read is returned; later ones are retried.
//
// The listener keeps being read while a turn runs, so an interrupt command
// cancels the turn or the reply in flight. Other utterances heard meanwhile
// are handled in order once the turn is over.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.WakePhrase != "" {
		s.log.Info("Session started", "wake", s.cfg.WakePhrase, "sleep_after", s.cfg.SleepTimeout)
	} else {
		s.log.Info("Session started")
	}

	pctx, stop := context.WithCancel(ctx)
	defer stop()
	in := s.pump(pctx)

	var (
		queue     []core.Utterance
		busy      chan struct{} // closed when the running turn is over
		exhausted bool
	)
	for {
		if busy == nil && ctx.Err() != nil {
			return nil
		}
		if busy == nil && len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			busy = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				s.Handle(ctx, u)
			}(busy)
			continue
		}
		if busy == nil && exhausted {
			s.log.Info("Listener exhausted")
			return nil
		}

		select {
		case <-ctx.Done():
			if busy != nil {
				<-busy
			}
			return nil
		case <-busy:
			busy = nil
		case h, ok := <-in:
			switch {
			case !ok:
				in, exhausted = nil, true
			case h.err != nil:
				if busy != nil {
					<-busy
				}
				return h.err
			case busy != nil && isInterrupt(h.u.Text):
				s.log.Debug("Interrupt", "text", h.u.Text)
				s.Interrupt()
			default:
				queue = append(queue, h.u)
			}
		}
	}
}

type heard struct {
	u   core.Utterance
	err error
}

// pump reads the listener on its own goroutine. The channel is closed on
// io.EOF or when ctx is done; a failing first read is sent as an error.
func (s *Session) pump(ctx context.Context) <-chan heard {
	out := make(chan heard)
	go func() {
		defer close(out)
		first := true
		for {
			u, err := s.listener.Next(ctx)
			switch {
			case err == nil:
			case errors.Is(err, io.EOF), ctx.Err() != nil:
				return
			case first:
				select {
				case out <- heard{err: fmt.Errorf("listener: %w", err)}:
				case <-ctx.Done():
				}
				return
			default:
				s.log.Warn("Listener failed", "err", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.cfg.RetryPause):
				}
				continue
			}
			first = false

			select {
			case out <- heard{u: u}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func isInterrupt(text string) bool {
	return slices.Contains(interruptCommands, plainWords(text))
}

// Handle applies wake/sleep gating and interrupt commands, then dispatches
// and speaks the reply. It reports the dispatched turn, if any.
func (s *Session) Handle(ctx context.Context, u core.Utterance) (core.Turn, bool) {
	text := plainWords(u.Text)
	if text == "" {
		return core.Turn{}, false
	}

	if !s.gate(ctx, text) {
		return core.Turn{}, false
	}

	switch {
	case slices.Contains(sleepCommands, text):
		s.Sleep(ctx)
		return core.Turn{}, false
	case isInterrupt(text):
		s.log.Debug("Interrupt", "text", text)
		s.Interrupt()
		return core.Turn{}, false
	}

	tctx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)
	turn := s.dispatcher.HandleTurn(tctx, u)
	s.clearCancel(cancel)

	s.touch()
	s.say(ctx, turn.Response)
	return turn, true
}

// gate reports whether text may be dispatched. While asleep only the wake
// phrase is honored.
func (s *Session) gate(ctx context.Context, text string) bool {
	if s.cfg.WakePhrase == "" {
		return true
	}

	s.mu.Lock()
	now := s.cfg.Now()
	timedOut := s.awake && now.Sub(s.lastActive) > s.cfg.SleepTimeout
	if timedOut {
		s.awake = false
	}
	awake := s.awake
	s.mu.Unlock()

	if timedOut {
		s.log.Info("Sleep timeout reached")
	}

	if awake {
		s.touch()
		return true
	}

	if strings.Contains(text, s.cfg.WakePhrase) {
		s.Wake(ctx)
	}
	return false
}

// Wake marks the session awake and greets the user.
func (s *Session) Wake(ctx context.Context) {
	s.mu.Lock()
	s.awake = true
	s.lastActive = s.cfg.Now()
	s.mu.Unlock()

	s.log.Info("Woke up")
	s.say(ctx, "I'm awake. How can I help you?")
}

// Sleep forgets the short-term history and, with a wake phrase configured,
// stops dispatching until it is heard again.
func (s *Session) Sleep(ctx context.Context) {
	s.Interrupt()
	s.dispatcher.Memory().ResetHistory()

	if s.cfg.WakePhrase == "" {
		s.log.Info("Sleep requested without a wake phrase; history cleared")
		s.say(ctx, "Okay, starting fresh.")
		return
	}

	s.mu.Lock()
	s.awake = false
	s.mu.Unlock()

	s.log.Info("Going to sleep")
	s.say(ctx, "Going to sleep. Say "+s.cfg.WakePhrase+" when you need me.")
}

func (s *Session) Awake() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awake
}

// Interrupt cancels the running turn or the reply being spoken. It reports
// whether anything was in flight.
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	s.log.Info("Interrupted")
	return true
}

func (s *Session) say(ctx context.Context, text string) {
	clean := s.cfg.Sanitize(text)
	if clean == "" || s.speaker == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SpeechTimeout)
	s.setCancel(cancel)
	defer s.clearCancel(cancel)

	if err := s.speaker.Speak(sctx, clean); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("Failed to voice out", "err", err)
	}
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// clearCancel forgets the in-flight cancel func and releases cancel.
func (s *Session) clearCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
	cancel()
}

// plainWords lowercases text and keeps only letters and digits, single
// spaced, so "Lumen, wake up!" compares equal to "lumen wake up".
func plainWords(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Join(words, " ")
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.cfg.Now()
	s.mu.Unlock()
}
