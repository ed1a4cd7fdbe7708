package assistant

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
)

type scriptedListener struct {
	items []any // string or error
}

func listen(items ...any) *scriptedListener {
	return &scriptedListener{items: items}
}

func (l *scriptedListener) Next(ctx context.Context) (core.Utterance, error) {
	if err := ctx.Err(); err != nil {
		return core.Utterance{}, err
	}
	if len(l.items) == 0 {
		return core.Utterance{}, io.EOF
	}
	item := l.items[0]
	l.items = l.items[1:]
	if err, ok := item.(error); ok {
		return core.Utterance{}, err
	}
	return core.NewUtterance(item.(string), 0.9), nil
}

// chanListener yields whatever is sent on its channel; closing it ends the
// session.
type chanListener chan string

func (l chanListener) Next(ctx context.Context) (core.Utterance, error) {
	select {
	case text, ok := <-l:
		if !ok {
			return core.Utterance{}, io.EOF
		}
		return core.NewUtterance(text, 0.9), nil
	case <-ctx.Done():
		return core.Utterance{}, ctx.Err()
	}
}

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
	err    error
}

func (s *recordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.err
}

func (s *recordingSpeaker) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSessionSpeaksReplies(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))
	sp := &recordingSpeaker{}

	s := NewSession(h.dispatcher, listen("stop", "open notepad", "   ", "launch calculator"), sp, SessionConfig{})
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"Opening notepad.", "Opening calculator."}, sp.lines())
	assert.Equal(t, []string{"notepad", "calculator"}, launched)
	assert.Len(t, h.memory.RecentTurns(0), 2)
}

func TestSessionFirstReadFailureIsFatal(t *testing.T) {
	h := newHarness(t, time.Second)

	s := NewSession(h.dispatcher, listen(errors.New("no input device")), &recordingSpeaker{}, SessionConfig{})
	err := s.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input device")
}

func TestSessionRetriesLaterReadFailures(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))

	s := NewSession(h.dispatcher,
		listen("open notepad", errors.New("buffer overrun"), "open calculator"),
		&recordingSpeaker{},
		SessionConfig{RetryPause: time.Millisecond},
	)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"notepad", "calculator"}, launched)
}

func TestSessionStopsOnContextCancel(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession(h.dispatcher, listen("hello"), &recordingSpeaker{}, SessionConfig{})
	assert.NoError(t, s.Run(ctx))
}

func TestSessionWakeAndSleep(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))
	sp := &recordingSpeaker{}

	s := NewSession(h.dispatcher, listen(
		"open notepad",
		"Lumen, wake up!",
		"open notepad",
		"go to sleep",
		"open calculator",
	), sp, SessionConfig{WakePhrase: "lumen wake up"})
	assert.False(t, s.Awake())
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"notepad"}, launched)
	assert.False(t, s.Awake())
	assert.Equal(t, []string{
		"I'm awake. How can I help you?",
		"Opening notepad.",
		"Going to sleep. Say lumen wake up when you need me.",
	}, sp.lines())
	assert.Empty(t, h.memory.RecentTurns(0))
}

func TestSessionFallsAsleepAfterInactivity(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	s := NewSession(h.dispatcher, nil, &recordingSpeaker{}, SessionConfig{
		WakePhrase:   "hey lumen",
		SleepTimeout: time.Minute,
		Now:          clock.Now,
	})
	ctx := context.Background()

	s.Wake(ctx)
	_, ok := s.Handle(ctx, core.NewUtterance("open notepad", 1))
	assert.True(t, ok)

	clock.Advance(30 * time.Second)
	_, ok = s.Handle(ctx, core.NewUtterance("open notepad", 1))
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = s.Handle(ctx, core.NewUtterance("open notepad", 1))
	assert.False(t, ok)
	assert.False(t, s.Awake())

	_, ok = s.Handle(ctx, core.NewUtterance("hey lumen", 1))
	assert.False(t, ok)
	assert.True(t, s.Awake())

	assert.Len(t, launched, 2)
}

func TestSessionSleepWithoutWakePhraseClearsHistory(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))
	sp := &recordingSpeaker{}

	s := NewSession(h.dispatcher, listen("open notepad", "go to sleep"), sp, SessionConfig{})
	require.NoError(t, s.Run(context.Background()))

	assert.True(t, s.Awake())
	assert.Empty(t, h.memory.RecentTurns(0))
	assert.Equal(t, "Okay, starting fresh.", sp.lines()[1])
}

func TestSessionSanitizesBeforeSpeaking(t *testing.T) {
	h := newHarness(t, time.Second)
	h.llm.Reply("Assistant: **Sure!** Details at https://example.com/x for you.")
	sp := &recordingSpeaker{}

	s := NewSession(h.dispatcher, listen("tell me something"), sp, SessionConfig{})
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"Sure! Details at for you."}, sp.lines())
}

func TestSessionSpeakerFailureIsNotFatal(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))
	sp := &recordingSpeaker{err: errors.New("espeak: no audio device")}

	s := NewSession(h.dispatcher, listen("open notepad", "open calculator"), sp, SessionConfig{})
	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, launched, 2)
}

func TestSessionInterruptCancelsTurn(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, 5*time.Second, intent.Capability{
		Name:     "slow",
		Matchers: []intent.Matcher{intent.Prefix("what", 1, "count to")},
		Execute: func(ctx context.Context, _ core.Params, _ memory.View) (core.Reply, error) {
			close(started)
			<-ctx.Done()
			return core.Reply{}, ctx.Err()
		},
	})
	sp := &recordingSpeaker{}
	s := NewSession(h.dispatcher, nil, sp, SessionConfig{})

	go func() {
		<-started
		s.Interrupt()
	}()

	turn, ok := s.Handle(context.Background(), core.NewUtterance("count to a million", 1))

	require.True(t, ok)
	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, []string{"Okay, stopped."}, sp.lines())
	assert.False(t, s.Interrupt())
}

func TestSessionSpokenStopCancelsRunningTurn(t *testing.T) {
	started := make(chan struct{})
	var launched []string
	h := newHarness(t, 5*time.Second, appLauncher(&launched), intent.Capability{
		Name:     "slow",
		Matchers: []intent.Matcher{intent.Prefix("what", 1, "count to")},
		Execute: func(ctx context.Context, _ core.Params, _ memory.View) (core.Reply, error) {
			close(started)
			<-ctx.Done()
			return core.Reply{}, ctx.Err()
		},
	})
	sp := &recordingSpeaker{}
	in := make(chanListener)
	s := NewSession(h.dispatcher, in, sp, SessionConfig{})

	done := make(chan error, 1)
	begin := time.Now()
	go func() { done <- s.Run(context.Background()) }()

	in <- "count to a million"
	<-started
	in <- "Stop!"
	in <- "open notepad"
	close(in)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}

	assert.Less(t, time.Since(begin), 2*time.Second, "cancelled, not timed out")
	assert.Equal(t, []string{"Okay, stopped.", "Opening notepad."}, sp.lines())
	assert.Equal(t, []string{"notepad"}, launched)

	turns := h.memory.RecentTurns(0)
	require.Len(t, turns, 2)
	assert.Equal(t, core.StatusFailed, turns[0].Status)
}

func TestSessionStopWhileIdleIsIgnored(t *testing.T) {
	h := newHarness(t, time.Second)
	sp := &recordingSpeaker{}

	s := NewSession(h.dispatcher, listen("never mind"), sp, SessionConfig{})
	require.NoError(t, s.Run(context.Background()))

	assert.Empty(t, sp.lines())
	assert.Empty(t, h.memory.RecentTurns(0))
	assert.Zero(t, h.llm.Calls())
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"":                                      "",
		"  plain text  ":                        "plain text",
		`{"intent": "chat", "text": "Hello!"}`:  "Hello!",
		"Here:\n```go\nfmt.Println()\n```\nDone": "Here: Done",
		"Use `ls` to list":                      "Use to list",
		"# Title\n- one\n- two":                 "Title one two",
		"__bold__ and *it*":                     "bold and it",
		"Lumen: hi there":                       "hi there",
		"see https://go.dev/doc now":            "see now",
		"[1, 2]":                                "1, 2",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}
