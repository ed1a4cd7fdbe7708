package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/llm"
	"lumen/internal/memory"
)

const weatherApology = "Sorry, I couldn't get the weather right now."

type harness struct {
	dispatcher *Dispatcher
	memory     *memory.Store
	llm        *llm.Scripted
}

func newHarness(t *testing.T, timeout time.Duration, caps ...intent.Capability) *harness {
	t.Helper()

	mem, err := memory.Open(context.Background(), nil, memory.Options{HistorySize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close(context.Background()) })

	reg := intent.NewRegistry()
	for _, c := range caps {
		require.NoError(t, reg.Register(c))
	}
	reg.Seal()

	scripted := llm.NewScripted()
	fb := NewFallback(scripted, FallbackConfig{
		Retries:        2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	d := NewDispatcher(reg, intent.NewResolver(0), fb, mem, DispatcherConfig{ExecTimeout: timeout})
	return &harness{dispatcher: d, memory: mem, llm: scripted}
}

func (h *harness) say(text string) core.Turn {
	return h.dispatcher.HandleTurn(context.Background(), core.NewUtterance(text, 0.9))
}

func appLauncher(launched *[]string) intent.Capability {
	return intent.Capability{
		Name: "app_launcher",
		Matchers: []intent.Matcher{
			intent.Alias("app", 1, []string{"open", "launch", "start"}, map[string]string{
				"notepad":    "notepad",
				"calculator": "calculator",
			}),
		},
		Execute: func(_ context.Context, p core.Params, _ memory.View) (core.Reply, error) {
			*launched = append(*launched, p.Get("app"))
			return core.Reply{Text: fmt.Sprintf("Opening %s. ", p.Get("app"))}, nil
		},
	}
}

func weather(exec intent.Executor) intent.Capability {
	return intent.Capability{
		Name:     "weather",
		Matchers: []intent.Matcher{intent.Pattern(`(?:what's|what is) the weather(?: in (?P<location>.+))?`, 1, nil)},
		Execute:  exec,
		Apologies: map[core.Kind]string{
			core.KindServiceUnavailable: weatherApology,
		},
	}
}

func TestHandleTurnOpensApp(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))

	turn := h.say("open notepad")

	assert.Equal(t, core.StatusOK, turn.Status)
	assert.Equal(t, "app_launcher", turn.Capability)
	assert.Equal(t, core.Params{"app": "notepad"}, turn.Params)
	assert.Equal(t, "Opening notepad.", turn.Response)
	assert.Equal(t, []string{"notepad"}, launched)
	assert.NotEmpty(t, turn.ID)
	assert.False(t, turn.Finished.Before(turn.Started))

	recent := h.memory.RecentTurns(0)
	require.Len(t, recent, 1)
	assert.Equal(t, turn.ID, recent[0].ID)
	assert.Zero(t, h.llm.Calls())
}

func TestHandleTurnFailureUsesCapabilityApology(t *testing.T) {
	h := newHarness(t, time.Second, weather(func(context.Context, core.Params, memory.View) (core.Reply, error) {
		return core.Reply{}, core.ServiceUnavailable("open-meteo: 502 bad gateway", nil)
	}))

	turn := h.say("what's the weather in Paris")

	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, "weather", turn.Capability)
	assert.Equal(t, "Paris", turn.Params["location"])
	assert.Equal(t, weatherApology, turn.Response)
	assert.NotContains(t, turn.Response, "502")
}

func TestHandleTurnGenericApologyPerKind(t *testing.T) {
	h := newHarness(t, time.Second, weather(func(context.Context, core.Params, memory.View) (core.Reply, error) {
		return core.Reply{}, core.NotFound("no such city")
	}))

	turn := h.say("what is the weather in Atlantis")

	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, genericApologies[core.KindNotFound], turn.Response)
}

func TestHandleTurnPlainErrorIsExecutionFailed(t *testing.T) {
	h := newHarness(t, time.Second, weather(func(context.Context, core.Params, memory.View) (core.Reply, error) {
		return core.Reply{}, errors.New("boom")
	}))

	turn := h.say("what is the weather")

	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, genericApologies[core.KindExecutionFailed], turn.Response)
}

func TestHandleTurnTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, 20*time.Millisecond, weather(func(ctx context.Context, _ core.Params, _ memory.View) (core.Reply, error) {
		<-ctx.Done()
		return core.Reply{}, ctx.Err()
	}))

	start := time.Now()
	turn := h.say("what is the weather")

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, genericApologies[core.KindTimeout], turn.Response)
}

func TestHandleTurnTimeoutIgnoringContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	h := newHarness(t, 20*time.Millisecond, weather(func(context.Context, core.Params, memory.View) (core.Reply, error) {
		<-release
		return core.Reply{Text: "too late"}, nil
	}))

	turn := h.say("what is the weather")
	close(release)

	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, genericApologies[core.KindTimeout], turn.Response)
}

func TestHandleTurnCancelled(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, time.Second, weather(func(ctx context.Context, _ core.Params, _ memory.View) (core.Reply, error) {
		close(started)
		<-ctx.Done()
		return core.Reply{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	turn := h.dispatcher.HandleTurn(ctx, core.NewUtterance("what is the weather", 1))

	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, "Okay, stopped.", turn.Response)
}

func TestHandleTurnIsolatesPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	var launched []string
	h := newHarness(t, time.Second,
		weather(func(context.Context, core.Params, memory.View) (core.Reply, error) {
			panic("nil map write")
		}),
		appLauncher(&launched),
	)

	bad := h.say("what is the weather")
	assert.Equal(t, core.StatusFailed, bad.Status)
	assert.Equal(t, genericApologies[core.KindExecutionFailed], bad.Response)

	good := h.say("launch calculator")
	assert.Equal(t, core.StatusOK, good.Status)
	assert.Equal(t, []string{"calculator"}, launched)
	assert.Len(t, h.memory.RecentTurns(0), 2)
}

func TestHandleTurnFallsBackToConversation(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))
	h.llm.Reply("  I'm doing well, thanks for asking.\n")

	turn := h.say("how are you today")

	assert.Equal(t, core.StatusFallback, turn.Status)
	assert.Empty(t, turn.Capability)
	assert.Empty(t, turn.Params)
	assert.Equal(t, "I'm doing well, thanks for asking.", turn.Response)
	assert.Equal(t, 1, h.llm.Calls())
	assert.Empty(t, launched)
}

func TestHandleTurnFallbackUnavailable(t *testing.T) {
	h := newHarness(t, time.Second)
	for range 3 {
		h.llm.Fail(llm.ErrUnavailable)
	}

	turn := h.say("tell me a joke")

	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, FallbackApology, turn.Response)
	assert.Equal(t, 3, h.llm.Calls())
}

func TestHandleTurnWithoutFallback(t *testing.T) {
	mem, err := memory.Open(context.Background(), nil, memory.Options{})
	require.NoError(t, err)

	d := NewDispatcher(intent.NewRegistry(), intent.NewResolver(0), nil, mem, DispatcherConfig{})
	turn := d.HandleTurn(context.Background(), core.NewUtterance("hello", 1))

	assert.Equal(t, core.StatusFailed, turn.Status)
	assert.Equal(t, FallbackApology, turn.Response)
}

func TestHandleTurnStoresReplyFacts(t *testing.T) {
	h := newHarness(t, time.Second,
		intent.Capability{
			Name:     "remember",
			Matchers: []intent.Matcher{intent.Pattern(`my name is (?P<name>.+)`, 1, nil)},
			Execute: func(_ context.Context, p core.Params, _ memory.View) (core.Reply, error) {
				return core.Reply{Text: "Nice to meet you.", Facts: map[string]string{"Name": p["name"]}}, nil
			},
		},
		weather(func(context.Context, core.Params, memory.View) (core.Reply, error) {
			return core.Reply{Facts: map[string]string{"city": "Paris"}}, errors.New("down")
		}),
	)

	h.say("My name is Ada")
	h.say("what is the weather")

	name, ok := h.memory.GetFact("name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", name)

	_, ok = h.memory.GetFact("city")
	assert.False(t, ok)
}

func TestHandleTurnIsIdempotentForPureCapabilities(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))

	first := h.say("open notepad")
	second := h.say("open notepad")

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.Params, second.Params)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, h.memory.RecentTurns(0), 2)
}

func TestHandleTurnHistoryIsBounded(t *testing.T) {
	var launched []string
	h := newHarness(t, time.Second, appLauncher(&launched))

	for i := range 6 {
		h.say(fmt.Sprintf("open %s", []string{"notepad", "calculator"}[i%2]))
	}

	assert.Len(t, h.memory.RecentTurns(0), 4)
	assert.Len(t, launched, 6)
}

func TestExecutorSeesRecentTurns(t *testing.T) {
	var seen []string
	h := newHarness(t, time.Second,
		intent.Capability{
			Name:     "echo",
			Matchers: []intent.Matcher{intent.Prefix("what", 1, "echo")},
			Execute: func(_ context.Context, p core.Params, v memory.View) (core.Reply, error) {
				for _, t := range v.Turns {
					seen = append(seen, t.Utterance.Text)
				}
				return core.Reply{Text: p["what"]}, nil
			},
		},
	)

	h.say("echo one")
	h.say("echo two")

	assert.Equal(t, []string{"echo one"}, seen)
}
