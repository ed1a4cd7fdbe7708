package assistant

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"lumen/internal/core"
	"lumen/internal/llm"
	"lumen/internal/memory"
)

const DefaultPreamble = `You are Lumen, a friendly offline voice assistant running on the user's computer.
Answer in one to three short spoken sentences. No markdown, no lists, no code.
If you don't know something, say so plainly.`

type FallbackConfig struct {
	Preamble       string
	PromptTurns    int
	Timeout        time.Duration
	Retries        uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Now            func() time.Time
}

func (c *FallbackConfig) defaults() {
	if c.Preamble == "" {
		c.Preamble = DefaultPreamble
	}
	if c.PromptTurns <= 0 {
		c.PromptTurns = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Fallback answers utterances no capability claimed by asking a language
// model, grounded in recent turns and long-term facts.
type Fallback struct {
	llm llm.Completer
	cfg FallbackConfig
	log *log.Logger
}

func NewFallback(completer llm.Completer, cfg FallbackConfig) *Fallback {
	cfg.defaults()
	return &Fallback{
		llm: completer,
		cfg: cfg,
		log: log.Default().With("component", "fallback"),
	}
}

// Converse returns the trimmed model reply or an *core.ActionError.
func (f *Fallback) Converse(ctx context.Context, u core.Utterance, view memory.View) (string, error) {
	messages := f.Prompt(u, view)
	f.log.Debug("Prompt", "messages", len(messages), "text", llm.Transcript(messages))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.cfg.InitialBackoff
	policy.MaxInterval = f.cfg.MaxBackoff

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()

		out, err := f.llm.Complete(actx, messages)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, llm.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			f.log.Warn("Language model unavailable", "attempt", attempt, "err", err)
			return "", err
		}
		return "", backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(f.cfg.Retries+1),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", core.AsActionError(ctx.Err())
		}
		return "", core.ServiceUnavailable(fmt.Sprintf("language model failed after %d attempt(s)", attempt), err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", core.ExecutionFailed("language model returned empty text", nil)
	}
	return text, nil
}

// Prompt composes the chat: preamble and facts, the last turns as
// user/assistant pairs, then the current utterance.
func (f *Fallback) Prompt(u core.Utterance, view memory.View) []llm.Message {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(f.cfg.Preamble))
	fmt.Fprintf(&sys, "\n\nCurrent date and time: %s.", f.cfg.Now().Format("Monday, January 2, 2006 at 3:04 PM"))

	if keys := view.FactKeys(); len(keys) > 0 {
		sys.WriteString("\n\nKnown facts about the user:")
		for _, k := range keys {
			fmt.Fprintf(&sys, "\n- %s: %s", k, view.Facts[k])
		}
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: sys.String()}}

	turns := view.Turns
	if len(turns) > f.cfg.PromptTurns {
		turns = turns[len(turns)-f.cfg.PromptTurns:]
	}
	for _, t := range turns {
		if t.Utterance.Text == "" || t.Response == "" {
			continue
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: t.Utterance.Text},
			llm.Message{Role: llm.RoleAssistant, Content: t.Response},
		)
	}

	return append(messages, llm.Message{Role: llm.RoleUser, Content: u.Text})
}
