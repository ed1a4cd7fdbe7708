package llm

import (
	"context"
	"errors"
	"sync"
)

// Scripted is a Completer that replays canned results in order. It records
// every request so tests can inspect the prompt.
type Scripted struct {
	mu       sync.Mutex
	steps    []step
	Requests [][]Message
}

type step struct {
	text string
	err  error
}

func NewScripted() *Scripted { return &Scripted{} }

func (s *Scripted) Reply(text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{text: text})
	return s
}

func (s *Scripted) Fail(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{err: err})
	return s
}

func (s *Scripted) Complete(ctx context.Context, messages []Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, append([]Message(nil), messages...))

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.steps) == 0 {
		return "", errors.New("scripted: no more responses")
	}

	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.text, st.err
}

func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
