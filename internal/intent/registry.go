package intent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lumen/internal/core"
	"lumen/internal/memory"
)

var (
	ErrDuplicateName = errors.New("intent: duplicate capability name")
	ErrNotFound      = errors.New("intent: capability not found")
	ErrSealed        = errors.New("intent: registry sealed")
	ErrInvalid       = errors.New("intent: invalid capability")
)

// Executor performs a capability. Failures are returned as *core.ActionError;
// any other error is treated as ExecutionFailed by the dispatcher.
type Executor func(ctx context.Context, params core.Params, view memory.View) (core.Reply, error)

// Capability is a named action handler: how to recognize it and how to run it.
type Capability struct {
	Name        string
	Description string
	Matchers    []Matcher
	Execute     Executor

	// Timeout overrides the dispatcher's execution timeout when positive.
	Timeout time.Duration

	// Apologies override the generic user-facing text per failure kind.
	Apologies map[core.Kind]string
}

// Match returns the best-scoring matcher result for text. Ties keep the
// earlier matcher.
func (c Capability) Match(text string) (core.Params, float64, bool) {
	var (
		best  core.Params
		score float64
		found bool
	)
	for _, m := range c.Matchers {
		params, ok := m.Match(text)
		if !ok {
			continue
		}
		if !found || m.Score > score {
			best, score, found = params, m.Score, true
		}
	}
	return best, score, found
}

// Registry holds capabilities in registration order.
type Registry struct {
	mu     sync.RWMutex
	caps   []Capability
	index  map[string]int
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

func (r *Registry) Register(c Capability) error {
	if c.Name == "" || c.Execute == nil {
		return fmt.Errorf("%w: %q", ErrInvalid, c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: %q", ErrSealed, c.Name)
	}
	if _, ok := r.index[c.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, c.Name)
	}

	r.index[c.Name] = len(r.caps)
	r.caps = append(r.caps, c)
	return nil
}

// MustRegister is Register for startup wiring where a failure is a bug.
func (r *Registry) MustRegister(caps ...Capability) {
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return Capability{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.caps[i], nil
}

// All returns capabilities in registration order.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Capability(nil), r.caps...)
}

// Seal freezes the registry for the rest of the session.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}
