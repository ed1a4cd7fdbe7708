package memory

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"lumen/internal/core"
)

var (
	// ErrCorrupt means persisted facts could not be decoded. Callers treat it
	// as fatal: the assistant must not run on top of a damaged store.
	ErrCorrupt = errors.New("memory: fact store corrupt")
	ErrClosed  = errors.New("memory: store closed")
)

// Backend persists the whole fact map. Load on an empty store returns an
// empty map and no error.
type Backend interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, facts map[string]string) error
	Close() error
}

type Options struct {
	HistorySize  int
	FlushOnWrite bool
	Logger       *log.Logger
}

// Store holds the conversation context: short-term history and long-term
// facts. The dispatcher is the only writer; everyone else reads snapshots.
type Store struct {
	mu      sync.RWMutex
	history *History
	facts   map[string]string
	backend Backend
	flush   bool
	dirty   bool
	closed  bool
	log     *log.Logger
}

// Open loads facts from backend. A nil backend keeps facts in memory only.
func Open(ctx context.Context, backend Backend, opt Options) (*Store, error) {
	logger := opt.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Store{
		history: NewHistory(opt.HistorySize),
		facts:   make(map[string]string),
		backend: backend,
		flush:   opt.FlushOnWrite,
		log:     logger.With("component", "memory"),
	}

	if backend == nil {
		return s, nil
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	for k, v := range loaded {
		if key := NormalizeKey(k); key != "" {
			s.facts[key] = v
		}
	}

	s.log.Debug("Loaded facts", "count", len(s.facts))
	return s, nil
}

func NormalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func (s *Store) AppendTurn(t core.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Append(t)
}

func (s *Store) RecentTurns(n int) []core.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Recent(n)
}

func (s *Store) HistoryBound() int {
	return s.history.Bound()
}

// ResetHistory drops short-term context; facts are untouched.
func (s *Store) ResetHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Reset()
}

// SetFact upserts a fact. The in-memory value is updated even when flushing
// to the backend fails; the error is returned so the caller can log it.
func (s *Store) SetFact(ctx context.Context, key, value string) error {
	key = NormalizeKey(key)
	if key == "" {
		return errors.New("memory: empty fact key")
	}
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if cur, ok := s.facts[key]; ok && cur == value {
		return nil
	}
	s.facts[key] = value
	s.dirty = true

	if !s.flush {
		return nil
	}
	return s.saveLocked(ctx)
}

func (s *Store) GetFact(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.facts[NormalizeKey(key)]
	return v, ok
}

func (s *Store) AllFacts() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.facts)
}

// Snapshot copies the last n turns and all facts into a read-only View.
func (s *Store) Snapshot(n int) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Turns: s.history.Recent(n),
		Facts: maps.Clone(s.facts),
	}
}

// Flush writes facts to the backend if anything changed since the last save.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	if s.backend == nil || !s.dirty {
		return nil
	}
	if err := s.backend.Save(ctx, maps.Clone(s.facts)); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	s.dirty = false
	return nil
}

// Close flushes pending facts and releases the backend.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.saveLocked(ctx)
	if s.backend != nil {
		err = errors.Join(err, s.backend.Close())
	}
	return err
}

// View is a copy-on-read snapshot of the conversation context.
type View struct {
	Turns []core.Turn
	Facts map[string]string
}

func (v View) Fact(key string) (string, bool) {
	val, ok := v.Facts[NormalizeKey(key)]
	return val, ok
}

// FactKeys returns fact keys in sorted order.
func (v View) FactKeys() []string {
	return slices.Sorted(maps.Keys(v.Facts))
}

// LastTurn returns the most recent turn satisfying keep.
func (v View) LastTurn(keep func(core.Turn) bool) (core.Turn, bool) {
	for i := len(v.Turns) - 1; i >= 0; i-- {
		if keep(v.Turns[i]) {
			return v.Turns[i], true
		}
	}
	return core.Turn{}, false
}
