package assistant

import (
	"context"
	"fmt"
	log "log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
	"lumen/internal/telemetry"
)

const DefaultExecTimeout = 5 * time.Second

// Conversant is the conversational fallback used when no capability matches.
type Conversant interface {
	Converse(ctx context.Context, u core.Utterance, view memory.View) (string, error)
}

// Recorder receives every finished turn, e.g. a transcript file.
type Recorder interface {
	Record(core.Turn) error
}

type phase string

const (
	phaseReceived  phase = "received"
	phaseResolved  phase = "resolved"
	phaseExecuting phase = "executing"
	phaseCompleted phase = "completed"
	phaseFailed    phase = "failed"
	phaseRecorded  phase = "recorded"
)

type DispatcherConfig struct {
	ExecTimeout time.Duration
	// ContextTurns is how many recent turns executors and the fallback see.
	ContextTurns int
	Metrics      *telemetry.Metrics
	Recorder     Recorder
	Logger       *log.Logger
}

// Dispatcher owns the turn lifecycle. Turns are serialized: the memory store
// is single-writer and history order must match dispatch order.
type Dispatcher struct {
	mu       sync.Mutex
	registry *intent.Registry
	resolver intent.Resolver
	fallback Conversant
	memory   *memory.Store
	cfg      DispatcherConfig
	log      *log.Logger
}

func NewDispatcher(reg *intent.Registry, res intent.Resolver, fb Conversant, mem *memory.Store, cfg DispatcherConfig) *Dispatcher {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = mem.HistoryBound()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Dispatcher{
		registry: reg,
		resolver: res,
		fallback: fb,
		memory:   mem,
		cfg:      cfg,
		log:      logger.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Memory() *memory.Store { return d.memory }

// HandleTurn runs one utterance through resolve, execute and record. It
// always returns a finished turn; failures are turned into apologies.
func (d *Dispatcher) HandleTurn(ctx context.Context, u core.Utterance) core.Turn {
	d.mu.Lock()
	defer d.mu.Unlock()

	turn := core.NewTurn(uuid.NewString(), u)
	tlog := d.log.With("turn", turn.ID)
	tlog.Debug("Turn", "phase", phaseReceived, "text", telemetry.Truncate(u.Text, 80), "confidence", u.Confidence)

	res := d.resolver.Resolve(u, d.registry)
	turn.Capability = res.Capability
	turn.Params = res.Params.Clone()
	tlog.Debug("Turn", "phase", phaseResolved, "capability", res.Capability, "score", res.Score, "by", res.MatchedBy)

	view := d.memory.Snapshot(d.cfg.ContextTurns)

	var (
		reply core.Reply
		err   error
	)
	tlog.Debug("Turn", "phase", phaseExecuting)

	if res.Fallback() {
		reply, err = d.converse(ctx, u, view)
	} else {
		reply, err = d.execute(ctx, res, view)
	}

	var kind core.Kind
	if err != nil {
		aerr := core.AsActionError(err)
		kind = aerr.Kind
		turn.Finish(core.StatusFailed, d.apologyFor(res, aerr.Kind))
		tlog.Warn("Turn failed", "phase", phaseFailed, "capability", res.Capability, "kind", aerr.Kind, "detail", aerr.Error())
	} else {
		status := core.StatusOK
		if res.Fallback() {
			status = core.StatusFallback
		}
		turn.Finish(status, strings.TrimSpace(reply.Text))
		tlog.Debug("Turn", "phase", phaseCompleted, "status", status, "reply", telemetry.Truncate(turn.Response, 80))
	}

	d.record(ctx, *turn, reply.Facts, tlog)
	tlog.Info("Turn done", "phase", phaseRecorded, "capability", turn.Capability, "status", turn.Status, "took", turn.Duration())

	d.cfg.Metrics.RecordTurn(ctx, *turn, kind)
	return turn.Clone()
}

func (d *Dispatcher) converse(ctx context.Context, u core.Utterance, view memory.View) (core.Reply, error) {
	if d.fallback == nil {
		return core.Reply{}, core.ServiceUnavailable("no conversational fallback configured", nil)
	}
	text, err := d.fallback.Converse(ctx, u, view)
	if err != nil {
		return core.Reply{}, err
	}
	return core.Reply{Text: text}, nil
}

type outcome struct {
	reply core.Reply
	err   error
}

// execute runs the executor under its timeout. The executor runs in its
// own goroutine so a collaborator that ignores its context cannot hold the
// turn past the deadline; a panic becomes ExecutionFailed.
func (d *Dispatcher) execute(ctx context.Context, res intent.Resolution, view memory.View) (core.Reply, error) {
	c, err := d.registry.Get(res.Capability)
	if err != nil {
		return core.Reply{}, core.NotFound(err.Error())
	}

	timeout := d.cfg.ExecTimeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("Executor panic", "capability", c.Name, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: core.ExecutionFailed(fmt.Sprintf("panic: %v", r), nil)}
			}
		}()
		reply, err := c.Execute(ectx, res.Params.Clone(), view)
		done <- outcome{reply: reply, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return core.Reply{}, out.err
		}
		return out.reply, nil
	case <-ectx.Done():
		if ctx.Err() != nil {
			return core.Reply{}, core.NewActionError(core.KindCancelled, "turn cancelled", ctx.Err())
		}
		return core.Reply{}, core.Timeout(fmt.Sprintf("%s exceeded %s", c.Name, timeout), ectx.Err())
	}
}

func (d *Dispatcher) apologyFor(res intent.Resolution, kind core.Kind) string {
	if res.Fallback() {
		if kind == core.KindCancelled {
			return apology(nil, kind)
		}
		return FallbackApology
	}
	c, err := d.registry.Get(res.Capability)
	if err != nil {
		return apology(nil, kind)
	}
	return apology(c.Apologies, kind)
}

// record appends the turn to history and stores any facts the executor
// asked to remember. Persistence errors are logged, never surfaced.
func (d *Dispatcher) record(ctx context.Context, t core.Turn, facts map[string]string, tlog *log.Logger) {
	d.memory.AppendTurn(t)

	if t.Status == core.StatusOK {
		for k, v := range facts {
			if err := d.memory.SetFact(context.WithoutCancel(ctx), k, v); err != nil {
				tlog.Error("Failed to store fact", "key", k, "err", err)
				continue
			}
			tlog.Debug("Remembered", "key", k)
		}
	}

	if d.cfg.Recorder != nil {
		if err := d.cfg.Recorder.Record(t); err != nil {
			tlog.Warn("Failed to write transcript", "err", err)
		}
	}
}
