package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bastioncore/pkg/domain"
)

// ArchiveSink receives committed turn deltas for external replay tooling.
// Recording is observational: a sink failure never un-commits a turn.
type ArchiveSink interface {
	Record(ctx context.Context, delta domain.CommitDelta) error
}

// Options configures an Engine.
type Options struct {
	// Adjudicator is the Tier-2 consistency collaborator. Nil accepts all.
	Adjudicator domain.Adjudicator
	// Policy selects Tier-2 rejection scope; defaults to PolicyAtomic.
	Policy AdjudicationPolicy
	// AdjudicationTimeout bounds the Tier-2 call; zero means no deadline.
	AdjudicationTimeout time.Duration
	// Metrics receives the engine's collectors; nil skips registration.
	Metrics prometheus.Registerer
	// Archive, when set, records every committed delta.
	Archive ArchiveSink
}

// Engine owns the canonical world state and processes turns strictly one at
// a time: gate, stage, commit or abort. It is the only writer of the
// canonical state.
type Engine struct {
	mu       sync.Mutex
	registry *Registry
	rules    *RulesEngine
	txn      *TransactionManager
	adapter  domain.PersistenceAdapter
	archive  ArchiveSink
	metrics  *engineMetrics

	state *worldState
}

// NewEngine hydrates the canonical state from the adapter and wires the turn
// pipeline around the closed world-function registry.
func NewEngine(ctx context.Context, adapter domain.PersistenceAdapter, opts Options) (*Engine, error) {
	snap, err := adapter.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load world state: %w", err)
	}
	registry := NewWorldRegistry()
	return &Engine{
		registry: registry,
		rules:    NewRulesEngine(registry, opts.Adjudicator, opts.Policy, opts.AdjudicationTimeout),
		txn:      NewTransactionManager(registry, adapter),
		adapter:  adapter,
		archive:  opts.Archive,
		metrics:  newEngineMetrics(opts.Metrics),
		state:    fromSnapshot(snap),
	}, nil
}

// Turn returns the last committed turn number.
func (e *Engine) Turn() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.turn
}

// Snapshot returns a deep copy of the canonical state.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.toSnapshot()
}

// Functions returns the registered function names.
func (e *Engine) Functions() []string { return e.registry.Names() }

// ResolveTurn processes one turn end to end. Rejected calls are reported in
// the result, never silently dropped. The returned error is non-nil only for
// the error-class failures (apply contract violation, persistence failure,
// adjudication unavailability); a turn aborted purely by adjudication
// verdicts returns a nil error with Status set to aborted. The canonical
// state is replaced only when the result says committed.
func (e *Engine) ResolveTurn(ctx context.Context, proposal domain.TurnProposal) (domain.TurnResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	defer func() { e.metrics.turnDuration.Observe(time.Since(started).Seconds()) }()

	out := e.rules.Gate(ctx, e.state, proposal)
	e.countRejections(out.rejected)

	if out.abortReason != "" {
		result := domain.TurnResult{
			Turn:     e.state.turn,
			Status:   domain.TurnAborted,
			Rejected: out.rejected,
			Reason:   out.abortReason,
		}
		e.metrics.turns.WithLabelValues(string(domain.TurnAborted)).Inc()
		return result, out.abortErr
	}

	newState, applied, delta, err := e.txn.Run(ctx, e.state, out.accepted)
	if err != nil {
		result := domain.TurnResult{
			Turn:     e.state.turn,
			Status:   domain.TurnAborted,
			Rejected: out.rejected,
			Reason:   abortReason(err),
		}
		e.metrics.turns.WithLabelValues(string(domain.TurnAborted)).Inc()
		if isRejection(err) {
			// A batch interaction rejected at staging time is a validation
			// outcome, not an engineering failure.
			return result, nil
		}
		return result, err
	}

	e.state = newState
	e.metrics.turns.WithLabelValues(string(domain.TurnCommitted)).Inc()
	e.metrics.calls.WithLabelValues("applied").Add(float64(len(applied)))

	if e.archive != nil {
		if archErr := e.archive.Record(ctx, delta); archErr != nil {
			e.metrics.archiveFailures.Inc()
		}
	}

	return domain.TurnResult{
		Turn:     e.state.turn,
		Status:   domain.TurnCommitted,
		Applied:  applied,
		Rejected: out.rejected,
	}, nil
}

func (e *Engine) countRejections(rejected []domain.RejectedCall) {
	for _, r := range rejected {
		e.metrics.calls.WithLabelValues("rejected_" + string(r.Tier)).Inc()
	}
}

func abortReason(err error) string {
	var rej Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	var unknown domain.UnknownFunctionError
	if errors.As(err, &unknown) {
		return domain.ReasonUnknownFunction
	}
	var apply domain.ApplyFailureError
	if errors.As(err, &apply) {
		return "apply_failure"
	}
	var persist domain.PersistenceError
	if errors.As(err, &persist) {
		return "persistence_failure"
	}
	return err.Error()
}

func isRejection(err error) bool {
	var rej Rejection
	if errors.As(err, &rej) {
		return true
	}
	var unknown domain.UnknownFunctionError
	return errors.As(err, &unknown)
}
