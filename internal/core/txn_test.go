package core

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"bastioncore/internal/infra/persistence/memory"
	"bastioncore/pkg/domain"
)

func indexed(calls ...domain.ProposedCall) []indexedCall {
	out := make([]indexedCall, len(calls))
	for i, c := range calls {
		out[i] = indexedCall{index: i, call: c}
	}
	return out
}

func TestRunCommitsAndPromotesShadow(t *testing.T) {
	registry := NewWorldRegistry()
	adapter := memory.NewAdapter(domain.Snapshot{})
	manager := NewTransactionManager(registry, adapter)
	canonical := testState()
	before := canonical.toSnapshot()

	accepted := indexed(
		call("consume_resource", `{"resource_id":"wood","quantity":2}`),
		call("record_combat", `{"attacker":"ana","defender":"bo","outcome":"rout"}`),
	)
	next, applied, delta, err := manager.Run(context.Background(), canonical, accepted)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if manager.State() != TxnCommitted {
		t.Fatalf("expected committed state, got %s", manager.State())
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied calls, got %+v", applied)
	}
	if next.turn != 11 {
		t.Fatalf("turn not advanced: %d", next.turn)
	}
	// The canonical state must be untouched until the caller promotes.
	if !reflect.DeepEqual(canonical.toSnapshot(), before) {
		t.Fatal("canonical state mutated during run")
	}
	if next.stockpiles["wood"].Quantity != 3 {
		t.Fatalf("effect missing from promoted shadow: %+v", next.stockpiles["wood"])
	}

	if delta.Turn != 11 {
		t.Fatalf("delta turn wrong: %d", delta.Turn)
	}
	if len(delta.Stockpiles) != 1 || delta.Stockpiles[0].Quantity != 3 {
		t.Fatalf("delta stockpiles wrong: %+v", delta.Stockpiles)
	}
	if len(delta.Timeline) != 2 || len(delta.CombatLog) != 1 {
		t.Fatalf("delta logs wrong: %d timeline, %d combat", len(delta.Timeline), len(delta.CombatLog))
	}
	// Unchanged entities must not appear in the delta.
	if len(delta.NPCs) != 0 || len(delta.Structures) != 0 {
		t.Fatalf("delta contains unchanged rows: %+v", delta)
	}
}

func TestRunEmptyBatchStillCommitsTurn(t *testing.T) {
	registry := NewWorldRegistry()
	adapter := memory.NewAdapter(domain.Snapshot{})
	manager := NewTransactionManager(registry, adapter)
	canonical := testState()

	next, applied, delta, err := manager.Run(context.Background(), canonical, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected no applied calls, got %+v", applied)
	}
	if next.turn != 11 || delta.Turn != 11 {
		t.Fatalf("turn bump missing: state %d, delta %d", next.turn, delta.Turn)
	}
	if !delta.Empty() {
		t.Fatalf("empty batch produced row changes: %+v", delta)
	}
	if adapter.Snapshot().Turn != 11 {
		t.Fatal("turn bump was not persisted")
	}
}

func TestRunBatchInteractionAbortsWholeTurn(t *testing.T) {
	registry := NewWorldRegistry()
	adapter := memory.NewAdapter(domain.Snapshot{})
	manager := NewTransactionManager(registry, adapter)
	canonical := testState()
	before := canonical.toSnapshot()

	// Each call passes Tier-1 in isolation (5 >= 3), but together they
	// overdraw the stockpile. The second staging re-validation catches it.
	accepted := indexed(
		call("consume_resource", `{"resource_id":"wood","quantity":3}`),
		call("consume_resource", `{"resource_id":"wood","quantity":3}`),
	)
	next, _, _, err := manager.Run(context.Background(), canonical, accepted)
	if next != nil {
		t.Fatal("aborted run must not return a state")
	}
	var rej Rejection
	if !errors.As(err, &rej) || rej.Reason != reasonInsufficientQuantity {
		t.Fatalf("expected insufficient_quantity, got %v", err)
	}
	if manager.State() != TxnAborted {
		t.Fatalf("expected aborted state, got %s", manager.State())
	}
	if !reflect.DeepEqual(canonical.toSnapshot(), before) {
		t.Fatal("aborted run leaked mutations into canonical state")
	}
	if adapter.Snapshot().Turn != 0 {
		t.Fatal("aborted run reached the adapter")
	}
}

func TestRunApplyFailureRollsBackPriorCalls(t *testing.T) {
	// A scratch registry whose second function violates the apply contract
	// after its validator passed.
	registry := NewRegistry()
	if err := registry.Register(FunctionSpec{
		Name:     "grant",
		Validate: func(json.RawMessage, *worldState) error { return nil },
		Apply: func(_ json.RawMessage, state *worldState, turn int) (any, error) {
			sp := state.stockpiles["wood"]
			token := stockpileToken{prior: sp, existed: true}
			sp.Quantity++
			sp.LastUpdatedTurn = turn
			state.stockpiles["wood"] = sp
			return token, nil
		},
		Rollback: rollbackStockpile,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(FunctionSpec{
		Name:     "implode",
		Validate: func(json.RawMessage, *worldState) error { return nil },
		Apply: func(json.RawMessage, *worldState, int) (any, error) {
			return nil, errors.New("contract violation")
		},
		Rollback: func(any, *worldState) error { return nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	registry.Seal()

	adapter := memory.NewAdapter(domain.Snapshot{})
	manager := NewTransactionManager(registry, adapter)
	canonical := testState()
	before := canonical.toSnapshot()

	accepted := indexed(
		domain.ProposedCall{Function: "grant"},
		domain.ProposedCall{Function: "implode"},
	)
	next, _, _, err := manager.Run(context.Background(), canonical, accepted)
	if next != nil {
		t.Fatal("apply failure must not promote the shadow")
	}
	var applyErr domain.ApplyFailureError
	if !errors.As(err, &applyErr) || applyErr.Function != "implode" {
		t.Fatalf("expected ApplyFailureError for implode, got %v", err)
	}
	if manager.State() != TxnAborted {
		t.Fatalf("expected aborted state, got %s", manager.State())
	}
	if !reflect.DeepEqual(canonical.toSnapshot(), before) {
		t.Fatal("first call's effect leaked into canonical state")
	}
	if adapter.Snapshot().Turn != 0 {
		t.Fatal("failed turn reached the adapter")
	}
}

func TestRunPersistFailureAborts(t *testing.T) {
	registry := NewWorldRegistry()
	adapter := memory.NewAdapter(domain.Snapshot{})
	adapter.PersistErr = errors.New("disk full")
	manager := NewTransactionManager(registry, adapter)
	canonical := testState()
	before := canonical.toSnapshot()

	accepted := indexed(call("add_resource", `{"resource_id":"wood","quantity":1}`))
	next, _, _, err := manager.Run(context.Background(), canonical, accepted)
	if next != nil {
		t.Fatal("failed persist must not promote the shadow")
	}
	var perr domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if manager.State() != TxnAborted {
		t.Fatalf("expected aborted state, got %s", manager.State())
	}
	if !reflect.DeepEqual(canonical.toSnapshot(), before) {
		t.Fatal("canonical state mutated by failed persist")
	}
}

func TestDiffStatesTracksTradeRoutePointerField(t *testing.T) {
	before := testState()
	after := before.clone()
	after.turn = before.turn + 1
	closed := after.turn
	route := after.tradeRoutes["river"]
	route.Status = domain.TradeRouteClosed
	route.ClosedTurn = &closed
	after.tradeRoutes["river"] = route

	delta := diffStates(before, after)
	if len(delta.TradeRoutes) != 1 || delta.TradeRoutes[0].ClosedTurn == nil {
		t.Fatalf("closed route missing from delta: %+v", delta.TradeRoutes)
	}

	// Identical routes (same pointer value) must not be reported.
	unchanged := diffStates(before, before.clone())
	if len(unchanged.TradeRoutes) != 0 {
		t.Fatalf("unchanged route reported: %+v", unchanged.TradeRoutes)
	}
}
