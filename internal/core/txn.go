package core

import (
	"context"

	"bastioncore/pkg/domain"
)

// TxnState tracks the transaction manager's position in the commit protocol.
type TxnState string

// Transaction states. Committed and Aborted are terminal per turn.
const (
	TxnIdle        TxnState = "idle"
	TxnStaging     TxnState = "staging"
	TxnCommitting  TxnState = "committing"
	TxnCommitted   TxnState = "committed"
	TxnRollingBack TxnState = "rolling_back"
	TxnAborted     TxnState = "aborted"
)

// TransactionManager stages accepted calls against a shadow copy of the
// canonical state and either promotes the shadow wholesale after a durable
// write or discards it leaving no trace.
type TransactionManager struct {
	registry *Registry
	adapter  domain.PersistenceAdapter
	state    TxnState
}

// NewTransactionManager wires the manager to the registry and the durable
// adapter.
func NewTransactionManager(registry *Registry, adapter domain.PersistenceAdapter) *TransactionManager {
	return &TransactionManager{registry: registry, adapter: adapter, state: TxnIdle}
}

// State exposes the current protocol state, mainly for tests.
func (m *TransactionManager) State() TxnState { return m.state }

// Run executes one turn's accepted calls. On success it returns the new
// canonical state (the promoted shadow) and the applied-call report; the
// previous canonical state is never mutated. On any failure the shadow is
// rolled back token-by-token in reverse order and discarded, and the
// returned error carries the abort cause.
func (m *TransactionManager) Run(ctx context.Context, canonical *worldState, accepted []indexedCall) (*worldState, []domain.AppliedCall, domain.CommitDelta, error) {
	m.state = TxnStaging
	shadow := canonical.clone()
	nextTurn := canonical.turn + 1

	var tokens []rollbackToken
	var applied []domain.AppliedCall
	for _, ic := range accepted {
		token, err := m.registry.Invoke(ic.call, shadow, nextTurn)
		if err != nil {
			// Staging failure after the gate passed: either an apply
			// contract violation or a batch interaction the isolated Tier-1
			// checks could not see. Both abort the whole turn.
			m.rollback(shadow, tokens)
			return nil, nil, domain.CommitDelta{}, err
		}
		tokens = append(tokens, token)
		applied = append(applied, domain.AppliedCall{Index: ic.index, Call: ic.call})
	}

	m.state = TxnCommitting
	shadow.turn = nextTurn
	delta := diffStates(canonical, shadow)
	if err := m.adapter.Persist(ctx, delta); err != nil {
		m.rollback(shadow, tokens)
		return nil, nil, domain.CommitDelta{}, domain.PersistenceError{Err: err}
	}

	m.state = TxnCommitted
	return shadow, applied, delta, nil
}

// rollback restores the shadow to its pre-turn contents by inverting every
// staged effect in reverse order, then parks the manager in Aborted. The
// shadow is discarded by the caller either way; the explicit inversion keeps
// the rollback path exercised and verifiable.
func (m *TransactionManager) rollback(shadow *worldState, tokens []rollbackToken) {
	m.state = TxnRollingBack
	for i := len(tokens) - 1; i >= 0; i-- {
		// Token reverts restore prior-value snapshots and cannot fail on a
		// state they were captured from; a non-nil error here would itself
		// be a contract violation, and the shadow is dropped regardless.
		_ = tokens[i].revert(shadow)
	}
	m.state = TxnAborted
}

// diffStates computes the commit delta between the pre-turn canonical state
// and the fully staged shadow: upserted rows for every changed entity and
// the log rows appended during the turn.
func diffStates(before, after *worldState) domain.CommitDelta {
	delta := domain.CommitDelta{Turn: after.turn}
	for _, id := range sortedKeys(after.npcs) {
		if prior, ok := before.npcs[id]; !ok || prior != after.npcs[id] {
			delta.NPCs = append(delta.NPCs, after.npcs[id])
		}
	}
	for _, id := range sortedKeys(after.structures) {
		if prior, ok := before.structures[id]; !ok || prior != after.structures[id] {
			delta.Structures = append(delta.Structures, after.structures[id])
		}
	}
	for _, id := range sortedKeys(after.stockpiles) {
		if prior, ok := before.stockpiles[id]; !ok || prior != after.stockpiles[id] {
			delta.Stockpiles = append(delta.Stockpiles, after.stockpiles[id])
		}
	}
	for _, id := range sortedKeys(after.tradeRoutes) {
		prior, ok := before.tradeRoutes[id]
		if !ok || !tradeRouteEqual(prior, after.tradeRoutes[id]) {
			delta.TradeRoutes = append(delta.TradeRoutes, cloneTradeRoute(after.tradeRoutes[id]))
		}
	}
	for _, id := range sortedKeys(after.events) {
		if prior, ok := before.events[id]; !ok || prior != after.events[id] {
			delta.ScheduledEvents = append(delta.ScheduledEvents, after.events[id])
		}
	}
	for _, act := range sortedKeys(after.story) {
		if prior, ok := before.story[act]; !ok || prior != after.story[act] {
			delta.Story = append(delta.Story, after.story[act])
		}
	}
	for _, ev := range after.timeline[len(before.timeline):] {
		delta.Timeline = append(delta.Timeline, cloneTimelineEvent(ev))
	}
	delta.HazardLog = append(delta.HazardLog, after.hazardLog[len(before.hazardLog):]...)
	delta.CombatLog = append(delta.CombatLog, after.combatLog[len(before.combatLog):]...)
	return delta
}

func tradeRouteEqual(a, b domain.TradeRoute) bool {
	if a.ClosedTurn == nil != (b.ClosedTurn == nil) {
		return false
	}
	if a.ClosedTurn != nil && *a.ClosedTurn != *b.ClosedTurn {
		return false
	}
	a.ClosedTurn, b.ClosedTurn = nil, nil
	return a == b
}
