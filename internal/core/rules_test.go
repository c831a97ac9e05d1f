package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bastioncore/pkg/domain"
)

// scriptedAdjudicator returns a fixed verdict (or error) and records the
// batch it was handed.
type scriptedAdjudicator struct {
	verdict domain.Verdict
	err     error
	delay   time.Duration

	gotBatch   []domain.ProposedCall
	gotContext string
	calls      int
}

func (a *scriptedAdjudicator) Adjudicate(ctx context.Context, batch []domain.ProposedCall, narrative string) (domain.Verdict, error) {
	a.calls++
	a.gotBatch = batch
	a.gotContext = narrative
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.verdict, a.err
}

func call(fn, args string) domain.ProposedCall {
	return domain.ProposedCall{Function: fn, Args: json.RawMessage(args)}
}

func acceptAll(n int) domain.Verdict {
	v := make(domain.Verdict, n)
	for i := 0; i < n; i++ {
		v[i] = domain.CallVerdict{Accept: true}
	}
	return v
}

func TestGateTierOneDropsIndividually(t *testing.T) {
	adj := &scriptedAdjudicator{verdict: acceptAll(1)}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyAtomic, 0)
	state := testState()

	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{
		call("consume_resource", `{"resource_id":"wood","quantity":99}`), // insufficient
		call("move_npc", `{"npc_id":"ana","location":"keep"}`),           // fine
		call("enchant_sword", `{}`),                                      // unregistered
	}}
	out := engine.Gate(context.Background(), state, proposal)

	if len(out.accepted) != 1 || out.accepted[0].index != 1 {
		t.Fatalf("expected only call 1 accepted, got %+v", out.accepted)
	}
	if len(out.rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %+v", out.rejected)
	}
	for _, r := range out.rejected {
		if r.Tier != domain.TierOne {
			t.Fatalf("expected tier1 rejection, got %+v", r)
		}
	}
	if out.rejected[0].Reason != reasonInsufficientQuantity {
		t.Fatalf("unexpected reason %q", out.rejected[0].Reason)
	}
	if out.rejected[1].Reason != domain.ReasonUnknownFunction {
		t.Fatalf("unexpected reason %q", out.rejected[1].Reason)
	}
	// Only the Tier-1 survivors reach the adjudicator.
	if len(adj.gotBatch) != 1 || adj.gotBatch[0].Function != "move_npc" {
		t.Fatalf("adjudicator saw wrong batch: %+v", adj.gotBatch)
	}
}

func TestGateSkipsAdjudicationWhenNothingSurvives(t *testing.T) {
	adj := &scriptedAdjudicator{}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyAtomic, 0)
	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{call("enchant_sword", `{}`)}}
	out := engine.Gate(context.Background(), testState(), proposal)
	if adj.calls != 0 {
		t.Fatal("adjudicator called with empty batch")
	}
	if out.abortReason != "" {
		t.Fatalf("tier1-only rejection must not abort the turn: %q", out.abortReason)
	}
}

func TestGatePassesNarrativeContext(t *testing.T) {
	adj := &scriptedAdjudicator{verdict: acceptAll(1)}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyAtomic, 0)
	proposal := domain.TurnProposal{
		Calls:   []domain.ProposedCall{call("move_npc", `{"npc_id":"ana","location":"keep"}`)},
		Context: "ana retreats to the keep",
	}
	engine.Gate(context.Background(), testState(), proposal)
	if adj.gotContext != "ana retreats to the keep" {
		t.Fatalf("context not forwarded: %q", adj.gotContext)
	}
}

func TestGateAtomicPolicyRejectsWholeBatch(t *testing.T) {
	adj := &scriptedAdjudicator{verdict: domain.Verdict{
		0: {Accept: true},
		1: {Accept: false, Reason: "contradicts_narrative"},
	}}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyAtomic, 0)
	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{
		call("move_npc", `{"npc_id":"ana","location":"keep"}`),
		call("add_resource", `{"resource_id":"wood","quantity":1}`),
	}}
	out := engine.Gate(context.Background(), testState(), proposal)

	if out.accepted != nil {
		t.Fatalf("atomic policy must clear the batch, got %+v", out.accepted)
	}
	if out.abortReason != "contradicts_narrative" {
		t.Fatalf("unexpected abort reason %q", out.abortReason)
	}
	if out.abortErr != nil {
		t.Fatalf("verdict-driven abort must not carry an error, got %v", out.abortErr)
	}
	if len(out.rejected) != 2 {
		t.Fatalf("both calls must be reported rejected, got %+v", out.rejected)
	}
	reasons := map[int]string{}
	for _, r := range out.rejected {
		if r.Tier != domain.TierTwo {
			t.Fatalf("expected tier2, got %+v", r)
		}
		reasons[r.Index] = r.Reason
	}
	if reasons[1] != "contradicts_narrative" || reasons[0] != domain.ReasonBatchRejected {
		t.Fatalf("unexpected reasons %v", reasons)
	}
}

func TestGatePerCallPolicyDropsOnlyRejected(t *testing.T) {
	adj := &scriptedAdjudicator{verdict: domain.Verdict{
		0: {Accept: true},
		1: {Accept: false, Reason: "contradicts_narrative"},
	}}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyPerCall, 0)
	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{
		call("move_npc", `{"npc_id":"ana","location":"keep"}`),
		call("add_resource", `{"resource_id":"wood","quantity":1}`),
	}}
	out := engine.Gate(context.Background(), testState(), proposal)

	if out.abortReason != "" {
		t.Fatalf("per_call must not abort, got %q", out.abortReason)
	}
	if len(out.accepted) != 1 || out.accepted[0].index != 0 {
		t.Fatalf("expected call 0 to survive, got %+v", out.accepted)
	}
	if len(out.rejected) != 1 || out.rejected[0].Index != 1 {
		t.Fatalf("expected call 1 rejected, got %+v", out.rejected)
	}
}

func TestGateMissingVerdictIsRejection(t *testing.T) {
	adj := &scriptedAdjudicator{verdict: domain.Verdict{0: {Accept: true}}}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyPerCall, 0)
	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{
		call("move_npc", `{"npc_id":"ana","location":"keep"}`),
		call("add_resource", `{"resource_id":"wood","quantity":1}`),
	}}
	out := engine.Gate(context.Background(), testState(), proposal)
	if len(out.rejected) != 1 || out.rejected[0].Reason != domain.ReasonUnadjudicated {
		t.Fatalf("missing verdict must reject, got %+v", out.rejected)
	}
}

func TestGateFailsClosedOnAdjudicatorError(t *testing.T) {
	adj := &scriptedAdjudicator{err: errors.New("upstream 503")}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyPerCall, 0)
	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{
		call("move_npc", `{"npc_id":"ana","location":"keep"}`),
	}}
	out := engine.Gate(context.Background(), testState(), proposal)

	if out.accepted != nil {
		t.Fatal("calls must not survive an unavailable adjudicator")
	}
	if out.abortReason != domain.ReasonAdjudicationUnavailable {
		t.Fatalf("unexpected abort reason %q", out.abortReason)
	}
	var adjErr domain.AdjudicationError
	if !errors.As(out.abortErr, &adjErr) {
		t.Fatalf("expected AdjudicationError, got %v", out.abortErr)
	}
	if len(out.rejected) != 1 || out.rejected[0].Reason != domain.ReasonAdjudicationUnavailable {
		t.Fatalf("unexpected rejections %+v", out.rejected)
	}
}

func TestGateFailsClosedOnTimeout(t *testing.T) {
	adj := &scriptedAdjudicator{verdict: acceptAll(1), delay: 200 * time.Millisecond}
	engine := NewRulesEngine(NewWorldRegistry(), adj, PolicyAtomic, 10*time.Millisecond)
	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{
		call("move_npc", `{"npc_id":"ana","location":"keep"}`),
	}}
	out := engine.Gate(context.Background(), testState(), proposal)
	if out.abortReason != domain.ReasonAdjudicationUnavailable {
		t.Fatalf("timeout must fail closed, got %q", out.abortReason)
	}
}

func TestNewRulesEngineDefaults(t *testing.T) {
	engine := NewRulesEngine(NewWorldRegistry(), nil, "bogus", 0)
	if engine.policy != PolicyAtomic {
		t.Fatalf("invalid policy must fall back to atomic, got %q", engine.policy)
	}
	// Nil adjudicator accepts everything.
	proposal := domain.TurnProposal{Calls: []domain.ProposedCall{
		call("move_npc", `{"npc_id":"ana","location":"keep"}`),
	}}
	out := engine.Gate(context.Background(), testState(), proposal)
	if len(out.accepted) != 1 || len(out.rejected) != 0 {
		t.Fatalf("accept-all default violated: %+v", out)
	}
}
