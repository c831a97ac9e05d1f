package core

import (
	"context"
	"errors"
	"time"

	"bastioncore/pkg/domain"
)

// AdjudicationPolicy selects how a Tier-2 rejection of one call affects the
// rest of the batch.
type AdjudicationPolicy string

// Supported policies. Atomic matches the transaction manager's
// all-or-nothing contract and is the default.
const (
	// PolicyAtomic aborts the whole turn when any surviving call is
	// rejected by the adjudicator.
	PolicyAtomic AdjudicationPolicy = "atomic"
	// PolicyPerCall drops only the rejected calls; the remainder still
	// commits atomically.
	PolicyPerCall AdjudicationPolicy = "per_call"
)

// ValidPolicy reports whether p is a supported adjudication policy.
func ValidPolicy(p AdjudicationPolicy) bool {
	return p == PolicyAtomic || p == PolicyPerCall
}

// indexedCall pairs a proposed call with its position in the original batch
// so rejections can be reported against the caller's ordering.
type indexedCall struct {
	index int
	call  domain.ProposedCall
}

// gateOutcome is the RulesEngine's output for one turn: the surviving calls
// in submission order, every rejection with tier and reason, and a non-empty
// abortReason when the whole turn must abort before staging.
type gateOutcome struct {
	accepted    []indexedCall
	rejected    []domain.RejectedCall
	abortReason string
	abortErr    error
}

// RulesEngine runs the two-tier gate over a turn's proposed calls: cheap
// deterministic precondition checks first, then a single batched consistency
// adjudication against the injected collaborator.
type RulesEngine struct {
	registry    *Registry
	adjudicator domain.Adjudicator
	policy      AdjudicationPolicy
	timeout     time.Duration
}

// NewRulesEngine wires the gate. A nil adjudicator accepts everything; a
// zero timeout disables the Tier-2 deadline.
func NewRulesEngine(registry *Registry, adjudicator domain.Adjudicator, policy AdjudicationPolicy, timeout time.Duration) *RulesEngine {
	if adjudicator == nil {
		adjudicator = domain.AcceptAllAdjudicator{}
	}
	if !ValidPolicy(policy) {
		policy = PolicyAtomic
	}
	return &RulesEngine{
		registry:    registry,
		adjudicator: adjudicator,
		policy:      policy,
		timeout:     timeout,
	}
}

// Gate evaluates the proposal against the pre-turn state. Tier-1 rejections
// drop individual calls; Tier-2 behavior follows the configured policy.
// Nothing is staged here and state is never mutated.
func (e *RulesEngine) Gate(ctx context.Context, state *worldState, proposal domain.TurnProposal) gateOutcome {
	out := gateOutcome{}

	// Tier 1: each call validated in isolation against pre-turn state.
	for i, call := range proposal.Calls {
		if err := e.registry.Validate(call, state); err != nil {
			out.rejected = append(out.rejected, domain.RejectedCall{
				Index:  i,
				Call:   call,
				Tier:   domain.TierOne,
				Reason: rejectionReason(err),
			})
			continue
		}
		out.accepted = append(out.accepted, indexedCall{index: i, call: call})
	}

	if len(out.accepted) == 0 {
		return out
	}

	// Tier 2: one batched adjudication, the only long-latency operation in
	// the turn. Timeouts and transport failures are fail-closed.
	batch := make([]domain.ProposedCall, len(out.accepted))
	for i, ic := range out.accepted {
		batch[i] = ic.call
	}
	adjCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		adjCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	verdict, err := e.adjudicator.Adjudicate(adjCtx, batch, proposal.Context)
	if err == nil && adjCtx.Err() != nil {
		err = adjCtx.Err()
	}
	if err != nil {
		for _, ic := range out.accepted {
			out.rejected = append(out.rejected, domain.RejectedCall{
				Index:  ic.index,
				Call:   ic.call,
				Tier:   domain.TierTwo,
				Reason: domain.ReasonAdjudicationUnavailable,
			})
		}
		out.accepted = nil
		out.abortReason = domain.ReasonAdjudicationUnavailable
		out.abortErr = domain.AdjudicationError{Err: err}
		return out
	}

	var survivors []indexedCall
	var tier2 []domain.RejectedCall
	for i, ic := range out.accepted {
		v, ok := verdict[i]
		switch {
		case !ok:
			tier2 = append(tier2, domain.RejectedCall{
				Index: ic.index, Call: ic.call, Tier: domain.TierTwo,
				Reason: domain.ReasonUnadjudicated,
			})
		case !v.Accept:
			reason := v.Reason
			if reason == "" {
				reason = "rejected"
			}
			tier2 = append(tier2, domain.RejectedCall{
				Index: ic.index, Call: ic.call, Tier: domain.TierTwo,
				Reason: reason,
			})
		default:
			survivors = append(survivors, ic)
		}
	}

	if len(tier2) > 0 && e.policy == PolicyAtomic {
		// One rejection sinks the batch: the survivors are rejected too so
		// the caller sees why each call did not apply.
		for _, ic := range survivors {
			tier2 = append(tier2, domain.RejectedCall{
				Index: ic.index, Call: ic.call, Tier: domain.TierTwo,
				Reason: domain.ReasonBatchRejected,
			})
		}
		out.rejected = append(out.rejected, tier2...)
		out.accepted = nil
		out.abortReason = tier2[0].Reason
		return out
	}

	out.rejected = append(out.rejected, tier2...)
	out.accepted = survivors
	return out
}

// rejectionReason maps a Tier-1 validation error onto the recorded reason.
func rejectionReason(err error) string {
	var rej Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	var unknown domain.UnknownFunctionError
	if errors.As(err, &unknown) {
		return domain.ReasonUnknownFunction
	}
	return err.Error()
}
