package domain

import "context"

// CallVerdict is the adjudicator's decision for a single call.
type CallVerdict struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason,omitempty"`
}

// Verdict maps call index (within the submitted batch) to a decision.
// A call missing from the verdict is treated as rejected; acceptance is
// never implied.
type Verdict map[int]CallVerdict

// Adjudicator is the injected consistency-check collaborator. Adjudicate is
// the one long-latency operation in a turn: implementations may block and
// must honor ctx cancellation. The verdict is authoritative; the engine does
// not retry.
type Adjudicator interface {
	Adjudicate(ctx context.Context, batch []ProposedCall, narrative string) (Verdict, error)
}

// AcceptAllAdjudicator approves every call. Used for offline replays and as
// the default when no consistency backend is configured.
type AcceptAllAdjudicator struct{}

// Adjudicate implements Adjudicator.
func (AcceptAllAdjudicator) Adjudicate(_ context.Context, batch []ProposedCall, _ string) (Verdict, error) {
	verdict := make(Verdict, len(batch))
	for i := range batch {
		verdict[i] = CallVerdict{Accept: true}
	}
	return verdict, nil
}
