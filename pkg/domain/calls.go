package domain

import "encoding/json"

// ProposedCall is one untrusted mutation request emitted by an upstream
// agent. Args is the raw argument object; it is schema-checked before any
// validator runs.
type ProposedCall struct {
	Function string          `json:"function_name"`
	Args     json.RawMessage `json:"arguments"`
}

// TurnProposal is the ordered batch of proposed calls for one turn, together
// with the narrative context handed to the consistency adjudicator.
type TurnProposal struct {
	Calls   []ProposedCall `json:"calls"`
	Context string         `json:"context"`
}

// RejectionTier identifies which gate dropped a call.
type RejectionTier string

// Validation tiers. Schema and registry lookup failures are reported as
// tier 1 since they are deterministic local checks.
const (
	TierOne RejectionTier = "tier1"
	TierTwo RejectionTier = "tier2"
)

// Cross-cutting rejection reasons. Function validators return their own
// domain-specific reasons (for example insufficient_quantity).
const (
	ReasonUnknownFunction         = "unknown_function"
	ReasonInvalidArguments        = "invalid_arguments"
	ReasonAdjudicationUnavailable = "adjudication_unavailable"
	ReasonBatchRejected           = "batch_rejected"
	ReasonUnadjudicated           = "unadjudicated"
)

// RejectedCall reports one dropped call with the tier and reason.
type RejectedCall struct {
	Index  int           `json:"index"`
	Call   ProposedCall  `json:"call"`
	Tier   RejectionTier `json:"tier"`
	Reason string        `json:"reason"`
}

// AppliedCall reports one call whose effect is part of the committed turn.
type AppliedCall struct {
	Index int          `json:"index"`
	Call  ProposedCall `json:"call"`
}

// TurnStatus is the terminal outcome of a turn.
type TurnStatus string

// Terminal turn statuses.
const (
	TurnCommitted TurnStatus = "committed"
	TurnAborted   TurnStatus = "aborted"
)

// TurnResult is the outcome surfaced to the upstream caller: the resulting
// turn number, every applied call, and every rejection with its reason.
type TurnResult struct {
	Turn     int            `json:"turn_number"`
	Status   TurnStatus     `json:"final_status"`
	Applied  []AppliedCall  `json:"applied"`
	Rejected []RejectedCall `json:"rejected"`
	// Reason is set when Status is aborted and names the turn-level cause.
	Reason string `json:"reason,omitempty"`
}
