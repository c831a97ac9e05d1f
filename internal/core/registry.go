package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"bastioncore/pkg/domain"
)

// Rejection is returned by a validator to reject a call with a recorded
// reason and no state mutation.
type Rejection struct {
	Reason string
}

func (e Rejection) Error() string { return e.Reason }

// FunctionSpec declares one whitelisted mutation operation: a JSON Schema
// for its argument object, a deterministic precondition validator, the
// effect, and its inverse. Apply returns an opaque token holding prior-value
// snapshots; Rollback restores exactly those values. Neither may read clocks
// or randomness.
type FunctionSpec struct {
	Name       string
	ArgsSchema string
	Validate   func(args json.RawMessage, state *worldState) error
	Apply      func(args json.RawMessage, state *worldState, turn int) (any, error)
	Rollback   func(token any, state *worldState) error
}

// rollbackToken captures everything needed to invert one applied call,
// including the timeline row appended for it.
type rollbackToken struct {
	function    string
	inner       any
	rollback    func(any, *worldState) error
	timelineLen int
}

// Registry is the sole mutation surface over world state. The set of
// registered functions is fixed at startup and closed thereafter.
type Registry struct {
	specs   map[string]FunctionSpec
	schemas map[string]*jsonschema.Schema
	sealed  bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:   make(map[string]FunctionSpec),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a function to the registry, compiling its argument schema.
// Registration fails after Seal, on duplicate names, and on incomplete specs.
func (r *Registry) Register(spec FunctionSpec) error {
	if r.sealed {
		return fmt.Errorf("registry sealed: cannot register %q", spec.Name)
	}
	if spec.Name == "" {
		return fmt.Errorf("function name required")
	}
	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("function %q already registered", spec.Name)
	}
	if spec.Validate == nil || spec.Apply == nil || spec.Rollback == nil {
		return fmt.Errorf("function %q: validator, apply, and rollback are all required", spec.Name)
	}
	schema, err := compileArgsSchema(spec.Name, spec.ArgsSchema)
	if err != nil {
		return fmt.Errorf("function %q: %w", spec.Name, err)
	}
	r.specs[spec.Name] = spec
	r.schemas[spec.Name] = schema
	return nil
}

func compileArgsSchema(name, source string) (*jsonschema.Schema, error) {
	if source == "" {
		source = `{"type":"object"}`
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Seal closes the registry against further registration.
func (r *Registry) Seal() { r.sealed = true }

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	return sortedKeys(r.specs)
}

// Validate runs the schema check and the Tier-1 precondition validator for
// call against state, without staging anything. A Rejection carries the
// recorded reason; an UnknownFunctionError reports an unregistered name.
func (r *Registry) Validate(call domain.ProposedCall, state *worldState) error {
	spec, ok := r.specs[call.Function]
	if !ok {
		return domain.UnknownFunctionError{Function: call.Function}
	}
	if err := r.checkArgs(call); err != nil {
		return err
	}
	return spec.Validate(call.Args, state)
}

func (r *Registry) checkArgs(call domain.ProposedCall) error {
	raw := call.Args
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Rejection{Reason: domain.ReasonInvalidArguments}
	}
	if err := r.schemas[call.Function].Validate(decoded); err != nil {
		return Rejection{Reason: domain.ReasonInvalidArguments}
	}
	return nil
}

// Invoke re-validates call against the staged state, applies its effect, and
// appends the audit row to the timeline. The returned token inverts both the
// effect and the audit row. Validator failure leaves state untouched; an
// apply error after validation is surfaced as an ApplyFailureError.
func (r *Registry) Invoke(call domain.ProposedCall, state *worldState, turn int) (rollbackToken, error) {
	spec, ok := r.specs[call.Function]
	if !ok {
		return rollbackToken{}, domain.UnknownFunctionError{Function: call.Function}
	}
	if err := r.checkArgs(call); err != nil {
		return rollbackToken{}, err
	}
	if err := spec.Validate(call.Args, state); err != nil {
		return rollbackToken{}, err
	}
	token := rollbackToken{
		function:    spec.Name,
		rollback:    spec.Rollback,
		timelineLen: len(state.timeline),
	}
	inner, err := spec.Apply(call.Args, state, turn)
	if err != nil {
		return rollbackToken{}, domain.ApplyFailureError{Function: spec.Name, Err: err}
	}
	token.inner = inner
	state.appendTimeline(turn, spec.Name, call.Args)
	return token, nil
}

// revert undoes one applied call on state, restoring prior values and
// truncating the timeline rows it appended.
func (t rollbackToken) revert(state *worldState) error {
	if err := t.rollback(t.inner, state); err != nil {
		return fmt.Errorf("rollback %s: %w", t.function, err)
	}
	state.timeline = state.timeline[:t.timelineLen]
	return nil
}

// appendTimeline records an audit row for an applied call, sequenced within
// the turn.
func (s *worldState) appendTimeline(turn int, eventType string, payload json.RawMessage) {
	seq := 0
	if n := len(s.timeline); n > 0 && s.timeline[n-1].Turn == turn {
		seq = s.timeline[n-1].Seq + 1
	}
	var cloned json.RawMessage
	if payload != nil {
		cloned = append(json.RawMessage(nil), payload...)
	}
	s.timeline = append(s.timeline, domain.TimelineEvent{
		Turn:      turn,
		Seq:       seq,
		EventType: eventType,
		Payload:   cloned,
	})
}
