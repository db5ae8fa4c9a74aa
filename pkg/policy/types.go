package policy

import (
	"time"
)

// Operator is a comparison operator usable in a policy condition.
type Operator string

const (
	// OperatorEqual matches when the field equals the condition value.
	OperatorEqual Operator = "eq"

	// OperatorNotEqual matches when the field does not equal the value.
	OperatorNotEqual Operator = "neq"

	// OperatorLessThan matches when the field is numerically less than the value.
	OperatorLessThan Operator = "lt"

	// OperatorLessEqual matches when the field is numerically at most the value.
	OperatorLessEqual Operator = "lte"

	// OperatorGreaterThan matches when the field is numerically greater than the value.
	OperatorGreaterThan Operator = "gt"

	// OperatorGreaterEqual matches when the field is numerically at least the value.
	OperatorGreaterEqual Operator = "gte"

	// OperatorIn matches when the field is an element of the value list.
	OperatorIn Operator = "in"

	// OperatorNotIn matches when the field is not an element of the value list.
	OperatorNotIn Operator = "not_in"

	// OperatorMatches matches when the field matches the value regex.
	OperatorMatches Operator = "matches"
)

// Operators lists every valid operator, in documentation order.
var Operators = []Operator{
	OperatorEqual,
	OperatorNotEqual,
	OperatorLessThan,
	OperatorLessEqual,
	OperatorGreaterThan,
	OperatorGreaterEqual,
	OperatorIn,
	OperatorNotIn,
	OperatorMatches,
}

// IsValid reports whether op is a known operator.
func (op Operator) IsValid() bool {
	switch op {
	case OperatorEqual, OperatorNotEqual,
		OperatorLessThan, OperatorLessEqual,
		OperatorGreaterThan, OperatorGreaterEqual,
		OperatorIn, OperatorNotIn, OperatorMatches:
		return true
	default:
		return false
	}
}

// ActionType identifies what a matched policy does.
type ActionType string

const (
	// ActionAllow explicitly allows the checked operation.
	ActionAllow ActionType = "allow"

	// ActionDeny blocks the checked operation.
	ActionDeny ActionType = "deny"

	// ActionRejectUpdate blocks a model update submission. It carries the
	// same deny semantics but is recorded distinctly for audit.
	ActionRejectUpdate ActionType = "reject_update"

	// ActionSetPriority attaches a derived scheduling priority to the
	// decision parameters without affecting allow/deny.
	ActionSetPriority ActionType = "set_priority"

	// ActionAlert emits an alert notification as a side effect.
	ActionAlert ActionType = "alert"

	// ActionRecordViolation records a policy violation event with a
	// severity taken from the action parameters.
	ActionRecordViolation ActionType = "record_violation"

	// ActionCustom carries caller-defined parameters through to the
	// decision without engine-side semantics.
	ActionCustom ActionType = "custom"
)

// IsValid reports whether t is a known action type.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionAllow, ActionDeny, ActionRejectUpdate,
		ActionSetPriority, ActionAlert, ActionRecordViolation, ActionCustom:
		return true
	default:
		return false
	}
}

// Denies reports whether the action type blocks the checked operation.
func (t ActionType) Denies() bool {
	return t == ActionDeny || t == ActionRejectUpdate
}

// TypeWildcard is the policy type that applies to every evaluation
// regardless of the requested type.
const TypeWildcard = "*"

// Condition is a single declarative predicate over the evaluation context.
// All conditions of a policy combine with logical AND. A condition whose
// field is absent from the context evaluates to false, never to an error.
type Condition struct {
	// Field is a dotted path into the evaluation context
	// (e.g. "client_id", "update.model_size").
	Field string `json:"field" yaml:"field"`

	// Operator is the comparison operator.
	Operator Operator `json:"operator" yaml:"operator"`

	// Value is the expected value. For in/not_in it must be a list;
	// for matches it must be a regular expression string.
	Value interface{} `json:"value" yaml:"value"`
}

// Action is a single effect of a matched policy.
type Action struct {
	// Type is the action kind.
	Type ActionType `json:"type" yaml:"type"`

	// Parameters carries action-specific data (severity, priority,
	// alert channel, ...). May be nil.
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Definition is a complete policy: a named, typed rule with conditions and
// actions governing one category of platform behavior.
type Definition struct {
	// ID uniquely identifies the policy within a store.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable policy name, used in decision reasons.
	Name string `json:"name" yaml:"name"`

	// Type is the policy category (e.g. "fl_client_training",
	// "network_security", "model_size") or TypeWildcard.
	Type string `json:"type" yaml:"type"`

	// Description optionally documents the policy intent.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Enabled controls whether the policy participates in evaluation.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Priority orders evaluation; lower values evaluate first. Ties are
	// broken by insertion order (stable).
	Priority int `json:"priority" yaml:"priority"`

	// Conditions are ANDed predicates over the evaluation context.
	Conditions []Condition `json:"conditions" yaml:"conditions"`

	// Actions are the effects applied when the policy matches.
	Actions []Action `json:"actions" yaml:"actions"`
}

// Clone returns a deep copy of the definition. Stores hand out clones so
// snapshot readers can never observe a mutation in progress.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Conditions = make([]Condition, len(d.Conditions))
	copy(c.Conditions, d.Conditions)
	c.Actions = make([]Action, len(d.Actions))
	for i, a := range d.Actions {
		c.Actions[i] = Action{Type: a.Type, Parameters: cloneParams(a.Parameters)}
	}
	return &c
}

func cloneParams(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Matches reports whether the definition applies to evaluations of the
// given policy type.
func (d *Definition) AppliesTo(policyType string) bool {
	return d.Type == policyType || d.Type == TypeWildcard
}

// Context is the open key-value map a caller supplies when requesting a
// decision. It is never validated against a schema: unknown fields are
// ignored and absent fields make conditions false.
type Context map[string]interface{}

// DecisionSource identifies which ruleset produced a decision.
type DecisionSource string

const (
	// SourceStore marks decisions served from the authoritative store.
	SourceStore DecisionSource = "store"

	// SourceFallback marks decisions served from a locally cached
	// fallback ruleset while the store is unreachable.
	SourceFallback DecisionSource = "fallback"
)

// Decision is the result of evaluating one policy type against a context.
// Callers always receive a Decision, never an unhandled fault: evaluation
// timeouts resolve to a fail-safe decision per policy type.
type Decision struct {
	// Allowed is the overall allow/deny outcome.
	Allowed bool `json:"allowed"`

	// Reason reconstructs which policy (or default) produced the decision.
	Reason string `json:"reason"`

	// MatchedPolicyID is the winning policy id, or empty when the
	// per-type default applied.
	MatchedPolicyID string `json:"matched_policy_id,omitempty"`

	// Parameters aggregates parameters from the winning policy's
	// non-allow/deny actions (e.g. set_priority).
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// Source records whether the decision came from the authoritative
	// store or a fallback cache.
	Source DecisionSource `json:"source"`

	// PolicyVersion is the store version the decision was evaluated
	// against.
	PolicyVersion uint64 `json:"policy_version"`

	// EvaluationTime is the wall-clock evaluation duration.
	EvaluationTime time.Duration `json:"evaluation_time"`

	// Timestamp is when the decision was produced.
	Timestamp time.Time `json:"timestamp"`
}
