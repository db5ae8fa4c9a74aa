// Package policy defines the shared policy data model for Arbiter: policy
// definitions with declarative conditions and actions, the open evaluation
// context supplied by callers, and the decision returned to them.
//
// The model is deliberately closed: operators and action types are fixed
// enums handled exhaustively by the evaluation engine. Policies never carry
// executable logic.
package policy
