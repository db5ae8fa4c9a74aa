// Package engine implements Arbiter's rule evaluation engine. Given a
// policy type and a caller-supplied context it selects the applicable
// enabled policies from a consistent snapshot, evaluates their conditions
// in priority order, and returns the decision of the first match together
// with the reason and metadata needed for audit.
//
// The same algorithm serves both the authoritative store and the fallback
// enforcer's locally cached ruleset; only the snapshot source differs.
package engine
