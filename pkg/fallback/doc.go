// Package fallback keeps policy enforcement alive at the edge when the
// central policy service is unreachable. An enforcer caches the last
// known-good ruleset behind an atomic pointer, probes the service with
// heartbeats, evaluates locally with the shared engine algorithm while
// disconnected, and reconciles (fresh ruleset down, buffered events up)
// once connectivity returns.
package fallback
