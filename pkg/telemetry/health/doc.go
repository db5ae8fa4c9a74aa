// Package health provides named dependency checks and the liveness and
// readiness HTTP endpoints built on them.
package health
