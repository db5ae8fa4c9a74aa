// Package server provides the HTTP API of the policy service: evaluation
// checks, policy management, trust scores, event queries and streaming,
// compliance reports, health, and metrics.
package server
