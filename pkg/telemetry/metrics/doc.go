// Package metrics defines the Prometheus instrumentation for the policy
// service: evaluation outcomes and latency, policy store mutations, trust
// score movement, event buffer pressure, and fallback connectivity.
package metrics
