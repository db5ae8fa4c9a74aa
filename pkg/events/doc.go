// Package events provides Arbiter's bounded audit log: an append-only,
// FIFO-evicting ring buffer of immutable events covering every policy
// evaluation, trust update, violation and policy mutation.
//
// Appends share a single ordered path so audit replay preserves the order
// in which evaluations completed. Queries observe a consistent
// point-in-time snapshot and return events newest-first, the convention
// expected by UI consumers.
package events
