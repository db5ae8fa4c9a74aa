// Package store holds the authoritative policy definition set behind a
// versioned, copy-on-write snapshot. Readers take an immutable snapshot
// reference and never block on writers beyond the pointer swap; every
// mutation copies the set, bumps the global version counter, persists the
// new set, and emits a policy_mutation audit event.
package store
