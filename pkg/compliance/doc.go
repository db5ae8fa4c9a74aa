// Package compliance derives aggregate compliance and violation statistics
// from the event buffer on demand. The reporter is stateless: every report
// is recomputed from the current buffer contents so there is a single
// source of truth.
package compliance
