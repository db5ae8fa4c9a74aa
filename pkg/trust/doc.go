// Package trust maintains a decayed, weighted reputation score per
// participant identity. Scores are updated incrementally from behavioral
// and performance factors and feed back into policy evaluation as context.
//
// Absence of history is not distrust: unknown subjects read as the neutral
// midpoint rather than zero.
package trust
