package source

import (
	"context"

	"fedlearn-hq/arbiter/pkg/policy"
)

// MemorySource serves a fixed definition set. Intended for tests.
type MemorySource struct {
	defs []*policy.Definition
}

// NewMemorySource creates a source over the given definitions.
func NewMemorySource(defs []*policy.Definition) *MemorySource {
	return &MemorySource{defs: defs}
}

// Load returns the configured definitions.
func (s *MemorySource) Load(ctx context.Context) ([]*policy.Definition, error) {
	return s.defs, nil
}
