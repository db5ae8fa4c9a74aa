package fallback

import (
	"sort"
	"sync/atomic"
	"time"

	"fedlearn-hq/arbiter/pkg/policy"
)

// rulesetSnapshot is one immutable generation of the cached ruleset. It
// satisfies the engine's snapshot contract so local evaluations run the
// same first-match algorithm as the authoritative store.
type rulesetSnapshot struct {
	version   uint64
	defs      []*policy.Definition
	fetchedAt time.Time
}

// Version returns the policy version the ruleset was fetched at.
func (s *rulesetSnapshot) Version() uint64 { return s.version }

// ForType returns the enabled definitions applicable to the type, in
// evaluation order.
func (s *rulesetSnapshot) ForType(policyType string) []*policy.Definition {
	var out []*policy.Definition
	for _, def := range s.defs {
		if def.Enabled && def.AppliesTo(policyType) {
			out = append(out, def)
		}
	}
	return out
}

// Ruleset is the locally cached policy set. Reads are lock-free; a swap
// installs a fully built snapshot atomically, so an evaluation in flight
// keeps seeing the generation it started with.
type Ruleset struct {
	snap atomic.Pointer[rulesetSnapshot]
}

// NewRuleset creates an empty ruleset at version 0.
func NewRuleset() *Ruleset {
	r := &Ruleset{}
	r.snap.Store(&rulesetSnapshot{})
	return r
}

// Swap validates the definitions and atomically installs them as the new
// generation. On validation failure the previous generation stays
// installed untouched.
func (r *Ruleset) Swap(version uint64, defs []*policy.Definition) error {
	if err := policy.ValidateSet(defs); err != nil {
		return err
	}

	sorted := make([]*policy.Definition, len(defs))
	for i, def := range defs {
		sorted[i] = def.Clone()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	r.snap.Store(&rulesetSnapshot{
		version:   version,
		defs:      sorted,
		fetchedAt: time.Now().UTC(),
	})
	return nil
}

// Snapshot returns the current generation.
func (r *Ruleset) Snapshot() *rulesetSnapshot { return r.snap.Load() }

// Version returns the version of the current generation.
func (r *Ruleset) Version() uint64 { return r.snap.Load().version }

// FetchedAt returns when the current generation was installed; zero if
// no ruleset has been fetched yet.
func (r *Ruleset) FetchedAt() time.Time { return r.snap.Load().fetchedAt }

// Len returns the number of cached definitions.
func (r *Ruleset) Len() int { return len(r.snap.Load().defs) }
