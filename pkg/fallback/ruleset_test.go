package fallback

import (
	"testing"

	"fedlearn-hq/arbiter/pkg/policy"
)

func cachedDef(id string, priority int) *policy.Definition {
	return &policy.Definition{
		ID:       id,
		Name:     "name-" + id,
		Type:     "network_security",
		Enabled:  true,
		Priority: priority,
		Actions:  []policy.Action{{Type: policy.ActionDeny}},
	}
}

func TestSwapInstallsSortedGeneration(t *testing.T) {
	r := NewRuleset()
	if r.Version() != 0 || r.Len() != 0 {
		t.Fatal("fresh ruleset is not empty at version 0")
	}

	defs := []*policy.Definition{cachedDef("a", 9), cachedDef("b", 1), cachedDef("c", 5)}
	if err := r.Swap(7, defs); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if r.Version() != 7 {
		t.Errorf("Version() = %d, want 7", r.Version())
	}
	if r.FetchedAt().IsZero() {
		t.Error("FetchedAt() is zero after a swap")
	}

	got := r.Snapshot().ForType("network_security")
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestSwapRevertsOnInvalidSet(t *testing.T) {
	r := NewRuleset()
	if err := r.Swap(1, []*policy.Definition{cachedDef("a", 1)}); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	bad := cachedDef("b", 2)
	bad.Actions = nil
	if err := r.Swap(2, []*policy.Definition{cachedDef("c", 1), bad}); err == nil {
		t.Fatal("invalid set accepted")
	}

	// Previous generation keeps serving.
	if r.Version() != 1 {
		t.Errorf("Version() = %d after failed swap, want 1", r.Version())
	}
	got := r.Snapshot().ForType("network_security")
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("ForType = %v, want the previous generation", got)
	}
}

func TestSnapshotSurvivesSwap(t *testing.T) {
	r := NewRuleset()
	r.Swap(1, []*policy.Definition{cachedDef("a", 1)})

	held := r.Snapshot()
	r.Swap(2, []*policy.Definition{cachedDef("b", 1), cachedDef("c", 2)})

	if held.Version() != 1 || len(held.ForType("network_security")) != 1 {
		t.Error("held snapshot changed under a swap")
	}
	if r.Version() != 2 || r.Len() != 2 {
		t.Error("current generation missed the swap")
	}
}

func TestForTypeFiltersDisabledAndWildcard(t *testing.T) {
	r := NewRuleset()
	disabled := cachedDef("off", 1)
	disabled.Enabled = false
	wildcard := cachedDef("any", 2)
	wildcard.Type = policy.TypeWildcard
	other := cachedDef("other", 3)
	other.Type = "data_privacy"

	if err := r.Swap(1, []*policy.Definition{disabled, wildcard, other}); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	got := r.Snapshot().ForType("network_security")
	if len(got) != 1 || got[0].ID != "any" {
		t.Errorf("ForType = %v, want only the wildcard policy", got)
	}
}
