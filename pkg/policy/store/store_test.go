package store

import (
	"context"
	"sync"
	"testing"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
)

func def(id string, priority int) *policy.Definition {
	return &policy.Definition{
		ID:       id,
		Name:     "name-" + id,
		Type:     "network_security",
		Enabled:  true,
		Priority: priority,
		Actions:  []policy.Action{{Type: policy.ActionDeny}},
	}
}

func TestLoadReplacesSetAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Load(ctx, []*policy.Definition{def("a", 1), def("b", 2)}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := s.Version(); got != 1 {
		t.Errorf("Version() = %d, want 1", got)
	}
	if got := s.Snapshot().Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}

	// An invalid set must leave the current set untouched.
	bad := def("c", 1)
	bad.Actions = nil
	if err := s.Load(ctx, []*policy.Definition{def("x", 1), bad}); err == nil {
		t.Fatal("invalid set accepted")
	}
	if got := s.Version(); got != 1 {
		t.Errorf("failed load bumped version to %d", got)
	}
	if _, err := s.Get("a"); err != nil {
		t.Errorf("previous set lost after failed load: %v", err)
	}
}

func TestCRUDVersioning(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Create(ctx, def("a", 1)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := s.Version(); got != 1 {
		t.Errorf("version after create = %d, want 1", got)
	}

	if err := s.Create(ctx, def("a", 1)); err == nil {
		t.Fatal("duplicate create accepted")
	} else if policy.ErrorCode(err) != policy.CodeConflict {
		t.Errorf("duplicate create code = %q, want conflict", policy.ErrorCode(err))
	}

	updated := def("a", 5)
	updated.Name = "renamed"
	if err := s.Update(ctx, "a", updated); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := s.Version(); got != 2 {
		t.Errorf("version after update = %d, want 2", got)
	}
	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "renamed" || got.Priority != 5 {
		t.Errorf("Get() = %+v, update not applied", got)
	}

	if err := s.Update(ctx, "missing", def("missing", 1)); err == nil {
		t.Fatal("update of unknown id accepted")
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := s.Version(); got != 3 {
		t.Errorf("version after delete = %d, want 3", got)
	}
	if _, err := s.Get("a"); err == nil {
		t.Fatal("deleted policy still retrievable")
	}
	if err := s.Delete(ctx, "a"); err == nil {
		t.Fatal("double delete accepted")
	}
}

func TestEnableDisable(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Create(ctx, def("a", 1)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Disable(ctx, "a"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if got, _ := s.Get("a"); got.Enabled {
		t.Error("policy still enabled after Disable")
	}
	if len(s.Snapshot().ForType("network_security")) != 0 {
		t.Error("disabled policy still returned by ForType")
	}
	versionAfterDisable := s.Version()

	// Disabling an already disabled policy is a no-op with no version bump.
	if err := s.Disable(ctx, "a"); err != nil {
		t.Fatalf("second Disable() error = %v", err)
	}
	if s.Version() != versionAfterDisable {
		t.Error("no-op disable bumped the version")
	}

	if err := s.Enable(ctx, "a"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if got, _ := s.Get("a"); !got.Enabled {
		t.Error("policy still disabled after Enable")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Load(ctx, []*policy.Definition{def("a", 1)}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	snap := s.Snapshot()
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	// The old snapshot still serves the pre-mutation view.
	if snap.Len() != 1 {
		t.Error("held snapshot changed under a concurrent mutation")
	}
	if s.Snapshot().Len() != 0 {
		t.Error("current snapshot missed the mutation")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, def("a", 1)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, _ := s.Get("a")
	got.Name = "mutated"
	again, _ := s.Get("a")
	if again.Name == "mutated" {
		t.Error("Get() exposes internal storage")
	}
}

func TestEvaluationOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	// Insert out of priority order with a tie between b and c.
	for _, d := range []*policy.Definition{def("a", 20), def("b", 5), def("c", 5), def("d", 1)} {
		if err := s.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", d.ID, err)
		}
	}

	got := s.Snapshot().ForType("network_security")
	want := []string{"d", "b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("ForType returned %d policies, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestMutationEvents(t *testing.T) {
	buffer := events.NewBuffer(20)
	s := New(WithRecorder(buffer))
	ctx := context.Background()

	s.Load(ctx, []*policy.Definition{def("a", 1)})
	s.Create(ctx, def("b", 2))
	s.Disable(ctx, "b")
	s.Delete(ctx, "b")

	muts := buffer.Query(events.Filter{Type: events.TypePolicyMutation})
	if len(muts) != 4 {
		t.Fatalf("got %d mutation events, want 4", len(muts))
	}
	// Newest first.
	ops := make([]string, len(muts))
	for i, ev := range muts {
		ops[i], _ = ev.Metadata["operation"].(string)
	}
	want := []string{"delete", "disable", "create", "load"}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops = %v, want %v", ops, want)
			break
		}
	}
}

func TestConcurrentMutations(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			if err := s.Create(ctx, def(id, n)); err != nil {
				t.Errorf("Create(%s) error = %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if got := s.Snapshot().Len(); got != 8 {
		t.Errorf("Len() = %d, want 8", got)
	}
	if got := s.Version(); got != 8 {
		t.Errorf("Version() = %d, want 8 (one bump per mutation)", got)
	}
}

func TestSQLitePersistenceRoundTrip(t *testing.T) {
	path := t.TempDir() + "/policies.db"
	p, err := NewSQLitePersister(&SQLiteConfig{Path: path, WALMode: true})
	if err != nil {
		t.Fatalf("NewSQLitePersister() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	s := New(WithPersister(p))
	if err := s.Load(ctx, []*policy.Definition{def("a", 1), def("b", 2)}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	restored := New(WithPersister(p))
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := restored.Version(); got != s.Version() {
		t.Errorf("restored version = %d, want %d", got, s.Version())
	}
	if restored.Snapshot().Len() != 1 {
		t.Errorf("restored %d policies, want 1", restored.Snapshot().Len())
	}
	if _, err := restored.Get("a"); err != nil {
		t.Errorf("restored set missing policy a: %v", err)
	}

	backup, err := p.LoadBackup(ctx)
	if err != nil {
		t.Fatalf("LoadBackup() error = %v", err)
	}
	if len(backup) != 2 {
		t.Errorf("backup holds %d policies, want the original 2", len(backup))
	}
}
