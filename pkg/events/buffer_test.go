package events

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendAndQueryNewestFirst(t *testing.T) {
	b := NewBuffer(10)
	for i := 0; i < 3; i++ {
		ev := New(TypePolicyEvaluation)
		ev.SubjectID = fmt.Sprintf("client-%d", i)
		b.Append(ev)
	}

	got := b.Query(Filter{})
	if len(got) != 3 {
		t.Fatalf("Query returned %d events, want 3", len(got))
	}
	want := []string{"client-2", "client-1", "client-0"}
	for i, ev := range got {
		if ev.SubjectID != want[i] {
			t.Errorf("position %d: got %q, want %q", i, ev.SubjectID, want[i])
		}
	}
}

func TestFIFOEvictionAtCapacity(t *testing.T) {
	b := NewBuffer(3)

	var evicted []string
	b.SetEvictionHook(func(ev *Event) { evicted = append(evicted, ev.SubjectID) })

	for i := 0; i < 5; i++ {
		ev := New(TypeViolation)
		ev.SubjectID = fmt.Sprintf("s%d", i)
		b.Append(ev)
	}

	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
	if b.Total() != 5 {
		t.Errorf("Total() = %d, want 5", b.Total())
	}
	if len(evicted) != 2 || evicted[0] != "s0" || evicted[1] != "s1" {
		t.Errorf("evicted = %v, want oldest first [s0 s1]", evicted)
	}

	got := b.Query(Filter{})
	if got[0].SubjectID != "s4" || got[len(got)-1].SubjectID != "s2" {
		t.Errorf("ring contents wrong after eviction: newest %q oldest %q",
			got[0].SubjectID, got[len(got)-1].SubjectID)
	}
}

func TestQueryFilters(t *testing.T) {
	b := NewBuffer(20)

	mk := func(evType Type, subject, policyID string, at time.Time) {
		ev := New(evType)
		ev.SubjectID = subject
		ev.PolicyID = policyID
		ev.Timestamp = at
		b.Append(ev)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mk(TypePolicyEvaluation, "c1", "p1", base)
	mk(TypeViolation, "c1", "p2", base.Add(time.Hour))
	mk(TypeViolation, "c2", "p2", base.Add(2*time.Hour))
	mk(TypeTrustUpdate, "c2", "", base.Add(3*time.Hour))

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filter", Filter{}, 4},
		{"by type", Filter{Type: TypeViolation}, 2},
		{"by subject", Filter{SubjectID: "c1"}, 2},
		{"by policy", Filter{PolicyID: "p2"}, 2},
		{"type and subject", Filter{Type: TypeViolation, SubjectID: "c2"}, 1},
		{"from bound", Filter{From: base.Add(90 * time.Minute)}, 2},
		{"to bound", Filter{To: base.Add(30 * time.Minute)}, 1},
		{"window", Filter{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)}, 2},
		{"limit", Filter{Limit: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(b.Query(tt.filter)); got != tt.want {
				t.Errorf("Query(%+v) returned %d events, want %d", tt.filter, got, tt.want)
			}
		})
	}
}

func TestSubscribeReceivesAppends(t *testing.T) {
	b := NewBuffer(10)
	ch, cancel := b.Subscribe(4)
	defer cancel()

	ev := New(TypeViolation)
	ev.SubjectID = "c1"
	b.Append(ev)

	select {
	case got := <-ch:
		if got.SubjectID != "c1" {
			t.Errorf("received %q, want c1", got.SubjectID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}

	cancel()
	// After cancel the channel closes and appends no longer reach it.
	b.Append(New(TypeViolation))
	for range ch {
	}
}

func TestSlowSubscriberDoesNotBlockAppend(t *testing.T) {
	b := NewBuffer(10)
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			b.Append(New(TypePolicyEvaluation))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked on a slow subscriber")
	}
}
