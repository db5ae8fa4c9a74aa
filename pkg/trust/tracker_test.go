package trust

import (
	"math"
	"testing"

	"fedlearn-hq/arbiter/pkg/events"
)

func newTracker(t *testing.T, cfg *Config, opts ...Option) *Tracker {
	t.Helper()
	tr, err := NewTracker(cfg, opts...)
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	return tr
}

func TestUnknownSubjectReadsNeutral(t *testing.T) {
	tr := newTracker(t, nil)

	s := tr.Get("never-seen")
	if s.Score != NeutralScore {
		t.Errorf("Score = %v, want %v", s.Score, NeutralScore)
	}
	if len(s.Factors) != 0 || len(s.History) != 0 {
		t.Error("unknown subject has factors or history")
	}
	if tr.Band("never-seen") != BandMedium {
		t.Errorf("Band = %q, want medium for the neutral score", tr.Band("never-seen"))
	}
}

func TestUpdateAppliesDecayFormula(t *testing.T) {
	tr := newTracker(t, nil)

	s, err := tr.Update("c1", map[string]float64{"update_quality": 1.0})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	// new = 0.95*0.5 + 0.05*1.0
	want := 0.95*NeutralScore + 0.05*1.0
	if math.Abs(s.Score-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", s.Score, want)
	}

	s2, err := tr.Update("c1", map[string]float64{"update_quality": 0.0})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	want2 := 0.95*want + 0.05*0.0
	if math.Abs(s2.Score-want2) > 1e-9 {
		t.Errorf("second Score = %v, want %v", s2.Score, want2)
	}
}

func TestUpdateWeightedFactors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = map[string]float64{"update_quality": 3, "participation": 1}
	tr := newTracker(t, cfg)

	s, err := tr.Update("c1", map[string]float64{
		"update_quality": 1.0,
		"participation":  0.0,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	avg := (3*1.0 + 1*0.0) / 4
	want := 0.95*NeutralScore + 0.05*avg
	if math.Abs(s.Score-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", s.Score, want)
	}
}

func TestUpdateRetainsUnsuppliedFactors(t *testing.T) {
	tr := newTracker(t, nil)

	if _, err := tr.Update("c1", map[string]float64{"a": 0.2, "b": 0.8}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	s, err := tr.Update("c1", map[string]float64{"a": 0.4})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if s.Factors["b"] != 0.8 {
		t.Errorf("factor b = %v, want retained 0.8", s.Factors["b"])
	}
	if s.Factors["a"] != 0.4 {
		t.Errorf("factor a = %v, want 0.4", s.Factors["a"])
	}
}

func TestUpdateRejectsOutOfRangeFactors(t *testing.T) {
	tr := newTracker(t, nil)
	for _, v := range []float64{-0.1, 1.1} {
		if _, err := tr.Update("c1", map[string]float64{"f": v}); err == nil {
			t.Errorf("factor value %v accepted", v)
		}
	}
	if _, err := tr.Update("", map[string]float64{"f": 0.5}); err == nil {
		t.Error("empty subject id accepted")
	}
}

func TestScoreStaysClamped(t *testing.T) {
	tr := newTracker(t, nil)
	for i := 0; i < 500; i++ {
		s, err := tr.Update("c1", map[string]float64{"f": 1.0})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if s.Score < 0 || s.Score > 1 {
			t.Fatalf("score escaped [0,1]: %v", s.Score)
		}
	}
	if got := tr.Get("c1").Score; got > 1 {
		t.Errorf("final score %v above 1", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 5
	tr := newTracker(t, cfg)

	for i := 0; i < 12; i++ {
		if _, err := tr.Update("c1", map[string]float64{"f": 0.7}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	s := tr.Get("c1")
	if len(s.History) != 5 {
		t.Errorf("history length = %d, want 5", len(s.History))
	}
}

func TestListThreshold(t *testing.T) {
	tr := newTracker(t, nil)

	tr.Update("low", map[string]float64{"f": 0.0})
	tr.Update("high", map[string]float64{"f": 1.0})

	all := tr.List(-1)
	if len(all) != 2 {
		t.Fatalf("List(-1) returned %d, want 2", len(all))
	}

	lowScore := tr.Get("low").Score
	flagged := tr.List(lowScore)
	if len(flagged) != 1 || flagged[0].SubjectID != "low" {
		t.Errorf("List(%v) = %+v, want only the low subject", lowScore, flagged)
	}
}

func TestBandThresholds(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		score float64
		want  Band
	}{
		{0.9, BandHigh},
		{0.8, BandHigh},
		{0.79, BandMedium},
		{0.5, BandMedium},
		{0.49, BandLow},
		{0.0, BandLow},
	}
	for _, tt := range tests {
		if got := cfg.Band(tt.score); got != tt.want {
			t.Errorf("Band(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestResetDeletesSubject(t *testing.T) {
	tr := newTracker(t, nil)
	tr.Update("c1", map[string]float64{"f": 1.0})
	tr.Reset("c1")

	if got := tr.Get("c1").Score; got != NeutralScore {
		t.Errorf("score after reset = %v, want neutral", got)
	}
	if len(tr.List(-1)) != 0 {
		t.Error("reset subject still listed")
	}
}

func TestUpdateEmitsTrustEvent(t *testing.T) {
	buffer := events.NewBuffer(10)
	tr := newTracker(t, nil, WithRecorder(buffer))

	tr.Update("c1", map[string]float64{"update_quality": 0.9})

	got := buffer.Query(events.Filter{Type: events.TypeTrustUpdate})
	if len(got) != 1 {
		t.Fatalf("got %d trust_update events, want 1", len(got))
	}
	ev := got[0]
	if ev.SubjectID != "c1" {
		t.Errorf("SubjectID = %q, want c1", ev.SubjectID)
	}
	if _, ok := ev.Metadata["old_score"]; !ok {
		t.Error("event missing old_score")
	}
	if v, ok := ev.Metadata["factor_update_quality"].(float64); !ok || v != 0.9 {
		t.Errorf("factor metadata = %v, want 0.9", ev.Metadata["factor_update_quality"])
	}
}
