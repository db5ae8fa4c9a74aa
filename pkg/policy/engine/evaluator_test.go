package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
	"fedlearn-hq/arbiter/pkg/policy/store"
)

func storeSource(t *testing.T, defs ...*policy.Definition) (SnapshotSource, *store.Store) {
	t.Helper()
	st := store.New()
	if err := st.Load(context.Background(), defs); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return SourceFunc(func() Snapshot { return st.Snapshot() }), st
}

func newTestEvaluator(t *testing.T, cfg *Config, defs ...*policy.Definition) (*Evaluator, *store.Store) {
	t.Helper()
	src, st := storeSource(t, defs...)
	e, err := New(src, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, st
}

func denyPolicy(id string, priority int, conds ...policy.Condition) *policy.Definition {
	return &policy.Definition{
		ID:         id,
		Name:       id,
		Type:       "network_security",
		Enabled:    true,
		Priority:   priority,
		Conditions: conds,
		Actions:    []policy.Action{{Type: policy.ActionDeny}},
	}
}

func TestEvaluateRejectsOversizedUpdate(t *testing.T) {
	def := &policy.Definition{
		ID:       "max-model-size",
		Name:     "reject oversized model updates",
		Type:     "model_size",
		Enabled:  true,
		Priority: 10,
		Conditions: []policy.Condition{
			{Field: "update.model_size", Operator: policy.OperatorGreaterEqual, Value: 1_000_000},
		},
		Actions: []policy.Action{{Type: policy.ActionRejectUpdate}},
	}
	e, _ := newTestEvaluator(t, nil, def)

	decision := e.Evaluate(context.Background(), "model_size", policy.Context{
		"client_id": "client-1",
		"update":    map[string]interface{}{"model_size": 2_000_000},
	})
	if decision.Allowed {
		t.Fatalf("oversized update allowed: %s", decision.Reason)
	}
	if decision.MatchedPolicyID != "max-model-size" {
		t.Errorf("MatchedPolicyID = %q, want %q", decision.MatchedPolicyID, "max-model-size")
	}
	if decision.Source != policy.SourceStore {
		t.Errorf("Source = %q, want %q", decision.Source, policy.SourceStore)
	}

	decision = e.Evaluate(context.Background(), "model_size", policy.Context{
		"update": map[string]interface{}{"model_size": 500},
	})
	if !decision.Allowed {
		t.Fatalf("small update denied: %s", decision.Reason)
	}
	if decision.MatchedPolicyID != "" {
		t.Errorf("default decision carries MatchedPolicyID %q", decision.MatchedPolicyID)
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	block := denyPolicy("block-subnet", 1,
		policy.Condition{Field: "source_ip", Operator: policy.OperatorMatches, Value: `^10\.0\.`})
	allowAll := &policy.Definition{
		ID:       "allow-rest",
		Name:     "allow-rest",
		Type:     "network_security",
		Enabled:  true,
		Priority: 2,
		Actions:  []policy.Action{{Type: policy.ActionAllow}},
	}
	e, _ := newTestEvaluator(t, nil, allowAll, block)

	decision := e.Evaluate(context.Background(), "network_security", policy.Context{"source_ip": "10.0.3.7"})
	if decision.Allowed {
		t.Fatal("blocked subnet was allowed")
	}
	if decision.MatchedPolicyID != "block-subnet" {
		t.Errorf("MatchedPolicyID = %q, want block-subnet", decision.MatchedPolicyID)
	}

	decision = e.Evaluate(context.Background(), "network_security", policy.Context{"source_ip": "192.168.1.1"})
	if !decision.Allowed {
		t.Fatalf("unblocked ip denied: %s", decision.Reason)
	}
	if decision.MatchedPolicyID != "allow-rest" {
		t.Errorf("MatchedPolicyID = %q, want allow-rest", decision.MatchedPolicyID)
	}
}

func TestEvaluatePriorityOrderRandomizedInsertion(t *testing.T) {
	// Whatever the insertion order, the matching policy with the lowest
	// priority must win.
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		defs := []*policy.Definition{
			denyPolicy("p-5", 5),
			denyPolicy("p-20", 20),
			denyPolicy("p-50", 50),
			{
				ID: "p-1", Name: "p-1", Type: "network_security",
				Enabled: true, Priority: 1,
				Actions: []policy.Action{{Type: policy.ActionAllow}},
			},
		}
		rng.Shuffle(len(defs), func(i, j int) { defs[i], defs[j] = defs[j], defs[i] })

		e, _ := newTestEvaluator(t, nil, defs...)
		decision := e.Evaluate(context.Background(), "network_security", policy.Context{})
		if decision.MatchedPolicyID != "p-1" {
			t.Fatalf("round %d: MatchedPolicyID = %q, want p-1", round, decision.MatchedPolicyID)
		}
		if !decision.Allowed {
			t.Fatalf("round %d: lowest-priority allow policy did not win", round)
		}
	}
}

func TestEvaluatePriorityTieBreaksByInsertion(t *testing.T) {
	first := denyPolicy("first", 10)
	second := &policy.Definition{
		ID: "second", Name: "second", Type: "network_security",
		Enabled: true, Priority: 10,
		Actions: []policy.Action{{Type: policy.ActionAllow}},
	}
	e, _ := newTestEvaluator(t, nil, first, second)

	decision := e.Evaluate(context.Background(), "network_security", policy.Context{})
	if decision.MatchedPolicyID != "first" {
		t.Errorf("MatchedPolicyID = %q, want first (earlier insertion)", decision.MatchedPolicyID)
	}
}

func TestEvaluateMissingFieldIsNonMatch(t *testing.T) {
	def := denyPolicy("needs-region", 1,
		policy.Condition{Field: "region", Operator: policy.OperatorEqual, Value: "eu"})
	e, _ := newTestEvaluator(t, nil, def)

	decision := e.Evaluate(context.Background(), "network_security", policy.Context{"client_id": "c1"})
	if !decision.Allowed {
		t.Fatalf("missing field caused a match: %s", decision.Reason)
	}
}

func TestEvaluateConditionsAreANDed(t *testing.T) {
	def := denyPolicy("both", 1,
		policy.Condition{Field: "region", Operator: policy.OperatorEqual, Value: "eu"},
		policy.Condition{Field: "tier", Operator: policy.OperatorEqual, Value: "free"},
	)
	e, _ := newTestEvaluator(t, nil, def)

	decision := e.Evaluate(context.Background(), "network_security",
		policy.Context{"region": "eu", "tier": "paid"})
	if !decision.Allowed {
		t.Fatal("policy matched with only one of two conditions satisfied")
	}

	decision = e.Evaluate(context.Background(), "network_security",
		policy.Context{"region": "eu", "tier": "free"})
	if decision.Allowed {
		t.Fatal("policy did not match with all conditions satisfied")
	}
}

func TestEvaluateDisabledPolicyIgnored(t *testing.T) {
	def := denyPolicy("disabled-deny", 1)
	def.Enabled = false
	e, _ := newTestEvaluator(t, nil, def)

	decision := e.Evaluate(context.Background(), "network_security", policy.Context{})
	if !decision.Allowed {
		t.Fatal("disabled policy influenced the decision")
	}
}

func TestEvaluateWildcardPolicyAppliesToAllTypes(t *testing.T) {
	def := denyPolicy("global-block", 1,
		policy.Condition{Field: "blocked", Operator: policy.OperatorEqual, Value: true})
	def.Type = policy.TypeWildcard
	e, _ := newTestEvaluator(t, nil, def)

	for _, policyType := range []string{"model_size", "fl_client_training"} {
		decision := e.Evaluate(context.Background(), policyType, policy.Context{"blocked": true})
		if decision.Allowed {
			t.Errorf("wildcard policy ignored for type %q", policyType)
		}
	}
}

func TestEvaluateDefaultDenyType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultDeny = map[string]bool{"network_security": true}
	e, _ := newTestEvaluator(t, cfg)

	decision := e.Evaluate(context.Background(), "network_security", policy.Context{})
	if decision.Allowed {
		t.Fatal("default-deny type allowed with no matching policy")
	}

	decision = e.Evaluate(context.Background(), "model_size", policy.Context{})
	if !decision.Allowed {
		t.Fatal("default-allow type denied with no matching policy")
	}
}

func TestEvaluateTimeoutFailsSafe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultDeny = map[string]bool{"network_security": true}
	e, _ := newTestEvaluator(t, cfg, denyPolicy("some-policy", 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := e.source.Snapshot()
	decision := e.evaluateAgainst(ctx, snap, "network_security", policy.Context{})
	if decision.Allowed {
		t.Fatal("default-deny type allowed on timeout")
	}

	decision = e.evaluateAgainst(ctx, snap, "model_size", policy.Context{})
	if !decision.Allowed {
		t.Fatal("default-allow type denied on timeout")
	}
}

func TestEvaluateEmitsOneEventPerCall(t *testing.T) {
	buffer := events.NewBuffer(10)
	src, _ := storeSource(t, denyPolicy("p", 1))
	e, err := New(src, nil, WithRecorder(buffer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	e.Evaluate(context.Background(), "network_security", policy.Context{"subject_id": "client-9"})

	got := buffer.Query(events.Filter{Type: events.TypePolicyEvaluation})
	if len(got) != 1 {
		t.Fatalf("got %d policy_evaluation events, want 1", len(got))
	}
	if got[0].SubjectID != "client-9" {
		t.Errorf("SubjectID = %q, want client-9", got[0].SubjectID)
	}
	if got[0].Decision == nil {
		t.Error("event carries no decision")
	}
}

func TestEvaluateRecordViolationAction(t *testing.T) {
	def := &policy.Definition{
		ID: "quota", Name: "quota", Type: "fl_client_training",
		Enabled: true, Priority: 1,
		Conditions: []policy.Condition{
			{Field: "rounds_today", Operator: policy.OperatorGreaterThan, Value: 100},
		},
		Actions: []policy.Action{
			{Type: policy.ActionDeny},
			{Type: policy.ActionRecordViolation, Parameters: map[string]interface{}{"severity": "high"}},
		},
	}
	buffer := events.NewBuffer(10)
	src, _ := storeSource(t, def)
	e, err := New(src, nil, WithRecorder(buffer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	e.Evaluate(context.Background(), "fl_client_training",
		policy.Context{"client_id": "client-3", "rounds_today": 250})

	violations := buffer.Query(events.Filter{Type: events.TypeViolation})
	if len(violations) != 1 {
		t.Fatalf("got %d violation events, want 1", len(violations))
	}
	v := events.ViolationFromEvent(violations[0])
	if v.Severity != events.SeverityHigh {
		t.Errorf("Severity = %q, want high", v.Severity)
	}
	if v.SubjectID != "client-3" {
		t.Errorf("SubjectID = %q, want client-3", v.SubjectID)
	}
}

func TestEvaluateSetPriorityParameters(t *testing.T) {
	def := &policy.Definition{
		ID: "prioritize", Name: "prioritize", Type: "aggregation",
		Enabled: true, Priority: 1,
		Actions: []policy.Action{
			{Type: policy.ActionAllow},
			{Type: policy.ActionSetPriority, Parameters: map[string]interface{}{"priority": "high"}},
		},
	}
	e, _ := newTestEvaluator(t, nil, def)

	decision := e.Evaluate(context.Background(), "aggregation", policy.Context{})
	if !decision.Allowed {
		t.Fatal("allow policy denied")
	}
	if decision.Parameters["priority"] != "high" {
		t.Errorf("Parameters = %v, want priority=high", decision.Parameters)
	}
}

type observerFunc func(policyType, outcome string, cacheHit bool, duration time.Duration)

func (f observerFunc) ObserveEvaluation(policyType, outcome string, cacheHit bool, duration time.Duration) {
	f(policyType, outcome, cacheHit, duration)
}

func TestEvaluateDecisionCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheEnabled = true
	cfg.CacheTTL = time.Minute

	var hits, calls int
	obs := observerFunc(func(_, _ string, cacheHit bool, _ time.Duration) {
		calls++
		if cacheHit {
			hits++
		}
	})

	src, st := storeSource(t, denyPolicy("p", 1))
	e, err := New(src, cfg, WithObserver(obs))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	evalCtx := policy.Context{"source_ip": "10.0.0.1"}
	d1 := e.Evaluate(context.Background(), "network_security", evalCtx)
	d2 := e.Evaluate(context.Background(), "network_security", evalCtx)
	if calls != 2 || hits != 1 {
		t.Fatalf("calls = %d, cache hits = %d; want 2 and 1", calls, hits)
	}
	if d1.Allowed != d2.Allowed || d1.MatchedPolicyID != d2.MatchedPolicyID {
		t.Error("cached decision differs from the original")
	}

	// A store mutation bumps the version and must invalidate the cache.
	if err := st.Create(context.Background(), &policy.Definition{
		ID: "other", Name: "other", Type: "unrelated", Enabled: true,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	e.Evaluate(context.Background(), "network_security", evalCtx)
	if hits != 1 {
		t.Errorf("cache hit across a version change (hits = %d)", hits)
	}
}

func TestEvaluateDecisionVersionTracksStore(t *testing.T) {
	e, st := newTestEvaluator(t, nil, denyPolicy("p", 1))

	decision := e.Evaluate(context.Background(), "network_security", policy.Context{})
	if decision.PolicyVersion != st.Version() {
		t.Errorf("PolicyVersion = %d, store version = %d", decision.PolicyVersion, st.Version())
	}
}
