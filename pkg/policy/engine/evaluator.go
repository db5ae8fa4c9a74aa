package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
)

// Snapshot is the immutable ruleset view an evaluation runs against.
// Both the authoritative store and the fallback enforcer's cached ruleset
// provide one.
type Snapshot interface {
	// Version identifies the ruleset version.
	Version() uint64

	// ForType returns the enabled definitions applicable to the policy
	// type, in evaluation order (priority ascending, insertion stable).
	ForType(policyType string) []*policy.Definition
}

// SnapshotSource supplies the current snapshot at the start of each
// evaluation.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// SourceFunc adapts a function to the SnapshotSource interface.
type SourceFunc func() Snapshot

// Snapshot returns f().
func (f SourceFunc) Snapshot() Snapshot { return f() }

// Observer receives evaluation outcomes for metrics.
type Observer interface {
	ObserveEvaluation(policyType, outcome string, cacheHit bool, duration time.Duration)
}

// Evaluator is the rule evaluation engine.
type Evaluator struct {
	source   SnapshotSource
	config   *Config
	recorder events.Recorder
	observer Observer
	cache    *decisionCache
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRecorder sets the audit event recorder. Every evaluation emits
// exactly one policy_evaluation event through it.
func WithRecorder(r events.Recorder) Option {
	return func(e *Evaluator) { e.recorder = r }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Evaluator) { e.observer = o }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// New creates an evaluator over the given snapshot source.
func New(source SnapshotSource, config *Config, opts ...Option) (*Evaluator, error) {
	if source == nil {
		return nil, fmt.Errorf("snapshot source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Evaluator{
		source: source,
		config: config,
		logger: slog.Default().With("component", "policy.engine"),
		tracer: otel.Tracer("arbiter/policy/engine"),
	}
	if config.CacheEnabled {
		e.cache = newDecisionCache(config.CacheTTL)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate evaluates the given policy type against the caller's context.
// It always returns a decision: evaluation timeouts resolve to the
// fail-safe bias configured for the policy type, never an error.
func (e *Evaluator) Evaluate(ctx context.Context, policyType string, evalCtx policy.Context) *policy.Decision {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(attribute.String("policy.type", policyType)))
	defer span.End()

	snap := e.source.Snapshot()

	cacheHit := false
	haveKey := false
	var key cacheKey
	if e.cache != nil {
		if h, err := hashContext(evalCtx); err == nil {
			haveKey = true
			key = cacheKey{policyType: policyType, contextHash: h, version: snap.Version()}
			if cached, ok := e.cache.get(key); ok {
				cacheHit = true
				decision := *cached
				decision.Timestamp = time.Now().UTC()
				decision.EvaluationTime = time.Since(start)
				e.finish(policyType, evalCtx, &decision, cacheHit)
				return &decision
			}
		}
	}

	evalDeadline, cancel := context.WithTimeout(ctx, e.config.EvaluationTimeout)
	defer cancel()

	decision := e.evaluateAgainst(evalDeadline, snap, policyType, evalCtx)
	decision.EvaluationTime = time.Since(start)
	decision.Timestamp = time.Now().UTC()

	if e.cache != nil && haveKey {
		e.cache.put(key, decision)
	}

	span.SetAttributes(
		attribute.Bool("policy.allowed", decision.Allowed),
		attribute.String("policy.matched_id", decision.MatchedPolicyID),
	)

	e.finish(policyType, evalCtx, decision, cacheHit)
	return decision
}

// evaluateAgainst runs the shared first-match algorithm against one
// snapshot. Condition evaluation is O(number of conditions) and never
// blocks externally; the deadline is checked between policies.
func (e *Evaluator) evaluateAgainst(ctx context.Context, snap Snapshot, policyType string, evalCtx policy.Context) *policy.Decision {
	defs := snap.ForType(policyType)

	for _, def := range defs {
		select {
		case <-ctx.Done():
			return e.timeoutDecision(snap, policyType)
		default:
		}

		matched, condDesc := e.policyMatches(def, evalCtx)
		if !matched {
			continue
		}
		return e.applyActions(def, condDesc, snap, evalCtx)
	}

	// No policy matched: apply the per-type default.
	allowed := !e.config.defaultDeny(policyType)
	word := "allow"
	if !allowed {
		word = "deny"
	}
	return &policy.Decision{
		Allowed:       allowed,
		Reason:        fmt.Sprintf("no policy of type %q matched; default-%s applied", policyType, word),
		Source:        policy.DecisionSource(e.config.Source),
		PolicyVersion: snap.Version(),
	}
}

// policyMatches reports whether every condition of the definition holds
// against the context, plus a description of the first condition for the
// decision reason. A missing field or uncomparable value makes the
// condition false, never an error.
func (e *Evaluator) policyMatches(def *policy.Definition, evalCtx policy.Context) (bool, string) {
	if len(def.Conditions) == 0 {
		return true, "no conditions (always matches)"
	}

	for _, cond := range def.Conditions {
		desc := describeCondition(cond)

		actual, present := resolveField(cond.Field, evalCtx)
		if !present {
			return false, desc
		}

		ok, err := evaluateOperator(cond.Operator, actual, cond.Value)
		if err != nil {
			e.logger.Debug("condition not comparable, treating as non-match",
				"policy_id", def.ID,
				"field", cond.Field,
				"error", err,
			)
			return false, desc
		}
		if !ok {
			return false, desc
		}
	}

	return true, describeCondition(def.Conditions[0])
}

// applyActions builds the decision from the winning policy's actions and
// executes side-effecting ones.
func (e *Evaluator) applyActions(def *policy.Definition, condDesc string, snap Snapshot, evalCtx policy.Context) *policy.Decision {
	allowed := true
	params := map[string]interface{}{}

	for _, action := range def.Actions {
		switch action.Type {
		case policy.ActionAllow:
			// Explicit allow; the default already is allow unless a
			// deny action is also present.

		case policy.ActionDeny, policy.ActionRejectUpdate:
			allowed = false

		case policy.ActionSetPriority, policy.ActionCustom:
			for k, v := range action.Parameters {
				params[k] = v
			}

		case policy.ActionAlert:
			e.logger.Warn("policy alert",
				"policy_id", def.ID,
				"policy_name", def.Name,
				"parameters", action.Parameters,
			)

		case policy.ActionRecordViolation:
			e.recordViolation(def, action, subjectFrom(evalCtx))
		}
	}

	if len(params) == 0 {
		params = nil
	}

	verdict := "allowed"
	if !allowed {
		verdict = "denied"
	}
	return &policy.Decision{
		Allowed:         allowed,
		Reason:          fmt.Sprintf("policy %q %s: %s", def.Name, verdict, condDesc),
		MatchedPolicyID: def.ID,
		Parameters:      params,
		Source:          policy.DecisionSource(e.config.Source),
		PolicyVersion:   snap.Version(),
	}
}

// timeoutDecision is the fail-safe decision for an evaluation that
// exceeded its budget: deny-biased for default-deny (security-sensitive)
// types, allow-biased otherwise.
func (e *Evaluator) timeoutDecision(snap Snapshot, policyType string) *policy.Decision {
	deny := e.config.defaultDeny(policyType)
	word := "allow"
	if deny {
		word = "deny"
	}
	e.logger.Error("evaluation timed out, failing safe",
		"policy_type", policyType,
		"timeout", e.config.EvaluationTimeout,
		"bias", word,
	)
	return &policy.Decision{
		Allowed:       !deny,
		Reason:        fmt.Sprintf("evaluation timed out after %v; fail-safe %s for type %q", e.config.EvaluationTimeout, word, policyType),
		Source:        policy.DecisionSource(e.config.Source),
		PolicyVersion: snap.Version(),
	}
}

// finish emits the per-call audit event and metrics.
func (e *Evaluator) finish(policyType string, evalCtx policy.Context, decision *policy.Decision, cacheHit bool) {
	if e.observer != nil {
		outcome := "deny"
		if decision.Allowed {
			outcome = "allow"
		}
		e.observer.ObserveEvaluation(policyType, outcome, cacheHit, decision.EvaluationTime)
	}

	if e.recorder == nil {
		return
	}
	ev := events.New(events.TypePolicyEvaluation)
	ev.SubjectID = subjectFrom(evalCtx)
	ev.PolicyID = decision.MatchedPolicyID
	ev.Decision = decision
	ev.Source = decision.Source
	ev.Metadata = map[string]interface{}{
		"policy_type": policyType,
		"cache_hit":   cacheHit,
	}
	e.recorder.Append(ev)
}

// recordViolation emits a violation event for a record_violation action.
func (e *Evaluator) recordViolation(def *policy.Definition, action policy.Action, subjectID string) {
	if e.recorder == nil {
		return
	}
	ev := events.New(events.TypeViolation)
	ev.PolicyID = def.ID
	ev.SubjectID = subjectID
	ev.Source = policy.DecisionSource(e.config.Source)
	ev.Metadata = map[string]interface{}{
		"policy_name": def.Name,
		"severity":    string(events.SeverityMedium),
		"description": fmt.Sprintf("policy %q violated", def.Name),
		"status":      string(events.StatusActive),
	}
	for k, v := range action.Parameters {
		ev.Metadata[k] = v
	}
	e.recorder.Append(ev)
}

// subjectFrom extracts the participant identity from the well-known
// context keys.
func subjectFrom(evalCtx policy.Context) string {
	for _, k := range []string{"subject_id", "client_id"} {
		if v, ok := evalCtx[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func describeCondition(cond policy.Condition) string {
	return fmt.Sprintf("%s %s %v", cond.Field, cond.Operator, cond.Value)
}
