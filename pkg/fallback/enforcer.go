package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
	"fedlearn-hq/arbiter/pkg/policy/engine"
)

// State is the connectivity state of an enforcer.
type State string

const (
	// StateConnected means the central service is reachable and the local
	// ruleset tracks it.
	StateConnected State = "connected"

	// StateDisconnected means the failure threshold was crossed; the
	// enforcer runs on the last known-good ruleset.
	StateDisconnected State = "disconnected"

	// StateReconciling means connectivity returned and the enforcer is
	// refreshing its ruleset and uploading buffered events.
	StateReconciling State = "reconciling"
)

// Config contains enforcer configuration.
type Config struct {
	// StoreURL is the base URL of the central policy service.
	StoreURL string

	// HeartbeatInterval is the probe period while connected. Default: 10s.
	HeartbeatInterval time.Duration

	// FailureThreshold is the number of consecutive failed probes before
	// the enforcer declares itself disconnected. Default: 3.
	FailureThreshold int

	// BackoffBase, BackoffFactor, and BackoffMax shape the probe backoff
	// while disconnected. Defaults: 2s, 2.0, 60s.
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration

	// SyncInterval is how often the ruleset is refreshed while connected.
	// Default: 60s.
	SyncInterval time.Duration

	// RequestTimeout bounds each request to the central service.
	// Default: 10s.
	RequestTimeout time.Duration

	// SpoolPath is the local SQLite file for events recorded while
	// disconnected. Default: data/fallback-spool.db.
	SpoolPath string

	// UploadBatchSize is the number of spooled events shipped per upload
	// request during reconciliation. Default: 500.
	UploadBatchSize int

	// BufferCapacity is the local in-memory event buffer size.
	// Default: events.DefaultCapacity.
	BufferCapacity int

	// Engine configures the local evaluator (timeout, default-deny types).
	// The decision source is forced to "fallback".
	Engine *engine.Config
}

// DefaultConfig returns the default enforcer configuration.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 10 * time.Second,
		FailureThreshold:  3,
		BackoffBase:       2 * time.Second,
		BackoffFactor:     2,
		BackoffMax:        60 * time.Second,
		SyncInterval:      60 * time.Second,
		RequestTimeout:    10 * time.Second,
		SpoolPath:         "data/fallback-spool.db",
		UploadBatchSize:   500,
		BufferCapacity:    events.DefaultCapacity,
	}
}

// Validate validates the enforcer configuration.
func (c *Config) Validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("store URL is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1")
	}
	if c.BackoffBase <= 0 || c.BackoffFactor < 1 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("invalid backoff parameters")
	}
	return nil
}

// ReconciliationError wraps a failure while refreshing local state from
// the central service. Step names the phase that failed.
type ReconciliationError struct {
	Step  string
	Cause error
}

// Error returns the error message.
func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed during %s: %v", e.Step, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ReconciliationError) Unwrap() error { return e.Cause }

// StateListener is notified on every state transition.
type StateListener func(from, to State)

// Status is a point-in-time view of the enforcer for operators.
type Status struct {
	State               State     `json:"state"`
	RulesetVersion      uint64    `json:"ruleset_version"`
	RulesetFetchedAt    time.Time `json:"ruleset_fetched_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastContact         time.Time `json:"last_contact,omitempty"`
	SpooledEvents       int64     `json:"spooled_events"`
	BufferedEvents      int       `json:"buffered_events"`
}

// Enforcer is the edge-side policy enforcement point.
type Enforcer struct {
	config    *Config
	client    StoreClient
	ruleset   *Ruleset
	evaluator *engine.Evaluator
	buffer    *events.Buffer
	spool     *Spool
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	lastSync  time.Time
	contact   time.Time
	listeners []StateListener
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithClient overrides the default HTTP store client.
func WithClient(c StoreClient) EnforcerOption {
	return func(e *Enforcer) { e.client = c }
}

// WithStateListener registers a transition listener.
func WithStateListener(l StateListener) EnforcerOption {
	return func(e *Enforcer) { e.listeners = append(e.listeners, l) }
}

// WithEnforcerLogger sets the enforcer logger.
func WithEnforcerLogger(l *slog.Logger) EnforcerOption {
	return func(e *Enforcer) { e.logger = l }
}

// NewEnforcer creates an enforcer. It starts disconnected; the first
// successful heartbeat drives it through reconciliation to connected.
func NewEnforcer(config *Config, opts ...EnforcerOption) (*Enforcer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid enforcer config: %w", err)
	}

	engineCfg := config.Engine
	if engineCfg == nil {
		engineCfg = engine.DefaultConfig()
	}
	engineCfg.Source = string(policy.SourceFallback)

	e := &Enforcer{
		config:  config,
		ruleset: NewRuleset(),
		buffer:  events.NewBuffer(config.BufferCapacity),
		logger:  slog.Default().With("component", "fallback.enforcer"),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = NewHTTPClient(config.StoreURL, config.RequestTimeout)
	}

	spool, err := OpenSpool(config.SpoolPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open event spool: %w", err)
	}
	e.spool = spool

	evaluator, err := engine.New(
		engine.SourceFunc(func() engine.Snapshot { return e.ruleset.Snapshot() }),
		engineCfg,
		engine.WithRecorder(&spoolingRecorder{enforcer: e}),
		engine.WithLogger(e.logger.With("component", "fallback.engine")),
	)
	if err != nil {
		spool.Close()
		return nil, err
	}
	e.evaluator = evaluator
	return e, nil
}

// Evaluate evaluates locally against the cached ruleset. Decisions are
// tagged with the fallback source and recorded to the local buffer and
// spool for later upload.
func (e *Enforcer) Evaluate(ctx context.Context, policyType string, evalCtx policy.Context) *policy.Decision {
	return e.evaluator.Evaluate(ctx, policyType, evalCtx)
}

// State returns the current connectivity state.
func (e *Enforcer) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Ruleset exposes the cached ruleset, mainly for inspection.
func (e *Enforcer) Ruleset() *Ruleset { return e.ruleset }

// Events exposes the local event buffer.
func (e *Enforcer) Events() *events.Buffer { return e.buffer }

// Status reports the enforcer's current state for the status endpoint.
func (e *Enforcer) Status(ctx context.Context) *Status {
	e.mu.Lock()
	state, failures, contact := e.state, e.failures, e.contact
	e.mu.Unlock()

	spooled, err := e.spool.Count(ctx)
	if err != nil {
		e.logger.Error("failed to count spooled events", "error", err)
	}
	return &Status{
		State:               state,
		RulesetVersion:      e.ruleset.Version(),
		RulesetFetchedAt:    e.ruleset.FetchedAt(),
		ConsecutiveFailures: failures,
		LastContact:         contact,
		SpooledEvents:       spooled,
		BufferedEvents:      e.buffer.Len(),
	}
}

// Run drives the heartbeat loop until the context is cancelled. While
// connected it probes every HeartbeatInterval and refreshes the ruleset
// every SyncInterval; while disconnected it probes with exponential
// backoff.
func (e *Enforcer) Run(ctx context.Context) error {
	e.logger.Info("fallback enforcer started",
		"store_url", e.config.StoreURL,
		"heartbeat_interval", e.config.HeartbeatInterval,
		"failure_threshold", e.config.FailureThreshold,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("fallback enforcer stopping")
			return e.spool.Close()
		case <-timer.C:
		}

		timer.Reset(e.tick(ctx))
	}
}

// tick runs one heartbeat cycle and returns the delay until the next.
func (e *Enforcer) tick(ctx context.Context) time.Duration {
	probeCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	err := e.client.Health(probeCtx)
	cancel()

	if err != nil {
		return e.onProbeFailure(err)
	}
	return e.onProbeSuccess(ctx)
}

func (e *Enforcer) onProbeFailure(err error) time.Duration {
	e.mu.Lock()
	e.failures++
	failures := e.failures
	state := e.state
	e.mu.Unlock()

	if state == StateConnected && failures >= e.config.FailureThreshold {
		e.logger.Warn("failure threshold crossed, entering disconnected operation",
			"consecutive_failures", failures,
			"ruleset_version", e.ruleset.Version(),
		)
		e.setState(StateDisconnected)
	} else {
		e.logger.Debug("heartbeat failed", "consecutive_failures", failures, "error", err)
	}

	if e.State() == StateDisconnected {
		return e.backoff(failures)
	}
	return e.config.HeartbeatInterval
}

func (e *Enforcer) onProbeSuccess(ctx context.Context) time.Duration {
	e.mu.Lock()
	e.failures = 0
	e.contact = time.Now().UTC()
	state := e.state
	lastSync := e.lastSync
	e.mu.Unlock()

	switch state {
	case StateDisconnected:
		e.setState(StateReconciling)
		if err := e.reconcile(ctx); err != nil {
			e.logger.Error("reconciliation failed, staying disconnected", "error", err)
			e.setState(StateDisconnected)
			return e.backoff(e.config.FailureThreshold)
		}
		e.setState(StateConnected)
		e.markSynced()

	case StateConnected:
		if time.Since(lastSync) >= e.config.SyncInterval {
			if err := e.sync(ctx); err != nil {
				e.logger.Warn("periodic sync failed", "error", err)
			} else {
				e.markSynced()
			}
		}
	}
	return e.config.HeartbeatInterval
}

// reconcile refreshes the ruleset and uploads spooled events. The ruleset
// swap is all-or-nothing: a fetch or validation error leaves the previous
// generation serving.
func (e *Enforcer) reconcile(ctx context.Context) error {
	version, defs, err := e.client.FetchPolicies(ctx)
	if err != nil {
		return &ReconciliationError{Step: "policy fetch", Cause: err}
	}
	if err := e.ruleset.Swap(version, defs); err != nil {
		return &ReconciliationError{Step: "ruleset swap", Cause: err}
	}
	e.logger.Info("ruleset refreshed",
		"version", version,
		"policies", len(defs),
	)

	if err := e.uploadSpooled(ctx); err != nil {
		return &ReconciliationError{Step: "event upload", Cause: err}
	}
	return nil
}

// sync is the lightweight connected-state refresh: update the ruleset if
// the version moved and drain anything left in the spool.
func (e *Enforcer) sync(ctx context.Context) error {
	version, defs, err := e.client.FetchPolicies(ctx)
	if err != nil {
		return err
	}
	if version != e.ruleset.Version() {
		if err := e.ruleset.Swap(version, defs); err != nil {
			return err
		}
		e.logger.Info("ruleset updated", "version", version, "policies", len(defs))
	}
	return e.uploadSpooled(ctx)
}

// uploadSpooled ships spooled events oldest-first in batches, deleting
// each batch only after the service confirms it.
func (e *Enforcer) uploadSpooled(ctx context.Context) error {
	for {
		batch, err := e.spool.Pending(ctx, e.config.UploadBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := e.client.UploadEvents(ctx, batch); err != nil {
			return err
		}
		ids := make([]string, len(batch))
		for i, ev := range batch {
			ids[i] = ev.ID
		}
		if err := e.spool.Remove(ctx, ids); err != nil {
			return err
		}
		e.logger.Info("uploaded spooled events", "count", len(batch))
	}
}

// backoff computes the probe delay after the given number of consecutive
// failures beyond the threshold.
func (e *Enforcer) backoff(failures int) time.Duration {
	over := failures - e.config.FailureThreshold
	if over < 0 {
		over = 0
	}
	d := time.Duration(float64(e.config.BackoffBase) * math.Pow(e.config.BackoffFactor, float64(over)))
	if d > e.config.BackoffMax || d <= 0 {
		d = e.config.BackoffMax
	}
	return d
}

func (e *Enforcer) setState(next State) {
	e.mu.Lock()
	prev := e.state
	if prev == next {
		e.mu.Unlock()
		return
	}
	e.state = next
	listeners := e.listeners
	e.mu.Unlock()

	e.logger.Info("state transition", "from", prev, "to", next)
	for _, l := range listeners {
		l(prev, next)
	}
}

func (e *Enforcer) markSynced() {
	e.mu.Lock()
	e.lastSync = time.Now().UTC()
	e.mu.Unlock()
}

// spoolingRecorder records engine events to the local buffer and the
// durable spool. Spool failures are logged, never surfaced into the
// evaluation path.
type spoolingRecorder struct {
	enforcer *Enforcer
}

func (r *spoolingRecorder) Append(ev *events.Event) {
	r.enforcer.buffer.Append(ev)
	if err := r.enforcer.spool.Add(context.Background(), ev); err != nil {
		r.enforcer.logger.Error("failed to spool event", "event_id", ev.ID, "error", err)
	}
}
