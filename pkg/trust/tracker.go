package trust

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fedlearn-hq/arbiter/pkg/events"
)

// NeutralScore is the score reported for subjects with no history.
const NeutralScore = 0.5

// Band is the derived trust classification of a score. It is computed at
// read time from the configured thresholds, never stored.
type Band string

const (
	// BandHigh marks well-established, trustworthy subjects.
	BandHigh Band = "high"

	// BandMedium marks subjects with moderate standing.
	BandMedium Band = "medium"

	// BandLow marks subjects whose behavior warrants scrutiny.
	BandLow Band = "low"
)

// Score is a subject's current reputation.
type Score struct {
	// SubjectID identifies the participant.
	SubjectID string `json:"subject_id"`

	// Score is the combined reputation, always within [0,1].
	Score float64 `json:"score"`

	// Factors are the last known named sub-scores, each within [0,1].
	Factors map[string]float64 `json:"factors"`

	// History holds prior combined scores, oldest first, bounded by the
	// tracker's history limit.
	History []float64 `json:"history"`

	// LastUpdated is when the score last changed.
	LastUpdated time.Time `json:"last_updated"`
}

// Config contains tracker configuration.
type Config struct {
	// Decay is the exponential decay applied to the previous score:
	// new = decay*old + (1-decay)*weightedFactorAvg. Must be in (0,1].
	// Default: 0.95.
	Decay float64

	// Weights are per-factor weights for the weighted mean. Factors
	// without a configured weight count with weight 1.
	Weights map[string]float64

	// HistoryLimit bounds the per-subject score history; the oldest
	// entry is dropped first. Default: 50.
	HistoryLimit int

	// HighThreshold is the minimum score of BandHigh. Default: 0.8.
	HighThreshold float64

	// MediumThreshold is the minimum score of BandMedium. Default: 0.5.
	MediumThreshold float64
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() *Config {
	return &Config{
		Decay:           0.95,
		Weights:         map[string]float64{},
		HistoryLimit:    50,
		HighThreshold:   0.8,
		MediumThreshold: 0.5,
	}
}

// Validate validates the tracker configuration.
func (c *Config) Validate() error {
	if c.Decay <= 0 || c.Decay > 1 {
		return fmt.Errorf("decay must be in (0,1], got %v", c.Decay)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	if c.MediumThreshold > c.HighThreshold {
		return fmt.Errorf("medium threshold %v exceeds high threshold %v", c.MediumThreshold, c.HighThreshold)
	}
	return nil
}

// Band classifies a score against the configured thresholds.
func (c *Config) Band(score float64) Band {
	switch {
	case score >= c.HighThreshold:
		return BandHigh
	case score >= c.MediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// subjectState is one subject's mutable state, guarded by its own mutex so
// updates to distinct subjects never contend.
type subjectState struct {
	mu    sync.Mutex
	score Score
}

// Tracker maintains trust scores for all known subjects. Lock granularity
// is per subject: the tracker-level lock only guards the subject map.
type Tracker struct {
	mu       sync.RWMutex
	subjects map[string]*subjectState

	config   *Config
	recorder events.Recorder
	logger   *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRecorder sets the audit event recorder for trust updates.
func WithRecorder(r events.Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// WithLogger sets the tracker logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config *Config, opts ...Option) (*Tracker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trust config: %w", err)
	}

	t := &Tracker{
		subjects: make(map[string]*subjectState),
		config:   config,
		logger:   slog.Default().With("component", "trust.tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Update merges the supplied factor values with the subject's retained
// factors, recomputes the decayed weighted score and returns the new
// state. Factor values outside [0,1] are rejected. Subjects are created
// lazily on first update.
func (t *Tracker) Update(subjectID string, factors map[string]float64) (*Score, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id must not be empty")
	}
	for name, v := range factors {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("factor %q out of range [0,1]: %v", name, v)
		}
	}

	state := t.subject(subjectID)
	state.mu.Lock()
	defer state.mu.Unlock()

	old := state.score.Score

	// Unsupplied factors retain their last value.
	for name, v := range factors {
		state.score.Factors[name] = v
	}

	avg := t.weightedAverage(state.score.Factors)
	score := t.config.Decay*old + (1-t.config.Decay)*avg
	state.score.Score = clamp(score)
	state.score.LastUpdated = time.Now().UTC()

	state.score.History = append(state.score.History, state.score.Score)
	if len(state.score.History) > t.config.HistoryLimit {
		state.score.History = state.score.History[len(state.score.History)-t.config.HistoryLimit:]
	}

	result := state.score.clone()
	t.recordUpdate(subjectID, old, result.Score, factors)
	return result, nil
}

// Get returns the subject's current score. Unknown subjects read as the
// neutral midpoint with no factors or history, not as an error: absence
// of history must not be conflated with untrustworthiness.
func (t *Tracker) Get(subjectID string) *Score {
	t.mu.RLock()
	state, ok := t.subjects[subjectID]
	t.mu.RUnlock()

	if !ok {
		return &Score{
			SubjectID: subjectID,
			Score:     NeutralScore,
			Factors:   map[string]float64{},
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.score.clone()
}

// List returns all tracked scores, optionally restricted to scores at or
// below the given threshold (threshold < 0 disables the filter).
func (t *Tracker) List(threshold float64) []*Score {
	t.mu.RLock()
	states := make([]*subjectState, 0, len(t.subjects))
	for _, s := range t.subjects {
		states = append(states, s)
	}
	t.mu.RUnlock()

	scores := make([]*Score, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		s := state.score.clone()
		state.mu.Unlock()
		if threshold >= 0 && s.Score > threshold {
			continue
		}
		scores = append(scores, s)
	}
	return scores
}

// Band classifies the subject's current score.
func (t *Tracker) Band(subjectID string) Band {
	return t.config.Band(t.Get(subjectID).Score)
}

// Reset administratively deletes a subject's score. This is the only
// deletion path for trust state.
func (t *Tracker) Reset(subjectID string) {
	t.mu.Lock()
	delete(t.subjects, subjectID)
	t.mu.Unlock()
	t.logger.Info("trust score reset", "subject_id", subjectID)
}

// subject returns the subject's state, creating it lazily.
func (t *Tracker) subject(subjectID string) *subjectState {
	t.mu.RLock()
	state, ok := t.subjects[subjectID]
	t.mu.RUnlock()
	if ok {
		return state
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok = t.subjects[subjectID]; ok {
		return state
	}
	state = &subjectState{
		score: Score{
			SubjectID: subjectID,
			Score:     NeutralScore,
			Factors:   make(map[string]float64),
		},
	}
	t.subjects[subjectID] = state
	return state
}

func (t *Tracker) weightedAverage(factors map[string]float64) float64 {
	if len(factors) == 0 {
		return NeutralScore
	}
	var sum, weightSum float64
	for name, v := range factors {
		w := 1.0
		if cw, ok := t.config.Weights[name]; ok && cw > 0 {
			w = cw
		}
		sum += w * v
		weightSum += w
	}
	if weightSum == 0 {
		return NeutralScore
	}
	return sum / weightSum
}

func (t *Tracker) recordUpdate(subjectID string, oldScore, newScore float64, factors map[string]float64) {
	if t.recorder == nil {
		return
	}
	meta := map[string]interface{}{
		"old_score": oldScore,
		"new_score": newScore,
	}
	for name, v := range factors {
		meta["factor_"+name] = v
	}
	ev := events.New(events.TypeTrustUpdate)
	ev.SubjectID = subjectID
	ev.Metadata = meta
	t.recorder.Append(ev)
}

func (s *Score) clone() *Score {
	c := *s
	c.Factors = make(map[string]float64, len(s.Factors))
	for k, v := range s.Factors {
		c.Factors[k] = v
	}
	c.History = append([]float64(nil), s.History...)
	return &c
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
