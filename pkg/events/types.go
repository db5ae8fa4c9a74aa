package events

import (
	"time"

	"github.com/google/uuid"

	"fedlearn-hq/arbiter/pkg/policy"
)

// Type classifies an audit event.
type Type string

const (
	// TypePolicyEvaluation records one evaluation call and its decision.
	TypePolicyEvaluation Type = "policy_evaluation"

	// TypeTrustUpdate records a trust score change for a subject.
	TypeTrustUpdate Type = "trust_update"

	// TypeViolation records a detected policy violation.
	TypeViolation Type = "violation"

	// TypePolicyMutation records a create/update/delete/enable/disable
	// or load on the policy store.
	TypePolicyMutation Type = "policy_mutation"
)

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ViolationStatus tracks the handling state of a violation.
type ViolationStatus string

const (
	StatusActive       ViolationStatus = "active"
	StatusAcknowledged ViolationStatus = "acknowledged"
	StatusResolved     ViolationStatus = "resolved"
)

// Event is an immutable audit record. Once appended it is never modified;
// FIFO eviction at capacity is the only deletion path.
type Event struct {
	// ID is a UUID v4 assigned at creation.
	ID string `json:"id"`

	// Type classifies the event.
	Type Type `json:"type"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// SubjectID identifies the participant the event concerns, if any.
	SubjectID string `json:"subject_id,omitempty"`

	// PolicyID identifies the policy involved, if any.
	PolicyID string `json:"policy_id,omitempty"`

	// Decision carries the evaluation outcome for policy_evaluation
	// events; nil otherwise.
	Decision *policy.Decision `json:"decision,omitempty"`

	// Source marks whether the event originated at the authoritative
	// engine or a fallback enforcement point.
	Source policy.DecisionSource `json:"source,omitempty"`

	// Metadata carries event-specific detail (violation severity and
	// description, mutation kind, trust factors, ...).
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// New creates an event with a fresh UUID and the current time.
func New(eventType Type) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    policy.SourceStore,
	}
}

// Violation is the derived view over events of type violation.
type Violation struct {
	EventID     string          `json:"event_id"`
	PolicyID    string          `json:"policy_id"`
	SubjectID   string          `json:"subject_id"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Status      ViolationStatus `json:"status"`
}

// ViolationFromEvent derives the violation view from a violation event.
// Returns nil for other event types.
func ViolationFromEvent(ev *Event) *Violation {
	if ev == nil || ev.Type != TypeViolation {
		return nil
	}
	v := &Violation{
		EventID:    ev.ID,
		PolicyID:   ev.PolicyID,
		SubjectID:  ev.SubjectID,
		OccurredAt: ev.Timestamp,
		Severity:   SeverityMedium,
		Status:     StatusActive,
	}
	if s, ok := ev.Metadata["severity"].(string); ok && s != "" {
		v.Severity = Severity(s)
	}
	if d, ok := ev.Metadata["description"].(string); ok {
		v.Description = d
	}
	if s, ok := ev.Metadata["status"].(string); ok && s != "" {
		v.Status = ViolationStatus(s)
	}
	return v
}

// Filter selects events in a query. Zero values match everything.
type Filter struct {
	// Type restricts to one event type.
	Type Type

	// SubjectID restricts to one subject.
	SubjectID string

	// PolicyID restricts to one policy.
	PolicyID string

	// From is the inclusive lower bound on Timestamp.
	From time.Time

	// To is the inclusive upper bound on Timestamp.
	To time.Time

	// Limit caps the number of returned events; 0 means no cap.
	Limit int
}

// Matches reports whether the event passes the filter.
func (f *Filter) Matches(ev *Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.SubjectID != "" && ev.SubjectID != f.SubjectID {
		return false
	}
	if f.PolicyID != "" && ev.PolicyID != f.PolicyID {
		return false
	}
	if !f.From.IsZero() && ev.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ev.Timestamp.After(f.To) {
		return false
	}
	return true
}
