package compliance

import (
	"time"

	"fedlearn-hq/arbiter/pkg/events"
)

// TypeStats summarizes evaluations of one policy type.
type TypeStats struct {
	// Total is the number of evaluations observed.
	Total int `json:"total"`

	// Allowed is the number of allow decisions.
	Allowed int `json:"allowed"`

	// Denied is the number of deny decisions.
	Denied int `json:"denied"`

	// ComplianceRatio is Allowed/Total, or 1 when no evaluations exist.
	ComplianceRatio float64 `json:"compliance_ratio"`
}

// TrendBucket aggregates activity within one trailing window.
type TrendBucket struct {
	// Window names the bucket ("24h", "7d", "30d").
	Window string `json:"window"`

	// Evaluations counts policy_evaluation events in the window.
	Evaluations int `json:"evaluations"`

	// Denied counts deny decisions in the window.
	Denied int `json:"denied"`

	// Violations counts violation events in the window.
	Violations int `json:"violations"`
}

// Status is the full compliance report.
type Status struct {
	// GeneratedAt is when the report was computed.
	GeneratedAt time.Time `json:"generated_at"`

	// ByType breaks statistics down per policy type.
	ByType map[string]*TypeStats `json:"by_type"`

	// ViolationsBySeverity counts violations per severity.
	ViolationsBySeverity map[events.Severity]int `json:"violations_by_severity"`

	// ViolationsByStatus counts violations per handling status.
	ViolationsByStatus map[events.ViolationStatus]int `json:"violations_by_status"`

	// Trends covers the trailing 24h/7d/30d windows.
	Trends []*TrendBucket `json:"trends"`
}

// EventSource is the read-side view the reporter needs.
type EventSource interface {
	Query(filter events.Filter) []*events.Event
}

// Reporter computes compliance reports over an event source.
type Reporter struct {
	source EventSource
}

// NewReporter creates a reporter over the given event source.
func NewReporter(source EventSource) *Reporter {
	return &Reporter{source: source}
}

// Status computes the current compliance report from the buffered events.
func (r *Reporter) Status() *Status {
	now := time.Now().UTC()
	status := &Status{
		GeneratedAt:          now,
		ByType:               make(map[string]*TypeStats),
		ViolationsBySeverity: make(map[events.Severity]int),
		ViolationsByStatus:   make(map[events.ViolationStatus]int),
	}

	evals := r.source.Query(events.Filter{Type: events.TypePolicyEvaluation})
	for _, ev := range evals {
		policyType, _ := ev.Metadata["policy_type"].(string)
		if policyType == "" {
			policyType = "unknown"
		}
		stats, ok := status.ByType[policyType]
		if !ok {
			stats = &TypeStats{}
			status.ByType[policyType] = stats
		}
		stats.Total++
		if ev.Decision != nil && ev.Decision.Allowed {
			stats.Allowed++
		} else {
			stats.Denied++
		}
	}
	for _, stats := range status.ByType {
		if stats.Total == 0 {
			stats.ComplianceRatio = 1
			continue
		}
		stats.ComplianceRatio = float64(stats.Allowed) / float64(stats.Total)
	}

	violations := r.source.Query(events.Filter{Type: events.TypeViolation})
	for _, ev := range violations {
		v := events.ViolationFromEvent(ev)
		status.ViolationsBySeverity[v.Severity]++
		status.ViolationsByStatus[v.Status]++
	}

	status.Trends = []*TrendBucket{
		r.trend("24h", now.Add(-24*time.Hour), evals, violations),
		r.trend("7d", now.Add(-7*24*time.Hour), evals, violations),
		r.trend("30d", now.Add(-30*24*time.Hour), evals, violations),
	}
	return status
}

// Violations returns the violation view, optionally filtered by severity
// and subject.
func (r *Reporter) Violations(severity events.Severity, subjectID string) []*events.Violation {
	raw := r.source.Query(events.Filter{Type: events.TypeViolation, SubjectID: subjectID})
	result := make([]*events.Violation, 0, len(raw))
	for _, ev := range raw {
		v := events.ViolationFromEvent(ev)
		if severity != "" && v.Severity != severity {
			continue
		}
		result = append(result, v)
	}
	return result
}

func (r *Reporter) trend(window string, from time.Time, evals, violations []*events.Event) *TrendBucket {
	bucket := &TrendBucket{Window: window}
	for _, ev := range evals {
		if ev.Timestamp.Before(from) {
			continue
		}
		bucket.Evaluations++
		if ev.Decision != nil && !ev.Decision.Allowed {
			bucket.Denied++
		}
	}
	for _, ev := range violations {
		if !ev.Timestamp.Before(from) {
			bucket.Violations++
		}
	}
	return bucket
}
