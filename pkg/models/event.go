package models

import (
	"time"
)

// Severity represents the severity level of an attack event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering of a severity level, with unknown values ranked
// below "low" so they never win a max comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the higher of two severity levels
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AttackType identifies the classified attack family of an event
type AttackType string

const (
	AttackSQLInjection       AttackType = "sql_injection"
	AttackXSS                AttackType = "xss"
	AttackDirectoryTraversal AttackType = "directory_traversal"
	AttackCommandInjection   AttackType = "command_injection"
	AttackBruteForce         AttackType = "brute_force"
	AttackAutomatedTool      AttackType = "automated_tool"
	AttackCredentialTheft    AttackType = "credential_theft"
	AttackNormal             AttackType = "normal"
	AttackUnknown            AttackType = "unknown"
)

// ScoreFlagUnavailable marks an event whose anomaly sub-score could not be
// computed; the event still flows through the pipeline with a degraded score.
const ScoreFlagUnavailable = "score_unavailable"

// RawCapture is the untrusted input handed over by a honeypot endpoint.
// It is validated and canonicalized by the normalizer before anything
// downstream sees it.
type RawCapture struct {
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	QueryParams    map[string]string `json:"query_params,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	RemoteAddr     string            `json:"remote_addr"`
	UserAgent      string            `json:"user_agent,omitempty"`
	StatusCode     int               `json:"status_code,omitempty"`
	ResponseTimeMs float64           `json:"response_time_ms,omitempty"`
	HoneypotType   string            `json:"honeypot_type,omitempty"`
	Country        string            `json:"country,omitempty"`
	Region         string            `json:"region,omitempty"`
	City           string            `json:"city,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// AttackEvent is a canonicalized, immutable interaction record. ID and
// Timestamp never change after normalization; the score and label fields
// transition from pending to final exactly once via Finalize. Endpoint is
// the cleaned path; RawPath keeps the request text as sent, since cleaning
// erases traversal sequences the classifier needs to see.
type AttackEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	SourceIP       string            `json:"source_ip"`
	Endpoint       string            `json:"endpoint"`
	RawPath        string            `json:"raw_path,omitempty"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	QueryParams    map[string]string `json:"query_params,omitempty"`
	Payload        string            `json:"payload,omitempty"`
	Truncated      bool              `json:"truncated,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	StatusCode     int               `json:"status_code,omitempty"`
	ResponseTimeMs float64           `json:"response_time_ms,omitempty"`
	HoneypotType   string            `json:"honeypot_type,omitempty"`
	Country        string            `json:"country,omitempty"`
	Region         string            `json:"region,omitempty"`
	City           string            `json:"city,omitempty"`
	Tags           []string          `json:"tags,omitempty"`

	// Final fields, set exactly once by Finalize
	AttackType   AttackType `json:"attack_type,omitempty"`
	Severity     Severity   `json:"severity,omitempty"`
	AnomalyScore float64    `json:"anomaly_score"`
	Confidence   float64    `json:"confidence"`
	ScoreFlags   []string   `json:"score_flags,omitempty"`
	finalized    bool
}

// Finalize sets the classification and scoring fields. The first call wins;
// later calls are ignored so a finalized event is effectively immutable.
func (e *AttackEvent) Finalize(attackType AttackType, severity Severity, anomalyScore, confidence float64, flags []string) {
	if e.finalized {
		return
	}
	e.AttackType = attackType
	e.Severity = severity
	e.AnomalyScore = anomalyScore
	e.Confidence = confidence
	e.ScoreFlags = flags
	e.finalized = true
}

// Finalized reports whether the score fields have been set
func (e *AttackEvent) Finalized() bool {
	return e.finalized
}
