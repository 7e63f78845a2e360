package models

import (
	"time"
)

// AlertStatus represents the lifecycle state of a security alert
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// CanTransition reports whether moving from one alert status to another is
// allowed. Transitions are monotone: open -> investigating -> {resolved,
// false_positive}, with no reverse edges. Skipping investigating is allowed.
func CanTransition(from, to AlertStatus) bool {
	switch from {
	case AlertStatusOpen:
		return to == AlertStatusInvestigating || to == AlertStatusResolved || to == AlertStatusFalsePositive
	case AlertStatusInvestigating:
		return to == AlertStatusResolved || to == AlertStatusFalsePositive
	default:
		return false
	}
}

// Terminal reports whether a status has no outgoing transitions
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusResolved || s == AlertStatusFalsePositive
}

// SecurityAlert is a deduplicated, threshold-triggered incident record.
// At most one alert is created per (source identity, alert type) within the
// dedup window; the contributing event IDs are retained for forensics.
type SecurityAlert struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	AlertType   string      `json:"alert_type"`
	Severity    Severity    `json:"severity"`
	Confidence  float64     `json:"confidence"`
	SourceIP    string      `json:"source_ip"`
	Endpoint    string      `json:"endpoint,omitempty"`
	EventIDs    []string    `json:"event_ids,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      AlertStatus `json:"status"`
	UpdatedAt   time.Time   `json:"updated_at"`
	UpdatedBy   string      `json:"updated_by,omitempty"`
}

// UpdateAlertStatusRequest is the request payload for an operator-driven
// status transition.
type UpdateAlertStatusRequest struct {
	Status    AlertStatus `json:"status"`
	UpdatedBy string      `json:"updated_by,omitempty"`
}
