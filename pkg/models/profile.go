package models

import (
	"time"
)

// ThreatLevel buckets a profile's risk score for dashboards
type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

// ThreatLevelForScore maps a risk score to a threat level bucket
func ThreatLevelForScore(score float64) ThreatLevel {
	switch {
	case score > 80:
		return ThreatLevelCritical
	case score > 60:
		return ThreatLevelHigh
	case score > 40:
		return ThreatLevelMedium
	default:
		return ThreatLevelLow
	}
}

// AttackerProfile is the running aggregate for a single source identity.
// It is created on the first event from an identity and mutated on every
// subsequent one; the aggregator owns all mutation.
type AttackerProfile struct {
	SourceIP      string              `json:"source_ip"`
	FirstSeen     time.Time           `json:"first_seen"`
	LastSeen      time.Time           `json:"last_seen"`
	EventCount    int64               `json:"event_count"`
	Endpoints     map[string]struct{} `json:"-"`
	AttackTypes   map[AttackType]int  `json:"attack_types,omitempty"`
	UserAgents    map[string]struct{} `json:"-"`
	MaxSeverity   Severity            `json:"max_severity"`
	BotLikelihood float64             `json:"bot_likelihood"`
	RiskScore     float64             `json:"risk_score"`
	ThreatLevel   ThreatLevel         `json:"threat_level"`
	Country       string              `json:"country,omitempty"`
}

// NewAttackerProfile creates an empty profile for a source identity
func NewAttackerProfile(sourceIP string, firstSeen time.Time) *AttackerProfile {
	return &AttackerProfile{
		SourceIP:    sourceIP,
		FirstSeen:   firstSeen,
		LastSeen:    firstSeen,
		Endpoints:   make(map[string]struct{}),
		AttackTypes: make(map[AttackType]int),
		UserAgents:  make(map[string]struct{}),
		MaxSeverity: SeverityLow,
		ThreatLevel: ThreatLevelLow,
	}
}

// UniqueEndpoints returns the number of distinct endpoints touched
func (p *AttackerProfile) UniqueEndpoints() int {
	return len(p.Endpoints)
}

// SessionDuration is the span between first and last seen
func (p *AttackerProfile) SessionDuration() time.Duration {
	return p.LastSeen.Sub(p.FirstSeen)
}

// HasSeverity reports whether any event at or above the given severity has
// been observed for this identity.
func (p *AttackerProfile) HasSeverity(s Severity) bool {
	return p.MaxSeverity.Rank() >= s.Rank()
}

// Clone returns a deep copy of the profile. The aggregator mutates copies
// under its shard lock and swaps them in atomically, so readers never see a
// half-updated profile.
func (p *AttackerProfile) Clone() *AttackerProfile {
	cp := *p
	cp.Endpoints = make(map[string]struct{}, len(p.Endpoints))
	for k := range p.Endpoints {
		cp.Endpoints[k] = struct{}{}
	}
	cp.AttackTypes = make(map[AttackType]int, len(p.AttackTypes))
	for k, v := range p.AttackTypes {
		cp.AttackTypes[k] = v
	}
	cp.UserAgents = make(map[string]struct{}, len(p.UserAgents))
	for k := range p.UserAgents {
		cp.UserAgents[k] = struct{}{}
	}
	return &cp
}

// EndpointList returns the touched endpoints as a sorted-insensitive slice
// for serialization.
func (p *AttackerProfile) EndpointList() []string {
	out := make([]string, 0, len(p.Endpoints))
	for ep := range p.Endpoints {
		out = append(out, ep)
	}
	return out
}
