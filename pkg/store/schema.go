package store

// Column represents a column definition
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Stream names
const (
	// EventsStream is the append-only stream of finalized attack events
	EventsStream = "hp_attack_events"

	// ProfilesStream is the mutable stream of attacker profiles, keyed by
	// source IP so every write is an upsert
	ProfilesStream = "hp_attacker_profiles"

	// AlertsStream is the mutable stream of security alerts, keyed by
	// alert ID so status transitions overwrite in place
	AlertsStream = "hp_security_alerts"
)

// eventsSchema returns the schema for the attack events stream. Map-valued
// fields are stored as JSON strings.
func eventsSchema() []Column {
	return []Column{
		{Name: "id", Type: "string"},
		{Name: "timestamp", Type: "datetime64(3)"},
		{Name: "source_ip", Type: "string"},
		{Name: "endpoint", Type: "string"},
		{Name: "raw_path", Type: "string"},
		{Name: "method", Type: "string"},
		{Name: "headers", Type: "string"},
		{Name: "query_params", Type: "string"},
		{Name: "payload", Type: "string"},
		{Name: "truncated", Type: "bool"},
		{Name: "user_agent", Type: "string"},
		{Name: "status_code", Type: "int32"},
		{Name: "response_time_ms", Type: "float64"},
		{Name: "honeypot_type", Type: "string"},
		{Name: "country", Type: "string"},
		{Name: "tags", Type: "string"},
		{Name: "attack_type", Type: "string"},
		{Name: "severity", Type: "string"},
		{Name: "anomaly_score", Type: "float64"},
		{Name: "confidence", Type: "float64"},
		{Name: "score_flags", Type: "string"},
	}
}

// profilesSchema returns the schema for the mutable attacker profiles stream
func profilesSchema() []Column {
	return []Column{
		{Name: "source_ip", Type: "string"},
		{Name: "first_seen", Type: "datetime64(3)"},
		{Name: "last_seen", Type: "datetime64(3)"},
		{Name: "event_count", Type: "int64"},
		{Name: "endpoints", Type: "string"},
		{Name: "attack_types", Type: "string"},
		{Name: "user_agents", Type: "string"},
		{Name: "max_severity", Type: "string"},
		{Name: "bot_likelihood", Type: "float64"},
		{Name: "risk_score", Type: "float64"},
		{Name: "threat_level", Type: "string"},
		{Name: "country", Type: "string"},
		{Name: "updated_at", Type: "datetime64(3)"},
	}
}

// alertsSchema returns the schema for the mutable security alerts stream
func alertsSchema() []Column {
	return []Column{
		{Name: "id", Type: "string"},
		{Name: "created_at", Type: "datetime64(3)"},
		{Name: "alert_type", Type: "string"},
		{Name: "severity", Type: "string"},
		{Name: "confidence", Type: "float64"},
		{Name: "source_ip", Type: "string"},
		{Name: "endpoint", Type: "string"},
		{Name: "event_ids", Type: "string"},
		{Name: "title", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "status", Type: "string"},
		{Name: "updated_at", Type: "datetime64(3)"},
		{Name: "updated_by", Type: "string", Nullable: true},
	}
}
