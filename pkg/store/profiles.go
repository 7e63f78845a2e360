package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

var profileColumns = []string{
	"source_ip", "first_seen", "last_seen", "event_count", "endpoints",
	"attack_types", "user_agents", "max_severity", "bot_likelihood",
	"risk_score", "threat_level", "country", "updated_at",
}

// UpsertProfile writes a profile to the mutable profile stream. The stream
// is keyed by source IP, so repeated writes for the same identity overwrite
// the previous row.
func (c *ProtonClient) UpsertProfile(ctx context.Context, p *models.AttackerProfile) error {
	values := []interface{}{
		p.SourceIP,
		p.FirstSeen,
		p.LastSeen,
		p.EventCount,
		marshalJSON(p.EndpointList()),
		marshalJSON(p.AttackTypes),
		marshalJSON(userAgentList(p)),
		string(p.MaxSeverity),
		p.BotLikelihood,
		p.RiskScore,
		string(p.ThreatLevel),
		p.Country,
		time.Now().UTC(),
	}
	return c.insertIntoStream(ctx, ProfilesStream, profileColumns, values)
}

// GetProfile reads a profile by source IP. Returns nil when the identity
// has never been persisted.
func (c *ProtonClient) GetProfile(ctx context.Context, sourceIP string) (*models.AttackerProfile, error) {
	escaped := strings.ReplaceAll(sourceIP, "'", "''")
	query := fmt.Sprintf("SELECT * FROM table(%s) WHERE source_ip = '%s' LIMIT 1", ProfilesStream, escaped)

	rows, err := c.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return profileFromRow(rows[0]), nil
}

func profileFromRow(row map[string]interface{}) *models.AttackerProfile {
	p := models.NewAttackerProfile(getString(row, "source_ip"), getTime(row, "first_seen"))
	p.LastSeen = getTime(row, "last_seen")
	p.EventCount = getInt64(row, "event_count")
	for _, ep := range unmarshalStringSlice(getString(row, "endpoints")) {
		p.Endpoints[ep] = struct{}{}
	}
	for at, count := range unmarshalAttackTypes(getString(row, "attack_types")) {
		p.AttackTypes[at] = count
	}
	for _, ua := range unmarshalStringSlice(getString(row, "user_agents")) {
		p.UserAgents[ua] = struct{}{}
	}
	p.MaxSeverity = models.Severity(getString(row, "max_severity"))
	p.BotLikelihood = getFloat(row, "bot_likelihood")
	p.RiskScore = getFloat(row, "risk_score")
	p.ThreatLevel = models.ThreatLevel(getString(row, "threat_level"))
	p.Country = getString(row, "country")
	return p
}

func userAgentList(p *models.AttackerProfile) []string {
	out := make([]string, 0, len(p.UserAgents))
	for ua := range p.UserAgents {
		out = append(out, ua)
	}
	return out
}
