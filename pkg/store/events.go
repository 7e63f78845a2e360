package store

import (
	"context"
	"fmt"
	"time"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

var eventColumns = []string{
	"id", "timestamp", "source_ip", "endpoint", "raw_path", "method", "headers",
	"query_params", "payload", "truncated", "user_agent", "status_code",
	"response_time_ms", "honeypot_type", "country", "tags", "attack_type",
	"severity", "anomaly_score", "confidence", "score_flags",
}

// AppendEvent writes a finalized event to the append-only event stream
func (c *ProtonClient) AppendEvent(ctx context.Context, ev *models.AttackEvent) error {
	values := []interface{}{
		ev.ID,
		ev.Timestamp,
		ev.SourceIP,
		ev.Endpoint,
		ev.RawPath,
		ev.Method,
		marshalJSON(ev.Headers),
		marshalJSON(ev.QueryParams),
		ev.Payload,
		ev.Truncated,
		ev.UserAgent,
		int32(ev.StatusCode),
		ev.ResponseTimeMs,
		ev.HoneypotType,
		ev.Country,
		marshalJSON(ev.Tags),
		string(ev.AttackType),
		string(ev.Severity),
		ev.AnomalyScore,
		ev.Confidence,
		marshalJSON(ev.ScoreFlags),
	}
	return c.insertIntoStream(ctx, EventsStream, eventColumns, values)
}

// EventsByTimeRange returns finalized events from the historical snapshot
// of the event stream, newest first.
func (c *ProtonClient) EventsByTimeRange(ctx context.Context, from, to time.Time) ([]*models.AttackEvent, error) {
	query := fmt.Sprintf(
		"SELECT * FROM table(%s) WHERE timestamp >= '%s' AND timestamp <= '%s' ORDER BY timestamp DESC",
		EventsStream,
		from.UTC().Format("2006-01-02 15:04:05.000"),
		to.UTC().Format("2006-01-02 15:04:05.000"),
	)

	rows, err := c.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]*models.AttackEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, eventFromRow(row))
	}
	return events, nil
}

func eventFromRow(row map[string]interface{}) *models.AttackEvent {
	ev := &models.AttackEvent{
		ID:             getString(row, "id"),
		Timestamp:      getTime(row, "timestamp"),
		SourceIP:       getString(row, "source_ip"),
		Endpoint:       getString(row, "endpoint"),
		RawPath:        getString(row, "raw_path"),
		Method:         getString(row, "method"),
		Headers:        unmarshalStringMap(getString(row, "headers")),
		QueryParams:    unmarshalStringMap(getString(row, "query_params")),
		Payload:        getString(row, "payload"),
		Truncated:      getBool(row, "truncated"),
		UserAgent:      getString(row, "user_agent"),
		StatusCode:     int(getInt64(row, "status_code")),
		ResponseTimeMs: getFloat(row, "response_time_ms"),
		HoneypotType:   getString(row, "honeypot_type"),
		Country:        getString(row, "country"),
		Tags:           unmarshalStringSlice(getString(row, "tags")),
	}
	ev.Finalize(
		models.AttackType(getString(row, "attack_type")),
		models.Severity(getString(row, "severity")),
		getFloat(row, "anomaly_score"),
		getFloat(row, "confidence"),
		unmarshalStringSlice(getString(row, "score_flags")),
	)
	return ev
}
