package store

import (
	"context"
	"fmt"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

var alertColumns = []string{
	"id", "created_at", "alert_type", "severity", "confidence", "source_ip",
	"endpoint", "event_ids", "title", "description", "status", "updated_at",
	"updated_by",
}

// InsertAlert writes a new alert to the mutable alert stream
func (c *ProtonClient) InsertAlert(ctx context.Context, alert *models.SecurityAlert) error {
	return c.insertIntoStream(ctx, AlertsStream, alertColumns, alertValues(alert))
}

// UpdateAlertStatus overwrites an alert row in place. The alert stream is
// keyed by ID, so this is a plain insert of the updated record.
func (c *ProtonClient) UpdateAlertStatus(ctx context.Context, alert *models.SecurityAlert) error {
	return c.insertIntoStream(ctx, AlertsStream, alertColumns, alertValues(alert))
}

// OpenAlerts returns alerts that are not yet resolved, newest first
func (c *ProtonClient) OpenAlerts(ctx context.Context) ([]*models.SecurityAlert, error) {
	query := fmt.Sprintf(
		"SELECT * FROM table(%s) WHERE status IN ('%s', '%s') ORDER BY created_at DESC",
		AlertsStream, models.AlertStatusOpen, models.AlertStatusInvestigating,
	)

	rows, err := c.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open alerts: %w", err)
	}

	alerts := make([]*models.SecurityAlert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, alertFromRow(row))
	}
	return alerts, nil
}

func alertValues(alert *models.SecurityAlert) []interface{} {
	var updatedBy interface{}
	if alert.UpdatedBy != "" {
		updatedBy = alert.UpdatedBy
	}
	return []interface{}{
		alert.ID,
		alert.CreatedAt,
		alert.AlertType,
		string(alert.Severity),
		alert.Confidence,
		alert.SourceIP,
		alert.Endpoint,
		marshalJSON(alert.EventIDs),
		alert.Title,
		alert.Description,
		string(alert.Status),
		alert.UpdatedAt,
		updatedBy,
	}
}

func alertFromRow(row map[string]interface{}) *models.SecurityAlert {
	return &models.SecurityAlert{
		ID:          getString(row, "id"),
		CreatedAt:   getTime(row, "created_at"),
		AlertType:   getString(row, "alert_type"),
		Severity:    models.Severity(getString(row, "severity")),
		Confidence:  getFloat(row, "confidence"),
		SourceIP:    getString(row, "source_ip"),
		Endpoint:    getString(row, "endpoint"),
		EventIDs:    unmarshalStringSlice(getString(row, "event_ids")),
		Title:       getString(row, "title"),
		Description: getString(row, "description"),
		Status:      models.AlertStatus(getString(row, "status")),
		UpdatedAt:   getTime(row, "updated_at"),
		UpdatedBy:   getString(row, "updated_by"),
	}
}
