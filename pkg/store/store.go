// Package store persists events, profiles and alerts to Timeplus streams.
// The attack event stream is append-only; profiles and alerts live in
// mutable streams keyed by identity so writes are upserts.
package store

import (
	"context"
	"time"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

// Client defines the persistence operations the pipeline and API depend on.
// This allows us to mock the client for testing.
type Client interface {
	EnsureStreams(ctx context.Context) error

	AppendEvent(ctx context.Context, ev *models.AttackEvent) error
	EventsByTimeRange(ctx context.Context, from, to time.Time) ([]*models.AttackEvent, error)

	UpsertProfile(ctx context.Context, p *models.AttackerProfile) error
	GetProfile(ctx context.Context, sourceIP string) (*models.AttackerProfile, error)

	InsertAlert(ctx context.Context, alert *models.SecurityAlert) error
	UpdateAlertStatus(ctx context.Context, alert *models.SecurityAlert) error
	OpenAlerts(ctx context.Context) ([]*models.SecurityAlert, error)

	ExecuteQuery(ctx context.Context, query string) ([]map[string]interface{}, error)
	Close() error
}
