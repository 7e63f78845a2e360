// Package alerts turns high-risk activity into deduplicated, operator-facing
// alert records with a monotone lifecycle.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/models"
	"github.com/trapsight/trap-telemetry/pkg/store"
)

var (
	// ErrAlertNotFound means the alert ID is unknown
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidTransition means the requested status change would move the
	// alert lifecycle backwards.
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// AlertTypeHighRisk marks alerts fired on the profile risk threshold
const AlertTypeHighRisk = "high_risk_attacker"

// RecentEventSource supplies recent event IDs for an identity so alerts can
// reference their contributing events.
type RecentEventSource interface {
	RecentEventIDs(sourceIP string, window time.Duration, limit int) []string
}

// Engine evaluates finalized events against the alerting thresholds.
// Memory is authoritative for queries; the store write and the publisher
// fan-out are best effort.
type Engine struct {
	cfg       config.AlertsConfig
	db        store.Client
	publisher Publisher
	recent    RecentEventSource

	mu     sync.Mutex
	alerts map[string]*models.SecurityAlert
	dedup  *lru.Cache[string, time.Time]
	// identityOpen tracks the last alert creation per source IP. The
	// high-risk trigger is a catch-all and stays quiet while any fresher
	// alert for the identity exists.
	identityOpen *lru.Cache[string, time.Time]

	created     uint64
	deduped     uint64
	storeErrors uint64
}

// NewEngine creates an alert engine. db, publisher and recent may each be
// nil, disabling persistence, fan-out and event references respectively.
func NewEngine(cfg config.AlertsConfig, db store.Client, publisher Publisher, recent RecentEventSource) (*Engine, error) {
	size := cfg.DedupCacheSize
	if size <= 0 {
		size = 8192
	}
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	identityCache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}
	return &Engine{
		cfg:          cfg,
		db:           db,
		publisher:    publisher,
		recent:       recent,
		alerts:       make(map[string]*models.SecurityAlert),
		dedup:        cache,
		identityOpen: identityCache,
	}, nil
}

// Evaluate checks one finalized event and its updated profile against the
// alert conditions, creating at most one alert. Returns the created alert,
// or nil when nothing fired or an equivalent alert is still fresh.
func (e *Engine) Evaluate(ctx context.Context, ev *models.AttackEvent, profile *models.AttackerProfile) (*models.SecurityAlert, error) {
	alertType := ""
	switch {
	case ev.Severity == models.SeverityCritical:
		alertType = string(ev.AttackType)
	case profile != nil && profile.RiskScore >= e.cfg.RiskThreshold:
		alertType = AlertTypeHighRisk
	default:
		return nil, nil
	}

	key := ev.SourceIP + ":" + alertType
	now := time.Now()

	e.mu.Lock()
	if last, ok := e.dedup.Get(key); ok && now.Sub(last) < e.cfg.DedupWindow() {
		e.deduped++
		e.mu.Unlock()
		return nil, nil
	}
	if alertType == AlertTypeHighRisk {
		if last, ok := e.identityOpen.Get(ev.SourceIP); ok && now.Sub(last) < e.cfg.DedupWindow() {
			e.deduped++
			e.mu.Unlock()
			return nil, nil
		}
	}
	e.dedup.Add(key, now)
	e.identityOpen.Add(ev.SourceIP, now)
	alert := e.buildAlert(alertType, ev, profile, now)
	e.alerts[alert.ID] = alert
	e.created++
	e.mu.Unlock()

	logrus.Infof("Created alert %s (%s) for %s", alert.ID, alert.AlertType, alert.SourceIP)

	if e.db != nil {
		if err := e.db.InsertAlert(ctx, alert); err != nil {
			e.mu.Lock()
			e.storeErrors++
			e.mu.Unlock()
			logrus.Errorf("Failed to persist alert %s: %v", alert.ID, err)
		}
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, alert); err != nil {
			logrus.Errorf("Failed to publish alert %s: %v", alert.ID, err)
		}
	}

	return alert, nil
}

func (e *Engine) buildAlert(alertType string, ev *models.AttackEvent, profile *models.AttackerProfile, now time.Time) *models.SecurityAlert {
	eventIDs := []string{ev.ID}
	if e.recent != nil {
		if ids := e.recent.RecentEventIDs(ev.SourceIP, e.cfg.DedupWindow(), 50); len(ids) > 0 {
			eventIDs = ids
		}
	}

	severity := ev.Severity
	title := fmt.Sprintf("%s activity from %s", ev.AttackType, ev.SourceIP)
	description := fmt.Sprintf("Observed %s against %s (anomaly score %.2f)", ev.AttackType, ev.Endpoint, ev.AnomalyScore)
	if alertType == AlertTypeHighRisk {
		severity = models.SeverityHigh
		title = fmt.Sprintf("High risk attacker %s", ev.SourceIP)
		description = fmt.Sprintf("Risk score %.1f crossed threshold %.1f after %d events",
			profile.RiskScore, e.cfg.RiskThreshold, profile.EventCount)
	}

	return &models.SecurityAlert{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		AlertType:   alertType,
		Severity:    severity,
		Confidence:  ev.Confidence,
		SourceIP:    ev.SourceIP,
		Endpoint:    ev.Endpoint,
		EventIDs:    eventIDs,
		Title:       title,
		Description: description,
		Status:      models.AlertStatusOpen,
		UpdatedAt:   now,
	}
}

// Transition moves an alert to a new status. Reversals and transitions out
// of terminal states are rejected. Resolving an alert frees its dedup slot
// so fresh activity can alert again.
func (e *Engine) Transition(ctx context.Context, alertID string, to models.AlertStatus, updatedBy string) (*models.SecurityAlert, error) {
	e.mu.Lock()
	alert, ok := e.alerts[alertID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrAlertNotFound
	}
	if !models.CanTransition(alert.Status, to) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, alert.Status, to)
	}

	updated := *alert
	updated.Status = to
	updated.UpdatedAt = time.Now()
	updated.UpdatedBy = updatedBy
	e.alerts[alertID] = &updated

	if to.Terminal() {
		e.dedup.Remove(updated.SourceIP + ":" + updated.AlertType)
		e.identityOpen.Remove(updated.SourceIP)
	}
	e.mu.Unlock()

	if e.db != nil {
		if err := e.db.UpdateAlertStatus(ctx, &updated); err != nil {
			e.mu.Lock()
			e.storeErrors++
			e.mu.Unlock()
			logrus.Errorf("Failed to persist status of alert %s: %v", alertID, err)
		}
	}

	return &updated, nil
}

// Get returns one alert by ID
func (e *Engine) Get(alertID string) (*models.SecurityAlert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	alert, ok := e.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return alert, nil
}

// Open returns all alerts in a non-terminal status, newest first not
// guaranteed; callers sort if they care.
func (e *Engine) Open() []*models.SecurityAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.SecurityAlert, 0)
	for _, alert := range e.alerts {
		if !alert.Status.Terminal() {
			out = append(out, alert)
		}
	}
	return out
}

// Stats reports alert engine counters for the stats endpoint
func (e *Engine) Stats() (created, deduped, storeErrors uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created, e.deduped, e.storeErrors
}
