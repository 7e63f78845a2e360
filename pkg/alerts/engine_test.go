package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/models"
	"github.com/trapsight/trap-telemetry/pkg/store"
)

func alertsConfig() config.AlertsConfig {
	return config.AlertsConfig{
		RiskThreshold:  70,
		DedupWindowMin: 15,
		DedupCacheSize: 128,
	}
}

func criticalEvent(sourceIP string) *models.AttackEvent {
	ev := &models.AttackEvent{
		ID:        "ev-" + sourceIP,
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		Endpoint:  "/admin",
		Method:    "GET",
	}
	ev.Finalize(models.AttackSQLInjection, models.SeverityCritical, 0.95, 0.9, nil)
	return ev
}

func mediumEvent(sourceIP string) *models.AttackEvent {
	ev := &models.AttackEvent{
		ID:        "ev-" + sourceIP,
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		Endpoint:  "/login",
		Method:    "POST",
	}
	ev.Finalize(models.AttackBruteForce, models.SeverityMedium, 0.4, 0.6, nil)
	return ev
}

func riskyProfile(sourceIP string, score float64) *models.AttackerProfile {
	p := models.NewAttackerProfile(sourceIP, time.Now())
	p.EventCount = 9
	p.RiskScore = score
	return p
}

func TestCriticalSeverityFiresAlert(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	alert, err := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), riskyProfile("203.0.113.1", 10))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertStatusOpen, alert.Status)
	assert.Equal(t, string(models.AttackSQLInjection), alert.AlertType)
	assert.Equal(t, []string{"ev-203.0.113.1"}, alert.EventIDs)
}

func TestRiskThresholdFiresAlert(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	alert, err := e.Evaluate(context.Background(), mediumEvent("203.0.113.1"), riskyProfile("203.0.113.1", 85))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, AlertTypeHighRisk, alert.AlertType)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
}

func TestBelowThresholdFiresNothing(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	alert, err := e.Evaluate(context.Background(), mediumEvent("203.0.113.1"), riskyProfile("203.0.113.1", 30))
	require.NoError(t, err)
	assert.Nil(t, alert)
}

// Ten critical events from one identity within the window open exactly one
// alert.
func TestDedupWindowSuppressesRepeats(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	created := 0
	for i := 0; i < 10; i++ {
		alert, err := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), riskyProfile("203.0.113.1", 90))
		require.NoError(t, err)
		if alert != nil {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, e.Open(), 1)

	_, deduped, _ := e.Stats()
	assert.Equal(t, uint64(9), deduped)
}

func TestDedupIsPerIdentityAndType(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	a1, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	a2, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.2"), nil)
	require.NotNil(t, a1)
	require.NotNil(t, a2)
	assert.Len(t, e.Open(), 2)
}

func TestTransitionLifecycle(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	alert, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	require.NotNil(t, alert)

	updated, err := e.Transition(context.Background(), alert.ID, models.AlertStatusInvestigating, "analyst")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusInvestigating, updated.Status)
	assert.Equal(t, "analyst", updated.UpdatedBy)

	updated, err = e.Transition(context.Background(), alert.ID, models.AlertStatusResolved, "analyst")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, updated.Status)
	assert.Empty(t, e.Open())
}

func TestTransitionRejectsReversal(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	alert, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	require.NotNil(t, alert)

	_, err = e.Transition(context.Background(), alert.ID, models.AlertStatusResolved, "analyst")
	require.NoError(t, err)

	_, err = e.Transition(context.Background(), alert.ID, models.AlertStatusOpen, "analyst")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.Transition(context.Background(), alert.ID, models.AlertStatusInvestigating, "analyst")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionUnknownAlert(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	_, err = e.Transition(context.Background(), "missing", models.AlertStatusResolved, "analyst")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

// Resolving frees the dedup slot so fresh criticals alert again
func TestResolvedAlertAllowsNewAlert(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	first, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	require.NotNil(t, first)
	_, err = e.Transition(context.Background(), first.ID, models.AlertStatusResolved, "analyst")
	require.NoError(t, err)

	second, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStoreAndPublishFailuresDoNotBlockCreation(t *testing.T) {
	db := new(store.MockClient)
	db.On("InsertAlert", mock.Anything, mock.Anything).Return(errors.New("connection lost"))

	pub := &failingPublisher{}
	e, err := NewEngine(alertsConfig(), db, pub, nil)
	require.NoError(t, err)

	alert, err := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.True(t, pub.called)

	_, _, storeErrors := e.Stats()
	assert.Equal(t, uint64(1), storeErrors)
	db.AssertExpectations(t)
}

func TestAlertCarriesRecentEventIDs(t *testing.T) {
	recent := recentStub{ids: []string{"ev-1", "ev-2", "ev-3"}}
	e, err := NewEngine(alertsConfig(), nil, nil, recent)
	require.NoError(t, err)

	alert, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	require.NotNil(t, alert)
	assert.Equal(t, []string{"ev-1", "ev-2", "ev-3"}, alert.EventIDs)
}

// The risk trigger is a catch-all; it stays quiet while a fresher alert
// for the same identity is open.
func TestHighRiskSuppressedByExistingIdentityAlert(t *testing.T) {
	e, err := NewEngine(alertsConfig(), nil, nil, nil)
	require.NoError(t, err)

	first, _ := e.Evaluate(context.Background(), criticalEvent("203.0.113.1"), nil)
	require.NotNil(t, first)

	second, err := e.Evaluate(context.Background(), mediumEvent("203.0.113.1"), riskyProfile("203.0.113.1", 95))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, e.Open(), 1)
}

type failingPublisher struct {
	called bool
}

func (p *failingPublisher) Publish(context.Context, *models.SecurityAlert) error {
	p.called = true
	return errors.New("nats unavailable")
}

type recentStub struct {
	ids []string
}

func (r recentStub) RecentEventIDs(string, time.Duration, int) []string {
	return r.ids
}
