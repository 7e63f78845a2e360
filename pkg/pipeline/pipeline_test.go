package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trapsight/trap-telemetry/pkg/alerts"
	"github.com/trapsight/trap-telemetry/pkg/anomaly"
	"github.com/trapsight/trap-telemetry/pkg/classifier"
	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/models"
	"github.com/trapsight/trap-telemetry/pkg/normalizer"
	"github.com/trapsight/trap-telemetry/pkg/profiles"
)

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:           4,
		QueueSize:         64,
		InferenceBudgetMs: 50,
		SnapshotCapBytes:  normalizer.DefaultSnapshotCap,
		RecentEventsCap:   256,
		GracePeriodSec:    5,
	}
}

func profilesConfig() config.ProfilesConfig {
	return config.ProfilesConfig{
		RateWindowSec:       60,
		HighRateThreshold:   30,
		RateWeight:          0.5,
		SignatureUAWeight:   0.3,
		UADiversityWeight:   0.2,
		HumanPaceDiscount:   0.3,
		UADiversityMinCount: 3,
	}
}

// testScorer fits the ensemble on the synthetic baseline, weighted toward
// the reconstruction model so extreme outliers reliably cross the critical
// escalation floor.
func testScorer(t *testing.T) *anomaly.Scorer {
	t.Helper()
	baseline := anomaly.SyntheticBaseline(512, 42)
	forest, err := anomaly.FitForest(baseline, 50, 128, 42)
	require.NoError(t, err)
	rec, err := anomaly.FitReconstructor(baseline, 4)
	require.NoError(t, err)
	return anomaly.NewScorer(forest, rec, 0.1, 0.9)
}

func newTestPipeline(t *testing.T) (*Pipeline, *profiles.Aggregator, *alerts.Engine) {
	t.Helper()
	agg := profiles.NewAggregator(profilesConfig(), nil)
	engine, err := alerts.NewEngine(config.AlertsConfig{RiskThreshold: 70, DedupWindowMin: 15, DedupCacheSize: 128}, nil, nil, nil)
	require.NoError(t, err)

	p, err := New(pipelineConfig(), testScorer(t), classifier.New(), agg, engine, nil)
	require.NoError(t, err)
	p.Start()
	t.Cleanup(p.Stop)
	return p, agg, engine
}

func capture(sourceIP, path string, query map[string]string) models.RawCapture {
	return models.RawCapture{
		Method:      "GET",
		Path:        path,
		QueryParams: query,
		RemoteAddr:  sourceIP + ":40022",
		UserAgent:   "Mozilla/5.0",
		Timestamp:   time.Now(),
	}
}

// waitForCount polls until the identity's profile reaches the expected
// event count or the deadline passes.
func waitForCount(t *testing.T, agg *profiles.Aggregator, sourceIP string, want int64) *models.AttackerProfile {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p := agg.Get(sourceIP); p != nil && p.EventCount >= want {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("profile for %s did not reach %d events", sourceIP, want)
	return nil
}

func TestEndToEndSQLInjection(t *testing.T) {
	p, agg, _ := newTestPipeline(t)

	id, err := p.Submit(capture("203.0.113.7", "/api/honeypots/sql", map[string]string{"q": "1 UNION SELECT * FROM users"}))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	profile := waitForCount(t, agg, "203.0.113.7", 1)
	assert.Equal(t, int64(1), profile.EventCount)
	assert.Equal(t, 1, profile.AttackTypes[models.AttackSQLInjection])
	assert.GreaterOrEqual(t, profile.MaxSeverity.Rank(), models.SeverityHigh.Rank())

	events := p.Recent().Recent(time.Minute)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, models.AttackSQLInjection, events[0].AttackType)
	assert.True(t, events[0].Finalized())
}

func TestEndToEndCriticalMultiplierAndSingleAlert(t *testing.T) {
	p, agg, engine := newTestPipeline(t)
	sourceIP := "203.0.113.9"

	// Two extreme outlier SQL injections: high severity classification
	// plus anomaly above the escalation floor makes them critical.
	outlierQuery := map[string]string{
		"id":  "1 UNION SELECT password FROM users--",
		"cmd": strings.Repeat("' OR '1'='1; exec(/etc/passwd ../", 60),
	}
	for i := 0; i < 2; i++ {
		_, err := p.Submit(capture(sourceIP, "/api/honeypots/sql", outlierQuery))
		require.NoError(t, err)
	}
	waitForCount(t, agg, sourceIP, 2)

	for i := 0; i < 3; i++ {
		_, err := p.Submit(capture(sourceIP, fmt.Sprintf("/products/%d", i), map[string]string{"page": "1"}))
		require.NoError(t, err)
	}

	profile := waitForCount(t, agg, sourceIP, 5)
	assert.Equal(t, int64(5), profile.EventCount)
	assert.Equal(t, models.SeverityCritical, profile.MaxSeverity)

	// 5 events cap the base at 50, 4 unique endpoints add 8, critical
	// doubles it and the clip leaves 100.
	assert.InDelta(t, 100, profile.RiskScore, 1e-9)
	assert.Equal(t, models.ThreatLevelCritical, profile.ThreatLevel)

	assert.Len(t, engine.Open(), 1)
}

func TestCriticalEscalationRequiresHighAnomaly(t *testing.T) {
	p, agg, _ := newTestPipeline(t)

	// Plain brute-force probe: medium severity rule, unremarkable vector,
	// so no escalation happens.
	_, err := p.Submit(capture("203.0.113.11", "/login", map[string]string{"user": "admin"}))
	require.NoError(t, err)

	profile := waitForCount(t, agg, "203.0.113.11", 1)
	assert.Equal(t, models.SeverityMedium, profile.MaxSeverity)
}

func TestSubmitValidationError(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	_, err := p.Submit(models.RawCapture{Path: "/x", RemoteAddr: "203.0.113.1:1", Timestamp: time.Now()})
	var verr *normalizer.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitBackpressure(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1

	agg := profiles.NewAggregator(profilesConfig(), nil)
	p, err := New(cfg, testScorer(t), classifier.New(), agg, nil, nil)
	require.NoError(t, err)
	// Workers never started, so the queue fills immediately.

	_, err = p.Submit(capture("203.0.113.1", "/a", nil))
	require.NoError(t, err)

	sawBackpressure := false
	for i := 0; i < 5; i++ {
		if _, err := p.Submit(capture("203.0.113.1", "/a", nil)); err != nil {
			assert.ErrorIs(t, err, ErrBackpressure)
			sawBackpressure = true
			break
		}
	}
	assert.True(t, sawBackpressure)
}

func TestSubmitAfterStop(t *testing.T) {
	agg := profiles.NewAggregator(profilesConfig(), nil)
	p, err := New(pipelineConfig(), testScorer(t), classifier.New(), agg, nil, nil)
	require.NoError(t, err)
	p.Start()
	p.Stop()

	_, err = p.Submit(capture("203.0.113.1", "/a", nil))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestConcurrentSubmitDuringStop(t *testing.T) {
	agg := profiles.NewAggregator(profilesConfig(), nil)
	p, err := New(pipelineConfig(), testScorer(t), classifier.New(), agg, nil, nil)
	require.NoError(t, err)
	p.Start()

	// Submitters race the shutdown. Every outcome must be a clean error,
	// never a send on the closed queue.
	var wg sync.WaitGroup
	errCh := make(chan error, 8*200)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := p.Submit(capture("203.0.113.1", fmt.Sprintf("/g%d/e%d", g, i), nil))
				errCh <- err
			}
		}(g)
	}

	time.Sleep(time.Millisecond)
	p.Stop()
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			require.True(t, errors.Is(err, ErrShuttingDown) || errors.Is(err, ErrBackpressure),
				"unexpected submit error: %v", err)
		}
	}
}

func TestStopDrainsInFlightEvents(t *testing.T) {
	agg := profiles.NewAggregator(profilesConfig(), nil)
	p, err := New(pipelineConfig(), testScorer(t), classifier.New(), agg, nil, nil)
	require.NoError(t, err)
	p.Start()

	for i := 0; i < 20; i++ {
		_, err := p.Submit(capture("203.0.113.1", fmt.Sprintf("/ep/%d", i), nil))
		require.NoError(t, err)
	}
	p.Stop()

	profile := agg.Get("203.0.113.1")
	require.NotNil(t, profile)
	assert.Equal(t, int64(20), profile.EventCount)
}

func TestRecentBufferWindowAndIdentityFilter(t *testing.T) {
	buf, err := NewRecentBuffer(16)
	require.NoError(t, err)

	old := &models.AttackEvent{ID: "old", SourceIP: "203.0.113.1", Timestamp: time.Now().Add(-time.Hour)}
	fresh := &models.AttackEvent{ID: "fresh", SourceIP: "203.0.113.1", Timestamp: time.Now()}
	other := &models.AttackEvent{ID: "other", SourceIP: "203.0.113.2", Timestamp: time.Now()}
	buf.Add(old)
	buf.Add(fresh)
	buf.Add(other)

	recent := buf.Recent(15 * time.Minute)
	assert.Len(t, recent, 2)

	ids := buf.RecentEventIDs("203.0.113.1", 15*time.Minute, 10)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestRecentBufferEvictsOldest(t *testing.T) {
	buf, err := NewRecentBuffer(8)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		buf.Add(&models.AttackEvent{ID: fmt.Sprintf("ev-%d", i), SourceIP: "203.0.113.1", Timestamp: time.Now()})
	}
	assert.Equal(t, 8, buf.Len())
}
