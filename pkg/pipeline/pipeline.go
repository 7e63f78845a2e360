// Package pipeline runs the event processing path: validation, bounded
// queueing, concurrent scoring and classification, profile aggregation,
// alerting and persistence.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/alerts"
	"github.com/trapsight/trap-telemetry/pkg/anomaly"
	"github.com/trapsight/trap-telemetry/pkg/classifier"
	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/features"
	"github.com/trapsight/trap-telemetry/pkg/models"
	"github.com/trapsight/trap-telemetry/pkg/normalizer"
	"github.com/trapsight/trap-telemetry/pkg/profiles"
	"github.com/trapsight/trap-telemetry/pkg/store"
)

var (
	// ErrBackpressure means the ingest queue is full and the caller should
	// drop or retry the capture.
	ErrBackpressure = errors.New("event queue full")

	// ErrShuttingDown means the pipeline no longer accepts captures
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// escalationAnomalyFloor is the anomaly score at which a high severity
// classification escalates to critical.
const escalationAnomalyFloor = 0.9

// Pipeline wires the processing stages together. Create with New, start
// with Start, and stop with Stop; Submit is safe for concurrent use.
type Pipeline struct {
	cfg     config.PipelineConfig
	norm    *normalizer.Normalizer
	scorer  *anomaly.Scorer
	cls     *classifier.Classifier
	agg     *profiles.Aggregator
	engine  *alerts.Engine
	db      store.Client
	recent  *RecentBuffer
	metrics *Metrics

	queue  chan *models.AttackEvent
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards stopped and, for Submit, the queue send. Stop closes the
	// queue while holding the write lock, so no sender can race the close.
	mu      sync.RWMutex
	stopped bool
}

// New assembles a pipeline. db may be nil to run without persistence.
func New(
	cfg config.PipelineConfig,
	scorer *anomaly.Scorer,
	cls *classifier.Classifier,
	agg *profiles.Aggregator,
	engine *alerts.Engine,
	db store.Client,
) (*Pipeline, error) {
	recent, err := NewRecentBuffer(cfg.RecentEventsCap)
	if err != nil {
		return nil, err
	}

	queue := make(chan *models.AttackEvent, cfg.QueueSize)
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		cfg:    cfg,
		norm:   normalizer.New(cfg.SnapshotCapBytes),
		scorer: scorer,
		cls:    cls,
		agg:    agg,
		engine: engine,
		db:     db,
		recent: recent,
		queue:  queue,
		ctx:    ctx,
		cancel: cancel,
	}
	p.metrics = NewMetrics(func() float64 { return float64(len(p.queue)) })
	return p, nil
}

// Recent exposes the recent-events buffer for the query interface
func (p *Pipeline) Recent() *RecentBuffer {
	return p.recent
}

// SetEngine attaches the alert engine. The engine needs the recent-events
// buffer, which the pipeline owns, so it is wired in after construction.
// Must be called before Start.
func (p *Pipeline) SetEngine(engine *alerts.Engine) {
	p.engine = engine
}

// Metrics exposes the pipeline instruments for the metrics endpoint
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Start launches the worker pool
func (p *Pipeline) Start() {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	logrus.Infof("Starting pipeline with %d workers (queue size %d)", workers, cap(p.queue))
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit validates a raw capture and enqueues it. Validation failures and
// a full queue are reported to the caller; the pipeline itself never
// blocks the producer.
func (p *Pipeline) Submit(raw models.RawCapture) (string, error) {
	ev, err := p.norm.Normalize(raw)
	if err != nil {
		p.metrics.ValidationRejected.Inc()
		return "", err
	}

	// The read lock spans the stopped check and the send: Stop closes the
	// queue under the write lock, so the queue cannot close mid-send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return "", ErrShuttingDown
	}

	select {
	case p.queue <- ev:
		p.metrics.IngestedTotal.Inc()
		return ev.ID, nil
	default:
		p.metrics.BackpressureTotal.Inc()
		return "", ErrBackpressure
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for ev := range p.queue {
		p.process(ev)
	}
}

// process runs one event through scoring, classification, aggregation,
// alerting and persistence. Model failures degrade the event, they never
// drop it.
func (p *Pipeline) process(ev *models.AttackEvent) {
	start := time.Now()

	v := features.Extract(ev)

	budgetCtx, cancel := context.WithTimeout(p.ctx, p.cfg.InferenceBudget())
	scoreCh := make(chan anomaly.Result, 1)
	go func() {
		scoreCh <- p.scorer.Score(budgetCtx, v)
	}()
	clsRes := p.cls.Classify(ev, v)
	scoreRes := <-scoreCh
	cancel()

	severity := clsRes.Severity
	if severity == models.SeverityHigh && scoreRes.Combined >= escalationAnomalyFloor {
		severity = models.SeverityCritical
	}

	var flags []string
	if scoreRes.Degraded() {
		flags = append(flags, models.ScoreFlagUnavailable)
		p.metrics.DegradedTotal.Inc()
	}

	ev.Finalize(clsRes.Type, severity, scoreRes.Combined, clsRes.Confidence, flags)

	profile, err := p.agg.Update(p.ctx, ev)
	if err != nil {
		logrus.Errorf("Profile update failed for %s: %v", ev.SourceIP, err)
	}

	if p.engine != nil && profile != nil {
		alert, err := p.engine.Evaluate(p.ctx, ev, profile)
		if err != nil {
			logrus.Errorf("Alert evaluation failed for %s: %v", ev.SourceIP, err)
		} else if alert != nil {
			p.metrics.AlertsCreated.Inc()
		}
	}

	p.recent.Add(ev)

	if p.db != nil {
		if err := p.db.AppendEvent(p.ctx, ev); err != nil {
			p.metrics.StoreErrors.Inc()
			logrus.Errorf("Failed to append event %s: %v", ev.ID, err)
		}
	}

	p.metrics.ProcessedTotal.Inc()
	p.metrics.ProcessingSeconds.Observe(time.Since(start).Seconds())
}

// Stop drains the queue and waits up to the grace period for in-flight
// events, then cancels whatever is left. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Pipeline drained cleanly")
	case <-time.After(p.cfg.GracePeriod()):
		logrus.Warn("Pipeline grace period expired, abandoning in-flight events")
	}
	p.cancel()
}
