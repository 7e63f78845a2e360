// Package profiles maintains the per-identity attacker aggregates. The
// aggregator is the only writer; everything else reads atomically swapped
// copies.
package profiles

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"

	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/models"
	"github.com/trapsight/trap-telemetry/pkg/risk"
	"github.com/trapsight/trap-telemetry/pkg/store"
)

const shardCount = 64

// botAgentTokens are user-agent fragments of non-browser clients
var botAgentTokens = []string{
	"sqlmap", "nikto", "nmap", "masscan", "burp", "zap", "scanner",
	"bot", "crawler", "spider", "scraper", "automated",
	"curl", "wget", "python-requests", "go-http-client", "libwww",
}

type shard struct {
	mu       sync.Mutex
	profiles map[string]*models.AttackerProfile
	rings    map[string]*rateRing
}

// Aggregator folds finalized events into attacker profiles. Updates for the
// same identity are serialized by a shard lock; different identities proceed
// in parallel. Memory is authoritative; the store upsert is best effort.
type Aggregator struct {
	cfg    config.ProfilesConfig
	db     store.Client
	shards [shardCount]shard

	eventsApplied atomic.Uint64
	storeErrors   atomic.Uint64
}

// NewAggregator creates an aggregator. db may be nil, in which case profiles
// live in memory only.
func NewAggregator(cfg config.ProfilesConfig, db store.Client) *Aggregator {
	a := &Aggregator{cfg: cfg, db: db}
	for i := range a.shards {
		a.shards[i].profiles = make(map[string]*models.AttackerProfile)
		a.shards[i].rings = make(map[string]*rateRing)
	}
	return a
}

func (a *Aggregator) shardFor(sourceIP string) *shard {
	return &a.shards[murmur3.Sum32([]byte(sourceIP))%shardCount]
}

// Update folds one finalized event into its identity's profile and returns
// the updated copy. The profile visible to readers changes in a single
// pointer swap, so no partially updated profile is ever observable.
func (a *Aggregator) Update(ctx context.Context, ev *models.AttackEvent) (*models.AttackerProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := a.shardFor(ev.SourceIP)

	s.mu.Lock()
	cur, ok := s.profiles[ev.SourceIP]
	if !ok {
		cur = models.NewAttackerProfile(ev.SourceIP, ev.Timestamp)
	}
	ring, ok := s.rings[ev.SourceIP]
	if !ok {
		ring = &rateRing{}
		s.rings[ev.SourceIP] = ring
	}

	cp := cur.Clone()
	if ev.Timestamp.After(cp.LastSeen) {
		cp.LastSeen = ev.Timestamp
	}
	if ev.Timestamp.Before(cp.FirstSeen) {
		cp.FirstSeen = ev.Timestamp
	}
	cp.EventCount++
	cp.Endpoints[ev.Endpoint] = struct{}{}
	cp.AttackTypes[ev.AttackType]++
	if ev.UserAgent != "" {
		cp.UserAgents[ev.UserAgent] = struct{}{}
	}
	cp.MaxSeverity = models.MaxSeverity(cp.MaxSeverity, ev.Severity)
	if ev.Country != "" {
		cp.Country = ev.Country
	}

	ring.Add(ev.Timestamp)
	cp.BotLikelihood = a.botLikelihood(cp, ring, ev)

	cp.RiskScore = risk.Score(cp)
	cp.ThreatLevel = models.ThreatLevelForScore(cp.RiskScore)

	s.profiles[ev.SourceIP] = cp
	s.mu.Unlock()

	a.eventsApplied.Add(1)

	if a.db != nil {
		if err := a.db.UpsertProfile(ctx, cp); err != nil {
			a.storeErrors.Add(1)
			logrus.Errorf("Failed to upsert profile for %s: %v", cp.SourceIP, err)
		}
	}

	return cp, nil
}

// botLikelihood estimates how automated an identity's traffic looks.
// Components are weighted by configuration and the result is clamped to
// [0,1]. Slow traffic from a single browser-like agent scores near zero.
func (a *Aggregator) botLikelihood(p *models.AttackerProfile, ring *rateRing, ev *models.AttackEvent) float64 {
	score := 0.0

	window := a.cfg.RateWindow()
	rate := float64(ring.CountSince(ev.Timestamp.Add(-window)))
	rateComponent := 0.0
	if a.cfg.HighRateThreshold > 0 {
		rateComponent = rate / a.cfg.HighRateThreshold
		if rateComponent > 1 {
			rateComponent = 1
		}
	}
	score += rateComponent * a.cfg.RateWeight

	signature := false
	for ua := range p.UserAgents {
		lower := strings.ToLower(ua)
		for _, tok := range botAgentTokens {
			if strings.Contains(lower, tok) {
				signature = true
				break
			}
		}
		if signature {
			break
		}
	}
	if signature {
		score += a.cfg.SignatureUAWeight
	}

	if len(p.UserAgents) >= a.cfg.UADiversityMinCount && a.cfg.UADiversityMinCount > 0 {
		score += a.cfg.UADiversityWeight
	}

	// Human pacing: a quiet window with no tooling signature lowers the
	// likelihood rather than leaving it at zero-rate neutral.
	if rateComponent < 0.1 && !signature {
		score -= a.cfg.HumanPaceDiscount
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Get returns the current profile for an identity, or nil when unseen
func (a *Aggregator) Get(sourceIP string) *models.AttackerProfile {
	s := a.shardFor(sourceIP)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[sourceIP]
}

// Snapshot returns all current profiles
func (a *Aggregator) Snapshot() []*models.AttackerProfile {
	out := make([]*models.AttackerProfile, 0)
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		for _, p := range s.profiles {
			out = append(out, p)
		}
		s.mu.Unlock()
	}
	return out
}

// Stats reports aggregator counters for the stats endpoint
func (a *Aggregator) Stats() (eventsApplied, storeErrors uint64, profileCount int) {
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		profileCount += len(s.profiles)
		s.mu.Unlock()
	}
	return a.eventsApplied.Load(), a.storeErrors.Load(), profileCount
}
