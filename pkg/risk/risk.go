// Package risk computes the attacker risk score. The formula is fixed so
// scores stay comparable across restarts and retraining; tuning happens in
// the alert threshold, not here.
package risk

import (
	"time"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

const (
	maxScore          = 100.0
	baseCap           = 50.0
	perEventBase      = 10.0
	perEndpointBonus  = 2.0
	persistenceFactor = 1.2
	persistenceAfter  = time.Hour

	criticalMultiplier = 2.0
	highMultiplier     = 1.5
)

// Score computes the risk score for a profile, clipped to [0,100].
// Base is min(eventCount*10, 50) plus 2 per unique endpoint; sessions
// longer than an hour are scaled by 1.2; then the single largest
// applicable severity multiplier applies, 2.0 for critical else 1.5 for
// high. Multipliers never compound.
func Score(p *models.AttackerProfile) float64 {
	if p == nil {
		return 0
	}

	base := float64(p.EventCount) * perEventBase
	if base > baseCap {
		base = baseCap
	}
	score := base + float64(p.UniqueEndpoints())*perEndpointBonus

	if p.SessionDuration() > persistenceAfter {
		score *= persistenceFactor
	}

	if p.HasSeverity(models.SeverityCritical) {
		score *= criticalMultiplier
	} else if p.HasSeverity(models.SeverityHigh) {
		score *= highMultiplier
	}

	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	return score
}
