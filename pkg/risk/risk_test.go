package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

func profile(count int64, endpoints int, severity models.Severity, session time.Duration) *models.AttackerProfile {
	now := time.Now()
	p := models.NewAttackerProfile("198.51.100.7", now.Add(-session))
	p.LastSeen = now
	p.EventCount = count
	p.MaxSeverity = severity
	for i := 0; i < endpoints; i++ {
		p.Endpoints[fmt.Sprintf("/ep/%d", i)] = struct{}{}
	}
	return p
}

func TestScoreFormula(t *testing.T) {
	tests := []struct {
		name string
		p    *models.AttackerProfile
		want float64
	}{
		{"nil profile", nil, 0},
		{"single low event", profile(1, 1, models.SeverityLow, time.Minute), 12},
		{"base caps at 50", profile(100, 0, models.SeverityLow, time.Minute), 50},
		{"endpoint bonus", profile(2, 5, models.SeverityLow, time.Minute), 30},
		{"high multiplier", profile(2, 0, models.SeverityHigh, time.Minute), 30},
		{"critical multiplier", profile(2, 0, models.SeverityCritical, time.Minute), 40},
		{"persistence factor", profile(2, 0, models.SeverityLow, 2 * time.Hour), 24},
		{"clipped at 100", profile(100, 50, models.SeverityCritical, 3 * time.Hour), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.p), 1e-9)
		})
	}
}

// Critical applies x2.0 alone, never x2.0 and x1.5 together
func TestSeverityMultiplierDoesNotCompound(t *testing.T) {
	p := profile(3, 0, models.SeverityCritical, time.Minute)
	assert.InDelta(t, 60, Score(p), 1e-9)
}

func TestScoreMonotoneInEventCount(t *testing.T) {
	prev := 0.0
	for count := int64(1); count <= 12; count++ {
		s := Score(profile(count, 2, models.SeverityMedium, time.Minute))
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
}

func TestScoreMonotoneInEndpoints(t *testing.T) {
	prev := 0.0
	for eps := 0; eps <= 20; eps++ {
		s := Score(profile(3, eps, models.SeverityMedium, time.Minute))
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
}

func TestScoreMonotoneInSeverity(t *testing.T) {
	order := []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical}
	prev := 0.0
	for _, sev := range order {
		s := Score(profile(3, 2, sev, time.Minute))
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
}

func TestScoreBounds(t *testing.T) {
	for count := int64(0); count < 200; count += 17 {
		for eps := 0; eps < 100; eps += 13 {
			s := Score(profile(count, eps, models.SeverityCritical, 5*time.Hour))
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 100.0)
		}
	}
}
