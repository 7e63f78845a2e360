package classifier

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trapsight/trap-telemetry/pkg/features"
	"github.com/trapsight/trap-telemetry/pkg/models"
	"github.com/trapsight/trap-telemetry/pkg/normalizer"
)

func event(endpoint string, query map[string]string, ua string) *models.AttackEvent {
	return &models.AttackEvent{
		Method:      "GET",
		Endpoint:    endpoint,
		QueryParams: query,
		UserAgent:   ua,
	}
}

func TestClassifyRules(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		ev       *models.AttackEvent
		want     models.AttackType
		severity models.Severity
	}{
		{
			name:     "sql injection in query value",
			ev:       event("/api/honeypots/sql", map[string]string{"id": "1 UNION SELECT * FROM users"}, "Mozilla/5.0"),
			want:     models.AttackSQLInjection,
			severity: models.SeverityHigh,
		},
		{
			name:     "xss in query value",
			ev:       event("/search", map[string]string{"q": "<script>alert('xss')</script>"}, "Mozilla/5.0"),
			want:     models.AttackXSS,
			severity: models.SeverityMedium,
		},
		{
			name:     "directory traversal",
			ev:       event("/api/files/../../../etc/passwd", nil, "Mozilla/5.0"),
			want:     models.AttackDirectoryTraversal,
			severity: models.SeverityHigh,
		},
		{
			name: "command injection in payload",
			ev: &models.AttackEvent{
				Method:   "POST",
				Endpoint: "/api/ping",
				Payload:  `{"host":"127.0.0.1; cat /etc/shadow"}`,
			},
			want:     models.AttackCommandInjection,
			severity: models.SeverityHigh,
		},
		{
			name:     "brute force endpoint",
			ev:       event("/wp-login.php", nil, "Mozilla/5.0"),
			want:     models.AttackBruteForce,
			severity: models.SeverityMedium,
		},
		{
			name:     "scanner user agent",
			ev:       event("/api/items", nil, "Nikto/2.1.6"),
			want:     models.AttackAutomatedTool,
			severity: models.SeverityMedium,
		},
		{
			name:     "benign request",
			ev:       event("/api/items", map[string]string{"page": "2"}, "Mozilla/5.0"),
			want:     models.AttackNormal,
			severity: models.SeverityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.ev, features.Extract(tt.ev))
			assert.Equal(t, tt.want, res.Type)
			assert.Equal(t, tt.severity, res.Severity)
		})
	}
}

// Traversal outranks the SQL rule when both would match
func TestClassifyPriorityOrder(t *testing.T) {
	c := New()
	ev := event("/api/files/../../etc/passwd", map[string]string{"id": "1 UNION SELECT 1"}, "Mozilla/5.0")
	res := c.Classify(ev, features.Extract(ev))
	assert.Equal(t, models.AttackDirectoryTraversal, res.Type)
}

// Path cleaning resolves "../" sequences into the canonical endpoint, so
// the traversal evidence only survives on the raw path. Classifying a
// normalized event must still see it.
func TestTraversalSurvivesNormalization(t *testing.T) {
	n := normalizer.New(0)
	ev, err := n.Normalize(models.RawCapture{
		Method:     "GET",
		Path:       "/download/../../private/backup.tar.gz",
		RemoteAddr: "203.0.113.7:51234",
		UserAgent:  "Mozilla/5.0",
		Timestamp:  time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "/private/backup.tar.gz", ev.Endpoint)
	assert.Equal(t, "/download/../../private/backup.tar.gz", ev.RawPath)

	v := features.Extract(ev)
	assert.Equal(t, 1.0, v[features.FeatHasTraversal])

	res := New().Classify(ev, v)
	assert.Equal(t, models.AttackDirectoryTraversal, res.Type)
	assert.Equal(t, models.SeverityHigh, res.Severity)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestClassifyNeverFails(t *testing.T) {
	c := New()
	res := c.Classify(nil, features.Vector{})
	assert.Equal(t, models.AttackUnknown, res.Type)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestClassifyNormalConfidence(t *testing.T) {
	c := New()
	ev := event("/products/widgets", nil, "Mozilla/5.0")
	res := c.Classify(ev, features.Extract(ev))
	assert.Equal(t, models.AttackNormal, res.Type)
	assert.InDelta(t, 0.1, res.Confidence, 1e-9)
}

func TestLinearModelFallback(t *testing.T) {
	// Weight only the suspicious-token feature so credential_theft wins
	// on any vector where it is non-zero.
	credWeights := make([]float64, features.VectorSize)
	credWeights[1] = 10
	normalWeights := make([]float64, features.VectorSize)

	m := &LinearModel{Labels: []LabelWeights{
		{Label: models.AttackNormal, Weights: normalWeights, Bias: 0.5},
		{Label: models.AttackCredentialTheft, Weights: credWeights},
	}}
	c := NewWithModel(m)

	// "password" is a suspicious token but fires no rule regex
	ev := event("/reset", map[string]string{"field": "password"}, "Mozilla/5.0")
	res := c.Classify(ev, features.Extract(ev))
	assert.Equal(t, models.AttackCredentialTheft, res.Type)
	assert.Greater(t, res.Confidence, 0.5)
	assert.Equal(t, models.SeverityMedium, res.Severity)
}

func TestLinearModelArtifactRoundTrip(t *testing.T) {
	weights := make([]float64, features.VectorSize)
	weights[0] = 0.25
	m := &LinearModel{Labels: []LabelWeights{
		{Label: models.AttackNormal, Weights: weights, Bias: 0.1},
		{Label: models.AttackAutomatedTool, Weights: make([]float64, features.VectorSize)},
	}}

	path := filepath.Join(t.TempDir(), "classifier.yaml")
	require.NoError(t, SaveLinearModel(path, m))

	loaded, err := LoadLinearModel(path)
	require.NoError(t, err)
	require.Len(t, loaded.Labels, 2)

	v := features.Vector{0: 1}
	wantLabel, wantProb, ok := m.Predict(v)
	require.True(t, ok)
	gotLabel, gotProb, ok := loaded.Predict(v)
	require.True(t, ok)
	assert.Equal(t, wantLabel, gotLabel)
	assert.InDelta(t, wantProb, gotProb, 1e-9)
}

func TestLoadLinearModelRejectsBadWidth(t *testing.T) {
	m := &LinearModel{Labels: []LabelWeights{
		{Label: models.AttackNormal, Weights: []float64{1, 2, 3}},
	}}
	path := filepath.Join(t.TempDir(), "classifier.yaml")
	require.NoError(t, SaveLinearModel(path, m))

	_, err := LoadLinearModel(path)
	assert.Error(t, err)
}
