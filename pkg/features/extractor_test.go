package features

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

func sampleEvent() *models.AttackEvent {
	return &models.AttackEvent{
		ID:        "evt-1",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SourceIP:  "203.0.113.7",
		Endpoint:  "/api/honeypots/sql",
		Method:    "GET",
		Headers: map[string]string{
			"content-type":    "application/json",
			"x-forwarded-for": "198.51.100.1",
		},
		QueryParams: map[string]string{"query": "1 UNION SELECT * FROM users"},
		UserAgent:   "sqlmap/1.5.2 (http://sqlmap.org)",
	}
}

func TestExtractDeterministic(t *testing.T) {
	ev := sampleEvent()

	first := Extract(ev)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Extract(ev))
	}
}

func TestExtractBounds(t *testing.T) {
	events := []*models.AttackEvent{
		sampleEvent(),
		{},
		{
			Endpoint: "/" + strings.Repeat("a/", 500),
			Method:   "TRACE",
			Payload:  strings.Repeat("'\"<>%$#@!", 5000),
		},
	}

	for _, ev := range events {
		v := Extract(ev)
		for i, f := range v {
			assert.GreaterOrEqual(t, f, 0.0, "feature %d below range", i)
			assert.LessOrEqual(t, f, 1.0, "feature %d above range", i)
		}
	}
}

func TestExtractNilEvent(t *testing.T) {
	assert.Equal(t, Vector{}, Extract(nil))
}

func TestExtractEmptyFieldsYieldZeroFeatures(t *testing.T) {
	v := Extract(&models.AttackEvent{Method: "GET"})

	assert.Zero(t, v[FeatQueryParamCount])
	assert.Zero(t, v[FeatUALength])
	assert.Zero(t, v[FeatHeaderCount])
	assert.Zero(t, v[FeatPayloadLength])
	assert.Zero(t, v[FeatHasJSON])
	assert.Zero(t, v[FeatHasAuth])
}

func TestExtractFlagsSuspiciousTraffic(t *testing.T) {
	v := Extract(sampleEvent())

	assert.Greater(t, v[FeatSuspiciousTokens], 0.0)
	assert.Greater(t, v[FeatUASuspicious], 0.0)
	assert.Equal(t, 1.0, v[FeatHasQuery])
	assert.Equal(t, 1.0, v[FeatHasXFF])
	assert.Equal(t, 1.0, v[FeatHasJSON])
}

func TestExtractTraversal(t *testing.T) {
	ev := &models.AttackEvent{
		Endpoint:    "/api/files",
		Method:      "GET",
		QueryParams: map[string]string{"path": "../../../etc/passwd"},
	}

	v := Extract(ev)
	assert.Equal(t, 1.0, v[FeatHasTraversal])
}
