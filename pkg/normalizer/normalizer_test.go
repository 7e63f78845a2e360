package normalizer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

func validCapture() models.RawCapture {
	return models.RawCapture{
		Method:     "GET",
		Path:       "/api/honeypots/users",
		RemoteAddr: "203.0.113.7:51234",
		UserAgent:  "Mozilla/5.0",
		Timestamp:  time.Now(),
	}
}

func TestNormalizeValidCapture(t *testing.T) {
	n := New(0)

	ev, err := n.Normalize(validCapture())
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "203.0.113.7", ev.SourceIP)
	assert.Equal(t, "GET", ev.Method)
	assert.Equal(t, "/api/honeypots/users", ev.Endpoint)
	assert.False(t, ev.Truncated)
	assert.False(t, ev.Finalized())
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	n := New(0)

	cases := []struct {
		name   string
		mutate func(*models.RawCapture)
	}{
		{"missing method", func(c *models.RawCapture) { c.Method = "" }},
		{"missing path", func(c *models.RawCapture) { c.Path = "  " }},
		{"missing remote addr", func(c *models.RawCapture) { c.RemoteAddr = "" }},
		{"bad remote addr", func(c *models.RawCapture) { c.RemoteAddr = "not-an-ip" }},
		{"zero timestamp", func(c *models.RawCapture) { c.Timestamp = time.Time{} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			capture := validCapture()
			tc.mutate(&capture)

			_, err := n.Normalize(capture)
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestNormalizeTruncatesOversizedPayload(t *testing.T) {
	n := New(64)

	capture := validCapture()
	capture.Body = []byte(strings.Repeat("A", 1024))

	ev, err := n.Normalize(capture)
	require.NoError(t, err)
	assert.Len(t, ev.Payload, 64)
	assert.True(t, ev.Truncated)
}

func TestNormalizeKeepsRawPath(t *testing.T) {
	n := New(0)

	capture := validCapture()
	capture.Path = "/download/../../private/backup.tar.gz"

	ev, err := n.Normalize(capture)
	require.NoError(t, err)
	assert.Equal(t, "/private/backup.tar.gz", ev.Endpoint)
	assert.Equal(t, "/download/../../private/backup.tar.gz", ev.RawPath)
}

func TestNormalizeHeaderTruncationIsDeterministic(t *testing.T) {
	n := New(48)

	capture := validCapture()
	capture.Headers = map[string]string{
		"Accept":       strings.Repeat("a", 20),
		"Connection":   strings.Repeat("b", 20),
		"Host":         strings.Repeat("c", 20),
		"X-Request-Id": strings.Repeat("d", 20),
	}

	first, err := n.Normalize(capture)
	require.NoError(t, err)
	require.True(t, first.Truncated)

	// The cap forces some headers out; the same capture must always keep
	// the same ones regardless of map iteration order.
	for i := 0; i < 20; i++ {
		ev, err := n.Normalize(capture)
		require.NoError(t, err)
		assert.Equal(t, first.Headers, ev.Headers)
	}
}

func TestNormalizeGeneratesUniqueIDs(t *testing.T) {
	n := New(0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ev, err := n.Normalize(validCapture())
		require.NoError(t, err)
		assert.False(t, seen[ev.ID], "duplicate event ID %s", ev.ID)
		seen[ev.ID] = true
	}
}

func TestNormalizeTags(t *testing.T) {
	n := New(0)

	capture := validCapture()
	capture.Path = "/api/admin/sql"
	capture.UserAgent = "sqlmap/1.5.2"
	capture.Headers = map[string]string{"X-Forwarded-For": "198.51.100.1"}

	ev, err := n.Normalize(capture)
	require.NoError(t, err)
	assert.Contains(t, ev.Tags, "authentication_related")
	assert.Contains(t, ev.Tags, "database_related")
	assert.Contains(t, ev.Tags, "automated_tool")
	assert.Contains(t, ev.Tags, "proxied_request")
}

func TestNormalizeIPv6(t *testing.T) {
	n := New(0)

	capture := validCapture()
	capture.RemoteAddr = "[2001:db8::42]:443"

	ev, err := n.Normalize(capture)
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::42", ev.SourceIP)
}
