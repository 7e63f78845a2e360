package normalizer

import (
	"fmt"
	"net"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

// DefaultSnapshotCap bounds header and payload snapshots. Truncation is
// lossy and recorded on the event, never an error.
const DefaultSnapshotCap = 8 * 1024

// ValidationError reports malformed raw input. The capture is discarded and
// never enters the pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid capture: field %q %s", e.Field, e.Reason)
}

// toolSignatures are user-agent tokens of well-known scanners
var toolSignatures = []string{"sqlmap", "nikto", "nmap", "burp", "zap", "scanner", "bot", "crawler", "spider", "scraper"}

// Normalizer validates and canonicalizes raw captures into AttackEvents
type Normalizer struct {
	snapshotCap int
}

// New creates a normalizer with the given snapshot cap; a non-positive cap
// falls back to DefaultSnapshotCap.
func New(snapshotCap int) *Normalizer {
	if snapshotCap <= 0 {
		snapshotCap = DefaultSnapshotCap
	}
	return &Normalizer{snapshotCap: snapshotCap}
}

// Normalize validates a raw capture and produces a canonical AttackEvent
// with a freshly generated identifier. It is a pure transformation: no side
// effects beyond allocation, and it never panics.
func (n *Normalizer) Normalize(raw models.RawCapture) (*models.AttackEvent, error) {
	if strings.TrimSpace(raw.Method) == "" {
		return nil, &ValidationError{Field: "method", Reason: "is required"}
	}
	if strings.TrimSpace(raw.Path) == "" {
		return nil, &ValidationError{Field: "path", Reason: "is required"}
	}
	if raw.Timestamp.IsZero() {
		return nil, &ValidationError{Field: "timestamp", Reason: "is required"}
	}

	sourceIP, err := parseSourceIP(raw.RemoteAddr)
	if err != nil {
		return nil, err
	}

	truncated := false
	payload := string(raw.Body)
	if len(payload) > n.snapshotCap {
		payload = payload[:n.snapshotCap]
		truncated = true
	}

	// Keys are visited in sorted order so the same oversized capture always
	// keeps the same headers.
	headerKeys := make([]string, 0, len(raw.Headers))
	for k := range raw.Headers {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	headers := make(map[string]string, len(raw.Headers))
	headerBytes := 0
	for _, k := range headerKeys {
		key := strings.ToLower(k)
		v := raw.Headers[k]
		if headerBytes+len(key)+len(v) > n.snapshotCap {
			truncated = true
			continue
		}
		headers[key] = v
		headerBytes += len(key) + len(v)
	}

	userAgent := raw.UserAgent
	if userAgent == "" {
		userAgent = headers["user-agent"]
	}

	// The cleaned path is the canonical endpoint for aggregation; the raw
	// path is kept because cleaning erases traversal sequences.
	rawPath := "/" + strings.TrimPrefix(strings.TrimSpace(raw.Path), "/")

	ev := &models.AttackEvent{
		ID:             uuid.NewString(),
		Timestamp:      raw.Timestamp,
		SourceIP:       sourceIP,
		Endpoint:       path.Clean(rawPath),
		RawPath:        rawPath,
		Method:         strings.ToUpper(strings.TrimSpace(raw.Method)),
		Headers:        headers,
		QueryParams:    raw.QueryParams,
		Payload:        payload,
		Truncated:      truncated,
		UserAgent:      userAgent,
		StatusCode:     raw.StatusCode,
		ResponseTimeMs: raw.ResponseTimeMs,
		HoneypotType:   raw.HoneypotType,
		Country:        raw.Country,
		Region:         raw.Region,
		City:           raw.City,
	}
	ev.Tags = extractTags(ev)

	logrus.Debugf("Normalized capture %s from %s (%s %s)", ev.ID, ev.SourceIP, ev.Method, ev.Endpoint)
	return ev, nil
}

// parseSourceIP extracts and validates the IP from a remote address,
// stripping a port when present.
func parseSourceIP(remoteAddr string) (string, error) {
	addr := strings.TrimSpace(remoteAddr)
	if addr == "" {
		return "", &ValidationError{Field: "remote_addr", Reason: "is required"}
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", &ValidationError{Field: "remote_addr", Reason: "is not a valid address"}
	}
	return ip.String(), nil
}

// extractTags derives descriptive tags from the canonicalized event
func extractTags(ev *models.AttackEvent) []string {
	var tags []string
	lower := strings.ToLower(ev.Endpoint + "?" + flattenParams(ev.QueryParams))

	if containsAny(lower, "admin", "login", "auth") {
		tags = append(tags, "authentication_related")
	}
	if containsAny(lower, "api", "rest", "json") {
		tags = append(tags, "api_endpoint")
	}
	if containsAny(lower, "sql", "database", "query") {
		tags = append(tags, "database_related")
	}
	if containsAny(lower, "file", "upload", "download") {
		tags = append(tags, "file_operation")
	}
	if _, ok := ev.Headers["x-forwarded-for"]; ok {
		tags = append(tags, "proxied_request")
	}
	ua := strings.ToLower(ev.UserAgent)
	if containsAny(ua, toolSignatures...) {
		tags = append(tags, "automated_tool")
	}
	return tags
}

func flattenParams(params map[string]string) string {
	var sb strings.Builder
	for k, v := range params {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte('&')
	}
	return sb.String()
}

func containsAny(s string, tokens ...string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
