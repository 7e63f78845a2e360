// Package features derives fixed-length numeric vectors from attack events.
// Extraction is deterministic: the same event always yields the same vector,
// and missing fields degrade to zero-valued features rather than errors.
package features

import (
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

// VectorSize is the fixed length of every feature vector
const VectorSize = 18

// Vector is a fixed-length feature vector with every slot in [0,1]
type Vector [VectorSize]float64

// Feature slot indices. The order is part of the model artifact contract:
// changing it invalidates trained models.
const (
	FeatURLLength = iota
	FeatSuspiciousTokens
	FeatQueryParamCount
	FeatUALength
	FeatUASuspicious
	FeatMethod
	FeatHeaderCount
	FeatPayloadLength
	FeatPathDepth
	FeatSpecialCharDensity
	FeatHasJSON
	FeatHasForm
	FeatHasAuth
	FeatHasXFF
	FeatHasQuery
	FeatHasTraversal
	FeatEndpointHash
	FeatContentHash
)

// suspiciousTokens are request-text fragments that correlate with probing
var suspiciousTokens = []string{
	"sql", "union", "select", "insert", "delete", "update", "drop",
	"script", "javascript", "onerror", "onload", "alert",
	"admin", "login", "auth", "password", "user",
	"../", "..\\", "/etc/passwd", "/windows/system32",
	"eval", "exec", "system", "cmd", "shell",
}

// uaSuspiciousTokens are user-agent fragments of known tooling
var uaSuspiciousTokens = []string{
	"sqlmap", "nikto", "nmap", "burp", "zap", "scanner",
	"bot", "crawler", "spider", "scraper", "automated",
}

var methodEncoding = map[string]float64{
	"GET": 0, "POST": 1, "PUT": 2, "DELETE": 3, "HEAD": 4, "OPTIONS": 5,
}

// Extract computes the feature vector for a normalized event
func Extract(ev *models.AttackEvent) Vector {
	var v Vector
	if ev == nil {
		return v
	}

	// Lexical features read the raw path: cleaning resolves "../" away and
	// would hide traversal from the models.
	reqPath := ev.RawPath
	if reqPath == "" {
		reqPath = ev.Endpoint
	}
	url := strings.ToLower(reqPath + "?" + flattenQuery(ev.QueryParams) + ev.Payload)
	ua := strings.ToLower(ev.UserAgent)

	v[FeatURLLength] = capRatio(float64(len(url)), 1000)
	v[FeatSuspiciousTokens] = capRatio(countTokens(url, suspiciousTokens), 10)
	v[FeatQueryParamCount] = capRatio(float64(len(ev.QueryParams)), 20)
	v[FeatUALength] = capRatio(float64(len(ua)), 500)
	v[FeatUASuspicious] = capRatio(countTokens(ua, uaSuspiciousTokens), 5)
	v[FeatMethod] = encodeMethod(ev.Method)
	v[FeatHeaderCount] = capRatio(float64(len(ev.Headers)), 50)
	v[FeatPayloadLength] = capRatio(float64(len(ev.Payload)), 8192)
	v[FeatPathDepth] = capRatio(float64(strings.Count(ev.Endpoint, "/")), 10)
	v[FeatSpecialCharDensity] = specialCharDensity(url)

	contentType := strings.ToLower(ev.Headers["content-type"])
	v[FeatHasJSON] = boolFeature(strings.Contains(contentType, "json"))
	v[FeatHasForm] = boolFeature(strings.Contains(contentType, "form"))
	_, hasAuth := ev.Headers["authorization"]
	v[FeatHasAuth] = boolFeature(hasAuth)
	_, hasXFF := ev.Headers["x-forwarded-for"]
	v[FeatHasXFF] = boolFeature(hasXFF)
	v[FeatHasQuery] = boolFeature(len(ev.QueryParams) > 0)
	v[FeatHasTraversal] = boolFeature(strings.Contains(url, "../") || strings.Contains(url, "..\\"))

	v[FeatEndpointHash] = hashBucket(ev.Endpoint)
	v[FeatContentHash] = hashBucket(ev.Method + "|" + contentType)

	return v
}

// capRatio normalizes a count against a cap, clipping at 1.0
func capRatio(value, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	r := value / cap
	if r > 1 {
		return 1
	}
	return r
}

func countTokens(s string, tokens []string) float64 {
	var n float64
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			n++
		}
	}
	return n
}

func encodeMethod(method string) float64 {
	if enc, ok := methodEncoding[strings.ToUpper(method)]; ok {
		return enc / 6
	}
	return 1
}

func specialCharDensity(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	special := 0
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '/', r == '.', r == '-', r == '_':
		default:
			special++
		}
	}
	return float64(special) / float64(len(s))
}

// hashBucket folds a murmur3 hash into [0,1) so categorical values become a
// stable numeric feature without a vocabulary.
func hashBucket(s string) float64 {
	const buckets = 64
	h := murmur3.Sum32([]byte(s))
	return float64(h%buckets) / buckets
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func flattenQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	// Keys are sorted so the concatenation is canonical regardless of map
	// iteration order.
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}
	return sb.String()
}
