// Package classifier assigns an attack label to normalized events. A fixed
// rule table is consulted first; an optional linear model covers events no
// rule matches. Classification never fails: the worst outcome is the
// unknown label with zero confidence.
package classifier

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/features"
	"github.com/trapsight/trap-telemetry/pkg/models"
)

// Result is a classification outcome
type Result struct {
	Type       models.AttackType `json:"attack_type"`
	Confidence float64           `json:"confidence"`
	Severity   models.Severity   `json:"severity"`
	Rule       string            `json:"rule,omitempty"`
}

type rule struct {
	name       string
	priority   int
	label      models.AttackType
	confidence float64
	severity   models.Severity
	// url rules match against method+endpoint+query+payload, ua rules
	// against the user agent
	urlPattern *regexp.Regexp
	uaPattern  *regexp.Regexp
}

// Rules are evaluated highest priority first; within a priority tier the
// declaration order breaks ties. First match wins.
var rules = []rule{
	{
		name:       "directory_traversal",
		priority:   100,
		label:      models.AttackDirectoryTraversal,
		confidence: 0.9,
		severity:   models.SeverityHigh,
		urlPattern: regexp.MustCompile(`\.\./|\.\.\\|%2e%2e|/etc/passwd|/windows/system32|/proc/self`),
	},
	{
		name:       "sql_injection",
		priority:   90,
		label:      models.AttackSQLInjection,
		confidence: 0.9,
		severity:   models.SeverityHigh,
		urlPattern: regexp.MustCompile(`union\s+(all\s+)?select|insert\s+into|delete\s+from|update\s+\w+\s+set|drop\s+(table|database)|'\s*or\s+'?1'?\s*=\s*'?1|;\s*--|sleep\(\d+\)|benchmark\(`),
	},
	{
		name:       "xss",
		priority:   80,
		label:      models.AttackXSS,
		confidence: 0.8,
		severity:   models.SeverityMedium,
		urlPattern: regexp.MustCompile(`<script|javascript:|onerror\s*=|onload\s*=|document\.cookie|alert\s*\(|<img\s+src|<iframe`),
	},
	{
		name:       "command_injection",
		priority:   70,
		label:      models.AttackCommandInjection,
		confidence: 0.85,
		severity:   models.SeverityHigh,
		urlPattern: regexp.MustCompile(`;\s*(cat|ls|id|whoami|wget|curl|nc|bash|sh)\b|\|\s*(cat|sh|bash|nc)\b|\$\(|&&\s*(cat|rm|wget)|eval\(|exec\(|system\(|popen\(`),
	},
	{
		name:       "brute_force",
		priority:   60,
		label:      models.AttackBruteForce,
		confidence: 0.6,
		severity:   models.SeverityMedium,
		urlPattern: regexp.MustCompile(`/(login|signin|auth|wp-login|authenticate)\b`),
	},
	{
		name:       "automated_tool",
		priority:   50,
		label:      models.AttackAutomatedTool,
		confidence: 0.7,
		severity:   models.SeverityMedium,
		uaPattern:  regexp.MustCompile(`sqlmap|nikto|nmap|masscan|burp|zap|gobuster|dirbuster|hydra|wfuzz|metasploit|acunetix`),
	},
}

// severityForLabel maps model-produced labels to a severity. Rule hits carry
// their own severity and do not go through here.
func severityForLabel(label models.AttackType) models.Severity {
	switch label {
	case models.AttackDirectoryTraversal, models.AttackSQLInjection, models.AttackCommandInjection:
		return models.SeverityHigh
	case models.AttackXSS, models.AttackBruteForce, models.AttackAutomatedTool, models.AttackCredentialTheft:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Classifier runs the rule table and, when configured, a linear fallback
// model. Safe for concurrent use.
type Classifier struct {
	model *LinearModel
}

// New builds a rule-only classifier
func New() *Classifier {
	return &Classifier{}
}

// NewWithModel builds a classifier whose fallback stage uses model. A nil
// model behaves exactly like New().
func NewWithModel(model *LinearModel) *Classifier {
	return &Classifier{model: model}
}

// Classify labels an event. The rule stage inspects the request line,
// query values and payload; the fallback stage runs only when no rule
// fires. Benign traffic that nothing flags classifies as normal with low
// confidence.
func (c *Classifier) Classify(ev *models.AttackEvent, v features.Vector) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Classifier panicked: %v", r)
			res = Result{Type: models.AttackUnknown, Confidence: 0, Severity: models.SeverityLow}
		}
	}()

	if ev == nil {
		return Result{Type: models.AttackUnknown, Confidence: 0, Severity: models.SeverityLow}
	}

	haystack := ruleHaystack(ev)
	ua := strings.ToLower(ev.UserAgent)

	for _, r := range rules {
		if r.urlPattern != nil && r.urlPattern.MatchString(haystack) {
			return Result{Type: r.label, Confidence: r.confidence, Severity: r.severity, Rule: r.name}
		}
		if r.uaPattern != nil && r.uaPattern.MatchString(ua) {
			return Result{Type: r.label, Confidence: r.confidence, Severity: r.severity, Rule: r.name}
		}
	}

	if c.model != nil {
		if label, prob, ok := c.model.Predict(v); ok {
			return Result{Type: label, Confidence: prob, Severity: severityForLabel(label)}
		}
	}

	return Result{Type: models.AttackNormal, Confidence: 0.1, Severity: models.SeverityLow}
}

// ruleHaystack matches against the raw path, not the cleaned endpoint:
// path.Clean resolves "../" sequences away, which is exactly the evidence
// the traversal rule looks for.
func ruleHaystack(ev *models.AttackEvent) string {
	reqPath := ev.RawPath
	if reqPath == "" {
		reqPath = ev.Endpoint
	}

	var b strings.Builder
	b.WriteString(ev.Method)
	b.WriteByte(' ')
	b.WriteString(reqPath)
	for k, v := range ev.QueryParams {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	if ev.Payload != "" {
		b.WriteByte(' ')
		b.WriteString(ev.Payload)
	}
	return strings.ToLower(b.String())
}
