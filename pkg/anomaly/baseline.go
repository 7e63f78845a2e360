package anomaly

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/trapsight/trap-telemetry/pkg/features"
	"github.com/trapsight/trap-telemetry/pkg/models"
)

var baselinePaths = []string{
	"/",
	"/index.html",
	"/about",
	"/contact",
	"/products",
	"/products/widgets",
	"/api/items",
	"/api/items/list",
	"/api/orders",
	"/static/css/main.css",
	"/static/js/app.js",
	"/images/logo.png",
	"/blog",
	"/blog/latest",
	"/search",
}

var baselineAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15",
}

var baselineQueries = []map[string]string{
	nil,
	{"page": "1"},
	{"page": "2", "sort": "date"},
	{"q": "widgets"},
	{"category": "home", "limit": "20"},
}

// SyntheticBaseline generates n feature vectors drawn from plausible benign
// traffic. The same seed always yields the same vectors, so fitted models
// are reproducible.
func SyntheticBaseline(n int, seed int64) []features.Vector {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	out := make([]features.Vector, 0, n)
	for i := 0; i < n; i++ {
		method := "GET"
		var payload string
		if rng.Float64() < 0.15 {
			method = "POST"
			payload = fmt.Sprintf(`{"name":"user%d","value":%d}`, rng.Intn(500), rng.Intn(1000))
		}
		ev := &models.AttackEvent{
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			SourceIP:       fmt.Sprintf("192.0.2.%d", rng.Intn(256)),
			Endpoint:       baselinePaths[rng.Intn(len(baselinePaths))],
			Method:         method,
			QueryParams:    baselineQueries[rng.Intn(len(baselineQueries))],
			Payload:        payload,
			UserAgent:      baselineAgents[rng.Intn(len(baselineAgents))],
			StatusCode:     200,
			ResponseTimeMs: 10 + rng.Float64()*190,
		}
		out = append(out, features.Extract(ev))
	}
	return out
}
