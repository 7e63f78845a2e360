package anomaly

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/features"
)

// Result is the tagged outcome of an ensemble scoring call. Sub-model
// failures are observable through Unavailable instead of silently folding
// into the combined number.
type Result struct {
	Partitioning   float64  `json:"partitioning_score"`
	Reconstruction float64  `json:"reconstruction_score"`
	Combined       float64  `json:"combined_score"`
	Unavailable    []string `json:"unavailable,omitempty"`
}

// Degraded reports whether any sub-score could not be computed
func (r Result) Degraded() bool {
	return len(r.Unavailable) > 0
}

// Scorer combines the partitioning and reconstruction models with
// configurable weights. Models are immutable after construction, so Score
// is safe for concurrent use.
type Scorer struct {
	forest        *Forest
	reconstructor *Reconstructor
	wPartitioning float64
	wReconstruct  float64
}

// NewScorer builds an ensemble scorer. Non-positive weights fall back to
// equal weighting.
func NewScorer(forest *Forest, reconstructor *Reconstructor, wPartitioning, wReconstruct float64) *Scorer {
	if wPartitioning <= 0 || wReconstruct <= 0 {
		wPartitioning, wReconstruct = 0.5, 0.5
	}
	total := wPartitioning + wReconstruct
	return &Scorer{
		forest:        forest,
		reconstructor: reconstructor,
		wPartitioning: wPartitioning / total,
		wReconstruct:  wReconstruct / total,
	}
}

// Score runs both sub-models and combines their scores, clipped to [0,1].
// A sub-model that fails or runs past the context deadline contributes 0
// and is recorded in Unavailable; scoring never aborts the event.
func (s *Scorer) Score(ctx context.Context, v features.Vector) Result {
	var res Result

	if ctx.Err() != nil {
		res.Unavailable = append(res.Unavailable, "partitioning", "reconstruction")
		return res
	}

	if score, ok := s.scorePartitioning(v); ok {
		res.Partitioning = score
	} else {
		res.Unavailable = append(res.Unavailable, "partitioning")
	}

	if ctx.Err() != nil {
		res.Unavailable = append(res.Unavailable, "reconstruction")
		res.Combined = clip01(s.wPartitioning * res.Partitioning)
		return res
	}

	if score, ok := s.scoreReconstruction(v); ok {
		res.Reconstruction = score
	} else {
		res.Unavailable = append(res.Unavailable, "reconstruction")
	}

	res.Combined = clip01(s.wPartitioning*res.Partitioning + s.wReconstruct*res.Reconstruction)
	return res
}

func (s *Scorer) scorePartitioning(v features.Vector) (score float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Partitioning model panicked: %v", r)
			score, ok = 0, false
		}
	}()
	if s.forest == nil {
		return 0, false
	}
	return s.forest.Score(v), true
}

func (s *Scorer) scoreReconstruction(v features.Vector) (score float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Reconstruction model panicked: %v", r)
			score, ok = 0, false
		}
	}()
	if s.reconstructor == nil {
		return 0, false
	}
	return s.reconstructor.Score(v), true
}
