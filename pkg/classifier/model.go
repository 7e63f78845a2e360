package classifier

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trapsight/trap-telemetry/pkg/features"
	"github.com/trapsight/trap-telemetry/pkg/models"
)

// modelArtifactVersion guards the on-disk weight layout
const modelArtifactVersion = 1

// LabelWeights is one class of the linear model
type LabelWeights struct {
	Label   models.AttackType `yaml:"label"`
	Weights []float64         `yaml:"weights"`
	Bias    float64           `yaml:"bias"`
}

// LinearModel is a multinomial logistic model over the feature vector. It
// only runs for events no rule matched, so it mostly separates odd-looking
// benign traffic from low-signal probing.
type LinearModel struct {
	Labels []LabelWeights `yaml:"labels"`
}

type linearModelArtifact struct {
	Version int          `yaml:"version"`
	Model   *LinearModel `yaml:"model"`
}

// LoadLinearModel reads a classifier model artifact from path. The model
// is optional, so callers decide whether a load failure is fatal.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading classifier model %s: %w", path, err)
	}
	var art linearModelArtifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("loading classifier model %s: %w", path, err)
	}
	if art.Version != modelArtifactVersion {
		return nil, fmt.Errorf("loading classifier model %s: unsupported version %d", path, art.Version)
	}
	if art.Model == nil || len(art.Model.Labels) == 0 {
		return nil, fmt.Errorf("loading classifier model %s: no label weights", path)
	}
	for _, lw := range art.Model.Labels {
		if len(lw.Weights) != features.VectorSize {
			return nil, fmt.Errorf("loading classifier model %s: label %s has %d weights, want %d",
				path, lw.Label, len(lw.Weights), features.VectorSize)
		}
	}
	return art.Model, nil
}

// SaveLinearModel writes a classifier model artifact to path
func SaveLinearModel(path string, m *LinearModel) error {
	data, err := yaml.Marshal(linearModelArtifact{Version: modelArtifactVersion, Model: m})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Predict returns the most probable label and its softmax probability.
// ok is false when the model has no usable labels.
func (m *LinearModel) Predict(v features.Vector) (models.AttackType, float64, bool) {
	if m == nil || len(m.Labels) == 0 {
		return models.AttackUnknown, 0, false
	}

	logits := make([]float64, len(m.Labels))
	maxLogit := math.Inf(-1)
	for i, lw := range m.Labels {
		z := lw.Bias
		for j, w := range lw.Weights {
			z += w * v[j]
		}
		logits[i] = z
		if z > maxLogit {
			maxLogit = z
		}
	}

	var sum float64
	for i, z := range logits {
		logits[i] = math.Exp(z - maxLogit)
		sum += logits[i]
	}
	if sum == 0 {
		return models.AttackUnknown, 0, false
	}

	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return m.Labels[best].Label, logits[best] / sum, true
}
