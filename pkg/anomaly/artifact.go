package anomaly

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArtifactVersion is bumped whenever the on-disk model layout changes in
// an incompatible way.
const ArtifactVersion = 1

// ModelLoadError means a model artifact is missing or malformed. The
// server treats this as fatal at startup rather than proceeding with a
// blind scorer.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading model artifact %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

type forestArtifact struct {
	Version int     `yaml:"version"`
	Forest  *Forest `yaml:"forest"`
}

type reconstructorArtifact struct {
	Version       int            `yaml:"version"`
	Reconstructor *Reconstructor `yaml:"reconstructor"`
}

// LoadForest reads a partitioning model artifact from path.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	var art forestArtifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	if art.Version != ArtifactVersion {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("unsupported artifact version %d", art.Version)}
	}
	if art.Forest == nil || len(art.Forest.Trees) == 0 {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("artifact contains no trees")}
	}
	return art.Forest, nil
}

// LoadReconstructor reads a reconstruction model artifact from path.
func LoadReconstructor(path string) (*Reconstructor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	var art reconstructorArtifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	if art.Version != ArtifactVersion {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("unsupported artifact version %d", art.Version)}
	}
	if art.Reconstructor == nil || len(art.Reconstructor.Components) == 0 {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("artifact contains no components")}
	}
	return art.Reconstructor, nil
}

// SaveForest writes a partitioning model artifact to path.
func SaveForest(path string, f *Forest) error {
	data, err := yaml.Marshal(forestArtifact{Version: ArtifactVersion, Forest: f})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// SaveReconstructor writes a reconstruction model artifact to path.
func SaveReconstructor(path string, r *Reconstructor) error {
	data, err := yaml.Marshal(reconstructorArtifact{Version: ArtifactVersion, Reconstructor: r})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
