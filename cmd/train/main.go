package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/anomaly"
)

// Fits the anomaly ensemble on synthetic benign traffic and writes the
// model artifacts the server loads at startup.
func main() {
	forestOut := flag.String("forest", "models/forest.yaml", "output path for the forest artifact")
	reconstructorOut := flag.String("reconstructor", "models/reconstructor.yaml", "output path for the reconstructor artifact")
	samples := flag.Int("samples", 4096, "number of synthetic baseline samples")
	trees := flag.Int("trees", 100, "number of trees in the forest")
	sampleSize := flag.Int("sample-size", 256, "subsample size per tree")
	components := flag.Int("components", 4, "number of principal components")
	seed := flag.Int64("seed", 1, "random seed for baseline generation and tree fitting")
	flag.Parse()

	logrus.Infof("Generating %d baseline samples (seed %d)", *samples, *seed)
	baseline := anomaly.SyntheticBaseline(*samples, *seed)

	forest, err := anomaly.FitForest(baseline, *trees, *sampleSize, *seed)
	if err != nil {
		logrus.Fatalf("Failed to fit forest: %v", err)
	}

	reconstructor, err := anomaly.FitReconstructor(baseline, *components)
	if err != nil {
		logrus.Fatalf("Failed to fit reconstructor: %v", err)
	}

	for _, out := range []string{*forestOut, *reconstructorOut} {
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logrus.Fatalf("Failed to create output directory %s: %v", dir, err)
			}
		}
	}

	if err := anomaly.SaveForest(*forestOut, forest); err != nil {
		logrus.Fatalf("Failed to save forest artifact: %v", err)
	}
	logrus.Infof("Forest artifact written to %s (%d trees)", *forestOut, *trees)

	if err := anomaly.SaveReconstructor(*reconstructorOut, reconstructor); err != nil {
		logrus.Fatalf("Failed to save reconstructor artifact: %v", err)
	}
	logrus.Infof("Reconstructor artifact written to %s (%d components)", *reconstructorOut, *components)
}
