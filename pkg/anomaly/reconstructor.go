package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/trapsight/trap-telemetry/pkg/features"
)

// Reconstructor is a linear compress/decompress model: input vectors are
// projected onto a small set of principal directions and reconstructed from
// the projection. Reconstruction error is normalized against the error
// distribution observed at fit time and clipped to [0,1].
type Reconstructor struct {
	Mean       []float64   `yaml:"mean"`
	Components [][]float64 `yaml:"components"`
	ErrFloor   float64     `yaml:"err_floor"`
	ErrCeil    float64     `yaml:"err_ceil"`
}

// Score returns the normalized reconstruction error for a vector
func (r *Reconstructor) Score(v features.Vector) float64 {
	err := r.reconstructionError(v)
	if r.ErrCeil <= r.ErrFloor {
		return 0
	}
	s := (err - r.ErrFloor) / (r.ErrCeil - r.ErrFloor)
	return clip01(s)
}

func (r *Reconstructor) reconstructionError(v features.Vector) float64 {
	dim := len(r.Mean)
	if dim == 0 || dim > features.VectorSize {
		return 0
	}

	centered := make([]float64, dim)
	for i := 0; i < dim; i++ {
		centered[i] = v[i] - r.Mean[i]
	}

	// encode: project onto components; decode: sum the projections back
	reconstructed := make([]float64, dim)
	copy(reconstructed, r.Mean)
	for _, comp := range r.Components {
		h := dot(centered, comp)
		for i := 0; i < dim; i++ {
			reconstructed[i] += h * comp[i]
		}
	}

	var mse float64
	for i := 0; i < dim; i++ {
		d := v[i] - reconstructed[i]
		mse += d * d
	}
	return mse / float64(dim)
}

// FitReconstructor learns the compression from a reference population:
// the population mean plus numComponents principal directions found by
// power iteration with deflation. The error normalization bounds come from
// the training error distribution (floor = median, ceil = 95th percentile),
// so typical traffic scores near zero and anything far off the baseline
// saturates at one.
func FitReconstructor(samples []features.Vector, numComponents int) (*Reconstructor, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("reconstructor fit requires at least 2 samples, got %d", len(samples))
	}
	if numComponents <= 0 {
		numComponents = 4
	}
	dim := features.VectorSize

	mean := make([]float64, dim)
	for _, s := range samples {
		for i := 0; i < dim; i++ {
			mean[i] += s[i]
		}
	}
	for i := range mean {
		mean[i] /= float64(len(samples))
	}

	centered := make([][]float64, len(samples))
	for j, s := range samples {
		row := make([]float64, dim)
		for i := 0; i < dim; i++ {
			row[i] = s[i] - mean[i]
		}
		centered[j] = row
	}

	components := make([][]float64, 0, numComponents)
	for c := 0; c < numComponents; c++ {
		comp, ok := powerIteration(centered, dim)
		if !ok {
			break
		}
		components = append(components, comp)
		deflate(centered, comp)
	}

	r := &Reconstructor{Mean: mean, Components: components}

	errs := make([]float64, len(samples))
	for j, s := range samples {
		errs[j] = r.reconstructionError(s)
	}
	sort.Float64s(errs)
	r.ErrFloor = errs[len(errs)/2]
	r.ErrCeil = errs[(len(errs)*95)/100]
	if r.ErrCeil <= r.ErrFloor {
		r.ErrCeil = r.ErrFloor + 1e-9
	}
	return r, nil
}

// powerIteration finds the dominant direction of the centered sample matrix
func powerIteration(centered [][]float64, dim int) ([]float64, bool) {
	v := make([]float64, dim)
	for i := range v {
		v[i] = 1 / math.Sqrt(float64(dim))
	}

	const iterations = 50
	for it := 0; it < iterations; it++ {
		// w = X^T X v without materializing the covariance matrix
		w := make([]float64, dim)
		for _, row := range centered {
			h := dot(row, v)
			for i := 0; i < dim; i++ {
				w[i] += h * row[i]
			}
		}
		norm := math.Sqrt(dot(w, w))
		if norm < 1e-12 {
			return nil, false
		}
		for i := range w {
			w[i] /= norm
		}
		v = w
	}
	return v, true
}

// deflate removes a found component from every centered sample
func deflate(centered [][]float64, comp []float64) {
	for _, row := range centered {
		h := dot(row, comp)
		for i := range row {
			row[i] -= h * comp[i]
		}
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
