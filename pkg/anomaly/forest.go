// Package anomaly implements the two-model ensemble scorer: a
// random-partition isolation forest and a linear reconstruction model.
// Both models are fitted offline and loaded at startup as immutable
// scoring functions; this package performs inference only.
package anomaly

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/trapsight/trap-telemetry/pkg/features"
)

// ForestNode is one node of an isolation tree. Leaf nodes have no children
// and record the size of the training subsample that reached them.
type ForestNode struct {
	SplitFeature int         `yaml:"feature,omitempty"`
	SplitValue   float64     `yaml:"value,omitempty"`
	Left         *ForestNode `yaml:"left,omitempty"`
	Right        *ForestNode `yaml:"right,omitempty"`
	Size         int         `yaml:"size,omitempty"`
}

// Leaf reports whether the node terminates a partition path
func (n *ForestNode) Leaf() bool {
	return n.Left == nil && n.Right == nil
}

// Forest is an ensemble of random-partition isolation trees. A point that
// isolates after a short average path is anomalous; scores are normalized to
// [0,1] against the expected path length for the subsample size.
type Forest struct {
	Trees      []*ForestNode `yaml:"trees"`
	SampleSize int           `yaml:"sample_size"`
}

// Score returns the normalized partitioning score for a vector:
// s = 2^(-E[h(x)] / c(n)), in [0,1].
func (f *Forest) Score(v features.Vector) float64 {
	if len(f.Trees) == 0 || f.SampleSize < 2 {
		return 0
	}
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, v, 0)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

func pathLength(node *ForestNode, v features.Vector, depth float64) float64 {
	if node.Leaf() {
		if node.Size > 1 {
			return depth + averagePathLength(node.Size)
		}
		return depth
	}
	if v[node.SplitFeature] < node.SplitValue {
		return pathLength(node.Left, v, depth+1)
	}
	return pathLength(node.Right, v, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree over n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

// FitForest trains an isolation forest on a reference population. Each tree
// is grown on a random subsample with uniform splits over the observed
// feature ranges, up to the standard height limit ceil(log2(sampleSize)).
func FitForest(samples []features.Vector, numTrees, sampleSize int, seed int64) (*Forest, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("forest fit requires at least 2 samples, got %d", len(samples))
	}
	if numTrees <= 0 {
		numTrees = 100
	}
	if sampleSize <= 0 || sampleSize > len(samples) {
		sampleSize = len(samples)
		if sampleSize > 256 {
			sampleSize = 256
		}
	}

	rng := rand.New(rand.NewSource(seed))
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))

	forest := &Forest{
		Trees:      make([]*ForestNode, 0, numTrees),
		SampleSize: sampleSize,
	}
	for t := 0; t < numTrees; t++ {
		sub := subsample(samples, sampleSize, rng)
		forest.Trees = append(forest.Trees, growTree(sub, 0, heightLimit, rng))
	}
	return forest, nil
}

func subsample(samples []features.Vector, size int, rng *rand.Rand) []features.Vector {
	idx := rng.Perm(len(samples))[:size]
	out := make([]features.Vector, size)
	for i, j := range idx {
		out[i] = samples[j]
	}
	return out
}

func growTree(samples []features.Vector, depth, heightLimit int, rng *rand.Rand) *ForestNode {
	if depth >= heightLimit || len(samples) <= 1 {
		return &ForestNode{Size: len(samples)}
	}

	feature, lo, hi, ok := pickSplittableFeature(samples, rng)
	if !ok {
		// all remaining points identical in every dimension
		return &ForestNode{Size: len(samples)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right []features.Vector
	for _, s := range samples {
		if s[feature] < split {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &ForestNode{Size: len(samples)}
	}

	return &ForestNode{
		SplitFeature: feature,
		SplitValue:   split,
		Left:         growTree(left, depth+1, heightLimit, rng),
		Right:        growTree(right, depth+1, heightLimit, rng),
	}
}

// pickSplittableFeature chooses a random feature with non-zero range in the
// current subsample.
func pickSplittableFeature(samples []features.Vector, rng *rand.Rand) (feature int, lo, hi float64, ok bool) {
	candidates := rng.Perm(features.VectorSize)
	for _, f := range candidates {
		lo, hi = samples[0][f], samples[0][f]
		for _, s := range samples[1:] {
			if s[f] < lo {
				lo = s[f]
			}
			if s[f] > hi {
				hi = s[f]
			}
		}
		if hi > lo {
			return f, lo, hi, true
		}
	}
	return 0, 0, 0, false
}
