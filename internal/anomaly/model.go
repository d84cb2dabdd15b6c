// Package anomaly is the Anomaly Model (C5): a z-score scaler paired
// with an Isolation-Forest-style ensemble of random split trees, scored
// and hot-swappable behind an atomic pointer.
package anomaly

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

// ErrInsufficientSamples is returned by Train when fewer than
// minSamples feature vectors are supplied. It is a plain sentinel
// error: it carries neither the required minimum nor the supplied count.
var ErrInsufficientSamples = errors.New("anomaly: insufficient training samples")

const numFeatures = 10

// Scaler holds the per-feature mean/stddev used to standardize vectors
// before they're scored, computed with gonum/stat the way
// processor/firewall_anomaly_detector.go computes window statistics.
type Scaler struct {
	Mean   [numFeatures]float64
	StdDev [numFeatures]float64
}

func fitScaler(samples [][]float64) Scaler {
	var s Scaler
	col := make([]float64, len(samples))
	for f := 0; f < numFeatures; f++ {
		for i, v := range samples {
			col[i] = v[f]
		}
		s.Mean[f] = stat.Mean(col, nil)
		s.StdDev[f] = stat.StdDev(col, nil)
		if s.StdDev[f] == 0 {
			s.StdDev[f] = 1
		}
	}
	return s
}

func (s Scaler) transform(v []float64) [numFeatures]float64 {
	var out [numFeatures]float64
	for i := 0; i < numFeatures && i < len(v); i++ {
		out[i] = (v[i] - s.Mean[i]) / s.StdDev[i]
	}
	return out
}

// splitNode is one node of a random isolation tree: either a split
// (Left/Right set) or a leaf (Left/Right nil), as in the classic
// isolation-forest construction.
type splitNode struct {
	Feature     int
	SplitValue  float64
	Left, Right *splitNode
	Size        int // samples routed to this node at build time (leaves only)
}

// isolationTree is a single randomly-split tree over standardized
// feature vectors.
type isolationTree struct {
	Root      *splitNode
	HeightLim int
}

func buildTree(data [][numFeatures]float64, depth, heightLim int, rng *rand.Rand) *splitNode {
	if depth >= heightLim || len(data) <= 1 {
		return &splitNode{Size: len(data)}
	}

	feature := rng.Intn(numFeatures)
	minV, maxV := data[0][feature], data[0][feature]
	for _, row := range data {
		if row[feature] < minV {
			minV = row[feature]
		}
		if row[feature] > maxV {
			maxV = row[feature]
		}
	}
	if minV == maxV {
		return &splitNode{Size: len(data)}
	}

	splitValue := minV + rng.Float64()*(maxV-minV)

	var left, right [][numFeatures]float64
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &splitNode{Size: len(data)}
	}

	return &splitNode{
		Feature:    feature,
		SplitValue: splitValue,
		Left:       buildTree(left, depth+1, heightLim, rng),
		Right:      buildTree(right, depth+1, heightLim, rng),
	}
}

// pathLength returns the number of edges traversed to isolate v, plus
// the standard isolation-forest correction term c(size) for unisolated
// leaves holding more than one sample.
func pathLength(n *splitNode, v [numFeatures]float64, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + averagePathCorrection(n.Size)
	}
	if v[n.Feature] < n.SplitValue {
		return pathLength(n.Left, v, depth+1)
	}
	return pathLength(n.Right, v, depth+1)
}

// averagePathCorrection is c(n), the expected path length of an
// unsuccessful BST search, used to normalize leaf depth for leaves that
// still hold more than one point.
func averagePathCorrection(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(float64(n-1))+0.5772156649) - 2*float64(n-1)/float64(n)
}

// Forest is the ensemble of isolation trees.
type Forest struct {
	Trees      []*isolationTree
	SampleSize int
}

func trainForest(data [][numFeatures]float64, numTrees int, seed int64) *Forest {
	sampleSize := len(data)
	if sampleSize > 256 {
		sampleSize = 256
	}
	heightLim := int(math.Ceil(math.Log2(float64(sampleSize))))
	if heightLim < 1 {
		heightLim = 1
	}

	rng := rand.New(rand.NewSource(seed))
	f := &Forest{SampleSize: sampleSize}
	for i := 0; i < numTrees; i++ {
		sample := subsample(data, sampleSize, rng)
		f.Trees = append(f.Trees, &isolationTree{
			Root:      buildTree(sample, 0, heightLim, rng),
			HeightLim: heightLim,
		})
	}
	return f
}

func subsample(data [][numFeatures]float64, n int, rng *rand.Rand) [][numFeatures]float64 {
	if n >= len(data) {
		out := make([][numFeatures]float64, len(data))
		copy(out, data)
		return out
	}
	idx := rng.Perm(len(data))[:n]
	out := make([][numFeatures]float64, n)
	for i, j := range idx {
		out[i] = data[j]
	}
	return out
}

// score averages v's path length across all trees and returns the
// classic isolation-forest anomaly score 2^(-avg/c(SampleSize)), where a
// higher value means v was easier to isolate.
func (f *Forest) score(v [numFeatures]float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.Trees {
		total += pathLength(t.Root, v, 0)
	}
	avg := total / float64(len(f.Trees))

	c := averagePathCorrection(f.SampleSize)
	if c <= 0 {
		c = 1
	}
	// Classic isolation-forest anomaly score: 2^(-avg_path/c).
	return math.Pow(2, -avg/c)
}

// Model is the trained scaler+forest pair, persisted as a gob blob and
// hot-swapped behind an atomic pointer on retrain — replacing the
// original engine's pickle persistence with Go's native gob codec.
type Model struct {
	Scaler          Scaler
	Forest          *Forest
	TrainedAt       time.Time
	TrainingSamples int
	NumTrees        int
	Threshold       float64
}

// Train fits a new Model on the given feature vectors. Requires at
// least minSamples vectors (original engine: 10); with fewer it returns
// ErrInsufficientSamples.
func Train(vectors [][]float64, numTrees int, threshold float64, minSamples int) (*Model, error) {
	if len(vectors) < minSamples {
		return nil, ErrInsufficientSamples
	}
	if numTrees <= 0 {
		numTrees = 100
	}

	scaler := fitScaler(vectors)
	standardized := make([][numFeatures]float64, len(vectors))
	for i, v := range vectors {
		standardized[i] = scaler.transform(v)
	}

	forest := trainForest(standardized, numTrees, time.Now().UnixNano())

	return &Model{
		Scaler:          scaler,
		Forest:          forest,
		TrainedAt:       time.Now().UTC(),
		TrainingSamples: len(vectors),
		NumTrees:        numTrees,
		Threshold:       threshold,
	}, nil
}

// Score returns (normalized anomaly score in 0-1, isAnomaly) for a
// single feature vector, sigmoid-normalizing the raw isolation score
// the same way the original engine sigmoid-normalizes decision_function
// output.
func (m *Model) Score(v []float64) (float64, bool) {
	if m == nil || m.Forest == nil {
		return 0.0, false
	}
	std := m.Scaler.transform(v)
	raw := m.Forest.score(std)

	// raw is already in (0,1) from the 2^(-avg/c) formula; push it
	// through a sigmoid centered at 0.5 to match the spec's "higher
	// score = more anomalous" calibration used by sklearn's
	// decision_function + sigmoid pipeline.
	normalized := 1.0 / (1.0 + math.Exp(-(raw-0.5)*10))
	return normalized, normalized >= m.Threshold
}

// Marshal gob-encodes the model for storage, replacing pickle.dumps.
func (m *Model) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal gob-decodes a model blob, replacing pickle.loads.
func Unmarshal(blob []byte) (*Model, error) {
	var m Model
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Holder hot-swaps the active model without blocking readers —
// lock-free the same way spec.md §4.5 requires ("retraining never
// blocks in-flight scoring").
type Holder struct {
	ptr atomic.Pointer[Model]
}

func (h *Holder) Store(m *Model) { h.ptr.Store(m) }
func (h *Holder) Load() *Model   { return h.ptr.Load() }

// VectorOf adapts a model.FeatureContext to the flat slice Train/Score
// expect.
func VectorOf(fc model.FeatureContext) []float64 {
	return fc.Vector()
}
