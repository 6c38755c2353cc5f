// Package vecindex is the in-process nearest-neighbour index behind the local
// vector store.
//
// Vectors are L2-normalised on insert and at query time, so the inner product
// used for scoring equals cosine similarity. Small corpora get an exhaustive
// [Flat] index; larger ones get an [IVF] index that partitions vectors around
// k-means centroids and scans only the closest partitions.
package vecindex

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// NoMatch is the position reported for padding hits when fewer than k
// vectors are available.
const NoMatch = -1

const (
	// DefaultIVFThreshold is the corpus size at which Build switches from a
	// flat index to an IVF index.
	DefaultIVFThreshold = 1000
	// DefaultNProbe is the number of IVF partitions scanned per query.
	DefaultNProbe = 8
	// minPointsPerCentroid bounds nlist so every centroid has enough
	// training points.
	minPointsPerCentroid = 39
	trainIterations      = 20
)

// ErrDimension is returned when a vector's length differs from the index's.
var ErrDimension = errors.New("vecindex: dimension mismatch")

// Hit is a single search result.
type Hit struct {
	// Position is the insertion order of the matched vector, or NoMatch.
	Position int `json:"position"`
	// Score is the cosine similarity to the query. Higher is closer.
	Score float32 `json:"score"`
}

// Index is implemented by [Flat] and [IVF].
type Index interface {
	// Add appends vectors. Their positions continue from Len().
	Add(vectors [][]float32) error
	// Search returns exactly k hits in descending score order, padded with
	// NoMatch entries when the index holds fewer than k vectors.
	Search(query []float32, k int) []Hit
	// Len returns the number of indexed vectors.
	Len() int
	// Dim returns the vector dimensionality, or 0 before the first Add.
	Dim() int
	// Kind names the index type ("flat" or "ivf").
	Kind() string
}

// Options tunes [Build].
type Options struct {
	// IVFThreshold is the minimum corpus size for an IVF index.
	// Zero means DefaultIVFThreshold.
	IVFThreshold int
	// NProbe is the number of IVF partitions scanned per query.
	// Zero means DefaultNProbe.
	NProbe int
}

// Build indexes vectors, choosing the index type by corpus size.
func Build(vectors [][]float32, opts Options) (Index, error) {
	threshold := opts.IVFThreshold
	if threshold <= 0 {
		threshold = DefaultIVFThreshold
	}
	if len(vectors) < threshold {
		f := NewFlat(0)
		if err := f.Add(vectors); err != nil {
			return nil, err
		}
		return f, nil
	}
	return TrainIVF(vectors, NListFor(len(vectors)), opts.NProbe)
}

// NListFor returns the partition count used for a corpus of n vectors:
// four times the square root of n, capped so each partition averages at
// least minPointsPerCentroid vectors.
func NListFor(n int) int {
	nlist := int(4 * math.Sqrt(float64(n)))
	if limit := n / minPointsPerCentroid; nlist > limit {
		nlist = limit
	}
	if nlist < 1 {
		nlist = 1
	}
	return nlist
}

// Normalize returns a unit-length copy of v. A zero vector is returned as
// zeros.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// topK sorts hits by descending score (ties by position) and returns k of
// them, padding with NoMatch.
func topK(hits []Hit, k int) []Hit {
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.Position - b.Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	for len(hits) < k {
		hits = append(hits, Hit{Position: NoMatch, Score: float32(math.Inf(-1))})
	}
	return hits
}

func checkDims(dim int, vectors [][]float32) (int, error) {
	for i, v := range vectors {
		if len(v) == 0 {
			return dim, fmt.Errorf("vecindex: vector %d is empty", i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return dim, fmt.Errorf("%w: vector %d has %d dims, index has %d", ErrDimension, i, len(v), dim)
		}
	}
	return dim, nil
}
