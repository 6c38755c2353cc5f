package vecindex

import (
	"fmt"
	"slices"
)

// IVF is an inverted-file index: vectors are bucketed by their nearest
// centroid and a query scans only the nprobe closest buckets.
type IVF struct {
	// dim is the vector dimensionality.
	dim int
	// nprobe is the number of partitions scanned per query.
	nprobe int
	// centroids are the normalised partition centres.
	centroids [][]float32
	// lists[c] holds the positions assigned to centroids[c].
	lists [][]int
	// vectors holds normalised vectors in insertion order.
	vectors [][]float32
}

// TrainIVF clusters vectors into nlist partitions with spherical k-means and
// indexes them. Centroid seeding is deterministic so a rebuilt index over the
// same corpus answers identically.
func TrainIVF(vectors [][]float32, nlist, nprobe int) (*IVF, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("vecindex: cannot train IVF on an empty corpus")
	}
	dim, err := checkDims(0, vectors)
	if err != nil {
		return nil, err
	}
	if nlist < 1 {
		nlist = 1
	}
	if nlist > len(vectors) {
		nlist = len(vectors)
	}
	if nprobe <= 0 {
		nprobe = DefaultNProbe
	}
	if nprobe > nlist {
		nprobe = nlist
	}

	normed := make([][]float32, len(vectors))
	for i, v := range vectors {
		normed[i] = Normalize(v)
	}

	centroids := make([][]float32, nlist)
	for c := range centroids {
		centroids[c] = slices.Clone(normed[c*len(normed)/nlist])
	}

	assign := make([]int, len(normed))
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < trainIterations; iter++ {
		changed := false
		for i, v := range normed {
			c := nearest(centroids, v)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float32, nlist)
		counts := make([]int, nlist)
		for i, v := range normed {
			c := assign[i]
			if sums[c] == nil {
				sums[c] = make([]float32, dim)
			}
			for d := range v {
				sums[c][d] += v[d]
			}
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			centroids[c] = Normalize(sums[c])
		}
	}

	idx := &IVF{
		dim:       dim,
		nprobe:    nprobe,
		centroids: centroids,
		lists:     make([][]int, nlist),
	}
	// Bucket against the final centroids, which may have moved after the
	// last assignment pass.
	for i, v := range normed {
		idx.vectors = append(idx.vectors, v)
		c := nearest(centroids, v)
		idx.lists[c] = append(idx.lists[c], i)
	}
	return idx, nil
}

func nearest(centroids [][]float32, v []float32) int {
	best, bestScore := 0, float32(0)
	for c, centroid := range centroids {
		s := dot(centroid, v)
		if c == 0 || s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// Add implements [Index]. New vectors join the partition of their nearest
// existing centroid; centroids are not retrained.
func (x *IVF) Add(vectors [][]float32) error {
	if _, err := checkDims(x.dim, vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		n := Normalize(v)
		pos := len(x.vectors)
		x.vectors = append(x.vectors, n)
		c := nearest(x.centroids, n)
		x.lists[c] = append(x.lists[c], pos)
	}
	return nil
}

// Search implements [Index].
func (x *IVF) Search(query []float32, k int) []Hit {
	if k <= 0 {
		return nil
	}
	if len(query) != x.dim {
		return topK(nil, k)
	}
	q := Normalize(query)

	probes := make([]Hit, len(x.centroids))
	for c, centroid := range x.centroids {
		probes[c] = Hit{Position: c, Score: dot(q, centroid)}
	}
	probes = topK(probes, x.nprobe)

	var hits []Hit
	for _, p := range probes {
		if p.Position == NoMatch {
			continue
		}
		for _, pos := range x.lists[p.Position] {
			hits = append(hits, Hit{Position: pos, Score: dot(q, x.vectors[pos])})
		}
	}
	return topK(hits, k)
}

// NList returns the number of partitions.
func (x *IVF) NList() int { return len(x.centroids) }

// Len implements [Index].
func (x *IVF) Len() int { return len(x.vectors) }

// Dim implements [Index].
func (x *IVF) Dim() int { return x.dim }

// Kind implements [Index].
func (x *IVF) Kind() string { return "ivf" }
