package vecindex

// Flat scores the query against every stored vector.
type Flat struct {
	// dim is fixed by the first Add; zero until then.
	dim int
	// vectors holds normalised vectors in insertion order.
	vectors [][]float32
}

// NewFlat returns an empty flat index. dim may be 0, in which case the first
// Add fixes it.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Add implements [Index].
func (f *Flat) Add(vectors [][]float32) error {
	dim, err := checkDims(f.dim, vectors)
	if err != nil {
		return err
	}
	f.dim = dim
	for _, v := range vectors {
		f.vectors = append(f.vectors, Normalize(v))
	}
	return nil
}

// Search implements [Index].
func (f *Flat) Search(query []float32, k int) []Hit {
	if k <= 0 {
		return nil
	}
	if len(query) != f.dim {
		return topK(nil, k)
	}
	q := Normalize(query)
	hits := make([]Hit, 0, len(f.vectors))
	for i, v := range f.vectors {
		hits = append(hits, Hit{Position: i, Score: dot(q, v)})
	}
	return topK(hits, k)
}

// Len implements [Index].
func (f *Flat) Len() int { return len(f.vectors) }

// Dim implements [Index].
func (f *Flat) Dim() int { return f.dim }

// Kind implements [Index].
func (f *Flat) Kind() string { return "flat" }
