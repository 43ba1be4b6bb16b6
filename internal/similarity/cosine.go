// Package similarity implements the brute-force cosine ranking used by
// stores without a native vector operator.
package similarity

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when two vectors differ in length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Cosine returns the cosine similarity of a and b. A zero-magnitude vector
// has similarity 0 with everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Candidate is one stored vector considered for ranking. Position is the
// insertion order used to break score ties.
type Candidate[T any] struct {
	Item     T
	Vector   []float32
	Position int
}

// Ranked is a scored candidate.
type Ranked[T any] struct {
	Item  T
	Score float64
}

// Rank scores every candidate against query in O(n), drops those below
// minScore and returns at most topK in descending score, ties in insertion
// order. A length mismatch on any candidate is returned as an error.
func Rank[T any](query []float32, candidates []Candidate[T], topK int, minScore float64) ([]Ranked[T], error) {
	if topK <= 0 || len(candidates) == 0 {
		return []Ranked[T]{}, nil
	}

	type scored struct {
		Ranked[T]
		pos int
	}
	all := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s, err := Cosine(query, c.Vector)
		if err != nil {
			return nil, err
		}
		if minScore > 0 && s < minScore {
			continue
		}
		all = append(all, scored{Ranked: Ranked[T]{Item: c.Item, Score: s}, pos: c.Position})
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].pos < all[j].pos
	})

	if len(all) > topK {
		all = all[:topK]
	}
	out := make([]Ranked[T], len(all))
	for i, s := range all {
		out[i] = s.Ranked
	}
	return out, nil
}
