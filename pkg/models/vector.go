// Package models defines the core data model shared by the embedding,
// cache, storage, and search packages.
package models

import (
	"math"
)

// Vector is a fixed-length embedding vector. Dimensionality is fixed per
// model; all vectors stored under the same (tenant, model) pair must share it.
type Vector []float32

// Norm returns the Euclidean norm of the vector
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsZero reports whether the vector is empty or has zero norm
func (v Vector) IsZero() bool {
	if len(v) == 0 {
		return true
	}
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy of the vector
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// CosineSimilarity computes dot(a,b) / (||a||*||b||). Dimension mismatch and
// zero-norm inputs are validation errors; they are rejected here rather than
// silently producing NaN scores.
func CosineSimilarity(a, b Vector) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, NewValidationError("vector", "empty vector")
	}
	if len(a) != len(b) {
		return 0, NewValidationError("vector", "dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, NewValidationError("vector", "zero-norm vector")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Centroid computes the component-wise mean of a non-empty set of vectors
// sharing one dimensionality.
func Centroid(vectors []Vector) (Vector, error) {
	if len(vectors) == 0 {
		return nil, NewValidationError("vectors", "cannot compute centroid of empty set")
	}
	dims := len(vectors[0])
	sums := make([]float64, dims)
	for _, v := range vectors {
		if len(v) != dims {
			return nil, NewValidationError("vectors", "dimension mismatch: %d vs %d", len(v), dims)
		}
		for i, x := range v {
			sums[i] += float64(x)
		}
	}
	out := make(Vector, dims)
	n := float64(len(vectors))
	for i, s := range sums {
		out[i] = float32(s / n)
	}
	return out, nil
}
