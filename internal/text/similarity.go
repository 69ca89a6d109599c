package text

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length or zero magnitude score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SimilarityMatrix computes the full pairwise cosine similarity matrix.
func SimilarityMatrix(vectors [][]float32) [][]float64 {
	n := len(vectors)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		m[i][i] = CosineSimilarity(vectors[i], vectors[i])
		for j := i + 1; j < n; j++ {
			s := CosineSimilarity(vectors[i], vectors[j])
			m[i][j] = s
			m[j][i] = s
		}
	}
	return m
}
