// Package embeddings produces fixed-dimension text embeddings used for
// similar-frame search. Vectors come from hashed token features, so the
// same text always maps to the same vector without an external model.
package embeddings

import (
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Dim is the embedding dimensionality stored in the frames table.
const Dim = 64

// Service generates and caches text embeddings.
type Service struct {
	cache sync.Map
}

// NewService creates an embedding service with an empty cache.
func NewService() *Service {
	return &Service{}
}

// Embed returns the L2-normalized feature-hash embedding for content.
// Identical content always yields an identical vector.
func (s *Service) Embed(content string) []float32 {
	if cached, ok := s.cache.Load(content); ok {
		if vec, valid := cached.([]float32); valid {
			return vec
		}
	}

	vec := make([]float32, Dim)
	for _, token := range Tokenize(content) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		idx := int(sum % Dim)
		// Sign bit from a higher hash bit keeps buckets from only growing.
		if sum&(1<<32) != 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}

	s.cache.Store(content, vec)
	return vec
}

// Tokenize lowercases content and splits it into alphanumeric tokens.
func Tokenize(content string) []string {
	return strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}
