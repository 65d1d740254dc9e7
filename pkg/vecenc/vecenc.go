// Package vecenc encodes/decodes float32 embedding vectors to the
// little-endian byte blobs stored in SQLite BLOB columns. Shared by
// pkg/turns, pkg/facts, and pkg/embedcache so every table that stores
// an embedding uses one wire format.
package vecenc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serialises vec as consecutive little-endian float32s.
func Encode(vec []float32) ([]byte, error) {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// Decode parses a blob written by Encode back into a float32 vector.
func Decode(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vecenc: buffer length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// CosineSimilarity returns the cosine similarity of a and b, normalised
// to [0,1] (raw cosine is in [-1,1]; the retriever wants a [0,1] score).
// Returns 0 if either vector is empty or a zero vector.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}
