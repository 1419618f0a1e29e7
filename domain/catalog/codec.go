package catalog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding blobs use a small self-describing binary layout:
//
//	bytes 0..3   magic "FGE1"
//	bytes 4..7   dimension, uint32 little-endian
//	bytes 8..    dimension float32 values, little-endian
//
// The layout is an internal contract between the store and the training
// worker; DecodeEmbedding rejects anything that does not match it exactly.

const (
	blobMagic     = "FGE1"
	blobHeaderLen = 8
)

// EncodeEmbedding serializes a vector into the blob layout.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, blobHeaderLen+4*len(vec))
	copy(buf[:4], blobMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[blobHeaderLen+4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding parses a blob produced by EncodeEmbedding. Encode and
// decode round-trip bit-exact, including NaN payloads.
func DecodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob) < blobHeaderLen {
		return nil, fmt.Errorf("embedding blob: %d bytes is too short", len(blob))
	}
	if string(blob[:4]) != blobMagic {
		return nil, fmt.Errorf("embedding blob: bad magic %q", blob[:4])
	}
	dim := int(binary.LittleEndian.Uint32(blob[4:8]))
	if want := blobHeaderLen + 4*dim; len(blob) != want {
		return nil, fmt.Errorf("embedding blob: dim %d needs %d bytes, have %d", dim, want, len(blob))
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[blobHeaderLen+4*i:]))
	}
	return vec, nil
}
