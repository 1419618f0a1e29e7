package catalog

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vectors := [][]float32{
		{},
		{0},
		{1, 2, 3},
		{-0.5, 0.25, 1e-30, 3.4e38},
		{float32(math.Inf(1)), float32(math.Inf(-1))},
	}

	for _, vec := range vectors {
		blob := EncodeEmbedding(vec)
		got, err := DecodeEmbedding(blob)
		if err != nil {
			t.Fatalf("DecodeEmbedding(%v): %v", vec, err)
		}
		if len(got) != len(vec) {
			t.Fatalf("round trip length = %d, want %d", len(got), len(vec))
		}
		for i := range vec {
			if math.Float32bits(got[i]) != math.Float32bits(vec[i]) {
				t.Errorf("value %d = %x, want %x (not bit-exact)",
					i, math.Float32bits(got[i]), math.Float32bits(vec[i]))
			}
		}
	}
}

func TestEncodeEmbeddingLayout(t *testing.T) {
	blob := EncodeEmbedding([]float32{1.5, -2})

	if len(blob) != 16 {
		t.Fatalf("blob length = %d, want 16", len(blob))
	}
	if string(blob[:4]) != "FGE1" {
		t.Errorf("magic = %q, want FGE1", blob[:4])
	}
	if dim := binary.LittleEndian.Uint32(blob[4:8]); dim != 2 {
		t.Errorf("dim = %d, want 2", dim)
	}
	if bits := binary.LittleEndian.Uint32(blob[8:12]); bits != math.Float32bits(1.5) {
		t.Errorf("first value bits = %x, want %x", bits, math.Float32bits(1.5))
	}
}

func TestDecodeEmbeddingRejectsCorruptBlobs(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"too short", []byte("FGE")},
		{"bad magic", append([]byte("XXXX"), make([]byte, 8)...)},
		{"truncated payload", EncodeEmbedding([]float32{1, 2, 3})[:14]},
		{"trailing bytes", append(EncodeEmbedding([]float32{1}), 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEmbedding(tt.blob); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
