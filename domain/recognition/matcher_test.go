package recognition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/internal/config"
)

func testMatcher() *Matcher {
	cfg := &config.Config{}
	cfg.Recognition.RecognitionThreshold = 0.45
	cfg.Recognition.UnknownThreshold = 0.35
	return NewMatcher(cfg)
}

func TestMatchPicksArgmax(t *testing.T) {
	m := testMatcher()
	entries := []catalog.Entry{
		{SubjectID: "a", Embedding: []float32{1, 0}},
		{SubjectID: "b", Embedding: []float32{0.6, 0.8}},
		{SubjectID: "c", Embedding: []float32{0, 1}},
	}

	entry, score, verdict := m.Match(entries, []float32{0.6, 0.8})
	assert.Equal(t, VerdictIdentified, verdict)
	assert.Equal(t, "b", entry.SubjectID)
	assert.InDelta(t, 1.0, float64(score), 1e-5)
}

func TestMatchVerdictBands(t *testing.T) {
	m := testMatcher()
	entries := []catalog.Entry{{SubjectID: "a", Embedding: []float32{1, 0}}}

	tests := []struct {
		name string
		face []float32
		want Verdict
	}{
		{name: "clear match", face: []float32{1, 0}, want: VerdictIdentified},
		{name: "exactly at recognition threshold", face: []float32{0.45, 0.893}, want: VerdictIdentified},
		{name: "ambiguous band", face: []float32{0.40, 0.9165}, want: VerdictAmbiguous},
		{name: "just under unknown threshold", face: []float32{0.34, 0.9404}, want: VerdictUnknown},
		{name: "orthogonal face", face: []float32{0, 1}, want: VerdictUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, verdict := m.Match(entries, tt.face)
			assert.Equal(t, tt.want, verdict)
		})
	}
}

func TestMatchEmptySnapshotIsAmbiguous(t *testing.T) {
	m := testMatcher()
	_, score, verdict := m.Match(nil, []float32{1, 0})
	assert.Equal(t, VerdictAmbiguous, verdict)
	assert.Equal(t, float32(-1), score)
}

func TestMatchUnknownCarriesNoIdentity(t *testing.T) {
	m := testMatcher()
	entries := []catalog.Entry{{SubjectID: "a", Name: "Alice", Embedding: []float32{1, 0}}}

	entry, _, verdict := m.Match(entries, []float32{0, 1})
	assert.Equal(t, VerdictUnknown, verdict)
	assert.Empty(t, entry.SubjectID, "an unknown verdict must not leak the best candidate")
}
