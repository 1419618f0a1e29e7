package recognition

import (
	"time"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/pkg/mathutil"
)

// Detection is one recognized or unknown face observation from a camera.
// Timestamp is the frame's capture time, not the time matching finished.
type Detection struct {
	TenantID   string     `json:"tenantId"`
	CampusID   string     `json:"campusId"`
	CameraID   string     `json:"cameraId"`
	CameraRole string     `json:"cameraRole"`
	Timestamp  time.Time  `json:"timestamp"`
	SubjectID  string     `json:"subjectId,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Name       string     `json:"name,omitempty"`
	Score      float32    `json:"score"`
	Embedding  []float32  `json:"-"`
	BBox       [4]float32 `json:"bbox"`
}

// Unknown reports whether this detection carries an unmatched face.
func (d Detection) Unknown() bool { return d.SubjectID == "" }

// Sink receives detections from the camera pipelines.
type Sink interface {
	HandleDetection(d Detection)
}

// Verdict classifies a match attempt.
type Verdict int

const (
	// VerdictIdentified means the best score cleared the recognition
	// threshold.
	VerdictIdentified Verdict = iota
	// VerdictUnknown means the best score fell below the unknown
	// threshold: this face belongs to nobody in the catalog.
	VerdictUnknown
	// VerdictAmbiguous covers the band between the two thresholds, where
	// neither claim is safe and nothing is emitted.
	VerdictAmbiguous
)

// Matcher resolves face embeddings against a catalog snapshot.
type Matcher struct {
	recognitionThreshold float32
	unknownThreshold     float32
}

func NewMatcher(cfg *config.Config) *Matcher {
	return &Matcher{
		recognitionThreshold: float32(cfg.Recognition.RecognitionThreshold),
		unknownThreshold:     float32(cfg.Recognition.UnknownThreshold),
	}
}

// Match finds the catalog entry with the highest dot-product similarity to
// the unit-normalized embedding f. An empty snapshot is ambiguous by
// definition: with nothing to compare against, no claim is safe.
func (m *Matcher) Match(entries []catalog.Entry, f []float32) (catalog.Entry, float32, Verdict) {
	if len(entries) == 0 {
		return catalog.Entry{}, -1, VerdictAmbiguous
	}

	best := entries[0]
	bestScore := mathutil.Dot(f, entries[0].Embedding)
	for _, e := range entries[1:] {
		if score := mathutil.Dot(f, e.Embedding); score > bestScore {
			best = e
			bestScore = score
		}
	}

	switch {
	case bestScore >= m.recognitionThreshold:
		return best, bestScore, VerdictIdentified
	case bestScore < m.unknownThreshold:
		return catalog.Entry{}, bestScore, VerdictUnknown
	default:
		return catalog.Entry{}, bestScore, VerdictAmbiguous
	}
}
