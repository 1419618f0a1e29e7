package recognition

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/pkg/inference"
	"github.com/perimetric/facegate/pkg/logger"
	"github.com/perimetric/facegate/pkg/mathutil"
)

// Camera unit states as reported by the manager.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

// Detector produces face detections with embeddings for a single frame.
// Satisfied by *inference.Client.
type Detector interface {
	Detect(ctx context.Context, image []byte, model string) ([]inference.Face, error)
}

type snapshotter interface {
	Snapshot(tenantID string) []catalog.Entry
}

// CameraStatus is the externally visible state of one camera unit.
type CameraStatus struct {
	Camera            Camera     `json:"camera"`
	State             string     `json:"state"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	FramesCaptured    int64      `json:"framesCaptured"`
	FramesDropped     int64      `json:"framesDropped"`
	FacesDetected     int64      `json:"facesDetected"`
	Identified        int64      `json:"identified"`
	Unknown           int64      `json:"unknown"`
	DetectionsDropped int64      `json:"detectionsDropped"`
}

// pipeline is one camera unit: capture, recognize and emit stages joined
// by bounded channels. A full channel drops the newest frame so the
// pipeline always works on the freshest input it managed to keep.
type pipeline struct {
	camera    Camera
	cfg       *config.Config
	source    FrameSource
	detector  Detector
	snapshots snapshotter
	matcher   *Matcher
	sink      Sink
	log       *slog.Logger
	limiter   *rate.Limiter

	frames     chan Frame
	detections chan Detection
	done       chan struct{}

	mu        sync.Mutex
	state     string
	startedAt time.Time

	framesCaptured    atomic.Int64
	framesDropped     atomic.Int64
	facesDetected     atomic.Int64
	identified        atomic.Int64
	unknown           atomic.Int64
	detectionsDropped atomic.Int64
}

func newPipeline(
	cam Camera,
	cfg *config.Config,
	source FrameSource,
	detector Detector,
	snapshots snapshotter,
	sink Sink,
	log *slog.Logger,
) *pipeline {
	return &pipeline{
		camera:     cam,
		cfg:        cfg,
		source:     source,
		detector:   detector,
		snapshots:  snapshots,
		matcher:    NewMatcher(cfg),
		sink:       sink,
		log:        log.With(slog.String("camera_id", cam.ID), slog.String("campus_id", cam.CampusID)),
		limiter:    rate.NewLimiter(rate.Limit(cfg.Recognition.LogPerSecond), 1),
		frames:     make(chan Frame, cfg.Recognition.FrameQueueSize),
		detections: make(chan Detection, cfg.Recognition.ResultQueueSize),
		done:       make(chan struct{}),
		state:      StateStarting,
	}
}

func (p *pipeline) run(ctx context.Context) {
	defer close(p.done)
	p.mu.Lock()
	p.startedAt = time.Now().UTC()
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.captureLoop(ctx) }()
	go func() { defer wg.Done(); p.recognizeLoop(ctx) }()
	go func() { defer wg.Done(); p.emitLoop() }()
	wg.Wait()

	p.mu.Lock()
	if p.state != StateFailed {
		p.state = StateStopped
	}
	p.mu.Unlock()
	p.log.Info("camera unit stopped")
}

func (p *pipeline) setState(state string) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *pipeline) status() CameraStatus {
	p.mu.Lock()
	state, startedAt := p.state, p.startedAt
	p.mu.Unlock()

	st := CameraStatus{
		Camera:            p.camera,
		State:             state,
		FramesCaptured:    p.framesCaptured.Load(),
		FramesDropped:     p.framesDropped.Load(),
		FacesDetected:     p.facesDetected.Load(),
		Identified:        p.identified.Load(),
		Unknown:           p.unknown.Load(),
		DetectionsDropped: p.detectionsDropped.Load(),
	}
	if !startedAt.IsZero() {
		st.StartedAt = &startedAt
	}
	return st
}

// captureLoop reads frames until shutdown. After the configured run of
// consecutive read failures the source is reopened once; if the reopen
// fails too, the unit exits and waits for an external restart.
func (p *pipeline) captureLoop(ctx context.Context) {
	defer close(p.frames)

	if err := p.source.Open(ctx); err != nil {
		p.log.Error("failed to open camera source", logger.Error(err))
		p.setState(StateFailed)
		return
	}
	defer p.source.Close()
	p.setState(StateRunning)
	p.log.Info("camera source opened", slog.String("role", p.camera.Role))

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := p.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= p.cfg.Recognition.MaxReadFailures {
				p.log.Warn("too many consecutive read failures, reopening source",
					slog.Int("failures", failures))
				p.source.Close()
				if err := p.source.Open(ctx); err != nil {
					p.log.Error("source reopen failed, camera unit exiting", logger.Error(err))
					p.setState(StateFailed)
					return
				}
				failures = 0
				continue
			}
			if p.limiter.Allow() {
				p.log.Warn("failed to read frame", logger.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		failures = 0
		p.framesCaptured.Add(1)
		select {
		case p.frames <- frame:
		default:
			p.framesDropped.Add(1)
		}
	}
}

// recognizeLoop matches faces in every other frame against the tenant's
// catalog snapshot. Detection runs serially per camera: model instances
// are not assumed re-entrant.
func (p *pipeline) recognizeLoop(ctx context.Context) {
	defer close(p.detections)

	model := p.cfg.Training.Model
	frameCount := 0
	for frame := range p.frames {
		if ctx.Err() != nil {
			continue // draining during shutdown
		}
		frameCount++
		if frameCount%2 != 0 {
			continue
		}

		snapshot := p.snapshots.Snapshot(p.camera.TenantID)
		if len(snapshot) == 0 {
			if p.limiter.Allow() {
				p.log.Warn("no embeddings loaded for tenant, skipping frame",
					slog.String("tenant_id", p.camera.TenantID))
			}
			continue
		}

		faces, err := p.detector.Detect(ctx, frame.Data, model)
		if err != nil {
			if p.limiter.Allow() {
				p.log.Warn("detect failed, dropping frame", logger.Error(err))
			}
			continue
		}
		p.facesDetected.Add(int64(len(faces)))

		for _, face := range faces {
			f := mathutil.Normalize(face.Embedding)
			entry, score, verdict := p.matcher.Match(snapshot, f)

			switch verdict {
			case VerdictIdentified:
				p.identified.Add(1)
				p.offer(Detection{
					TenantID:   p.camera.TenantID,
					CampusID:   p.camera.CampusID,
					CameraID:   p.camera.ID,
					CameraRole: p.camera.Role,
					Timestamp:  frame.At,
					SubjectID:  entry.SubjectID,
					Kind:       entry.Kind,
					Name:       entry.Name,
					Score:      score,
					BBox:       face.BBox,
				})
			case VerdictUnknown:
				p.unknown.Add(1)
				p.offer(Detection{
					TenantID:   p.camera.TenantID,
					CampusID:   p.camera.CampusID,
					CameraID:   p.camera.ID,
					CameraRole: p.camera.Role,
					Timestamp:  frame.At,
					Score:      score,
					Embedding:  f,
					BBox:       face.BBox,
				})
			case VerdictAmbiguous:
				// Neither claim is safe, emit nothing.
			}
		}
	}
}

func (p *pipeline) offer(d Detection) {
	select {
	case p.detections <- d:
	default:
		p.detectionsDropped.Add(1)
	}
}

func (p *pipeline) emitLoop() {
	for d := range p.detections {
		p.sink.HandleDetection(d)
		if p.limiter.Allow() {
			if d.Unknown() {
				p.log.Info("unknown face observed",
					slog.Float64("score", float64(d.Score)))
			} else {
				p.log.Info("subject recognized",
					slog.String("subject_id", d.SubjectID),
					slog.Float64("score", float64(d.Score)))
			}
		}
	}
}
