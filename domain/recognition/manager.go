package recognition

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/pkg/apperror"
	"github.com/perimetric/facegate/pkg/inference"
	"github.com/perimetric/facegate/pkg/logger"
)

// Manager owns the camera units. It loads the static topology at
// construction and starts or stops all units together.
type Manager struct {
	cfg       *config.Config
	store     *catalog.Store
	detector  Detector
	sink      Sink
	newSource SourceFactory
	log       *slog.Logger

	mu        sync.Mutex
	cameras   []Camera
	pipelines map[string]*pipeline
	cancel    context.CancelFunc
	running   bool
}

func NewManager(
	cfg *config.Config,
	store *catalog.Store,
	detector *inference.Client,
	sink Sink,
	newSource SourceFactory,
	log *slog.Logger,
) (*Manager, error) {
	log = log.With(logger.Scope("recognition"))

	cameras, err := LoadCameras(cfg.Recognition.CameraConfig)
	switch {
	case os.IsNotExist(err):
		log.Warn("camera config not found, recognition runs without cameras",
			slog.String("path", cfg.Recognition.CameraConfig))
	case err != nil:
		return nil, err
	default:
		log.Info("camera topology loaded", slog.Int("cameras", len(cameras)))
	}

	return &Manager{
		cfg:       cfg,
		store:     store,
		detector:  detector,
		sink:      sink,
		newSource: newSource,
		log:       log,
		cameras:   cameras,
	}, nil
}

// Cameras returns the configured topology.
func (m *Manager) Cameras() []Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Camera, len(m.cameras))
	copy(out, m.cameras)
	return out
}

// Running reports whether camera units are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// StartAll launches one pipeline per configured camera.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return apperror.NewConflict("cameras are already running")
	}
	if len(m.cameras) == 0 {
		return apperror.NewBadRequest("no cameras configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.pipelines = make(map[string]*pipeline, len(m.cameras))
	for _, cam := range m.cameras {
		p := newPipeline(cam, m.cfg, m.newSource(cam.Source, m.cfg),
			m.detector, m.store, m.sink, m.log)
		m.pipelines[cam.ID] = p
		go p.run(ctx)
	}
	m.running = true
	m.log.Info("camera units started", slog.Int("cameras", len(m.pipelines)))
	return nil
}

// StopAll cancels every camera unit and waits for them to drain, or for
// ctx to expire.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	pipelines := m.pipelines
	m.mu.Unlock()

	cancel()
	for _, p := range pipelines {
		select {
		case <-p.done:
		case <-ctx.Done():
			m.log.Warn("camera shutdown timed out", slog.String("camera_id", p.camera.ID))
			return ctx.Err()
		}
	}
	m.log.Info("camera units stopped")
	return nil
}

// Status reports every camera unit's state and counters, sorted by camera
// id. Cameras that were never started report as idle topology entries.
func (m *Manager) Status() []CameraStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CameraStatus, 0, len(m.cameras))
	for _, cam := range m.cameras {
		if p, ok := m.pipelines[cam.ID]; ok {
			out = append(out, p.status())
			continue
		}
		out = append(out, CameraStatus{Camera: cam, State: StateStopped})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Camera.ID < out[j].Camera.ID })
	return out
}
