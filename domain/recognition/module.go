package recognition

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/perimetric/facegate/pkg/logger"
)

// Module provides the recognition domain: camera topology, per-camera
// pipelines and their control surface.
var Module = fx.Module("recognition",
	fx.Provide(func() SourceFactory { return NewMJPEGSource }),
	fx.Provide(NewManager),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterCameraLifecycle),
)

// RegisterCameraLifecycle optionally starts all cameras with the process
// and always stops them on shutdown.
func RegisterCameraLifecycle(lc fx.Lifecycle, manager *Manager, log *slog.Logger) {
	log = log.With(logger.Scope("recognition"))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if !manager.cfg.Recognition.AutoStart {
				return nil
			}
			if len(manager.Cameras()) == 0 {
				log.Warn("camera autostart enabled but no cameras configured")
				return nil
			}
			return manager.StartAll()
		},
		OnStop: func(ctx context.Context) error {
			return manager.StopAll(ctx)
		},
	})
}
