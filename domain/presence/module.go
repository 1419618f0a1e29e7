package presence

import (
	"context"

	"go.uber.org/fx"

	"github.com/perimetric/facegate/domain/recognition"
)

// Module provides the presence domain: the detection-folding engine, its
// persistence mirror and the occupancy API.
var Module = fx.Module("presence",
	fx.Provide(NewRepository),
	fx.Provide(NewEngine),
	fx.Provide(func(e *Engine) recognition.Sink { return e }),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterEngineLifecycle),
)

// RegisterEngineLifecycle restores persisted state on startup and flushes
// the queues on shutdown.
func RegisterEngineLifecycle(lc fx.Lifecycle, engine *Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return engine.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return engine.Stop(ctx)
		},
	})
}
