package health

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/perimetric/facegate/pkg/syshealth"
)

var Module = fx.Module("health",
	fx.Provide(
		NewSystemMonitor,
		NewHandler,
		NewMetricsHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterMonitorLifecycle,
	),
)

// NewSystemMonitor creates the resource monitor the worker's adaptive
// concurrency and the health endpoint both read from.
func NewSystemMonitor(db *bun.DB, log *slog.Logger) syshealth.Monitor {
	return syshealth.NewMonitor(syshealth.DefaultConfig(), db, log)
}

// RegisterMonitorLifecycle starts the collection loop with the process.
func RegisterMonitorLifecycle(lc fx.Lifecycle, monitor syshealth.Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return monitor.Start()
		},
		OnStop: func(context.Context) error {
			return monitor.Stop()
		},
	})
}
