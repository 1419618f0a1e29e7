package training

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/perimetric/facegate/pkg/logger"
)

// Module provides the training domain: the job queue, the embedding
// worker, and the duplicate janitor.
var Module = fx.Module("training",
	fx.Provide(NewQueue),
	fx.Provide(NewWorker),
	fx.Provide(NewJanitor),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterWorkerLifecycle),
)

// RegisterWorkerLifecycle starts the embedding worker with the process and
// stops it on shutdown. A recovery pass runs first so work orphaned by a
// previous crash of this instance is leasable immediately.
func RegisterWorkerLifecycle(lc fx.Lifecycle, worker *Worker, queue *Queue, log *slog.Logger) {
	log = log.With(logger.Scope("training"))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, _, err := queue.Recover(ctx); err != nil {
				log.Warn("startup job recovery failed", logger.Error(err))
			}
			return worker.Start()
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
