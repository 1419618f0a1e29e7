package catalog

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/perimetric/facegate/pkg/logger"
)

// Module provides the embedding catalog domain
var Module = fx.Module("catalog",
	fx.Provide(NewRepository),
	fx.Provide(NewService),
	fx.Provide(NewStore),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterInitialLoad),
)

// RegisterInitialLoad performs the first full catalog load synchronously at
// startup. A failed load does not abort the process: the store stays empty
// and the next scheduled sync retries the full load.
func RegisterInitialLoad(lc fx.Lifecycle, store *Store, log *slog.Logger) {
	log = log.With(logger.Scope("catalog"))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := store.Sync(ctx); err != nil {
				log.Error("initial catalog load failed", logger.Error(err))
			}
			return nil
		},
	})
}
