// Package main provides the entry point for the facegate API server.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/domain/health"
	"github.com/perimetric/facegate/domain/presence"
	"github.com/perimetric/facegate/domain/recognition"
	"github.com/perimetric/facegate/domain/scheduler"
	"github.com/perimetric/facegate/domain/tracing"
	"github.com/perimetric/facegate/domain/training"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/internal/database"
	"github.com/perimetric/facegate/internal/migrate"
	"github.com/perimetric/facegate/internal/server"
	"github.com/perimetric/facegate/internal/storage"
	"github.com/perimetric/facegate/pkg/inference"
	"github.com/perimetric/facegate/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,
		storage.Module,
		tracing.Module,

		// Inference sidecar client (face detection and embedding)
		inference.Module,

		// Domain modules
		health.Module,
		catalog.Module,
		training.Module,
		recognition.Module,
		presence.Module,

		// Scheduler module (cron-based scheduled tasks)
		scheduler.Module,
	).Run()
}
