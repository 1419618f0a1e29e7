package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"8080"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Storage (MinIO/S3) settings for enrollment images and embedding blobs
	Storage StorageConfig

	// Inference sidecar settings (face detection + embedding extraction)
	Inference InferenceConfig

	// Catalog settings (in-memory embedding store)
	Catalog CatalogConfig

	// Training settings (job queue + enrollment worker)
	Training TrainingConfig

	// Recognition settings (camera pipelines)
	Recognition RecognitionConfig

	// Presence settings (state machine + persistence)
	Presence PresenceConfig

	// OpenTelemetry settings
	Otel OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"facegate"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"facegate"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// StorageConfig holds storage (MinIO/S3) configuration
type StorageConfig struct {
	// Endpoint is the MinIO/S3 endpoint URL
	Endpoint string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	// AccessKeyID is the access key ID
	AccessKeyID string `env:"MINIO_ACCESS_KEY" envDefault:""`
	// SecretAccessKey is the secret access key
	SecretAccessKey string `env:"MINIO_SECRET_KEY" envDefault:""`
	// Bucket holds enrollment images and embedding blobs
	Bucket string `env:"MINIO_BUCKET" envDefault:"facegate"`
	// UseSSL determines if SSL should be used
	UseSSL bool `env:"MINIO_USE_SSL" envDefault:"false"`
	// Region is the bucket region (for S3 compatibility)
	Region string `env:"MINIO_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// InferenceConfig holds the face inference sidecar configuration. The sidecar
// runs the detection models and returns faces with embeddings per frame.
type InferenceConfig struct {
	// ServiceURL is the inference sidecar base URL
	ServiceURL string `env:"INFERENCE_SERVICE_URL" envDefault:"http://localhost:8500"`
	// TimeoutMs is the per-request timeout in milliseconds
	TimeoutMs int `env:"INFERENCE_SERVICE_TIMEOUT" envDefault:"30000"`
	// Enabled determines whether inference calls are allowed
	Enabled bool `env:"INFERENCE_ENABLED" envDefault:"true"`
}

// Timeout returns the request timeout as a Duration
func (i *InferenceConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutMs) * time.Millisecond
}

// CatalogConfig holds the in-memory embedding catalog settings
type CatalogConfig struct {
	// SyncInterval is how often the catalog refreshes from the database
	SyncInterval time.Duration `env:"CATALOG_SYNC_INTERVAL" envDefault:"60s"`
}

// TrainingConfig holds enrollment training settings
type TrainingConfig struct {
	// Model is the active embedding model trained by this deployment
	Model string `env:"TRAINING_MODEL" envDefault:"buffalo_l"`
	// AllowedModels are the models for which enrollment may enqueue jobs
	AllowedModels []string `env:"TRAINING_ALLOWED_MODELS" envDefault:"buffalo_l,mobile_facenet_v1" envSeparator:","`

	// SimilarityThreshold is the intra-enrollment consistency gate: every pair
	// of pose embeddings must reach this cosine similarity
	SimilarityThreshold float64 `env:"SIMILARITY_THRESHOLD" envDefault:"0.40"`
	// DuplicateThreshold is the cross-subject duplicate gate
	DuplicateThreshold float64 `env:"DUPLICATE_THRESHOLD" envDefault:"0.40"`

	// BatchSize is the number of jobs leased per polling cycle
	BatchSize int `env:"TRAINING_BATCH_SIZE" envDefault:"5"`
	// MaxWorkers bounds concurrent job processing
	MaxWorkers int `env:"TRAINING_MAX_WORKERS" envDefault:"3"`
	// PollingInterval is the queue polling interval
	PollingInterval time.Duration `env:"TRAINING_POLLING_INTERVAL" envDefault:"2s"`
	// HeartbeatInterval is how often in-flight jobs refresh their lease
	HeartbeatInterval time.Duration `env:"TRAINING_HEARTBEAT_INTERVAL" envDefault:"10s"`
	// StuckJobTimeout is how long a started job may go without a heartbeat
	// before recovery requeues it
	StuckJobTimeout time.Duration `env:"TRAINING_STUCK_JOB_TIMEOUT" envDefault:"30m"`
	// MaxRetries bounds stuck-job requeues before the job fails permanently
	MaxRetries int `env:"TRAINING_MAX_RETRIES" envDefault:"3"`
	// RecoveryInterval is how often stuck jobs are scanned for
	RecoveryInterval time.Duration `env:"TRAINING_RECOVERY_INTERVAL" envDefault:"5m"`
	// StatsInterval is how often the worker logs its counters
	StatsInterval time.Duration `env:"TRAINING_STATS_INTERVAL" envDefault:"60s"`

	// MemoryLimitPercent pauses leasing when system memory exceeds it
	MemoryLimitPercent float64 `env:"TRAINING_MEMORY_LIMIT_PERCENT" envDefault:"85"`
	// CPULimitPercent pauses leasing when CPU utilization exceeds it
	CPULimitPercent float64 `env:"TRAINING_CPU_LIMIT_PERCENT" envDefault:"90"`
	// AdaptiveConcurrency scales MaxWorkers down under sustained load
	AdaptiveConcurrency bool `env:"TRAINING_ADAPTIVE_CONCURRENCY" envDefault:"false"`

	// JanitorInterval is how often duplicate subjects are cleaned up
	JanitorInterval time.Duration `env:"TRAINING_JANITOR_INTERVAL" envDefault:"1h"`
	// JanitorDwell is how long a duplicate must sit before hard deletion
	JanitorDwell time.Duration `env:"TRAINING_JANITOR_DWELL" envDefault:"24h"`
}

// ModelAllowed reports whether jobs may be enqueued for the given model.
func (t *TrainingConfig) ModelAllowed(model string) bool {
	for _, m := range t.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// RecognitionConfig holds camera pipeline settings
type RecognitionConfig struct {
	// RecognitionThreshold is the minimum similarity for an accepted match
	RecognitionThreshold float64 `env:"RECOGNITION_THRESHOLD" envDefault:"0.45"`
	// UnknownThreshold is the upper bound below which a face is emitted as unknown
	UnknownThreshold float64 `env:"UNKNOWN_THRESHOLD" envDefault:"0.35"`

	// CameraConfig is the path to the camera topology YAML file
	CameraConfig string `env:"CAMERA_CONFIG" envDefault:"cameras.yaml"`
	// AutoStart launches all configured cameras with the process
	AutoStart bool `env:"CAMERA_AUTOSTART" envDefault:"false"`

	// Capture geometry requested from every source
	FrameWidth  int `env:"CAMERA_FRAME_WIDTH" envDefault:"640"`
	FrameHeight int `env:"CAMERA_FRAME_HEIGHT" envDefault:"480"`
	FrameFPS    int `env:"CAMERA_FRAME_FPS" envDefault:"30"`

	// MaxReadFailures is the consecutive read failure count that forces a
	// source reopen
	MaxReadFailures int `env:"CAMERA_MAX_READ_FAILURES" envDefault:"10"`

	// FrameQueueSize and ResultQueueSize bound the pipeline stage channels
	FrameQueueSize  int `env:"CAMERA_FRAME_QUEUE_SIZE" envDefault:"2"`
	ResultQueueSize int `env:"CAMERA_RESULT_QUEUE_SIZE" envDefault:"10"`

	// LogPerSecond throttles per-camera recognition log lines
	LogPerSecond float64 `env:"RECOGNITION_LOG_PER_SECOND" envDefault:"1"`
}

// PresenceConfig holds presence engine settings
type PresenceConfig struct {
	// ConfirmDelay is the dwell before a pending entry/exit is confirmed
	ConfirmDelay time.Duration `env:"PRESENCE_CONFIRM_DELAY" envDefault:"2s"`
	// StaleExpiry clears pending transitions that stopped being observed
	StaleExpiry time.Duration `env:"PRESENCE_STALE_EXPIRY" envDefault:"5s"`

	// UnknownClusterThreshold assigns an unknown face to an existing cluster
	UnknownClusterThreshold float64 `env:"UNKNOWN_CLUSTER_THRESHOLD" envDefault:"0.65"`

	// BatchFlushItems and BatchFlushInterval bound the persistence batcher:
	// a flush happens when either is exceeded
	BatchFlushItems    int           `env:"PRESENCE_BATCH_FLUSH_ITEMS" envDefault:"50"`
	BatchFlushInterval time.Duration `env:"PRESENCE_BATCH_FLUSH_INTERVAL" envDefault:"5s"`
	// FlushCheckInterval is how often the flusher evaluates the two conditions
	FlushCheckInterval time.Duration `env:"PRESENCE_FLUSH_CHECK_INTERVAL" envDefault:"2s"`

	// AnalyticsInterval is how often per-campus counters are upserted
	AnalyticsInterval time.Duration `env:"PRESENCE_ANALYTICS_INTERVAL" envDefault:"60s"`
	// SweepInterval is how often stale pendings are swept
	SweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"10s"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("training_model", cfg.Training.Model),
		slog.String("camera_config", cfg.Recognition.CameraConfig),
	)

	return cfg, nil
}
