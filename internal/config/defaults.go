package config

import (
	"time"

	"github.com/aethelgard/qualitycheck/internal/assessor"
	"github.com/aethelgard/qualitycheck/internal/batch"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/idempotency"
	"github.com/aethelgard/qualitycheck/internal/telemetry"
	"github.com/aethelgard/qualitycheck/internal/validation"
)

// Server constants.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = 10 << 20
)

// Rate limiting constants.
const (
	DefaultRequestsPerSecond = 5
	DefaultBurst             = 10
)

// Temporal constants.
const (
	DefaultTemporalHostPort = "localhost:7233"
	DefaultNamespace        = "default"
	DefaultTaskQueue        = "quality-validation"
)

// DefaultArchivePath is used when the archive is enabled without a path.
const DefaultArchivePath = "./data/reports.db"

// DefaultConfig returns production defaults. Auth keys and the assessor API
// key have no default.
func DefaultConfig() *Config {
	thresholds := domain.DefaultThresholds()
	sources := make([]string, len(thresholds.AllowedCitationSources))
	for i, s := range thresholds.AllowedCitationSources {
		sources[i] = string(s)
	}

	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxBodyBytes:    DefaultMaxBodyBytes,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Validation: ValidationConfig{
			MaxConcurrency:         batch.DefaultMaxConcurrency,
			ItemTimeout:            validation.DefaultItemTimeout,
			ValidatorVersion:       domain.DefaultValidatorVersion,
			MinCoverage:            thresholds.MinCoverage,
			MinCitationDensity:     thresholds.MinCitationDensity,
			AllowedResources:       thresholds.AllowedResources,
			AllowedCitationSources: sources,
		},
		Idempotency: IdempotencyConfig{
			Backend: BackendMemory,
			TTL:     idempotency.DefaultTTL,
		},
		Assessor: assessor.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
		},
		Archive: ArchiveConfig{Path: DefaultArchivePath},
		Telemetry: telemetry.Config{
			ServiceName: "qualitycheck",
			SampleRatio: 1,
			Insecure:    true,
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
	}
}
