// Package config loads service configuration from an optional YAML file and
// QC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aethelgard/qualitycheck/internal/assessor"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/telemetry"
)

// Idempotency backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Assessor    assessor.Config   `mapstructure:"assessor"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Telemetry   telemetry.Config  `mapstructure:"telemetry"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// ValidationConfig tunes the validator, the batch orchestrator and the gate
// thresholds.
type ValidationConfig struct {
	MaxConcurrency         int           `mapstructure:"max_concurrency" validate:"min=1,max=100"`
	ItemTimeout            time.Duration `mapstructure:"item_timeout" validate:"gt=0"`
	ValidatorVersion       string        `mapstructure:"validator_version" validate:"required"`
	MinCoverage            float64       `mapstructure:"min_coverage" validate:"gte=0,lte=1"`
	MinCitationDensity     float64       `mapstructure:"min_citation_density" validate:"gte=0"`
	AllowedResources       []string      `mapstructure:"allowed_resources" validate:"min=1"`
	AllowedCitationSources []string      `mapstructure:"allowed_citation_sources" validate:"min=1"`
}

// GateThresholds converts the gate settings to the domain table.
func (c ValidationConfig) GateThresholds() domain.Thresholds {
	sources := make([]domain.CitationSource, len(c.AllowedCitationSources))
	for i, s := range c.AllowedCitationSources {
		sources[i] = domain.CitationSource(s)
	}
	return domain.Thresholds{
		MinCoverage:            c.MinCoverage,
		MinCitationDensity:     c.MinCitationDensity,
		AllowedResources:       append([]string(nil), c.AllowedResources...),
		AllowedCitationSources: sources,
	}
}

// IdempotencyConfig selects where idempotency records live.
type IdempotencyConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"min=0"`
}

// AuthConfig lists accepted API keys. Disabled turns authentication off for
// local development.
type AuthConfig struct {
	APIKeys  []string `mapstructure:"api_keys"`
	Disabled bool     `mapstructure:"disabled"`
}

// RateLimitConfig is a per-API-key token bucket.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"min=1"`
}

// ArchiveConfig locates the SQLite archive of publishable reports.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// TemporalConfig points the worker and CLI at a Temporal frontend.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port" validate:"required"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	TaskQueue string `mapstructure:"task_queue" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules spanning sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Validation.GateThresholds().Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, k := range c.Auth.APIKeys {
		if k == "" {
			return errors.New("invalid configuration: auth.api_keys contains an empty key")
		}
	}
	return nil
}

// ValidateServer adds the rules that only apply to the HTTP server.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.Auth.Disabled && len(c.Auth.APIKeys) == 0 {
		return errors.New("invalid configuration: auth.api_keys is empty; set keys or auth.disabled")
	}
	return nil
}
