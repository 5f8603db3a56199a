package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QC_ASSESSOR_API_KEY
// sets assessor.api_key.
const EnvPrefix = "QC"

// FileName is the config file searched for when no path is given.
const FileName = "qualitycheck"

// Load reads configuration. With an empty path it looks for
// qualitycheck.yaml in the working directory, ./config and
// /etc/qualitycheck, and a missing file is not an error. An explicit path
// must exist. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/qualitycheck")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so environment variables can override
// values that the file does not mention.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("validation.max_concurrency", d.Validation.MaxConcurrency)
	v.SetDefault("validation.item_timeout", d.Validation.ItemTimeout)
	v.SetDefault("validation.validator_version", d.Validation.ValidatorVersion)
	v.SetDefault("validation.min_coverage", d.Validation.MinCoverage)
	v.SetDefault("validation.min_citation_density", d.Validation.MinCitationDensity)
	v.SetDefault("validation.allowed_resources", d.Validation.AllowedResources)
	v.SetDefault("validation.allowed_citation_sources", d.Validation.AllowedCitationSources)

	v.SetDefault("idempotency.backend", d.Idempotency.Backend)
	v.SetDefault("idempotency.ttl", d.Idempotency.TTL)
	v.SetDefault("idempotency.redis_addr", "")
	v.SetDefault("idempotency.redis_password", "")
	v.SetDefault("idempotency.redis_db", 0)

	v.SetDefault("assessor.api_key", "")
	v.SetDefault("assessor.base_url", "")
	v.SetDefault("assessor.model", d.Assessor.Model)
	v.SetDefault("assessor.prompt_version", d.Assessor.PromptVersion)
	v.SetDefault("assessor.graph_version", d.Assessor.GraphVersion)
	v.SetDefault("assessor.breaker.failure_threshold", d.Assessor.Breaker.FailureThreshold)
	v.SetDefault("assessor.breaker.success_threshold", d.Assessor.Breaker.SuccessThreshold)
	v.SetDefault("assessor.breaker.open_timeout", d.Assessor.Breaker.OpenTimeout)
	v.SetDefault("assessor.breaker.half_open_probes", d.Assessor.Breaker.HalfOpenProbes)

	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.disabled", false)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.path", d.Archive.Path)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.sample_ratio", d.Telemetry.SampleRatio)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)

	v.SetDefault("temporal.host_port", d.Temporal.HostPort)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
}
