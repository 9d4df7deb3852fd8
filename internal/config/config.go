// Package config is the platform's typed configuration: the Redis
// backend pool, autoscaler thresholds, monitoring intervals,
// the security/tenants sections consumed by out-of-core adapters, and
// the deployment environment and log level.
//
// Loading goes through koanf (YAML or JSON, picked by file extension);
// callers may also build a Config programmatically via Default() without
// touching a file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Environment is the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// LogLevel is the configured textual log level.
type LogLevel string

const (
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
)

// Redis is the backend pool configuration.
type Redis struct {
	Host                string        `koanf:"host"`
	Port                int           `koanf:"port"`
	Password            string        `koanf:"password"`
	DB                  int           `koanf:"db"`
	MaxConnections      int           `koanf:"max_connections"`
	ConnectionTimeout   time.Duration `koanf:"connection_timeout"`
	ReadTimeout         time.Duration `koanf:"read_timeout"`
	WriteTimeout        time.Duration `koanf:"write_timeout"`
	RetryOnTimeout      bool          `koanf:"retry_on_timeout"`
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	ClusterMode         bool          `koanf:"cluster_mode"`
	ClusterNodes        []string      `koanf:"cluster_nodes"`
}

// Scaling configures the auto-scaler.
type Scaling struct {
	Enabled             bool          `koanf:"enabled"`
	MinNodes            int           `koanf:"min_nodes"`
	MaxNodes            int           `koanf:"max_nodes"`
	TargetCPUPercent    float64       `koanf:"target_cpu_percent"`
	TargetMemoryPercent float64       `koanf:"target_memory_percent"`
	ScaleUpThreshold    float64       `koanf:"scale_up_threshold"`
	ScaleDownThreshold  float64       `koanf:"scale_down_threshold"`
	ScaleUpCooldown     time.Duration `koanf:"scale_up_cooldown"`
	ScaleDownCooldown   time.Duration `koanf:"scale_down_cooldown"`
	PredictionWindow    time.Duration `koanf:"prediction_window"`
}

// AlertThresholds are the monitoring section's per-signal thresholds.
type AlertThresholds struct {
	CPUUsage     float64 `koanf:"cpu_usage"`
	MemoryUsage  float64 `koanf:"memory_usage"`
	ResponseTime float64 `koanf:"response_time"`
	ErrorRate    float64 `koanf:"error_rate"`
}

// Monitoring configures the health monitor.
type Monitoring struct {
	MetricsInterval     time.Duration   `koanf:"metrics_interval"`
	HealthCheckInterval time.Duration   `koanf:"health_check_interval"`
	AlertThresholds     AlertThresholds `koanf:"alert_thresholds"`
}

// Security is consumed only by the out-of-core auth/encryption adapters.
// No core component reads it: RateLimitingEnabled and
// MaxRequestsPerMinute are not applied as a global cap, and the only
// rate limit enforced is each tenant's own requests-per-second quota.
type Security struct {
	AuthenticationEnabled bool   `koanf:"authentication_enabled"`
	JWTSecret             string `koanf:"jwt_secret"`
	JWTExpiryHours        int    `koanf:"jwt_expiry_hours"`
	EncryptionEnabled     bool   `koanf:"encryption_enabled"`
	EncryptionKey         string `koanf:"encryption_key"`
	AuditLogging          bool   `koanf:"audit_logging"`
	RateLimitingEnabled   bool   `koanf:"rate_limiting_enabled"`
	MaxRequestsPerMinute  int    `koanf:"max_requests_per_minute"`
}

// Tenants holds defaults applied when create_tenant omits fields.
type Tenants struct {
	DefaultMemoryMB           int    `koanf:"default_memory_mb"`
	DefaultRequestsPerSecond  int    `koanf:"default_requests_per_second"`
	DefaultConnections        int    `koanf:"default_connections"`
	IsolationLevel            string `koanf:"isolation_level"`
	QuotaEnforcement          bool   `koanf:"quota_enforcement"`
	BillingEnabled            bool   `koanf:"billing_enabled"`
}

// Config is the platform's typed Configuration.
type Config struct {
	Redis       Redis       `koanf:"redis"`
	Scaling     Scaling     `koanf:"scaling"`
	Monitoring  Monitoring  `koanf:"monitoring"`
	Security    Security    `koanf:"security"`
	Tenants     Tenants     `koanf:"tenants"`
	Environment Environment `koanf:"environment"`
	LogLevel    LogLevel    `koanf:"log_level"`
}

// Default returns a Config populated with the platform defaults.
func Default() Config {
	return Config{
		Redis: Redis{
			Host:                "localhost",
			Port:                6379,
			DB:                  0,
			MaxConnections:      50,
			ConnectionTimeout:   5 * time.Second,
			ReadTimeout:         3 * time.Second,
			WriteTimeout:        3 * time.Second,
			RetryOnTimeout:      true,
			HealthCheckInterval: 10 * time.Second,
		},
		Scaling: Scaling{
			Enabled:             true,
			MinNodes:            2,
			MaxNodes:            10,
			TargetCPUPercent:    70,
			TargetMemoryPercent: 70,
			ScaleUpThreshold:    80,
			ScaleDownThreshold:  30,
			ScaleUpCooldown:     5 * time.Minute,
			ScaleDownCooldown:   10 * time.Minute,
			PredictionWindow:    24 * time.Hour,
		},
		Monitoring: Monitoring{
			MetricsInterval:     30 * time.Second,
			HealthCheckInterval: 10 * time.Second,
			AlertThresholds: AlertThresholds{
				CPUUsage:     85,
				MemoryUsage:  85,
				ResponseTime: 500,
				ErrorRate:    5,
			},
		},
		Security: Security{
			JWTExpiryHours:       24,
			RateLimitingEnabled:  true,
			MaxRequestsPerMinute: 100000,
		},
		Tenants: Tenants{
			DefaultMemoryMB:          512,
			DefaultRequestsPerSecond: 100,
			DefaultConnections:       50,
			IsolationLevel:           "strict",
			QuotaEnforcement:         true,
		},
		Environment: EnvDevelopment,
		LogLevel:    LogInfo,
	}
}

// Format names a config encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Load reads a Config from a YAML or JSON file (picked by extension)
// and overlays it onto Default().
func Load(path string) (Config, error) {
	format, err := formatForPath(path)
	if err != nil {
		return Default(), err
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return Default(), err
	}
	return LoadBytes(data, format)
}

// LoadBytes reads a Config from raw bytes of the given format, overlaid
// onto Default(). Useful for embedding config in a binary or test
// fixture.
func LoadBytes(data []byte, format Format) (Config, error) {
	cfg := Default()

	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = kyaml.Parser()
	case FormatJSON:
		parser = kjson.Parser()
	default:
		return cfg, fmt.Errorf("config: unsupported format %q", format)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return cfg, fmt.Errorf("config: parse failed: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, fmt.Errorf("config: unmarshal failed: %w", err)
	}
	return cfg, nil
}

func formatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("config: unsupported config extension on %q", path)
	}
}
