package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type TierConfig struct {
	Name        string        `mapstructure:"name"`
	Rank        int           `mapstructure:"rank"`
	SourceAlias string        `mapstructure:"source_alias"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	Shared      bool          `mapstructure:"shared"`
}

type SourceConfig struct {
	Alias    string `mapstructure:"alias"`
	Kind     string `mapstructure:"kind"`
	Location string `mapstructure:"location"`
}

type Config struct {
	Profile    string `mapstructure:"profile"`
	ListenAddr string `mapstructure:"listen_addr"`

	AuthSecret   string `mapstructure:"auth_secret"`
	AuthIssuer   string `mapstructure:"auth_issuer"`
	AuthAudience string `mapstructure:"auth_audience"`
	TokenPepper  string `mapstructure:"token_pepper"`

	CooldownWindow time.Duration `mapstructure:"cooldown_window"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	EventRetention time.Duration `mapstructure:"event_retention"`
	SourceTimeout  time.Duration `mapstructure:"source_timeout"`

	CooldownBackend string `mapstructure:"cooldown_backend"`
	DatabaseDriver  string `mapstructure:"database_driver"`
	DatabaseDSN     string `mapstructure:"database_dsn"`
	RedisAddr       string `mapstructure:"redis_addr"`

	RolesEndpoint string `mapstructure:"roles_endpoint"`
	NotifyWebhook string `mapstructure:"notify_webhook"`

	APIRateLimitRPM   int `mapstructure:"api_rate_limit_rpm"`
	ClaimRateLimitRPM int `mapstructure:"claim_rate_limit_rpm"`

	Tiers   []TierConfig      `mapstructure:"tiers"`
	Roles   map[string]string `mapstructure:"roles"`
	Sources []SourceConfig    `mapstructure:"sources"`

	OTELMetricsEnabled        bool          `mapstructure:"otel_metrics_enabled"`
	OTELTracesEnabled         bool          `mapstructure:"otel_traces_enabled"`
	OTELLogsEnabled           bool          `mapstructure:"otel_logs_enabled"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"otel_exporter_otlp_endpoint"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"otel_exporter_otlp_insecure"`
	OTELServiceName           string        `mapstructure:"otel_service_name"`
	OTELEnvironment           string        `mapstructure:"otel_environment"`
	OTELMetricsExportInterval time.Duration `mapstructure:"otel_metrics_export_interval"`
}

// Load reads tokengate.toml (path overridable) plus TOKENGATE_* environment
// overrides, applies defaults and validates. A missing file is fine; env-only
// deployments are supported.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("tokengate")
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tokengate")
	}
	v.SetEnvPrefix("TOKENGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			loadErr := fmt.Errorf("read config file: %w", err)
			recordConfigValidationEvent(context.Background(), v.GetString("profile"), "failure", classifyConfigLoadError(loadErr))
			return nil, loadErr
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		loadErr := fmt.Errorf("parse config: %w", err)
		recordConfigValidationEvent(context.Background(), v.GetString("profile"), "failure", classifyConfigLoadError(loadErr))
		return nil, loadErr
	}

	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Profile, "success", "none")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "dev")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("auth_issuer", "tokengate")
	v.SetDefault("auth_audience", "tokengate-api")
	v.SetDefault("cooldown_window", 7*24*time.Hour)
	v.SetDefault("reaper_interval", 5*time.Minute)
	v.SetDefault("event_retention", 90*24*time.Hour)
	v.SetDefault("source_timeout", 10*time.Second)
	v.SetDefault("cooldown_backend", "memory")
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_dsn", "tokengate.db")
	v.SetDefault("api_rate_limit_rpm", 300)
	v.SetDefault("claim_rate_limit_rpm", 60)
	v.SetDefault("otel_service_name", "tokengate")
	v.SetDefault("otel_environment", "dev")
	v.SetDefault("otel_exporter_otlp_endpoint", "localhost:4317")
	v.SetDefault("otel_metrics_export_interval", 30*time.Second)
}

func (c *Config) Validate() error {
	var problems []string
	if c.AuthSecret == "" {
		problems = append(problems, "auth_secret is required")
	} else if len(c.AuthSecret) < 32 {
		problems = append(problems, "auth_secret must be at least 32 bytes")
	}
	if c.CooldownWindow <= 0 {
		problems = append(problems, "cooldown_window must be positive")
	}
	if c.ReaperInterval <= 0 {
		problems = append(problems, "reaper_interval must be positive")
	}
	switch c.CooldownBackend {
	case "memory", "database":
	case "redis":
		if c.RedisAddr == "" {
			problems = append(problems, "redis_addr is required for the redis cooldown backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown cooldown_backend %q", c.CooldownBackend))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown database_driver %q", c.DatabaseDriver))
	}
	if len(c.Sources) == 0 {
		problems = append(problems, "at least one source is required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.Alias == "" {
			problems = append(problems, "source alias must not be empty")
			continue
		}
		if _, dup := seen[src.Alias]; dup {
			problems = append(problems, fmt.Sprintf("duplicate source alias %q", src.Alias))
		}
		seen[src.Alias] = struct{}{}
		if src.Kind != "file" && src.Kind != "http" {
			problems = append(problems, fmt.Sprintf("source %q: unknown kind %q", src.Alias, src.Kind))
		}
		if src.Location == "" {
			problems = append(problems, fmt.Sprintf("source %q: location is required", src.Alias))
		}
	}
	if len(c.Tiers) == 0 {
		problems = append(problems, "at least one tier is required")
	}
	tierNames := make(map[string]struct{}, len(c.Tiers))
	ranks := make(map[int]string, len(c.Tiers))
	for _, tier := range c.Tiers {
		if tier.Name == "" {
			problems = append(problems, "tier name must not be empty")
			continue
		}
		if _, dup := tierNames[tier.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate tier %q", tier.Name))
		}
		tierNames[tier.Name] = struct{}{}
		if other, dup := ranks[tier.Rank]; dup {
			problems = append(problems, fmt.Sprintf("tiers %q and %q share rank %d", other, tier.Name, tier.Rank))
		}
		ranks[tier.Rank] = tier.Name
		if tier.SourceAlias != "" {
			if _, ok := seen[tier.SourceAlias]; !ok {
				problems = append(problems, fmt.Sprintf("tier %q references unknown source %q", tier.Name, tier.SourceAlias))
			}
		}
	}
	for roleID, tierName := range c.Roles {
		if _, ok := tierNames[tierName]; !ok {
			problems = append(problems, fmt.Sprintf("role %q maps to unknown tier %q", roleID, tierName))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("validate config: %s", strings.Join(problems, "; "))
	}
	return nil
}
