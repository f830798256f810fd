package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/intake-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Fill       FillConfig       `yaml:"fill" mapstructure:"fill"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
}

// StoreConfig configures the run index and the artifact directory.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	RunsDir     string `yaml:"runs_dir" mapstructure:"runs_dir"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DSN returns the run index connection string. SQLite falls back to a
// local intake.db file.
func (s StoreConfig) DSN() string {
	if s.DatabaseURL == "" && s.Driver == "sqlite" {
		return "intake.db"
	}
	return s.DatabaseURL
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ValidationConfig holds the classification thresholds and the external
// verifier settings.
type ValidationConfig struct {
	GreenThreshold      float64 `yaml:"green_threshold" mapstructure:"green_threshold"`
	AmberThreshold      float64 `yaml:"amber_threshold" mapstructure:"amber_threshold"`
	CredibilityFloor    float64 `yaml:"credibility_floor" mapstructure:"credibility_floor"`
	Verifier            string  `yaml:"verifier" mapstructure:"verifier"`
	VerifierTimeoutSecs int     `yaml:"verifier_timeout_secs" mapstructure:"verifier_timeout_secs"`
	VerifierConcurrency int     `yaml:"verifier_concurrency" mapstructure:"verifier_concurrency"`
	VerifierRPS         float64 `yaml:"verifier_rps" mapstructure:"verifier_rps"`
	VerifierMaxAttempts int     `yaml:"verifier_max_attempts" mapstructure:"verifier_max_attempts"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// Thresholds returns the classification thresholds.
func (v ValidationConfig) Thresholds() model.Thresholds {
	return model.Thresholds{
		Green:            v.GreenThreshold,
		Amber:            v.AmberThreshold,
		CredibilityFloor: v.CredibilityFloor,
	}
}

// VerifierTimeout returns the per-call verifier timeout.
func (v ValidationConfig) VerifierTimeout() time.Duration {
	return time.Duration(v.VerifierTimeoutSecs) * time.Second
}

// BreakerCooldown returns how long an open breaker rejects calls.
func (v ValidationConfig) BreakerCooldown() time.Duration {
	return time.Duration(v.BreakerCooldownSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FillConfig configures the form-filling webhook.
type FillConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the fill call timeout.
func (f FillConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// RegistryConfig points at an alternate field registry file. Empty means
// the embedded registry.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	th := model.DefaultThresholds()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.runs_dir", "runs")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("validation.green_threshold", th.Green)
	v.SetDefault("validation.amber_threshold", th.Amber)
	v.SetDefault("validation.credibility_floor", th.CredibilityFloor)
	v.SetDefault("validation.verifier", "off")
	v.SetDefault("validation.verifier_timeout_secs", 30)
	v.SetDefault("validation.verifier_concurrency", 4)
	v.SetDefault("validation.verifier_rps", 5)
	v.SetDefault("validation.verifier_max_attempts", 3)
	v.SetDefault("validation.breaker_threshold", 5)
	v.SetDefault("validation.breaker_cooldown_secs", 30)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("fill.webhook_url", "")
	v.SetDefault("fill.timeout_secs", 60)
	v.SetDefault("registry.path", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration carries what the given stage
// needs. Modes: "store", "verify", "fill", "serve".
func (c *Config) Validate(stage string) error {
	var errs []string

	switch stage {
	case "store":
		errs = append(errs, c.storeErrors()...)
	case "verify":
		errs = append(errs, c.storeErrors()...)
		errs = append(errs, c.verifierErrors()...)
	case "fill":
		errs = append(errs, c.storeErrors()...)
		if c.Fill.WebhookURL == "" {
			errs = append(errs, "fill.webhook_url is required")
		}
	case "serve":
		errs = append(errs, c.storeErrors()...)
		errs = append(errs, c.verifierErrors()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", stage)
	}

	th := c.Validation.Thresholds()
	if th.Amber <= 0 || th.Amber >= th.Green || th.Green > 1 {
		errs = append(errs, "validation thresholds must satisfy 0 < amber < green <= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s: %s", stage, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) storeErrors() []string {
	switch c.Store.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
		return nil
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
}

func (c *Config) verifierErrors() []string {
	switch c.Validation.Verifier {
	case "", "off":
		return nil
	case "anthropic":
		if c.Anthropic.Key == "" {
			return []string{"anthropic.key is required when validation.verifier is anthropic"}
		}
		return nil
	default:
		return []string{"validation.verifier must be off or anthropic"}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
