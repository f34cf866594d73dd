// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Degradation  DegradationConfig  `mapstructure:"degradation" yaml:"degradation"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Planner      PlannerConfig      `mapstructure:"planner" yaml:"planner"`
	API          APIConfig          `mapstructure:"api" yaml:"api"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the recovery-store connection details. An empty URL
// disables the PostgreSQL recovery store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig tunes the step execution engine.
type EngineConfig struct {
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout" yaml:"default_step_timeout"`
}

// OrchestratorConfig tunes the top-level coordinator.
type OrchestratorConfig struct {
	MaxConcurrentSessions int64         `mapstructure:"max_concurrent_sessions" yaml:"max_concurrent_sessions"`
	RecoveryAttemptBudget int           `mapstructure:"recovery_attempt_budget" yaml:"recovery_attempt_budget"`
	SatisfactionThreshold float64       `mapstructure:"satisfaction_threshold" yaml:"satisfaction_threshold"`
	PausePollInterval     time.Duration `mapstructure:"pause_poll_interval" yaml:"pause_poll_interval"`
}

// DegradationConfig tunes the health monitor loop.
type DegradationConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbesPerSec  float64       `mapstructure:"probes_per_sec" yaml:"probes_per_sec"`
}

// BrowserConfig holds settings for the headless browser action executor.
type BrowserConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ActionsPerSec   float64       `mapstructure:"actions_per_sec" yaml:"actions_per_sec"`
	Args            []string      `mapstructure:"args" yaml:"args"`
}

// PlannerConfig configures plan generation. When the API key is empty the
// deterministic template planner is used alone.
type PlannerConfig struct {
	APIKey     string        `mapstructure:"api_key" yaml:"-"`
	Model      string        `mapstructure:"model" yaml:"model"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens  int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults registers the default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "cicerone")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.default_step_timeout", 2*time.Minute)

	v.SetDefault("orchestrator.max_concurrent_sessions", 8)
	v.SetDefault("orchestrator.recovery_attempt_budget", 10)
	v.SetDefault("orchestrator.satisfaction_threshold", 0.4)
	v.SetDefault("orchestrator.pause_poll_interval", time.Second)

	v.SetDefault("degradation.check_interval", 30*time.Second)
	v.SetDefault("degradation.probe_timeout", 5*time.Second)
	v.SetDefault("degradation.probes_per_sec", 4.0)

	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.action_timeout", 15*time.Second)
	v.SetDefault("browser.actions_per_sec", 2.0)

	v.SetDefault("planner.model", "gemini-2.0-flash")
	v.SetDefault("planner.api_timeout", 45*time.Second)
	v.SetDefault("planner.max_tokens", 4096)

	v.SetDefault("api.addr", ":8710")
	v.SetDefault("api.shutdown_timeout", 10*time.Second)
}

// Load reads the configuration from the optional file path, environment
// variables (CICERONE_ prefix) and defaults, in the usual viper precedence.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CICERONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns a Config populated purely from defaults. Used by tests and
// by components that are constructed without a config file.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; an unmarshal failure is a programming error.
		panic(fmt.Sprintf("config defaults failed to unmarshal: %v", err))
	}
	return &cfg
}
