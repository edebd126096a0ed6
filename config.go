package btchat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/meikuraledutech/btchat/observability"
)

// DefaultMaxTokens is the output token budget used when none is configured.
const DefaultMaxTokens = 16384

// AppConfig holds configuration for every btchat component.
type AppConfig struct {
	Provider      ProviderConfig       `mapstructure:"provider" yaml:"provider"`
	Store         StoreConfig          `mapstructure:"store" yaml:"store"`
	Server        ServerConfig         `mapstructure:"server" yaml:"server"`
	Engine        EngineConfig         `mapstructure:"engine" yaml:"engine"`
	Observability observability.Config `mapstructure:"observability" yaml:"observability"`
}

// ProviderConfig selects and configures the completion service.
type ProviderConfig struct {
	Name        string        `mapstructure:"name" yaml:"name"` // openai, gemini, genai, webhook
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst   int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	LogRequests bool          `mapstructure:"log_requests" yaml:"log_requests"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"` // auto, memory, sqlite, postgres
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	MaxSessions int    `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// BackendAuto picks memory for long-running processes and sqlite otherwise.
const BackendAuto = "auto"

// BackendFor resolves BackendAuto and the empty backend. A long-running
// process keeps sessions in memory; a one-shot command uses the SQLite file
// at SQLitePath. Explicit backends are returned unchanged.
func (c StoreConfig) BackendFor(longRunning bool) string {
	if c.Backend != "" && c.Backend != BackendAuto {
		return c.Backend
	}
	if longRunning {
		return "memory"
	}
	return "sqlite"
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	EnableCORS     bool          `mapstructure:"enable_cors" yaml:"enable_cors"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Debug          bool          `mapstructure:"debug" yaml:"debug"`
}

// EngineConfig configures the orchestrator.
type EngineConfig struct {
	DefaultMode string `mapstructure:"default_mode" yaml:"default_mode"`
}

// DefaultConfig returns an AppConfig with sensible defaults.
func DefaultConfig() AppConfig {
	return AppConfig{
		Provider: ProviderConfig{
			Name:        "openai",
			MaxTokens:   DefaultMaxTokens,
			Temperature: 0.3,
			Timeout:     120 * time.Second,
			RateBurst:   1,
		},
		Store: StoreConfig{
			Backend:     BackendAuto,
			SQLitePath:  "btchat.db",
			MaxSessions: 4096,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			EnableCORS:     true,
			RequestTimeout: 3 * time.Minute,
		},
		Engine: EngineConfig{
			DefaultMode: string(ModeAuto),
		},
		Observability: observability.DefaultConfig(),
	}
}

// LoadConfig reads configuration from path (or btchat.yaml in the working
// directory and ~/.btchat when path is empty), then applies environment
// overrides. BTCHAT_SECTION_KEY variables override any key; DATABASE_URL,
// GEMINI_API, DASHSCOPE_API_KEY, MODEL_ID and MAX_TOKENS are honored as well.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("BTCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"provider.api_key":    {"BTCHAT_PROVIDER_API_KEY", "GEMINI_API", "DASHSCOPE_API_KEY", "OPENAI_API_KEY"},
		"provider.model":      {"BTCHAT_PROVIDER_MODEL", "MODEL_ID"},
		"provider.max_tokens": {"BTCHAT_PROVIDER_MAX_TOKENS", "MAX_TOKENS"},
		"store.database_url":  {"BTCHAT_STORE_DATABASE_URL", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("btchat: bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("btchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".btchat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("btchat: read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("btchat: parse config: %w", err)
	}

	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if _, err := ParseMode(cfg.Engine.DefaultMode); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// YAML renders the configuration with secrets masked.
func (c AppConfig) YAML() (string, error) {
	masked := c
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = observability.SanitizeAPIKey(masked.Provider.APIKey)
	}
	if masked.Store.DatabaseURL != "" {
		masked.Store.DatabaseURL = observability.SanitizeDSN(masked.Store.DatabaseURL)
	}
	data, err := yaml.Marshal(masked)
	if err != nil {
		return "", fmt.Errorf("btchat: marshal config: %w", err)
	}
	return string(data), nil
}

func setDefaults(v *viper.Viper, cfg AppConfig) {
	v.SetDefault("provider.name", cfg.Provider.Name)
	v.SetDefault("provider.api_key", cfg.Provider.APIKey)
	v.SetDefault("provider.base_url", cfg.Provider.BaseURL)
	v.SetDefault("provider.model", cfg.Provider.Model)
	v.SetDefault("provider.max_tokens", cfg.Provider.MaxTokens)
	v.SetDefault("provider.temperature", cfg.Provider.Temperature)
	v.SetDefault("provider.timeout", cfg.Provider.Timeout)
	v.SetDefault("provider.rate_limit", cfg.Provider.RateLimit)
	v.SetDefault("provider.rate_burst", cfg.Provider.RateBurst)
	v.SetDefault("provider.log_requests", cfg.Provider.LogRequests)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.database_url", cfg.Store.DatabaseURL)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)
	v.SetDefault("store.max_sessions", cfg.Store.MaxSessions)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.enable_cors", cfg.Server.EnableCORS)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)
	v.SetDefault("server.debug", cfg.Server.Debug)

	v.SetDefault("engine.default_mode", cfg.Engine.DefaultMode)

	v.SetDefault("observability.logging.level", cfg.Observability.Logging.Level)
	v.SetDefault("observability.logging.format", cfg.Observability.Logging.Format)
	v.SetDefault("observability.metrics.enabled", cfg.Observability.Metrics.Enabled)
	v.SetDefault("observability.tracing.enabled", cfg.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.exporter", cfg.Observability.Tracing.Exporter)
	v.SetDefault("observability.tracing.otlp_endpoint", cfg.Observability.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.zipkin_endpoint", cfg.Observability.Tracing.ZipkinEndpoint)
	v.SetDefault("observability.tracing.sample_rate", cfg.Observability.Tracing.SampleRate)
	v.SetDefault("observability.tracing.service_name", cfg.Observability.Tracing.ServiceName)
	v.SetDefault("observability.tracing.service_version", cfg.Observability.Tracing.ServiceVersion)
}
