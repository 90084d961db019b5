package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/parley/parley"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Log         LogConfig        `mapstructure:"log"`
	Backend     BackendConfig    `mapstructure:"backend"`
	Attachments AttachmentConfig `mapstructure:"attachments"`
	Speech      SpeechConfig     `mapstructure:"speech"`
	Session     SessionConfig    `mapstructure:"session"`
	Relay       RelayConfig      `mapstructure:"relay"`
	Providers   ProvidersConfig  `mapstructure:"providers"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	View        ViewConfig       `mapstructure:"view"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// BackendConfig points the chat client at the streaming relay.
type BackendConfig struct {
	URL         string        `mapstructure:"url" validate:"required,url"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" validate:"gte=0"` // time allowed until response headers arrive
}

// AttachmentConfig controls which files may be selected for a turn.
type AttachmentConfig struct {
	MaxBytes int64    `mapstructure:"max_bytes" validate:"gt=0"`
	Accept   []string `mapstructure:"accept" validate:"min=1"` // gitignore-style patterns for non-image documents
}

// SpeechConfig configures the dictation recognizer. An empty endpoint means no speech capability.
type SpeechConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
	Language string `mapstructure:"language"`
}

// DatabaseConfig stores profile database connection details.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

// SessionConfig stores the mock credential and token settings.
type SessionConfig struct {
	Email        string         `mapstructure:"email" validate:"required,email"`
	Password     string         `mapstructure:"password"`      // development only; ignored when password_hash is set
	PasswordHash string         `mapstructure:"password_hash"` // bcrypt hash
	JWTSecret    string         `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration  `mapstructure:"token_ttl" validate:"gt=0"`
	Database     DatabaseConfig `mapstructure:"database"`
}

// RelayConfig stores the HTTP relay settings.
type RelayConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
	Provider          string        `mapstructure:"provider" validate:"oneof=openai anthropic ollama"`
	Fallbacks         []string      `mapstructure:"fallbacks" validate:"dive,oneof=openai anthropic ollama"`
	MaxTokens         int           `mapstructure:"max_tokens" validate:"gt=0"`
	Temperature       float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	RequireAuth       bool          `mapstructure:"require_auth"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst" validate:"gte=0"`
	RateLimitInterval time.Duration `mapstructure:"rate_limit_interval" validate:"gte=0"`
}

// ProviderConfig stores credentials for one upstream model provider.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// ProvidersConfig groups the upstream providers the relay can use.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	Ollama    ProviderConfig `mapstructure:"ollama"`
}

// PipelineConfig stores turn orchestration settings.
type PipelineConfig struct {
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// ViewConfig stores terminal view settings.
type ViewConfig struct {
	HistoryFile string `mapstructure:"history_file"`
}

var AppConfig Config

var (
	mu     sync.Mutex
	active *viper.Viper
)

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	v.AutomaticEnv()
	// relay.rate_limit_burst becomes PARLEY_RELAY_RATE_LIMIT_BURST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	active = v
	AppConfig = *cfg
	mu.Unlock()

	return cfg, nil
}

// Watch re-reads the active config file whenever it changes on disk and hands
// the decoded result to fn. Invalid edits are reported through onErr and ignored.
func Watch(fn func(*Config), onErr func(error)) {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		mu.Lock()
		AppConfig = *cfg
		mu.Unlock()
		fn(cfg)
	})
	v.WatchConfig()
}

// WriteDefault writes a starter YAML config containing every default value.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("backend.url", internal.DefaultBackendURL)
	v.SetDefault("backend.open_timeout", "30s")

	v.SetDefault("attachments.max_bytes", internal.MaxAttachmentBytes)
	v.SetDefault("attachments.accept", []string{"*.pdf", "*.doc", "*.docx", "*.txt"})

	v.SetDefault("speech.endpoint", "")
	v.SetDefault("speech.language", internal.DefaultSpeechLang)

	v.SetDefault("session.email", internal.DefaultLoginEmail)
	v.SetDefault("session.password", internal.DefaultLoginSecret)
	v.SetDefault("session.password_hash", "")
	v.SetDefault("session.jwt_secret", "")
	v.SetDefault("session.token_ttl", "24h")
	v.SetDefault("session.database.enabled", true)
	v.SetDefault("session.database.dsn", internal.DefaultDatabaseDSN)

	v.SetDefault("relay.addr", internal.DefaultRelayAddr)
	v.SetDefault("relay.system_prompt", internal.DefaultSystemPrompt)
	v.SetDefault("relay.provider", "openai")
	v.SetDefault("relay.fallbacks", []string{})
	v.SetDefault("relay.max_tokens", 1024)
	v.SetDefault("relay.temperature", 0.7)
	v.SetDefault("relay.require_auth", false)
	v.SetDefault("relay.max_body_bytes", 16<<20) // base64 inflates a 10 MiB image to ~13.4 MiB
	v.SetDefault("relay.allowed_origins", []string{"*"})
	v.SetDefault("relay.rate_limit_enabled", true)
	v.SetDefault("relay.rate_limit_burst", 10)
	v.SetDefault("relay.rate_limit_interval", "1s")

	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("providers.openai.model", internal.DefaultRelayModel)
	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.anthropic.base_url", "")
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("providers.ollama.api_key", "")
	v.SetDefault("providers.ollama.base_url", "")
	v.SetDefault("providers.ollama.model", "llava")

	v.SetDefault("pipeline.enable_tracing", false)

	v.SetDefault("view.history_file", internal.DefaultHistoryFile)
}
