package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Persona    PersonaConfig    `mapstructure:"persona"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Search     SearchConfig     `mapstructure:"search"`
	Credential CredentialConfig `mapstructure:"credential"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GeminiConfig struct {
	APIKey         string           `mapstructure:"api_key"`
	BaseURL        string           `mapstructure:"base_url"`
	Models         []string         `mapstructure:"models"`
	RequestTimeout time.Duration    `mapstructure:"request_timeout"`
	MaxRetries     int              `mapstructure:"max_retries"`
	BackoffFactor  float64          `mapstructure:"backoff_factor"`
	Generation     GenerationConfig `mapstructure:"generation"`
	EmotionModel   string           `mapstructure:"emotion_model"`
}

type GenerationConfig struct {
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	TopK            int     `mapstructure:"top_k"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

type StreamConfig struct {
	QueueSize         int           `mapstructure:"queue_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ChunkSize         int           `mapstructure:"chunk_size"`
}

type PersonaConfig struct {
	Default      string                   `mapstructure:"default"`
	TypingDelays map[string]time.Duration `mapstructure:"typing_delays"`
}

type CacheConfig struct {
	MaxSize int         `mapstructure:"max_size"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MemoryConfig struct {
	DBPath        string `mapstructure:"db_path"`
	IndexPath     string `mapstructure:"index_path"`
	TopK          int    `mapstructure:"top_k"`
	MaxTextLength int    `mapstructure:"max_text_length"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type SearchConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Endpoint   string        `mapstructure:"endpoint"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type CredentialConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cors_origins", []string{
		"http://localhost:5173",
		"http://127.0.0.1:5173",
		"http://localhost:4173",
		"http://127.0.0.1:4173",
	})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("gemini.models", []string{"gemini-2.5-flash"})
	v.SetDefault("gemini.request_timeout", 45*time.Second)
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.backoff_factor", 1.6)
	v.SetDefault("gemini.generation.temperature", 0.65)
	v.SetDefault("gemini.generation.top_p", 0.9)
	v.SetDefault("gemini.generation.top_k", 32)
	v.SetDefault("gemini.generation.max_output_tokens", 600)
	v.SetDefault("gemini.emotion_model", "gemini-2.5-flash")

	v.SetDefault("stream.queue_size", 64)
	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
	v.SetDefault("stream.chunk_size", 120)

	v.SetDefault("persona.default", "ceria")
	v.SetDefault("persona.typing_delays", map[string]string{"tsundere": "350ms"})

	v.SetDefault("cache.max_size", 30)
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.ttl", time.Hour)

	v.SetDefault("memory.db_path", "data/memory.db")
	v.SetDefault("memory.index_path", "data/memory.index.json")
	v.SetDefault("memory.top_k", 3)
	v.SetDefault("memory.max_text_length", 140)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("search.enabled", false)
	v.SetDefault("search.endpoint", "https://html.duckduckgo.com/html/")
	v.SetDefault("search.max_results", 3)
	v.SetDefault("search.timeout", 8*time.Second)

	v.SetDefault("credential.cache_ttl", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "id")
	v.SetDefault("i18n.languages", []string{"id", "en"})
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is tolerated; defaults and env fill the gaps.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	v.BindEnv("gemini.max_retries", "MAX_RETRIES")
	v.BindEnv("gemini.backoff_factor", "BACKOFF_FACTOR")
	v.BindEnv("memory.db_path", "MEMORY_DB_PATH")
	v.BindEnv("cache.redis.addr", "REDIS_ADDR")
	v.BindEnv("cache.redis.password", "REDIS_PASSWORD")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("server.addr", "SERVER_ADDR")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The candidate list comes from GEMINI_MODELS (comma separated) when set;
	// GEMINI_MODEL is accepted as a single-entry list.
	if raw := os.Getenv("GEMINI_MODELS"); raw != "" {
		config.Gemini.Models = splitList(raw)
	} else if single := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); single != "" {
		config.Gemini.Models = []string{single}
	}
	if raw := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT")); raw != "" {
		d, err := parseSeconds(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT %q: %w", raw, err)
		}
		config.Gemini.RequestTimeout = d
	}
	config.Gemini.APIKey = strings.TrimSpace(config.Gemini.APIKey)
	config.Persona.Default = strings.ToLower(strings.TrimSpace(config.Persona.Default))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSeconds accepts either a Go duration ("45s") or a bare number of seconds ("45", "2.5").
func parseSeconds(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func validateConfig(cfg *Config) error {
	if len(cfg.Gemini.Models) == 0 {
		return fmt.Errorf("at least one candidate model is required")
	}
	if cfg.Gemini.BaseURL == "" {
		return fmt.Errorf("gemini base url is required")
	}
	if cfg.Gemini.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if cfg.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache max_size must be positive")
	}
	if cfg.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream chunk_size must be positive")
	}
	return nil
}

// TypingDelay returns the configured simulated typing latency for a persona.
func (c *Config) TypingDelay(persona string) time.Duration {
	return c.Persona.TypingDelays[persona]
}
