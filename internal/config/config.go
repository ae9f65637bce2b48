package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crm-backend/internal/features"
	"crm-backend/internal/inference"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
	AI        AIConfig
	Delivery  DeliveryConfig
	Features  map[string]bool
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string
	Host            string
	EnableTLS       bool
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	// URL selects the store: sqlite://path or postgres://...
	URL string
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string
}

// RateLimitConfig holds rate limiting configuration.
// The AI budget applies to every /ai route.
type RateLimitConfig struct {
	Enabled  bool
	Rate     int
	Window   time.Duration
	AIRate   int
	AIWindow time.Duration
}

// CacheConfig holds audience preview cache configuration.
// An empty RedisAddr selects the in-process cache.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
	TTL           time.Duration
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Environment string
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string
	Development bool
}

// AIConfig holds rule inference configuration.
type AIConfig struct {
	Enabled       bool
	ProviderFirst bool
	Timeout       time.Duration
	BackoffBase   time.Duration
	Gemini        ProviderConfig
	OpenAI        ProviderConfig
}

// ProviderConfig holds the settings of one AI vendor.
type ProviderConfig struct {
	APIKey   string
	Endpoint string
	Model    string
}

// DeliveryConfig holds simulated campaign delivery configuration.
type DeliveryConfig struct {
	// SuccessRate is the probability in [0, 1] that a message is SENT.
	SuccessRate float64
	// Seed seeds the delivery outcome generator; zero seeds from the clock.
	Seed int64
}

var featureKeys = []string{
	features.FeatureCacheEnabled,
	features.FeatureEventHooksEnabled,
	features.FeatureAIRuleInference,
	features.FeatureMessageSuggestions,
}

// LoadConfig loads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence. Environment
// variable names are the upper-cased keys with dots replaced by underscores
// (SERVER_PORT, DATABASE_URL, AI_ENABLED, ...). Provider keys are also read
// from GEMINI_API_KEY and OPENAI_API_KEY.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, binding := range [][]string{
		{"ai.gemini.api_key", "AI_GEMINI_API_KEY", "GEMINI_API_KEY"},
		{"ai.openai.api_key", "AI_OPENAI_API_KEY", "OPENAI_API_KEY"},
	} {
		if err := v.BindEnv(binding...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", binding[0], err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			Host:            v.GetString("server.host"),
			EnableTLS:       v.GetBool("server.enable_tls"),
			CertFile:        v.GetString("server.cert_file"),
			KeyFile:         v.GetString("server.key_file"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: v.GetInt64("security.max_request_body_size"),
			AllowedOrigins:     v.GetString("security.allowed_origins"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("rate_limit.enabled"),
			Rate:     v.GetInt("rate_limit.rate"),
			Window:   v.GetDuration("rate_limit.window"),
			AIRate:   v.GetInt("rate_limit.ai_rate"),
			AIWindow: v.GetDuration("rate_limit.ai_window"),
		},
		Cache: CacheConfig{
			RedisAddr:     v.GetString("cache.redis_addr"),
			RedisPassword: v.GetString("cache.redis_password"),
			RedisDB:       v.GetInt("cache.redis_db"),
			Prefix:        v.GetString("cache.prefix"),
			TTL:           v.GetDuration("cache.ttl"),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			Endpoint:    v.GetString("tracing.endpoint"),
			ServiceName: v.GetString("tracing.service_name"),
			Environment: v.GetString("tracing.environment"),
		},
		Logging: LoggingConfig{
			Level:       v.GetString("logging.level"),
			Development: v.GetBool("logging.development"),
		},
		AI: AIConfig{
			Enabled:       v.GetBool("ai.enabled"),
			ProviderFirst: v.GetBool("ai.provider_first"),
			Timeout:       v.GetDuration("ai.timeout"),
			BackoffBase:   v.GetDuration("ai.backoff_base"),
			Gemini: ProviderConfig{
				APIKey:   v.GetString("ai.gemini.api_key"),
				Endpoint: v.GetString("ai.gemini.endpoint"),
				Model:    v.GetString("ai.gemini.model"),
			},
			OpenAI: ProviderConfig{
				APIKey:   v.GetString("ai.openai.api_key"),
				Endpoint: v.GetString("ai.openai.endpoint"),
				Model:    v.GetString("ai.openai.model"),
			},
		},
		Delivery: DeliveryConfig{
			SuccessRate: v.GetFloat64("delivery.success_rate"),
			Seed:        v.GetInt64("delivery.seed"),
		},
		Features: make(map[string]bool, len(featureKeys)),
	}

	for _, name := range featureKeys {
		cfg.Features[name] = v.GetBool("features." + name)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "")
	v.SetDefault("server.enable_tls", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.url", "sqlite://./crm.db")

	v.SetDefault("security.max_request_body_size", 10<<20)
	v.SetDefault("security.allowed_origins", "*")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rate", 100)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.ai_rate", 10)
	v.SetDefault("rate_limit.ai_window", "60s")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.prefix", "crm:")
	v.SetDefault("cache.ttl", "30s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", "crm-backend")
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.provider_first", false)
	v.SetDefault("ai.timeout", inference.DefaultTimeout.String())
	v.SetDefault("ai.backoff_base", inference.DefaultBackoffBase.String())
	v.SetDefault("ai.gemini.api_key", "")
	v.SetDefault("ai.gemini.endpoint", inference.DefaultGeminiEndpoint)
	v.SetDefault("ai.gemini.model", inference.DefaultGeminiModel)
	v.SetDefault("ai.openai.api_key", "")
	v.SetDefault("ai.openai.endpoint", inference.DefaultOpenAIEndpoint)
	v.SetDefault("ai.openai.model", inference.DefaultOpenAIModel)

	v.SetDefault("delivery.success_rate", 0.9)
	v.SetDefault("delivery.seed", 0)

	for _, name := range featureKeys {
		v.SetDefault("features."+name, true)
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("cert file and key file are required when TLS is enabled")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.AIRate <= 0 || c.RateLimit.AIWindow <= 0 {
			return fmt.Errorf("ai rate limit must be positive")
		}
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai timeout must be positive")
	}
	if c.Delivery.SuccessRate < 0 || c.Delivery.SuccessRate > 1 {
		return fmt.Errorf("delivery success rate must be between 0 and 1, got %v", c.Delivery.SuccessRate)
	}
	return nil
}

// Inference converts the AI section into the inferencer's configuration.
func (c *Config) Inference() inference.Config {
	return inference.Config{
		Enabled:       c.AI.Enabled,
		ProviderFirst: c.AI.ProviderFirst,
		Gemini: inference.ProviderConfig{
			APIKey:   c.AI.Gemini.APIKey,
			Endpoint: c.AI.Gemini.Endpoint,
			Model:    c.AI.Gemini.Model,
		},
		OpenAI: inference.ProviderConfig{
			APIKey:   c.AI.OpenAI.APIKey,
			Endpoint: c.AI.OpenAI.Endpoint,
			Model:    c.AI.OpenAI.Model,
		},
		Timeout:     c.AI.Timeout,
		BackoffBase: c.AI.BackoffBase,
	}
}
