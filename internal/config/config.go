// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Gateway kinds.
const (
	GatewayOpenAI = "openai"
	GatewayGRPC   = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	AllowedOrigins  string
	DBPath          string
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	Gateway         GatewayConfig
	Memory          MemoryConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	Timeout         TimeoutConfig
	ConversationLog ConversationLogConfig
}

// GatewayConfig selects and tunes the completion gateway.
type GatewayConfig struct {
	Kind           string
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32
	GRPCAddr       string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// MemoryConfig selects where preference memory comes from. The store is
// consulted first, then the optional YAML file.
type MemoryConfig struct {
	UseStore bool
	File     string
}

// RateLimitConfig bounds turns per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the session event stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
	ReplayBuffer       int
}

// TimeoutConfig holds server-side timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// fileConfig is the optional TOML layer. Durations are Go duration strings.
type fileConfig struct {
	Port           string `toml:"port"`
	FrontendURL    string `toml:"frontend_url"`
	AllowedOrigins string `toml:"allowed_origins"`
	DBPath         string `toml:"db_path"`
	SessionTTL     string `toml:"session_ttl"`
	SweepInterval  string `toml:"sweep_interval"`
	Gateway        struct {
		Kind           string   `toml:"kind"`
		BaseURL        string   `toml:"base_url"`
		APIKey         string   `toml:"api_key"`
		Model          string   `toml:"model"`
		Temperature    *float32 `toml:"temperature"`
		GRPCAddr       string   `toml:"grpc_addr"`
		RequestTimeout string   `toml:"request_timeout"`
		ConnectTimeout string   `toml:"connect_timeout"`
	} `toml:"gateway"`
	Memory struct {
		UseStore *bool  `toml:"use_store"`
		File     string `toml:"file"`
	} `toml:"memory"`
	RateLimit struct {
		Requests int    `toml:"requests"`
		Window   string `toml:"window"`
	} `toml:"rate_limit"`
	ConversationLog struct {
		Enabled       *bool  `toml:"enabled"`
		Dir           string `toml:"dir"`
		GlobalEnabled *bool  `toml:"global_enabled"`
		GlobalPath    string `toml:"global_path"`
		QueueSize     int    `toml:"queue_size"`
	} `toml:"conversation_log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8080",
		AllowedOrigins: "*",
		DBPath:         "./data/writecoach.db",
		SessionTTL:     60 * time.Minute,
		SweepInterval:  5 * time.Minute,
		Gateway: GatewayConfig{
			Kind:           GatewayOpenAI,
			BaseURL:        "https://api.minimax.io/v1",
			Model:          "MiniMax-M2",
			Temperature:    0.7,
			RequestTimeout: 60 * time.Second,
			ConnectTimeout: 5 * time.Second,
		},
		Memory: MemoryConfig{UseStore: true},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 10,
			WindowDuration:    time.Minute,
		},
		SSE: SSEConfig{
			KeepaliveInterval:  10 * time.Second,
			RetryDelay:         5 * time.Second,
			MaxRequestBodySize: 1 << 20,
			ReplayBuffer:       100,
		},
		Timeout: TimeoutConfig{
			HealthCheck: 5 * time.Second,
			Shutdown:    10 * time.Second,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:    true,
			Dir:        "./data/logs/conversations",
			GlobalPath: "./data/logs/conversations/all.ndjson",
			QueueSize:  1000,
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file named
// by CONFIG_FILE, then environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.FrontendURL, fc.FrontendURL)
	setString(&c.AllowedOrigins, fc.AllowedOrigins)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.Gateway.Kind, fc.Gateway.Kind)
	setString(&c.Gateway.BaseURL, fc.Gateway.BaseURL)
	setString(&c.Gateway.APIKey, fc.Gateway.APIKey)
	setString(&c.Gateway.Model, fc.Gateway.Model)
	setString(&c.Gateway.GRPCAddr, fc.Gateway.GRPCAddr)
	if fc.Gateway.Temperature != nil {
		c.Gateway.Temperature = *fc.Gateway.Temperature
	}
	if fc.Memory.UseStore != nil {
		c.Memory.UseStore = *fc.Memory.UseStore
	}
	setString(&c.Memory.File, fc.Memory.File)
	if fc.RateLimit.Requests > 0 {
		c.RateLimit.RequestsPerWindow = fc.RateLimit.Requests
	}
	if fc.ConversationLog.Enabled != nil {
		c.ConversationLog.Enabled = *fc.ConversationLog.Enabled
	}
	if fc.ConversationLog.GlobalEnabled != nil {
		c.ConversationLog.GlobalEnabled = *fc.ConversationLog.GlobalEnabled
	}
	setString(&c.ConversationLog.Dir, fc.ConversationLog.Dir)
	setString(&c.ConversationLog.GlobalPath, fc.ConversationLog.GlobalPath)
	if fc.ConversationLog.QueueSize > 0 {
		c.ConversationLog.QueueSize = fc.ConversationLog.QueueSize
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"session_ttl", fc.SessionTTL, &c.SessionTTL},
		{"sweep_interval", fc.SweepInterval, &c.SweepInterval},
		{"gateway.request_timeout", fc.Gateway.RequestTimeout, &c.Gateway.RequestTimeout},
		{"gateway.connect_timeout", fc.Gateway.ConnectTimeout, &c.Gateway.ConnectTimeout},
		{"rate_limit.window", fc.RateLimit.Window, &c.RateLimit.WindowDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.AllowedOrigins = getEnv("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.DBPath = getEnv("DB_PATH", c.DBPath)

	c.Gateway.Kind = strings.ToLower(getEnv("GATEWAY_KIND", c.Gateway.Kind))
	c.Gateway.BaseURL = getEnv("LLM_BASE_URL", c.Gateway.BaseURL)
	c.Gateway.APIKey = getEnv("LLM_API_KEY", c.Gateway.APIKey)
	c.Gateway.Model = getEnv("LLM_MODEL", c.Gateway.Model)
	c.Gateway.GRPCAddr = getEnv("GATEWAY_GRPC_ADDR", c.Gateway.GRPCAddr)
	if raw, ok := os.LookupEnv("LLM_TEMPERATURE"); ok {
		t, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			return fmt.Errorf("LLM_TEMPERATURE: %w", err)
		}
		c.Gateway.Temperature = float32(t)
	}

	c.Memory.UseStore = getEnvBool("MEMORY_USE_STORE", c.Memory.UseStore)
	c.Memory.File = getEnv("MEMORY_FILE", c.Memory.File)

	c.RateLimit.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	if q := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize); q > 0 {
		c.ConversationLog.QueueSize = q
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SESSION_TTL", &c.SessionTTL},
		{"SWEEP_INTERVAL", &c.SweepInterval},
		{"LLM_REQUEST_TIMEOUT", &c.Gateway.RequestTimeout},
		{"GATEWAY_CONNECT_TIMEOUT", &c.Gateway.ConnectTimeout},
		{"RATE_LIMIT_WINDOW", &c.RateLimit.WindowDuration},
		{"SSE_KEEPALIVE_INTERVAL", &c.SSE.KeepaliveInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	switch c.Gateway.Kind {
	case GatewayOpenAI:
		if c.Gateway.BaseURL == "" {
			return errors.New("LLM_BASE_URL cannot be empty for the openai gateway")
		}
		if c.Gateway.Model == "" {
			return errors.New("LLM_MODEL cannot be empty for the openai gateway")
		}
	case GatewayGRPC:
		if c.Gateway.GRPCAddr == "" {
			return errors.New("GATEWAY_GRPC_ADDR cannot be empty for the grpc gateway")
		}
	default:
		return fmt.Errorf("GATEWAY_KIND must be %q or %q, got %q", GatewayOpenAI, GatewayGRPC, c.Gateway.Kind)
	}
	if c.Gateway.RequestTimeout <= 0 {
		return errors.New("LLM_REQUEST_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return errors.New("rate limit requests and window must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
