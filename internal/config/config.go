package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the main configuration structure for jarvis.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	LLM          LLMConfig          `yaml:"llm"`
	Tools        ToolsConfig        `yaml:"tools"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
	SessionLocks SessionLocksConfig `yaml:"session_locks"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string          `yaml:"host"`
	HTTPPort        int             `yaml:"http_port"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Auth            AuthConfig      `yaml:"auth"`
	WebSocket       WebSocketConfig `yaml:"websocket"`
}

// AuthConfig enables bearer-token checks on the API and WebSocket routes
// when JWTSecret is set.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type WebSocketConfig struct {
	MaxPayloadBytes int64         `yaml:"max_payload_bytes"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
	SendBuffer      int           `yaml:"send_buffer"`
}

// DatabaseConfig selects the session store backend.
//
// Driver is one of "memory", "postgres", "sqlite" (pure Go) or "sqlite3" (cgo).
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

type LLMConfig struct {
	DefaultProvider string `yaml:"default_provider"`
	// SummarizerProvider names the provider used by session cleanup.
	// Empty means DefaultProvider.
	SummarizerProvider string `yaml:"summarizer_provider"`
	// FallbackProviders are tried in order when the default provider cannot
	// open a stream.
	FallbackProviders []string `yaml:"fallback_providers"`
	// FailoverCooldown is how long a provider that keeps failing is skipped.
	FailoverCooldown time.Duration                `yaml:"failover_cooldown"`
	SystemPrompt     string                       `yaml:"system_prompt"`
	MaxTokens        int                          `yaml:"max_tokens"`
	Providers        map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures one provider entry. Type defaults to the map
// key, so an "ollama" entry can point an openai client at a local base_url.
type LLMProviderConfig struct {
	Type         string            `yaml:"type"`
	APIKey       string            `yaml:"api_key"`
	DefaultModel string            `yaml:"default_model"`
	BaseURL      string            `yaml:"base_url"`
	MaxRetries   int               `yaml:"max_retries"`
	RetryDelay   time.Duration     `yaml:"retry_delay"`
	Timeout      time.Duration     `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers"`
}

type ToolsConfig struct {
	// Timeout bounds local tool calls.
	Timeout         time.Duration     `yaml:"timeout"`
	DefaultTimezone string            `yaml:"default_timezone"`
	ClassifyQueries bool              `yaml:"classify_queries"`
	Manifest        string            `yaml:"manifest"`
	WatchManifest   bool              `yaml:"watch_manifest"`
	Disabled        []string          `yaml:"disabled"`
	Remote          RemoteToolsConfig `yaml:"remote"`
}

// RemoteToolsConfig points at the HTTP tool executor.
type RemoteToolsConfig struct {
	Endpoint         string            `yaml:"endpoint"`
	Timeout          time.Duration     `yaml:"timeout"`
	MaxResponseBytes int64             `yaml:"max_response_bytes"`
	Headers          map[string]string `yaml:"headers"`
}

type OrchestratorConfig struct {
	MaxToolIterations  int           `yaml:"max_tool_iterations"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	HistoryLimit       int           `yaml:"history_limit"`
	CancelOnDisconnect bool          `yaml:"cancel_on_disconnect"`
}

type CleanupConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a standard 5-field cron expression or a descriptor such as "@daily".
	Schedule    string `yaml:"schedule"`
	MinMessages int    `yaml:"min_messages"`
}

type SessionLocksConfig struct {
	Enabled         bool          `yaml:"enabled"`
	OwnerID         string        `yaml:"owner_id"`
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// Load reads, merges, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration for running without a file: an
// in-memory store and the mock provider unless provider keys are exported.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GEMINI_API_KEY",
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 20004
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.Auth.TokenExpiry == 0 {
		cfg.Server.Auth.TokenExpiry = 24 * time.Hour
	}
	ws := &cfg.Server.WebSocket
	if ws.MaxPayloadBytes == 0 {
		ws.MaxPayloadBytes = 1 << 20
	}
	if ws.PingInterval == 0 {
		ws.PingInterval = 15 * time.Second
	}
	if ws.PongWait == 0 {
		ws.PongWait = 45 * time.Second
	}
	if ws.WriteWait == 0 {
		ws.WriteWait = 10 * time.Second
	}
	if ws.SendBuffer == 0 {
		ws.SendBuffer = 64
	}

	db := &cfg.Database
	if db.Driver == "" {
		db.Driver = "memory"
	}
	db.Driver = strings.ToLower(db.Driver)
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = 25
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = 5
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = 5 * time.Minute
	}
	if db.ConnMaxIdleTime == 0 {
		db.ConnMaxIdleTime = 2 * time.Minute
	}
	if db.ConnectTimeout == 0 {
		db.ConnectTimeout = 10 * time.Second
	}

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	for name, envKey := range providerKeyEnv {
		p, ok := cfg.LLM.Providers[name]
		if !ok {
			if key := os.Getenv(envKey); key != "" {
				cfg.LLM.Providers[name] = LLMProviderConfig{APIKey: key}
			}
			continue
		}
		if p.APIKey == "" {
			p.APIKey = os.Getenv(envKey)
			cfg.LLM.Providers[name] = p
		}
	}
	for name, p := range cfg.LLM.Providers {
		if p.Type == "" {
			p.Type = name
		}
		p.Type = strings.ToLower(p.Type)
		if p.MaxRetries == 0 {
			p.MaxRetries = 3
		}
		if p.RetryDelay == 0 {
			p.RetryDelay = time.Second
		}
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}
		cfg.LLM.Providers[name] = p
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = firstConfiguredProvider(cfg.LLM.Providers)
	}
	if cfg.LLM.DefaultProvider == "mock" {
		if _, ok := cfg.LLM.Providers["mock"]; !ok {
			cfg.LLM.Providers["mock"] = LLMProviderConfig{Type: "mock", MaxRetries: 1, RetryDelay: time.Second, Timeout: time.Minute}
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}

	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Tools.DefaultTimezone == "" {
		cfg.Tools.DefaultTimezone = "Asia/Jerusalem"
	}
	if cfg.Tools.Remote.Timeout == 0 {
		cfg.Tools.Remote.Timeout = 90 * time.Second
	}
	if cfg.Tools.Remote.MaxResponseBytes == 0 {
		cfg.Tools.Remote.MaxResponseBytes = 1 << 20
	}

	if cfg.Orchestrator.MaxToolIterations == 0 {
		cfg.Orchestrator.MaxToolIterations = 10
	}
	if cfg.Orchestrator.TurnTimeout == 0 {
		cfg.Orchestrator.TurnTimeout = 5 * time.Minute
	}
	if cfg.Orchestrator.HistoryLimit == 0 {
		cfg.Orchestrator.HistoryLimit = 20
	}

	if cfg.Cleanup.Schedule == "" {
		cfg.Cleanup.Schedule = "@daily"
	}
	if cfg.Cleanup.MinMessages == 0 {
		cfg.Cleanup.MinMessages = 2
	}

	locks := &cfg.SessionLocks
	if locks.TTL == 0 {
		locks.TTL = 2 * time.Minute
	}
	if locks.RefreshInterval == 0 {
		locks.RefreshInterval = 30 * time.Second
	}
	if locks.AcquireTimeout == 0 {
		locks.AcquireTimeout = 10 * time.Second
	}
	if locks.PollInterval == 0 {
		locks.PollInterval = 200 * time.Millisecond
	}
	if locks.OwnerID == "" {
		host, _ := os.Hostname()
		locks.OwnerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "jarvis"
	}
}

// firstConfiguredProvider prefers hosted providers in a stable order and
// falls back to the mock provider.
func firstConfiguredProvider(providers map[string]LLMProviderConfig) string {
	for _, name := range []string{"openai", "anthropic", "google", "webhook"} {
		if _, ok := providers[name]; ok {
			return name
		}
	}
	if len(providers) == 1 {
		for name := range providers {
			return name
		}
	}
	return "mock"
}

// Addr is the host:port pair the HTTP server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Summarizer returns the provider name used for cleanup summaries.
func (c LLMConfig) Summarizer() string {
	if c.SummarizerProvider != "" {
		return c.SummarizerProvider
	}
	return c.DefaultProvider
}
