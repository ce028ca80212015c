package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
	_ "time/tzdata" // tools.default_timezone must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
)

var (
	validDrivers       = []string{"memory", "postgres", "sqlite", "sqlite3"}
	validProviderTypes = []string{"anthropic", "google", "mock", "openai", "webhook"}
	validLogFormats    = []string{"json", "text"}
)

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port must be between 0 and 65535")
	}
	if c.Server.WebSocket.MaxPayloadBytes < 0 {
		add("server.websocket.max_payload_bytes must not be negative")
	}
	if c.Server.WebSocket.PongWait > 0 && c.Server.WebSocket.PingInterval >= c.Server.WebSocket.PongWait {
		add("server.websocket.ping_interval must be shorter than pong_wait")
	}

	if !slices.Contains(validDrivers, c.Database.Driver) {
		add("database.driver %q is not one of %s", c.Database.Driver, strings.Join(validDrivers, ", "))
	} else if c.Database.Driver != "memory" && strings.TrimSpace(c.Database.URL) == "" {
		add("database.url is required for driver %q", c.Database.Driver)
	}

	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		add("llm.default_provider %q is not configured under llm.providers", c.LLM.DefaultProvider)
	}
	if name := c.LLM.SummarizerProvider; name != "" {
		if _, ok := c.LLM.Providers[name]; !ok {
			add("llm.summarizer_provider %q is not configured under llm.providers", name)
		}
	}
	for _, name := range c.LLM.FallbackProviders {
		if name == c.LLM.DefaultProvider {
			add("llm.fallback_providers must not repeat the default provider %q", name)
		} else if _, ok := c.LLM.Providers[name]; !ok {
			add("llm.fallback_providers %q is not configured under llm.providers", name)
		}
	}
	if c.LLM.FailoverCooldown < 0 {
		add("llm.failover_cooldown must not be negative")
	}
	for _, name := range slices.Sorted(maps.Keys(c.LLM.Providers)) {
		p := c.LLM.Providers[name]
		if !slices.Contains(validProviderTypes, p.Type) {
			add("llm.providers.%s.type %q is not one of %s", name, p.Type, strings.Join(validProviderTypes, ", "))
			continue
		}
		switch p.Type {
		case "webhook":
			if err := validateHTTPURL(p.BaseURL); err != nil {
				add("llm.providers.%s.base_url: %v", name, err)
			}
		case "openai", "anthropic", "google":
			// Keyless openai entries are allowed for local compatible servers.
			if p.APIKey == "" && !(p.Type == "openai" && p.BaseURL != "") {
				add("llm.providers.%s.api_key is required", name)
			}
		}
	}

	if c.Tools.Remote.Endpoint != "" {
		if err := validateHTTPURL(c.Tools.Remote.Endpoint); err != nil {
			add("tools.remote.endpoint: %v", err)
		}
	}
	if c.Tools.Remote.Timeout < 0 || c.Tools.Timeout < 0 {
		add("tools timeouts must not be negative")
	}
	if _, err := time.LoadLocation(c.Tools.DefaultTimezone); err != nil {
		add("tools.default_timezone %q: %v", c.Tools.DefaultTimezone, err)
	}

	if c.Orchestrator.MaxToolIterations < 1 {
		add("orchestrator.max_tool_iterations must be at least 1")
	}
	if c.Orchestrator.TurnTimeout < 0 {
		add("orchestrator.turn_timeout must not be negative")
	}
	if c.Orchestrator.HistoryLimit < 0 {
		add("orchestrator.history_limit must not be negative")
	}

	if c.Cleanup.MinMessages < 1 {
		add("cleanup.min_messages must be at least 1")
	}
	if c.Cleanup.Enabled {
		if _, err := cron.ParseStandard(c.Cleanup.Schedule); err != nil {
			add("cleanup.schedule %q: %v", c.Cleanup.Schedule, err)
		}
	}

	if c.SessionLocks.Enabled {
		if c.Database.Driver != "postgres" {
			add("session_locks require database.driver postgres")
		}
		if c.SessionLocks.RefreshInterval >= c.SessionLocks.TTL {
			add("session_locks.refresh_interval must be shorter than ttl")
		}
	}

	if !slices.Contains(validLogFormats, strings.ToLower(c.Logging.Format)) {
		add("logging.format %q is not one of %s", c.Logging.Format, strings.Join(validLogFormats, ", "))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

func validateHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
