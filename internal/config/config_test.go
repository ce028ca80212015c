package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, `
llm:
  default_provider: mock
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 20004 {
		t.Errorf("http_port = %d, want 20004", cfg.Server.HTTPPort)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Orchestrator.MaxToolIterations != 10 || cfg.Orchestrator.HistoryLimit != 20 {
		t.Errorf("unexpected orchestrator defaults: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.TurnTimeout != 5*time.Minute {
		t.Errorf("turn_timeout = %v, want 5m", cfg.Orchestrator.TurnTimeout)
	}
	if cfg.Tools.Remote.Timeout != 90*time.Second {
		t.Errorf("remote timeout = %v, want 90s", cfg.Tools.Remote.Timeout)
	}
	if cfg.Tools.DefaultTimezone != "Asia/Jerusalem" {
		t.Errorf("default timezone = %q", cfg.Tools.DefaultTimezone)
	}
	if cfg.Cleanup.MinMessages != 2 {
		t.Errorf("min_messages = %d, want 2", cfg.Cleanup.MinMessages)
	}
	if got := cfg.LLM.Providers["mock"].Type; got != "mock" {
		t.Errorf("mock provider type = %q", got)
	}
	if cfg.Server.Addr() != "0.0.0.0:20004" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  default_provider: mock
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	clearProviderEnv(t)
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "default provider missing",
			yaml: `
llm:
  default_provider: openai
  providers:
    anthropic:
      api_key: k
`,
			wantErr: "default_provider",
		},
		{
			name: "unknown driver",
			yaml: `
database:
  driver: mongo
llm:
  default_provider: mock
`,
			wantErr: "database.driver",
		},
		{
			name: "postgres without url",
			yaml: `
database:
  driver: postgres
llm:
  default_provider: mock
`,
			wantErr: "database.url",
		},
		{
			name: "fallback not configured",
			yaml: `
llm:
  default_provider: mock
  fallback_providers: [anthropic]
`,
			wantErr: "llm.fallback_providers",
		},
		{
			name: "webhook needs base url",
			yaml: `
llm:
  default_provider: n8n
  providers:
    n8n:
      type: webhook
`,
			wantErr: "llm.providers.n8n.base_url",
		},
		{
			name: "hosted provider needs key",
			yaml: `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`,
			wantErr: "api_key",
		},
		{
			name: "bad remote endpoint",
			yaml: `
llm:
  default_provider: mock
tools:
  remote:
    endpoint: ftp://tools.local/run
`,
			wantErr: "tools.remote.endpoint",
		},
		{
			name: "bad cron schedule",
			yaml: `
llm:
  default_provider: mock
cleanup:
  enabled: true
  schedule: "every tuesday"
`,
			wantErr: "cleanup.schedule",
		},
		{
			name: "bad timezone",
			yaml: `
llm:
  default_provider: mock
tools:
  default_timezone: Mars/Olympus
`,
			wantErr: "default_timezone",
		},
		{
			name: "locks need postgres",
			yaml: `
llm:
  default_provider: mock
session_locks:
  enabled: true
`,
			wantErr: "session_locks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %s error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("JARVIS_TOOLS_URL", "http://n8n.local:5678/webhook/tools")
	path := writeConfig(t, `
llm:
  default_provider: mock
tools:
  remote:
    endpoint: ${JARVIS_TOOLS_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tools.Remote.Endpoint != "http://n8n.local:5678/webhook/tools" {
		t.Fatalf("endpoint = %q", cfg.Tools.Remote.Endpoint)
	}
}

func TestLoadProviderKeyFromEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := writeConfig(t, `
orchestrator:
  max_tool_iterations: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "openai" {
		t.Fatalf("default provider = %q, want openai", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Providers["openai"].APIKey != "sk-test" {
		t.Fatalf("api key not taken from env")
	}
	if cfg.Orchestrator.MaxToolIterations != 4 {
		t.Fatalf("max_tool_iterations = %d", cfg.Orchestrator.MaxToolIterations)
	}
}

func TestLoadIncludesAndJSON5(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json5")
	if err := os.WriteFile(base, []byte(`{
  // shared defaults
  orchestrator: { history_limit: 50, turn_timeout: "2m" },
  llm: { default_provider: "mock" },
}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	path := filepath.Join(dir, "jarvis.yaml")
	if err := os.WriteFile(path, []byte(`
$include: base.json5
orchestrator:
  history_limit: 30
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.HistoryLimit != 30 {
		t.Errorf("history_limit = %d, want 30 (override)", cfg.Orchestrator.HistoryLimit)
	}
	if cfg.Orchestrator.TurnTimeout != 2*time.Minute {
		t.Errorf("turn_timeout = %v, want 2m (included)", cfg.Orchestrator.TurnTimeout)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestDefaultIsValid(t *testing.T) {
	clearProviderEnv(t)
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.LLM.Summarizer() != "mock" {
		t.Fatalf("Summarizer() = %q, want mock", cfg.LLM.Summarizer())
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jarvis.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
