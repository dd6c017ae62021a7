package config

import (
	"os"
	"path/filepath"
	"testing"
)

var tmwsEnvVars = []string{
	"TMWS_DATABASE_URL", "TMWS_SECRET_KEY", "TMWS_ENVIRONMENT",
	"TMWS_AGENT_ID", "TMWS_AGENT_NAMESPACE", "TMWS_AGENT_CAPABILITIES",
	"TMWS_ALLOW_DEFAULT_AGENT", "TMWS_RATE_LIMIT_REQUESTS",
	"TMWS_RATE_LIMIT_PERIOD", "TMWS_EMBEDDING_MODEL",
	"TMWS_VECTOR_DIMENSION", "TMWS_LOG_LEVEL",
}

func clearTMWSEnv(t *testing.T) {
	t.Helper()
	for _, k := range tmwsEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFromEnvRequiresDatabaseURL(t *testing.T) {
	clearTMWSEnv(t)
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error when TMWS_DATABASE_URL is unset")
	}
}

func TestLoadFromEnvRequiresStrongSecretKey(t *testing.T) {
	clearTMWSEnv(t)
	t.Setenv("TMWS_DATABASE_URL", "badger://./data")
	t.Setenv("TMWS_SECRET_KEY", "short")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for a secret key under the minimum length")
	}
}

func TestLoadFromEnvRejectsWeakSecretKey(t *testing.T) {
	clearTMWSEnv(t)
	t.Setenv("TMWS_DATABASE_URL", "badger://./data")
	t.Setenv("TMWS_SECRET_KEY", "changeme")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for a known-weak secret key")
	}
}

func TestLoadFromEnvAppliesDefaults(t *testing.T) {
	clearTMWSEnv(t)
	t.Setenv("TMWS_DATABASE_URL", "badger://./data")
	t.Setenv("TMWS_SECRET_KEY", "abcdefghijklmnopqrstuvwxyz0123456789")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected default environment=development, got %q", cfg.Environment)
	}
	if cfg.RateLimitRequests != 1000 || cfg.RateLimitPeriod != 60 {
		t.Errorf("expected default rate limits 1000/60, got %d/%d", cfg.RateLimitRequests, cfg.RateLimitPeriod)
	}
	if cfg.VectorDimension != 384 {
		t.Errorf("expected default vector dimension 384, got %d", cfg.VectorDimension)
	}
}

func TestLoadFromEnvRejectsInvalidEnvironment(t *testing.T) {
	clearTMWSEnv(t)
	t.Setenv("TMWS_DATABASE_URL", "badger://./data")
	t.Setenv("TMWS_SECRET_KEY", "abcdefghijklmnopqrstuvwxyz0123456789")
	t.Setenv("TMWS_ENVIRONMENT", "bogus")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for an unrecognized TMWS_ENVIRONMENT value")
	}
}

func TestLoadFromEnvParsesAgentCapabilities(t *testing.T) {
	clearTMWSEnv(t)
	t.Setenv("TMWS_DATABASE_URL", "badger://./data")
	t.Setenv("TMWS_SECRET_KEY", "abcdefghijklmnopqrstuvwxyz0123456789")
	t.Setenv("TMWS_AGENT_CAPABILITIES", `{"search": true}`)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := cfg.AgentCapabilities["search"]; !ok || v != true {
		t.Errorf("expected capabilities to decode {search: true}, got %+v", cfg.AgentCapabilities)
	}
}

func TestLoadFromEnvRejectsMalformedCapabilitiesJSON(t *testing.T) {
	clearTMWSEnv(t)
	t.Setenv("TMWS_DATABASE_URL", "badger://./data")
	t.Setenv("TMWS_SECRET_KEY", "abcdefghijklmnopqrstuvwxyz0123456789")
	t.Setenv("TMWS_AGENT_CAPABILITIES", `not json`)

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for malformed TMWS_AGENT_CAPABILITIES")
	}
}

func TestLoadCustomAgentsMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	agents, err := LoadCustomAgents(nil)
	if err != nil {
		t.Fatalf("unexpected error for missing config: %v", err)
	}
	if agents != nil {
		t.Errorf("expected nil agents when no file is present, got %+v", agents)
	}
}

func TestLoadCustomAgentsDecodesValidFile(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	content := `{
		"version": "1.0",
		"custom_agents": [
			{"name": "Scout", "full_id": "scout-recon", "namespace": "ops",
			 "display_name": "Scout", "access_level": "standard",
			 "capabilities": ["search"], "metadata": {}}
		]
	}`
	if err := os.WriteFile(filepath.Join(dir, "custom_agents.json"), []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	agents, err := LoadCustomAgents(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agents) != 1 || agents[0].FullID != "scout-recon" {
		t.Fatalf("expected one agent scout-recon, got %+v", agents)
	}
}

func TestLoadCustomAgentsRejectsInvalidEntry(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	content := `{"version": "1.0", "custom_agents": [{"name": "Bad"}]}`
	if err := os.WriteFile(filepath.Join(dir, "custom_agents.json"), []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadCustomAgents(nil); err == nil {
		t.Fatal("expected error for an entry missing full_id/namespace")
	}
}
