package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apto-as/tmws/internal/config"
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
	os.Unsetenv("GEMINI_API_KEY")
}

func TestBuildWiresApplicationEndToEnd(t *testing.T) {
	clearTMWSEnv(t)
	dir := t.TempDir()
	t.Setenv("TMWS_DATABASE_URL", filepath.Join(dir, "badger"))
	t.Setenv("TMWS_SECRET_KEY", "abcdefghijklmnopqrstuvwxyz0123456789")
	t.Setenv("TMWS_VECTOR_DIMENSION", "4")

	app, err := build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	resp := dispatchOnce(context.Background(), app, "athena-conductor", "list_trinitas_agents", struct{}{})
	if resp.Error != nil {
		t.Fatalf("list_trinitas_agents failed: %+v", resp.Error)
	}
}

func TestBuildBootstrapsDefaultAgentForStdio(t *testing.T) {
	clearTMWSEnv(t)
	dir := t.TempDir()
	t.Setenv("TMWS_DATABASE_URL", filepath.Join(dir, "badger"))
	t.Setenv("TMWS_SECRET_KEY", "abcdefghijklmnopqrstuvwxyz0123456789")
	t.Setenv("TMWS_VECTOR_DIMENSION", "4")
	t.Setenv("TMWS_ALLOW_DEFAULT_AGENT", "true")
	t.Setenv("TMWS_AGENT_ID", "scout-recon")
	t.Setenv("TMWS_AGENT_NAMESPACE", "ops")

	app, err := build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	if _, err := app.registry.Resolve("scout-recon"); err != nil {
		t.Fatalf("expected default agent to be registered: %v", err)
	}
}

func TestExitCodeForBuildErrorClassifiesConfigFailure(t *testing.T) {
	clearTMWSEnv(t)

	_, err := build(context.Background())
	if err == nil {
		t.Fatal("expected build to fail with TMWS_DATABASE_URL unset")
	}
	if got := exitCodeForBuildError(err); got != config.ExitConfigError {
		t.Errorf("expected ExitConfigError for a config validation failure, got %d", got)
	}
}
