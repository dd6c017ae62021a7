package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/apto-as/tmws/internal/access"
	"github.com/apto-as/tmws/internal/config"
	"github.com/apto-as/tmws/internal/embedding"
	"github.com/apto-as/tmws/internal/memory"
	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/registry"
	"github.com/apto-as/tmws/internal/session"
	"github.com/apto-as/tmws/internal/storage"
	"github.com/apto-as/tmws/internal/tmwserr"
	"github.com/apto-as/tmws/internal/tools"
)

// lmstudioPrefix marks TMWS_EMBEDDING_MODEL as an LM Studio base URL rather
// than a Gemini model name, e.g. "lmstudio:http://localhost:1234/v1/qwen3-embedding".
const lmstudioPrefix = "lmstudio:"

// application holds every long-lived collaborator built from a
// config.ServerConfig, mirroring the teacher's single App struct but
// generalized into the server's layered packages.
type application struct {
	cfg      *config.ServerConfig
	logger   *log.Logger
	store    *storage.Store
	registry *registry.Registry
	memory   *memory.Service
	sessions *session.Manager
	router   *tools.Router
}

func build(ctx context.Context) (*application, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(os.Stderr, "tmws")

	databasePath := strings.TrimPrefix(cfg.DatabaseURL, "badger://")
	rel, err := storage.OpenRelationalStore(databasePath)
	if err != nil {
		return nil, fmt.Errorf("open relational store at %s: %w", databasePath, err)
	}

	// Qdrant is not wired here: its host/key would need env vars outside
	// the TMWS_* allowlist, so this server only ever runs the embedded
	// chromem-go vector backend.
	vectorDir := databasePath + "-vectors"
	factory := storage.NewVectorBackendFactory(storage.VectorBackendConfig{
		LocalDBPath:     vectorDir,
		VectorDimension: cfg.VectorDimension,
	}, logger)
	store := storage.Open(rel, factory, logger)

	provider, err := selectEmbeddingProvider(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	gateway := embedding.NewGateway(provider, 4096)

	reg, err := registry.New(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build agent registry: %w", err)
	}
	if err := bootstrapCustomAgents(ctx, reg, logger); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := bootstrapDefaultAgent(ctx, reg, cfg); err != nil {
		_ = store.Close()
		return nil, err
	}

	limits := access.DefaultLimits()
	if cfg.RateLimitRequests > 0 && cfg.RateLimitPeriod > 0 {
		perMinute := cfg.RateLimitRequests * 60 / cfg.RateLimitPeriod
		limits[access.BucketRequests] = access.BucketLimits{PerMinute: perMinute, Burst: perMinute}
	}
	engine := access.NewEngine(access.NewRateLimiter(limits), nil)

	mem := memory.New(store, gateway, engine, reg, logger)
	sessions := session.NewManager(logger)
	router := tools.NewRouter(sessions, reg, mem, logger)

	return &application{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: reg,
		memory:   mem,
		sessions: sessions,
		router:   router,
	}, nil
}

func (a *application) Close() {
	a.sessions.Close()
	_ = a.store.Close()
}

// selectEmbeddingProvider picks a provider from the wiring a deployment can
// actually supply. TMWS_* never carries an external API key (per spec.md
// §6's allowlist), so the Gemini credential is read the same way the
// teacher reads it: a single env var sitting outside the server's own
// config layer, used directly as an SDK client credential.
func selectEmbeddingProvider(ctx context.Context, cfg *config.ServerConfig) (embedding.Provider, error) {
	if strings.HasPrefix(cfg.EmbeddingModel, lmstudioPrefix) {
		rest := strings.TrimPrefix(cfg.EmbeddingModel, lmstudioPrefix)
		baseURL, modelName, ok := strings.Cut(rest, "/v1/")
		if !ok {
			return nil, tmwserr.Validation("TMWS_EMBEDDING_MODEL %q: expected lmstudio:<base-url>/v1/<model>", cfg.EmbeddingModel)
		}
		return embedding.NewLMStudioProvider(baseURL+"/v1", modelName, cfg.VectorDimension), nil
	}

	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			return nil, tmwserr.Validation("create gemini client: %v", err)
		}
		modelName := cfg.EmbeddingModel
		if modelName == "" {
			modelName = "gemini-embedding-001"
		}
		return embedding.NewGeminiProvider(client, modelName, cfg.VectorDimension), nil
	}

	return embedding.NewNullProvider(cfg.VectorDimension), nil
}

// bootstrapCustomAgents loads custom_agents.json (if present anywhere on
// the search path) and registers every entry as a persisted agent, the
// startup-time counterpart to the save_agent_profiles/load_agent_profiles
// tools which do the same thing on demand over the wire.
func bootstrapCustomAgents(ctx context.Context, reg *registry.Registry, logger *log.Logger) error {
	entries, err := config.LoadCustomAgents(logger)
	if err != nil {
		return err
	}
	for _, e := range entries {
		level := model.AccessLevel(e.AccessLevel)
		if level == "" {
			level = "standard"
		}
		spec := registry.AgentSpec{
			AgentID:      e.FullID,
			DisplayName:  e.DisplayName,
			Namespace:    e.Namespace,
			Capabilities: e.Metadata,
			AccessLevel:  level,
		}
		if _, err := reg.Register(ctx, spec, true); err != nil {
			logger.Printf("custom agent %s: %v", e.FullID, err)
		}
	}
	return nil
}

// bootstrapDefaultAgent registers the process-wide default agent identity
// named by TMWS_AGENT_ID, when TMWS_ALLOW_DEFAULT_AGENT opts into it. Used
// by ServeStdio so a single embedded client does not need to call
// switch_agent before its first request.
func bootstrapDefaultAgent(ctx context.Context, reg *registry.Registry, cfg *config.ServerConfig) error {
	if !cfg.AllowDefaultAgent || cfg.AgentID == "" {
		return nil
	}
	if _, err := reg.Resolve(cfg.AgentID); err == nil {
		return nil
	}
	_, err := reg.Register(ctx, registry.AgentSpec{
		AgentID:      cfg.AgentID,
		DisplayName:  cfg.AgentID,
		Namespace:    cfg.AgentNamespace,
		Capabilities: cfg.AgentCapabilities,
		AccessLevel:  "standard",
	}, false)
	return err
}
