// Package config loads server configuration from the TMWS_* environment
// allowlist and the custom_agents.json search path, mirroring the
// teacher's LoadConfig/SaveConfig idiom (defaults first, then environment
// overrides) but generalized to the full allowlist and three-path
// search order.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/apto-as/tmws/internal/tmwserr"
)

// Exit codes per the server's external-interfaces contract.
const (
	ExitOK                  = 0
	ExitConfigError         = 2
	ExitDatabaseUnreachable = 3
	ExitBadArgument         = 64
)

// Environment is one of the three recognized TMWS_ENVIRONMENT values.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// weakSecretKeys lists values TMWS_SECRET_KEY must not equal in any environment,
// the same kind of denylist the teacher's access layer would reject
// obviously-default credentials against.
var weakSecretKeys = map[string]bool{
	"changeme":     true,
	"secret":       true,
	"insecure":     true,
	"development-secret-key-not-for-production": true,
	strings.Repeat("0", 32):                     true,
	strings.Repeat("x", 32):                     true,
}

// MinSecretKeyLength is the minimum TMWS_SECRET_KEY length.
const MinSecretKeyLength = 32

// ServerConfig is the fully resolved configuration a server process starts
// with, assembled entirely from the TMWS_* environment allowlist -- no
// other environment variable is ever read.
type ServerConfig struct {
	DatabaseURL string
	SecretKey   string
	Environment Environment

	AgentID           string
	AgentNamespace    string
	AgentCapabilities map[string]any

	AllowDefaultAgent bool

	RateLimitRequests int
	RateLimitPeriod   int // seconds

	EmbeddingModel  string
	VectorDimension int

	LogLevel string
}

// LoadFromEnv reads the TMWS_* allowlist, applies spec defaults, and
// enforces the secret-key rules: the key is required, length- and
// denylist-checked in every environment, and checked for dev/test
// placeholders in production. Any other failure
// (malformed integer, malformed JSON capabilities map) is an ErrValidation,
// which callers should treat as ExitConfigError.
func LoadFromEnv() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Environment:       EnvDevelopment,
		RateLimitRequests: 1000,
		RateLimitPeriod:   60,
		VectorDimension:   384,
		LogLevel:          "info",
	}

	cfg.DatabaseURL = os.Getenv("TMWS_DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, tmwserr.Validation("TMWS_DATABASE_URL is required")
	}

	cfg.SecretKey = os.Getenv("TMWS_SECRET_KEY")

	if v := os.Getenv("TMWS_ENVIRONMENT"); v != "" {
		env := Environment(v)
		switch env {
		case EnvDevelopment, EnvStaging, EnvProduction:
			cfg.Environment = env
		default:
			return nil, tmwserr.Validation("TMWS_ENVIRONMENT %q is not one of development/staging/production", v)
		}
	}

	if cfg.SecretKey == "" {
		return nil, tmwserr.Validation("TMWS_SECRET_KEY is required")
	}
	if err := checkSecretStrength(cfg.SecretKey); err != nil {
		return nil, err
	}
	if cfg.Environment == EnvProduction {
		if strings.Contains(strings.ToLower(cfg.SecretKey), "dev") || strings.Contains(strings.ToLower(cfg.SecretKey), "test") {
			return nil, tmwserr.Validation("TMWS_SECRET_KEY looks like a development/test placeholder, refusing to start in production")
		}
	}

	cfg.AgentID = os.Getenv("TMWS_AGENT_ID")
	cfg.AgentNamespace = os.Getenv("TMWS_AGENT_NAMESPACE")
	if v := os.Getenv("TMWS_AGENT_CAPABILITIES"); v != "" {
		var caps map[string]any
		if err := json.Unmarshal([]byte(v), &caps); err != nil {
			return nil, tmwserr.Validation("TMWS_AGENT_CAPABILITIES is not valid JSON: %v", err)
		}
		cfg.AgentCapabilities = caps
	}

	if v := os.Getenv("TMWS_ALLOW_DEFAULT_AGENT"); v != "" {
		cfg.AllowDefaultAgent = v == "1" || strings.EqualFold(v, "true")
	}

	if v := os.Getenv("TMWS_RATE_LIMIT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, tmwserr.Validation("TMWS_RATE_LIMIT_REQUESTS must be an integer: %v", err)
		}
		cfg.RateLimitRequests = n
	}
	if v := os.Getenv("TMWS_RATE_LIMIT_PERIOD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, tmwserr.Validation("TMWS_RATE_LIMIT_PERIOD must be an integer: %v", err)
		}
		cfg.RateLimitPeriod = n
	}

	if v := os.Getenv("TMWS_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("TMWS_VECTOR_DIMENSION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, tmwserr.Validation("TMWS_VECTOR_DIMENSION must be an integer: %v", err)
		}
		cfg.VectorDimension = n
	}

	if v := os.Getenv("TMWS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func checkSecretStrength(key string) error {
	if len(key) < MinSecretKeyLength {
		return tmwserr.Validation("TMWS_SECRET_KEY must be at least %d characters, got %d", MinSecretKeyLength, len(key))
	}
	if weakSecretKeys[strings.ToLower(key)] {
		return tmwserr.Validation("TMWS_SECRET_KEY matches a known-weak value")
	}
	return nil
}

// LogLevelValue parses cfg.LogLevel into a log package-compatible flag set;
// the ambient stack uses plain log.Logger, so this only validates the
// string rather than constructing a structured leveler.
func LogLevelValue(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(level), nil
	default:
		return "", tmwserr.Validation("TMWS_LOG_LEVEL %q is not one of debug/info/warn/error", level)
	}
}

// NewLogger builds a log.Logger writing to w with a prefix tag, the same
// shape the teacher threads through every component constructor.
func NewLogger(w io.Writer, prefix string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags)
}
