// Package config layers zudu configuration: defaults, then a YAML file,
// then a .env file, then the process environment. Environment variables
// always win; file values are applied only to variables that are unset.
//
// YAML search order:
//  1. --config CLI flag (explicit path)
//  2. ZUDU_CONFIG environment variable
//  3. ~/.zudu/config.yaml
//  4. ./zudu.yaml
//
// If no file is found zudu runs entirely from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the YAML file layout. Keys mirror the environment variables they
// feed.
type Config struct {
	// Model configures the chat model provider.
	Model ModelConfig `yaml:"model"`
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`
	// Vector selects and configures the vector store.
	Vector VectorConfig `yaml:"vector"`
	// Retrieval tunes the retrieval cache.
	Retrieval RetrievalConfig `yaml:"retrieval"`
	// Redis enables the shared retrieval cache.
	Redis RedisConfig `yaml:"redis"`
	// Agent tunes the conversation agent.
	Agent AgentConfig `yaml:"agent"`
	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`
	// Storage locates the SQLite database.
	Storage StorageConfig `yaml:"storage"`
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
	// Tracing configures Langfuse tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// MaxTokens caps the reply length (MODEL_MAX_TOKENS).
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (MODEL_TEMPERATURE).
	Temperature float32 `yaml:"temperature"`
	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
	// Ark holds Volcano Engine Ark settings.
	Ark ArkConfig `yaml:"ark"`
	// Gemini holds Google Gemini settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama settings.
type OllamaConfig struct {
	// Host is the Ollama base URL (OLLAMA_HOST).
	Host string `yaml:"host"`
	// Model is the chat model name (OLLAMA_MODEL).
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI settings. Prefer OPENAI_API_KEY over api_key.
type OpenAIConfig struct {
	// APIKey feeds OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model feeds OPENAI_MODEL.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible server (OPENAI_BASE_URL).
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI settings.
type AzureConfig struct {
	// APIKey feeds AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the resource URL (AZURE_OPENAI_ENDPOINT).
	Endpoint string `yaml:"endpoint"`
	// Deployment is the model deployment name (AZURE_OPENAI_DEPLOYMENT).
	Deployment string `yaml:"deployment"`
	// APIVersion is the REST API version (AZURE_OPENAI_API_VERSION).
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcano Engine Ark settings.
type ArkConfig struct {
	// APIKey feeds ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the endpoint or model ID (ARK_MODEL).
	Model string `yaml:"model"`
	// BaseURL overrides the regional endpoint (ARK_BASE_URL).
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	// APIKey feeds GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model feeds GEMINI_MODEL.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is ollama, openai or azure (EMBEDDING_PROVIDER).
	Provider string `yaml:"provider"`
	// Model is the embedding model name (EMBEDDING_MODEL).
	Model string `yaml:"model"`
	// Dimensions overrides the model's default vector size (EMBEDDING_DIMENSIONS).
	Dimensions int `yaml:"dimensions"`
	// APIKey feeds EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the provider URL (EMBEDDING_ENDPOINT).
	Endpoint string `yaml:"endpoint"`
}

// VectorConfig selects the vector store.
type VectorConfig struct {
	// Backend is "local" (SQLite + in-process index) or "qdrant".
	Backend string `yaml:"backend"`
	// Qdrant is read when Backend is "qdrant".
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	// Host feeds QDRANT_HOST.
	Host string `yaml:"host"`
	// Port is the gRPC port (QDRANT_PORT).
	Port int `yaml:"port"`
	// Collection feeds QDRANT_COLLECTION.
	Collection string `yaml:"collection"`
	// APIKey feeds QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS on the gRPC connection (QDRANT_TLS).
	TLS bool `yaml:"tls"`
}

// RetrievalConfig tunes the retrieval cache.
type RetrievalConfig struct {
	// CacheSize is the number of memoised queries (RETRIEVAL_CACHE_SIZE).
	CacheSize int `yaml:"cache_size"`
	// TopK is the number of passages per search (RETRIEVAL_TOP_K).
	TopK int `yaml:"top_k"`
	// Timeout bounds one lookup, as a Go duration (RETRIEVAL_TIMEOUT).
	Timeout string `yaml:"timeout"`
}

// RedisConfig enables the shared cache tier.
type RedisConfig struct {
	// URL is a redis:// connection URL (REDIS_URL). Empty disables the tier.
	URL string `yaml:"url"`
	// TTL is the entry lifetime, as a Go duration (REDIS_TTL).
	TTL string `yaml:"ttl"`
}

// AgentConfig tunes the conversation agent.
type AgentConfig struct {
	// InstructionsFile replaces the built-in system prompt (ZUDU_INSTRUCTIONS_FILE).
	InstructionsFile string `yaml:"instructions_file"`
	// MaxContextTokens is the prompt budget (ZUDU_MAX_CONTEXT_TOKENS).
	MaxContextTokens int `yaml:"max_context_tokens"`
	// TurnTimeout bounds one HTTP turn, as a Go duration (ZUDU_TURN_TIMEOUT).
	TurnTimeout string `yaml:"turn_timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address (ZUDU_HOST).
	Host string `yaml:"host"`
	// Port is the listen port (ZUDU_PORT).
	Port int `yaml:"port"`
	// APIKey is the Bearer token for /api routes (ZUDU_API_KEY).
	APIKey string `yaml:"api_key"`
}

// StorageConfig holds the SQLite database location.
type StorageConfig struct {
	// DBPath is the SQLite file path (ZUDU_DB).
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error (LOG_LEVEL).
	Level string `yaml:"level"`
	// Format is json or text (LOG_FORMAT).
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse settings.
type TracingConfig struct {
	// PublicKey feeds LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey feeds LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse base URL (LANGFUSE_HOST).
	Host string `yaml:"host"`
}

// envMapping maps YAML fields to environment variables.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"VECTOR_BACKEND", func(c *Config) string { return c.Vector.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Vector.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Vector.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Vector.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Vector.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Vector.Qdrant.TLS) }},
	{"RETRIEVAL_CACHE_SIZE", func(c *Config) string { return intStr(c.Retrieval.CacheSize) }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RETRIEVAL_TIMEOUT", func(c *Config) string { return c.Retrieval.Timeout }},
	{"REDIS_URL", func(c *Config) string { return c.Redis.URL }},
	{"REDIS_TTL", func(c *Config) string { return c.Redis.TTL }},
	{"ZUDU_INSTRUCTIONS_FILE", func(c *Config) string { return c.Agent.InstructionsFile }},
	{"ZUDU_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Agent.MaxContextTokens) }},
	{"ZUDU_TURN_TIMEOUT", func(c *Config) string { return c.Agent.TurnTimeout }},
	{"ZUDU_HOST", func(c *Config) string { return c.Server.Host }},
	{"ZUDU_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"ZUDU_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"ZUDU_DB", func(c *Config) string { return c.Storage.DBPath }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads KEY=VALUE pairs from path (".env" when empty) into the
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return true, nil
}

// Load reads a YAML config file and applies its non-empty values to unset
// environment variables. It returns the path loaded, or "" if none was
// found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		v := m.value(&cfg)
		if v == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)
	return path, nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	if envPath := os.Getenv("ZUDU_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".zudu", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat("zudu.yaml"); err == nil {
		return "zudu.yaml"
	}
	return ""
}

// Runtime holds the settings zudu reads from the environment after Load.
type Runtime struct {
	// DBPath is the SQLite path. Empty selects the default location.
	DBPath string
	// VectorBackend is "local" or "qdrant".
	VectorBackend string
	// CacheSize is the retrieval cache capacity.
	CacheSize int
	// TopK is the number of passages per search.
	TopK int
	// RetrievalTimeout bounds one retrieval lookup.
	RetrievalTimeout time.Duration
	// RedisURL enables the shared cache tier when set.
	RedisURL string
	// RedisTTL is the shared entry lifetime. Zero selects the package default.
	RedisTTL time.Duration
	// InstructionsFile replaces the built-in system prompt when set.
	InstructionsFile string
	// MaxContextTokens is the prompt budget. Zero selects the agent default.
	MaxContextTokens int
	// TurnTimeout bounds one HTTP turn.
	TurnTimeout time.Duration
	// Host is the server listen address.
	Host string
	// Port is the server listen port.
	Port int
	// APIKey is the Bearer token for /api routes.
	APIKey string
}

// Defaults used when the environment is silent.
const (
	DefaultVectorBackend    = "local"
	DefaultCacheSize        = 100
	DefaultTopK             = 5
	DefaultRetrievalTimeout = 5 * time.Second
	DefaultTurnTimeout      = 60 * time.Second
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 8080
)

// FromEnv resolves Runtime from the environment, rejecting malformed values
// instead of silently falling back.
func FromEnv() (*Runtime, error) {
	var errs []error
	rt := &Runtime{
		DBPath:           os.Getenv("ZUDU_DB"),
		VectorBackend:    strings.ToLower(envOr("VECTOR_BACKEND", DefaultVectorBackend)),
		CacheSize:        envInt("RETRIEVAL_CACHE_SIZE", DefaultCacheSize, &errs),
		TopK:             envInt("RETRIEVAL_TOP_K", DefaultTopK, &errs),
		RetrievalTimeout: envDuration("RETRIEVAL_TIMEOUT", DefaultRetrievalTimeout, &errs),
		RedisURL:         os.Getenv("REDIS_URL"),
		RedisTTL:         envDuration("REDIS_TTL", 0, &errs),
		InstructionsFile: os.Getenv("ZUDU_INSTRUCTIONS_FILE"),
		MaxContextTokens: envInt("ZUDU_MAX_CONTEXT_TOKENS", 0, &errs),
		TurnTimeout:      envDuration("ZUDU_TURN_TIMEOUT", DefaultTurnTimeout, &errs),
		Host:             envOr("ZUDU_HOST", DefaultHost),
		Port:             envInt("ZUDU_PORT", DefaultPort, &errs),
		APIKey:           os.Getenv("ZUDU_API_KEY"),
	}
	switch rt.VectorBackend {
	case "local", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("VECTOR_BACKEND must be local or qdrant, got %q", rt.VectorBackend))
	}
	if rt.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_CACHE_SIZE must be positive, got %d", rt.CacheSize))
	}
	if rt.TopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", rt.TopK))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return rt, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}

func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
