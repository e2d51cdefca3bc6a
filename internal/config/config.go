// Package config loads process configuration from the environment and the
// reloadable YAML settings file.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LLMProvider names a text generation backend.
type LLMProvider string

const (
	ProviderOllama    LLMProvider = "ollama"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderBedrock   LLMProvider = "bedrock"
	ProviderGemini    LLMProvider = "gemini"
)

// Job store backends.
const (
	StoreSurreal = "surreal"
	StoreMemory  = "memory"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection (AI queue state)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// JobStore selects where batches, jobs, entities and suggestions live.
	JobStore string

	// Catalog SQLite database (descriptions, authorities, forms, reports)
	CatalogPath string
	UploadsDir  string

	// LLM
	LLMProvider     LLMProvider
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	AWSRegion       string

	// HTTP server
	ServerAddr string
	APIKey     string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// SettingsFile is the YAML file behind SettingsStore.
	SettingsFile string
}

// Load reads configuration from environment variables. A .env file named by
// ATOMAI_ENV_FILE (default ".env") is applied first; variables already set in
// the environment win over the file.
func Load() Config {
	loadEnvFile(getEnv("ATOMAI_ENV_FILE", ".env"))

	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "atom"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "ai"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		JobStore: strings.ToLower(getEnv("ATOMAI_STORE", StoreSurreal)),

		CatalogPath: getEnv("ATOMAI_CATALOG_PATH", "atom.db"),
		UploadsDir:  getEnv("ATOMAI_UPLOADS_DIR", "uploads"),

		LLMProvider:     LLMProvider(strings.ToLower(getEnv("ATOMAI_LLM_PROVIDER", string(ProviderOllama)))),
		LLMModel:        getEnv("ATOMAI_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		ServerAddr: getEnv("ATOMAI_ADDR", ":8484"),
		APIKey:     getEnv("ATOMAI_API_KEY", ""),

		LogFile:  getEnv("ATOMAI_LOG_FILE", "/tmp/atomai.log"),
		LogLevel: parseLogLevel(getEnv("ATOMAI_LOG_LEVEL", "INFO")),

		SettingsFile: getEnv("ATOMAI_SETTINGS_FILE", "atomai.yaml"),
	}
}

func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load env file", "file", path, "error", err)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
