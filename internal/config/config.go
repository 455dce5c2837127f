package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	JWTSecret   string

	// Embedding backend used for the personal-document track, the
	// knowledge-base vector search and the ingest command.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string

	KBTimeout         time.Duration
	EmbeddingTimeout  time.Duration
	GenerationTimeout time.Duration
	KBMaxConcurrency  int
	HistoryLimit      int
}

func Load() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "chatcore.db"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingAPIKey:   getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL:  getEnv("EMBEDDING_BASE_URL", ""),

		KBTimeout:         getEnvAsDuration("KB_TIMEOUT", 15*time.Second),
		EmbeddingTimeout:  getEnvAsDuration("EMBEDDING_TIMEOUT", 15*time.Second),
		GenerationTimeout: getEnvAsDuration("GENERATION_TIMEOUT", 2*time.Minute),
		KBMaxConcurrency:  getEnvAsInt("KB_MAX_CONCURRENCY", 4),
		HistoryLimit:      getEnvAsInt("HISTORY_LIMIT", 24),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}
	switch c.EmbeddingProvider {
	case "openai", "gemini", "local":
	default:
		return errors.New("EMBEDDING_PROVIDER must be one of openai, gemini, local")
	}
	if c.EmbeddingProvider == "local" && c.EmbeddingBaseURL == "" {
		return errors.New("EMBEDDING_BASE_URL is required for the local embedding provider")
	}
	if c.HistoryLimit < 1 {
		return errors.New("HISTORY_LIMIT must be positive")
	}
	if c.KBMaxConcurrency < 1 {
		c.KBMaxConcurrency = 1
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
