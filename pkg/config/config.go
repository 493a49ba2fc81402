package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Traversal limits
	TraversalDefaultDepth int
	TraversalMaxDepth     int
	TraversalNodeCap      int

	// Store retry policy
	StoreRetryAttempts int
	StoreRetryBackoff  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		Neo4jURI:              getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:             getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:         getEnv("NEO4J_PASSWORD", "password"),
		TraversalDefaultDepth: getEnvInt("TRAVERSAL_DEFAULT_DEPTH", 3),
		TraversalMaxDepth:     getEnvInt("TRAVERSAL_MAX_DEPTH", 10),
		TraversalNodeCap:      getEnvInt("TRAVERSAL_NODE_CAP", 1000),
		StoreRetryAttempts:    getEnvInt("STORE_RETRY_ATTEMPTS", 3),
		StoreRetryBackoff:     time.Duration(getEnvInt("STORE_RETRY_BACKOFF_MS", 50)) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return fmt.Errorf("NEO4J_URI is required")
	}
	if c.Neo4jUser == "" {
		return fmt.Errorf("NEO4J_USER is required")
	}
	if c.Neo4jPassword == "" {
		return fmt.Errorf("NEO4J_PASSWORD is required")
	}
	if c.TraversalDefaultDepth < 1 || c.TraversalDefaultDepth > c.TraversalMaxDepth {
		return fmt.Errorf("TRAVERSAL_DEFAULT_DEPTH must be in [1, %d]", c.TraversalMaxDepth)
	}
	if c.TraversalNodeCap < 1 {
		return fmt.Errorf("TRAVERSAL_NODE_CAP must be positive")
	}
	if c.StoreRetryAttempts < 1 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
