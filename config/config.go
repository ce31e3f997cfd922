// Package config provides configuration for the master engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Master modes. Routing mode dispatches per subtask through the adaptive
// router; pipeline mode walks the fixed capability sequence.
const (
	ModeRouting  = "routing"
	ModePipeline = "pipeline"
)

// Decomposer strategies.
const (
	DecomposerStatic = "static"
	DecomposerLLM    = "llm"
)

// Config holds the master configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// State store
	RedisAddr string

	// Text-generation gateway
	GatewayURL string

	// Orchestration
	Mode       string
	Decomposer string

	// Timeouts
	DispatchTimeout time.Duration
	StageTimeout    time.Duration
	GatewayTimeout  time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		GatewayURL:      getEnv("LLM_GATEWAY_URL", "http://localhost:8100"),
		Mode:            getEnv("MASTER_MODE", ModeRouting),
		Decomposer:      getEnv("MASTER_DECOMPOSER", DecomposerStatic),
		DispatchTimeout: time.Duration(getEnvInt("DISPATCH_TIMEOUT_MS", 30000)) * time.Millisecond,
		StageTimeout:    time.Duration(getEnvInt("STAGE_TIMEOUT_MS", 60000)) * time.Millisecond,
		GatewayTimeout:  time.Duration(getEnvInt("GATEWAY_TIMEOUT_MS", 30000)) * time.Millisecond,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
