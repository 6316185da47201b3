package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Relay holds parleyd configuration, loaded from the environment only —
// the daemon is deployed from systemd units and containers, not invoked
// by hand.
type Relay struct {
	ListenAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// LoadRelay reads relay daemon configuration from the environment.
func LoadRelay() (*Relay, error) {
	port := envIntDefault("PORT", 8080)
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PORT must be 1-65535")
	}

	origins := []string{"https://*", "http://*"}
	if o := os.Getenv("PARLEYD_ALLOWED_ORIGIN"); o != "" {
		origins = []string{o}
	}

	shutdown := envIntDefault("PARLEYD_SHUTDOWN_TIMEOUT_SECONDS", 10)
	if shutdown < 1 {
		return nil, fmt.Errorf("PARLEYD_SHUTDOWN_TIMEOUT_SECONDS must be positive")
	}

	return &Relay{
		ListenAddr:      fmt.Sprintf(":%d", port),
		AllowedOrigins:  origins,
		ShutdownTimeout: time.Duration(shutdown) * time.Second,
	}, nil
}

// envIntDefault returns the integer value of an environment variable, or
// the fallback when unset or unparsable.
func envIntDefault(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envBoolDefault returns the boolean value of an environment variable, or
// the fallback when unset or unparsable.
func envBoolDefault(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
