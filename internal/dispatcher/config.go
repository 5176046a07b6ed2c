package dispatcher

import (
	"time"

	"packagemanager/internal/config"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize int // pending events (default: 1000)
	// Workers delivering concurrently (default: 1). More than one worker
	// gives up delivery order.
	Workers        int
	HTTPTimeout    time.Duration // per-request timeout (default: 10s)
	InitialBackoff time.Duration // first retry delay (default: 100ms)
	MaxElapsed     time.Duration // retry budget per event (default: 30s)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:     config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 1000),
		Workers:        config.GetIntEnv("DISPATCHER_WORKERS", 1),
		HTTPTimeout:    config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
		InitialBackoff: config.GetDurationEnv("DISPATCHER_INITIAL_BACKOFF", 100*time.Millisecond),
		MaxElapsed:     config.GetDurationEnv("DISPATCHER_MAX_ELAPSED", 30*time.Second),
	}
	return cfg.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 30 * time.Second
	}
	return c
}
