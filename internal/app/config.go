package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/cache"
	"github.com/specialistvlad/modeljit/internal/engine"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	LogFormat string
	LogLevel  string

	CacheCapacity int
	OptLevel      string
	IncludeUnit   bool
	MaxCodeSize   int

	// MetricsAddr, when set, serves /health and /metrics while watching.
	MetricsAddr string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, ok := logLevels[cfg.LogLevel]; !ok {
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = cache.DefaultCapacity
	}
	level, err := assembler.ParseOptLevel(cfg.OptLevel)
	if err != nil {
		return nil, err
	}
	cfg.OptLevel = string(level)

	if _, err := cfg.engineConfig(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// engineConfig derives the engine settings. The logger is attached later.
func (c *Config) engineConfig() (*engine.Config, error) {
	ec, err := engine.NewConfig(engine.Config{
		CacheCapacity: c.CacheCapacity,
		OptLevel:      assembler.OptLevel(c.OptLevel),
		IncludeUnit:   c.IncludeUnit,
		MaxCodeSize:   c.MaxCodeSize,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}
	return ec, nil
}
