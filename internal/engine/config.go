package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/cache"
	"github.com/specialistvlad/modeljit/internal/jit"
)

// Config holds the settings of an Engine.
type Config struct {
	// CacheCapacity is the number of compiled artifacts kept.
	CacheCapacity int
	// OptLevel is written into every unit's prologue and is therefore part
	// of the cache key.
	OptLevel assembler.OptLevel
	// IncludeUnit attaches the assembled source to compile error reports.
	IncludeUnit bool
	// MaxCodeSize bounds the closures in one artifact.
	MaxCodeSize int
	// Logger is used for requests whose context carries no logger.
	Logger *slog.Logger
}

// NewConfig applies defaults to cfg and validates it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = cache.DefaultCapacity
	}
	if cfg.CacheCapacity < 1 {
		return nil, errors.New("CacheCapacity must be at least 1")
	}

	level, err := assembler.ParseOptLevel(string(cfg.OptLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid OptLevel: %w", err)
	}
	cfg.OptLevel = level

	if cfg.MaxCodeSize == 0 {
		cfg.MaxCodeSize = jit.DefaultMaxCodeSize
	}
	if cfg.MaxCodeSize < 1 {
		return nil, errors.New("MaxCodeSize must be positive")
	}

	return &cfg, nil
}

// DefaultConfig returns the configuration NewConfig yields for a zero Config.
func DefaultConfig() *Config {
	cfg, err := NewConfig(Config{})
	if err != nil {
		panic(err)
	}
	return cfg
}
