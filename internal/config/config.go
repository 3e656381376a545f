// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the binaries read at startup
type Config struct {
	DatabaseURL        string
	Port               string
	CatalogPath        string
	ProgramCacheSize   int
	ActiveCacheTTL     time.Duration
	EvalCostLimit      uint64
	SeedGlobalDefaults bool
	MigrateOnStart     bool

	LogLevel        string
	ErrorSampleRate int
	OTELEnabled     bool
	OTELServiceName string
}

// Default returns the configuration used when no variables are set
func Default() Config {
	return Config{
		Port:               "8080",
		ProgramCacheSize:   256,
		EvalCostLimit:      1000000,
		SeedGlobalDefaults: true,
		ErrorSampleRate:    1,
		OTELServiceName:    "formulas",
	}
}

// Load reads a .env file when present, then the process environment
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, starting from Default
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.str("PORT", &cfg.Port)
	p.str("CATALOG_PATH", &cfg.CatalogPath)
	p.positiveInt("PROGRAM_CACHE_SIZE", &cfg.ProgramCacheSize)
	p.duration("ACTIVE_CACHE_TTL", &cfg.ActiveCacheTTL)
	p.uint("EVAL_COST_LIMIT", &cfg.EvalCostLimit)
	p.boolean("SEED_GLOBAL_DEFAULTS", &cfg.SeedGlobalDefaults)
	p.boolean("MIGRATE_ON_START", &cfg.MigrateOnStart)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.positiveInt("ERROR_SAMPLE_RATE", &cfg.ErrorSampleRate)
	p.boolean("OTEL_ENABLED", &cfg.OTELEnabled)
	p.str("OTEL_SERVICE_NAME", &cfg.OTELServiceName)

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// UsesDatabase reports whether a PostgreSQL store is configured
func (c Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// parser keeps the first error so FromLookup reads linearly
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) positiveInt(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err == nil && n <= 0 {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = n
}

func (p *parser) uint(key string, dst *uint64) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err == nil && d < 0 {
		err = fmt.Errorf("must not be negative")
	}
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = d
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = b
}
