// Package config loads webpilot configuration from files, environment
// variables, and defaults.
package config

import (
	"errors"
	"time"
)

// Config holds every tunable recognized by webpilot.
type Config struct {
	// Workers is the maximum number of concurrent workers.
	Workers int `mapstructure:"workers"`
	// Timeout is the global deadline for a single goal execution.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxIterations caps perceive/decide/act iterations per task.
	MaxIterations int `mapstructure:"max_iterations"`
	// VerifyThreshold is the minimum verification confidence for success.
	VerifyThreshold float64 `mapstructure:"verify_threshold"`
	// StuckThreshold is how long without a completed task counts as stuck.
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`
	// RecoveryBudgetFactor bounds supervisor-inserted tasks relative to the
	// initial task count.
	RecoveryBudgetFactor float64 `mapstructure:"recovery_budget_factor"`
	// SkipSatisfiesDependency controls whether a SKIPPED dependency
	// satisfies its children.
	SkipSatisfiesDependency bool `mapstructure:"skip_satisfies_dependency"`

	Perception Perception `mapstructure:"perception"`
	Browser    Browser    `mapstructure:"browser"`
	LLM        LLM        `mapstructure:"llm"`
	Store      Store      `mapstructure:"store"`
	Log        Log        `mapstructure:"log"`
}

// Perception configures the screen-parser client.
type Perception struct {
	// ParserURL is the base URL of the screen-parser service.
	ParserURL string `mapstructure:"parser_url"`
	// CacheTTL bounds how long parsed elements are served from cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Browser configures the shared browser session.
type Browser struct {
	// DevToolsURL is the Chrome DevTools endpoint (http://host:port).
	DevToolsURL string `mapstructure:"devtools_url"`
	// Path, when set, launches this browser binary instead of attaching
	// to an already-running DevTools endpoint.
	Path     string   `mapstructure:"path"`
	Viewport Viewport `mapstructure:"viewport"`
	Headless bool     `mapstructure:"headless"`
}

// Viewport is the fixed viewport size for the session.
type Viewport struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// LLM configures the language-model provider.
type LLM struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Cache    LLMCache      `mapstructure:"cache"`
}

// LLMCache configures response caching for cacheable LLM calls.
type LLMCache struct {
	TTL time.Duration `mapstructure:"ttl"`
	// RedisAddr selects a redis-backed cache when non-empty.
	RedisAddr string `mapstructure:"redis_addr"`
}

// Store configures the optional append-only task-result log.
type Store struct {
	// Path is the sqlite database path; empty disables the result log.
	Path string `mapstructure:"path"`
}

// Log configures logging output.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

var errInvalidWorkers = errors.New("workers must be at least 1")

// Validate checks config invariants after loading.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errInvalidWorkers
	}
	if c.VerifyThreshold < 0 || c.VerifyThreshold > 1 {
		return errors.New("verify_threshold must be within [0, 1]")
	}
	if c.RecoveryBudgetFactor < 0 {
		return errors.New("recovery_budget_factor must be non-negative")
	}
	if c.MaxIterations < 1 {
		return errors.New("max_iterations must be at least 1")
	}
	return nil
}
