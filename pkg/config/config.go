// Package config loads and validates service configuration from an
// optional YAML file layered with environment variable overrides.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the fully resolved service configuration.
type Config struct {
	Review *ReviewConfig
	LLM    *LLMConfig
	Queue  *QueueConfig
}

// Validate checks invariants across the resolved configuration.
func Validate(cfg *Config) error {
	if cfg.Review.MaxConcurrentRuns < 1 {
		return fmt.Errorf("review.max_concurrent_runs must be at least 1, got %d", cfg.Review.MaxConcurrentRuns)
	}
	if cfg.Review.RateLimitPerMinute < 1 {
		return fmt.Errorf("review.rate_limit_per_minute must be at least 1, got %d", cfg.Review.RateLimitPerMinute)
	}
	if cfg.Review.FindingsDefaultPageSize < 1 {
		return fmt.Errorf("review.findings_default_page_size must be at least 1, got %d", cfg.Review.FindingsDefaultPageSize)
	}
	if cfg.Review.FindingsMaxPageSize < cfg.Review.FindingsDefaultPageSize {
		return fmt.Errorf("review.findings_max_page_size (%d) cannot be smaller than the default page size (%d)",
			cfg.Review.FindingsMaxPageSize, cfg.Review.FindingsDefaultPageSize)
	}
	if cfg.Review.CacheTTL <= 0 {
		return fmt.Errorf("review.cache_ttl must be positive, got %s", cfg.Review.CacheTTL)
	}
	if cfg.Review.PromptRev == "" {
		return fmt.Errorf("review.prompt_rev must not be empty")
	}
	if cfg.Review.ChunkSchemaVersion == "" {
		return fmt.Errorf("review.chunk_schema_version must not be empty")
	}

	switch cfg.LLM.Provider {
	case LLMProviderOpenAI, LLMProviderMock:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", LLMProviderOpenAI, LLMProviderMock, cfg.LLM.Provider)
	}
	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %s", cfg.LLM.Timeout)
	}

	if cfg.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be at least 1, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive, got %s", cfg.Queue.PollInterval)
	}
	if cfg.Queue.RunTimeout <= 0 {
		return fmt.Errorf("queue.run_timeout must be positive, got %s", cfg.Queue.RunTimeout)
	}
	return nil
}

// Environment override helpers. Empty or unset variables leave the current
// value untouched; malformed values are reported as errors rather than
// silently ignored.

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func overrideInt(dst *int, key, value string) error {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func overrideBool(dst *bool, key, value string) error {
	if value == "" {
		return nil
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("invalid %s: %q is not a boolean", key, value)
	}
	return nil
}

func overrideSeconds(dst *time.Duration, key, value string) error {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}
