package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional YAML file looked up inside the config
// directory passed to Initialize.
const ConfigFileName = "reviewpipeline.yaml"

// yamlConfig represents the complete reviewpipeline.yaml file structure.
type yamlConfig struct {
	Review *ReviewConfig `yaml:"review"`
	LLM    *LLMConfig    `yaml:"llm"`
	Queue  *QueueConfig  `yaml:"queue"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Merge reviewpipeline.yaml from configDir if present (env vars expanded)
//  3. Layer environment variable overrides (REVIEW_*, LLM_*, PROMPT_REV, ...)
//  4. Validate the resolved configuration
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := &Config{
		Review: DefaultReviewConfig(),
		LLM:    DefaultLLMConfig(),
		Queue:  DefaultQueueConfig(),
	}

	if configDir != "" {
		if err := mergeYAMLFile(cfg, filepath.Join(configDir, ConfigFileName)); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"max_concurrent_runs", cfg.Review.MaxConcurrentRuns,
		"rate_limit_per_minute", cfg.Review.RateLimitPerMinute,
		"pipeline_cache", cfg.Review.EnablePipelineCache,
		"llm_provider", cfg.LLM.Provider,
		"worker_count", cfg.Queue.WorkerCount)

	return cfg, nil
}

// mergeYAMLFile merges the YAML file at path over cfg. A missing file is
// not an error; the defaults stand.
func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("No YAML config file found, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var fileCfg yamlConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &fileCfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if fileCfg.Review != nil {
		if err := mergo.Merge(cfg.Review, fileCfg.Review, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge review config: %w", err)
		}
	}
	if fileCfg.LLM != nil {
		if err := mergo.Merge(cfg.LLM, fileCfg.LLM, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge llm config: %w", err)
		}
	}
	if fileCfg.Queue != nil {
		if err := mergo.Merge(cfg.Queue, fileCfg.Queue, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge queue config: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides layers the documented environment knobs over cfg.
func applyEnvOverrides(cfg *Config) error {
	if err := overrideInt(&cfg.Review.MaxConcurrentRuns, "REVIEW_MAX_CONCURRENT_RUNS", os.Getenv("REVIEW_MAX_CONCURRENT_RUNS")); err != nil {
		return err
	}
	if err := overrideInt(&cfg.Review.RateLimitPerMinute, "REVIEW_RATE_LIMIT_PER_MINUTE", os.Getenv("REVIEW_RATE_LIMIT_PER_MINUTE")); err != nil {
		return err
	}
	if err := overrideBool(&cfg.Review.EnablePipelineCache, "REVIEW_ENABLE_PIPELINE_CACHE", os.Getenv("REVIEW_ENABLE_PIPELINE_CACHE")); err != nil {
		return err
	}
	if err := overrideSeconds(&cfg.Review.CacheTTL, "REVIEW_CACHE_TTL_SECONDS", os.Getenv("REVIEW_CACHE_TTL_SECONDS")); err != nil {
		return err
	}
	if err := overrideInt(&cfg.Review.FindingsDefaultPageSize, "REVIEW_FINDINGS_DEFAULT_PAGE_SIZE", os.Getenv("REVIEW_FINDINGS_DEFAULT_PAGE_SIZE")); err != nil {
		return err
	}
	if err := overrideInt(&cfg.Review.FindingsMaxPageSize, "REVIEW_FINDINGS_MAX_PAGE_SIZE", os.Getenv("REVIEW_FINDINGS_MAX_PAGE_SIZE")); err != nil {
		return err
	}
	overrideString(&cfg.Review.PreferredJurisdiction, os.Getenv("REVIEW_PREFERRED_JURISDICTION"))
	overrideString(&cfg.Review.PromptRev, os.Getenv("PROMPT_REV"))
	overrideString(&cfg.Review.ChunkSchemaVersion, os.Getenv("CHUNK_SCHEMA_VERSION"))

	overrideString(&cfg.LLM.Provider, os.Getenv("LLM_PROVIDER"))
	overrideString(&cfg.LLM.Model, os.Getenv("LLM_MODEL"))
	overrideString(&cfg.LLM.APIKey, os.Getenv("OPENAI_API_KEY"))
	if err := overrideSeconds(&cfg.LLM.Timeout, "LLM_TIMEOUT_SECONDS", os.Getenv("LLM_TIMEOUT_SECONDS")); err != nil {
		return err
	}

	if err := overrideInt(&cfg.Queue.WorkerCount, "REVIEW_WORKER_COUNT", os.Getenv("REVIEW_WORKER_COUNT")); err != nil {
		return err
	}
	if err := overrideSeconds(&cfg.Queue.RunTimeout, "REVIEW_RUN_TIMEOUT_SECONDS", os.Getenv("REVIEW_RUN_TIMEOUT_SECONDS")); err != nil {
		return err
	}
	return nil
}
