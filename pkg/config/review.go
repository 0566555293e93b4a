package config

import (
	"time"

	"github.com/markiskorova/reviewpipeline/pkg/chunker"
	"github.com/markiskorova/reviewpipeline/pkg/llm"
)

// ReviewConfig contains admission and pipeline behavior knobs.
// These values control how runs are admitted, cached, and paginated.
type ReviewConfig struct {
	// MaxConcurrentRuns is the global limit of queued+running review runs.
	// Enforced at intake by a database COUNT(*) check and used as the
	// worker pool's concurrency ceiling.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// RateLimitPerMinute is the per-fingerprint cap on runs created in a
	// rolling 60-second window.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// EnablePipelineCache toggles the content-addressed result cache.
	EnablePipelineCache bool `yaml:"enable_pipeline_cache"`

	// CacheTTL is how long a cached result bundle stays valid.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// FindingsDefaultPageSize is the page size used when the findings
	// listing request does not specify one.
	FindingsDefaultPageSize int `yaml:"findings_default_page_size"`

	// FindingsMaxPageSize caps any client-requested page size.
	FindingsMaxPageSize int `yaml:"findings_max_page_size"`

	// PreferredJurisdiction feeds the GOV_LAW_MISMATCH rule.
	PreferredJurisdiction string `yaml:"preferred_jurisdiction"`

	// PromptRev is folded into the cache key and stamped onto LLM findings.
	PromptRev string `yaml:"prompt_rev"`

	// ChunkSchemaVersion is folded into the cache key and stamped onto
	// every persisted chunk.
	ChunkSchemaVersion string `yaml:"chunk_schema_version"`
}

// DefaultReviewConfig returns the built-in review defaults.
func DefaultReviewConfig() *ReviewConfig {
	return &ReviewConfig{
		MaxConcurrentRuns:       5,
		RateLimitPerMinute:      10,
		EnablePipelineCache:     true,
		CacheTTL:                1 * time.Hour,
		FindingsDefaultPageSize: 25,
		FindingsMaxPageSize:     100,
		PreferredJurisdiction:   "California",
		PromptRev:               llm.PromptRev,
		ChunkSchemaVersion:      chunker.SchemaVersion,
	}
}
