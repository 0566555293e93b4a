package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultCache_SetAndGet(t *testing.T) {
	c := NewResultCache(1 * time.Minute)

	c.Set("review:abc:v1", ResultBundle{LLMModel: "mock", PromptRev: "review_v1"})

	bundle, ok := c.Get("review:abc:v1")
	assert.True(t, ok)
	assert.Equal(t, "mock", bundle.LLMModel)
}

func TestResultCache_Miss(t *testing.T) {
	c := NewResultCache(1 * time.Minute)

	_, ok := c.Get("review:missing:v1")
	assert.False(t, ok)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c := NewResultCache(50 * time.Millisecond)
	c.Set("review:abc:v1", ResultBundle{LLMModel: "mock"})

	_, ok := c.Get("review:abc:v1")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("review:abc:v1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestResultCache_Overwrite(t *testing.T) {
	c := NewResultCache(1 * time.Minute)
	c.Set("key", ResultBundle{LLMModel: "mock"})
	c.Set("key", ResultBundle{LLMModel: "gpt-4o-mini"})

	bundle, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", bundle.LLMModel)
}
