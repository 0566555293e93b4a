package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/finding"
	"github.com/markiskorova/reviewpipeline/ent/reviewchunk"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/cache"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/pkg/llm"
	"github.com/markiskorova/reviewpipeline/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contractText = "1. Termination\nEither party may terminate this agreement with 15 days notice.\n\n" +
	"2. Indemnity\nVendor agrees to indemnify and hold harmless the customer."

// timeoutProvider simulates an upstream LLM timeout.
type timeoutProvider struct{}

func (timeoutProvider) Call(_ context.Context, _ []llm.Clause) ([]llm.RawFinding, string, llm.TokenUsage, error) {
	return nil, "", llm.TokenUsage{}, errors.New("upstream timeout")
}

// badSpanProvider returns a finding whose evidence span cannot fit the
// clause body, which must be treated as a hard validation failure.
type badSpanProvider struct{}

func (badSpanProvider) Call(_ context.Context, clauses []llm.Clause) ([]llm.RawFinding, string, llm.TokenUsage, error) {
	return []llm.RawFinding{{
		ClauseID:     clauses[0].ID,
		Severity:     "high",
		Summary:      "Fabricated evidence",
		Explanation:  "Span points past the clause body.",
		EvidenceText: "not actually in the clause",
		EvidenceSpan: llm.EvidenceSpan{Start: 0, End: 100000},
		Confidence:   0.9,
	}}, "bad-model", llm.TokenUsage{}, nil
}

func newTestExecutor(client *ent.Client, resultCache *cache.ResultCache, provider llm.Provider) *PipelineExecutor {
	return NewPipelineExecutor(client, resultCache, provider, config.DefaultReviewConfig(), 5*time.Second)
}

func createDocumentAndRun(t *testing.T, client *ent.Client, text string) (*ent.Document, *ent.ReviewRun) {
	t.Helper()
	ctx := context.Background()

	doc, err := client.Document.Create().
		SetID(uuid.NewString()).
		SetTitle("Test Contract").
		SetText(text).
		Save(ctx)
	require.NoError(t, err)

	run, err := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusQueued).
		Save(ctx)
	require.NoError(t, err)
	return doc, run
}

func TestProcessSucceedsWithMockProvider(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	_, run := createDocumentAndRun(t, client, contractText)

	exec := newTestExecutor(client, cache.NewResultCache(time.Hour), llm.MockProvider{})
	require.NoError(t, exec.Process(ctx, run.ID))

	run = client.ReviewRun.GetX(ctx, run.ID)
	assert.Equal(t, reviewrun.StatusSucceeded, run.Status)
	assert.Nil(t, run.CurrentStage)
	assert.Nil(t, run.Error)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.StartedAt)
	assert.Equal(t, 0, run.CacheHits)
	assert.Equal(t, 1, run.CacheMisses)
	assert.NotEmpty(t, run.CacheKey)

	for _, stage := range []string{"cache_lookup_ms", "preprocess_ms", "rules_ms", "llm_ms", "persist_ms"} {
		assert.Contains(t, run.StageTimings, stage)
	}

	chunks := client.ReviewChunk.Query().
		Where(reviewchunk.RunID(run.ID)).
		AllX(ctx)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.ChunkID, "chk_"))
	}

	findings := client.Finding.Query().
		Where(finding.RunID(run.ID)).
		AllX(ctx)
	require.NotEmpty(t, findings)

	ruleCodes := map[string]bool{}
	for _, f := range findings {
		assert.True(t, strings.HasPrefix(f.ChunkID, "chk_"))
		require.NotEmpty(t, f.EvidenceSpan, "finding %s has no evidence span", f.ID)
		start := int(f.EvidenceSpan["start"].(float64))
		end := int(f.EvidenceSpan["end"].(float64))
		assert.GreaterOrEqual(t, start, 0)
		assert.Greater(t, end, start)
		if f.ClauseBody != nil {
			assert.LessOrEqual(t, end, len(*f.ClauseBody))
		}
		if f.RuleCode != nil {
			ruleCodes[*f.RuleCode] = true
		}
	}
	assert.True(t, ruleCodes["TERM_NOTICE_MIN"], "expected a TERM_NOTICE_MIN finding")
	assert.True(t, ruleCodes["INDEMNITY_PRESENT"], "expected an INDEMNITY_PRESENT finding")

	// The run carries the mock model metadata inferred at persist time.
	require.NotNil(t, run.LlmModel)
	assert.Equal(t, "mock", *run.LlmModel)
}

func TestProcessIsIdempotentAcrossRetries(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	_, run := createDocumentAndRun(t, client, contractText)

	// No cache, so the second execution recomputes everything.
	exec := newTestExecutor(client, nil, llm.MockProvider{})
	require.NoError(t, exec.Process(ctx, run.ID))

	firstChunks := client.ReviewChunk.Query().
		Where(reviewchunk.RunID(run.ID)).
		AllX(ctx)
	firstFindings := client.Finding.Query().
		Where(finding.RunID(run.ID)).
		CountX(ctx)

	require.NoError(t, exec.Process(ctx, run.ID))

	secondChunks := client.ReviewChunk.Query().
		Where(reviewchunk.RunID(run.ID)).
		AllX(ctx)
	secondFindings := client.Finding.Query().
		Where(finding.RunID(run.ID)).
		CountX(ctx)

	assert.Equal(t, firstFindings, secondFindings)

	firstIDs := map[string]bool{}
	for _, c := range firstChunks {
		firstIDs[c.ChunkID] = true
	}
	secondIDs := map[string]bool{}
	for _, c := range secondChunks {
		secondIDs[c.ChunkID] = true
	}
	assert.Equal(t, firstIDs, secondIDs)
}

func TestProcessCacheHitSkipsStages(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	resultCache := cache.NewResultCache(time.Hour)
	exec := newTestExecutor(client, resultCache, llm.MockProvider{})

	doc, run1 := createDocumentAndRun(t, client, contractText)
	require.NoError(t, exec.Process(ctx, run1.ID))

	run1 = client.ReviewRun.GetX(ctx, run1.ID)
	assert.Equal(t, 1, run1.CacheMisses)
	assert.Equal(t, 0, run1.CacheHits)

	// Second run over the identical document hits the cache.
	run2, err := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusQueued).
		Save(ctx)
	require.NoError(t, err)

	require.NoError(t, exec.Process(ctx, run2.ID))

	run2 = client.ReviewRun.GetX(ctx, run2.ID)
	assert.Equal(t, reviewrun.StatusSucceeded, run2.Status)
	assert.Equal(t, 1, run2.CacheHits)
	assert.Equal(t, 0, run2.CacheMisses)
	assert.Equal(t, run1.CacheKey, run2.CacheKey)

	// Hit path never enters preprocess/rules/llm.
	assert.Contains(t, run2.StageTimings, "cache_lookup_ms")
	assert.NotContains(t, run2.StageTimings, "preprocess_ms")
	assert.NotContains(t, run2.StageTimings, "rules_ms")
	assert.NotContains(t, run2.StageTimings, "llm_ms")
	assert.Contains(t, run2.StageTimings, "persist_ms")

	// The cached findings are persisted for the new run too.
	count1 := client.Finding.Query().Where(finding.RunID(run1.ID)).CountX(ctx)
	count2 := client.Finding.Query().Where(finding.RunID(run2.ID)).CountX(ctx)
	assert.Equal(t, count1, count2)

	// A different document misses.
	doc2, run3 := createDocumentAndRun(t, client, contractText+"\n\nExtra clause.")
	_ = doc2
	require.NoError(t, exec.Process(ctx, run3.ID))
	run3 = client.ReviewRun.GetX(ctx, run3.ID)
	assert.Equal(t, 1, run3.CacheMisses)
	assert.Equal(t, 0, run3.CacheHits)
}

func TestProcessLLMTimeoutYieldsPartial(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	resultCache := cache.NewResultCache(time.Hour)
	exec := newTestExecutor(client, resultCache, timeoutProvider{})

	doc, run := createDocumentAndRun(t, client, contractText)
	require.NoError(t, exec.Process(ctx, run.ID))

	run = client.ReviewRun.GetX(ctx, run.ID)
	assert.Equal(t, reviewrun.StatusPartial, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, strings.ToLower(*run.Error), "timeout")
	assert.Contains(t, run.StageTimings, "llm_ms")
	assert.Contains(t, run.StageTimings, "persist_ms")

	// Only rule findings survive.
	findings := client.Finding.Query().
		Where(finding.RunID(run.ID)).
		AllX(ctx)
	require.NotEmpty(t, findings)
	for _, f := range findings {
		assert.Equal(t, finding.SourceRule, f.Source)
	}

	// Failed LLM runs never populate the cache: a rerun misses again.
	run2, err := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusQueued).
		Save(ctx)
	require.NoError(t, err)
	require.NoError(t, exec.Process(ctx, run2.ID))
	run2 = client.ReviewRun.GetX(ctx, run2.ID)
	assert.Equal(t, 1, run2.CacheMisses)
	assert.Equal(t, 0, run2.CacheHits)
}

func TestProcessValidationErrorFailsRun(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	exec := newTestExecutor(client, nil, badSpanProvider{})

	_, run := createDocumentAndRun(t, client, contractText)
	err := exec.Process(ctx, run.ID)
	require.Error(t, err)

	var validationErr *llm.ValidationError
	assert.True(t, errors.As(err, &validationErr))

	run = client.ReviewRun.GetX(ctx, run.ID)
	assert.Equal(t, reviewrun.StatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "validation")
	require.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.CurrentStage)
}

func TestProcessSpreadsheetFindingsCarryPointer(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	metadata := map[string]interface{}{
		"kind":           "spreadsheet",
		"schema_version": "v1",
		"sheets": []interface{}{
			map[string]interface{}{
				"name":    "Sheet1",
				"columns": []interface{}{"Clause", "Risk"},
				"rows": []interface{}{
					map[string]interface{}{
						"row_number": 2,
						"cells":      []interface{}{"Termination notice", "High"},
						"cell_map":   map[string]interface{}{"Clause": "Termination notice", "Risk": "High"},
						"text":       "Clause=Termination notice ; Risk=High",
					},
					map[string]interface{}{
						"row_number": 3,
						"cells":      []interface{}{"Indemnity", "Medium"},
						"cell_map":   map[string]interface{}{"Clause": "Indemnity", "Risk": "Medium"},
						"text":       "Clause=Indemnity ; Risk=Medium",
					},
				},
			},
		},
	}

	doc, err := client.Document.Create().
		SetID(uuid.NewString()).
		SetTitle("CSV Contract Data").
		SetText("[Sheet: Sheet1]\nRow 2: Clause=Termination notice ; Risk=High\nRow 3: Clause=Indemnity ; Risk=Medium").
		SetSourceType("spreadsheet").
		SetIngestionMetadata(metadata).
		Save(ctx)
	require.NoError(t, err)

	run, err := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusQueued).
		Save(ctx)
	require.NoError(t, err)

	exec := newTestExecutor(client, nil, llm.MockProvider{})
	require.NoError(t, exec.Process(ctx, run.ID))

	findings := client.Finding.Query().
		Where(finding.RunID(run.ID)).
		AllX(ctx)
	require.NotEmpty(t, findings)

	for _, f := range findings {
		require.NotEmpty(t, f.EvidenceSpan)
		pointer, ok := f.EvidenceSpan["pointer"].(map[string]interface{})
		require.True(t, ok, "finding %s is missing the spreadsheet pointer", f.ID)
		assert.Equal(t, "spreadsheet", pointer["kind"])
		assert.Equal(t, "Sheet1", pointer["sheet"])
		assert.Contains(t, pointer, "row_start")
		assert.Contains(t, pointer, "row_end")
	}

	chunks := client.ReviewChunk.Query().
		Where(reviewchunk.RunID(run.ID)).
		AllX(ctx)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Nil(t, c.StartOffset)
		assert.Nil(t, c.EndOffset)
	}
}
