// Package store persists chunker and rule/LLM output through ent. Chunks
// and findings for a run are always deleted and recreated wholesale, so
// reprocessing (retries, cache misses after a schema bump) stays
// idempotent without needing per-row diffing.
package store

import (
	"context"
	"fmt"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/finding"
	"github.com/markiskorova/reviewpipeline/ent/reviewchunk"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/google/uuid"
)

// ChunkInput is the provider-agnostic shape PersistChunksForRun needs from
// a chunker.Chunk, so this package does not import pkg/chunker directly.
type ChunkInput struct {
	ChunkID       string
	SchemaVersion string
	Ordinal       int
	Heading       string
	Body          string
	StartOffset   *int
	EndOffset     *int
	Metadata      map[string]interface{}
}

// PersistChunksForRun replaces every ReviewChunk row owned by runID with
// the given chunks.
func PersistChunksForRun(ctx context.Context, client *ent.Client, documentID, runID string, chunks []ChunkInput) error {
	tx, err := client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if _, err := tx.ReviewChunk.Delete().Where(reviewchunk.RunID(runID)).Exec(ctx); err != nil {
		return rollback(tx, fmt.Errorf("store: delete existing chunks: %w", err))
	}

	builders := make([]*ent.ReviewChunkCreate, 0, len(chunks))
	for _, c := range chunks {
		b := tx.ReviewChunk.Create().
			SetID(uuid.NewString()).
			SetRunID(runID).
			SetDocumentID(documentID).
			SetChunkID(c.ChunkID).
			SetSchemaVersion(c.SchemaVersion).
			SetOrdinal(c.Ordinal).
			SetBody(c.Body)
		if c.Heading != "" {
			b.SetHeading(c.Heading)
		}
		if c.StartOffset != nil {
			b.SetStartOffset(*c.StartOffset)
		}
		if c.EndOffset != nil {
			b.SetEndOffset(*c.EndOffset)
		}
		if len(c.Metadata) > 0 {
			b.SetMetadata(c.Metadata)
		}
		builders = append(builders, b)
	}

	if len(builders) > 0 {
		if _, err := tx.ReviewChunk.CreateBulk(builders...).Save(ctx); err != nil {
			return rollback(tx, fmt.Errorf("store: create chunks: %w", err))
		}
	}

	return tx.Commit()
}

// FindingInput is the provider-agnostic shape PersistFindingsForRun needs,
// covering both rule- and LLM-sourced findings.
type FindingInput struct {
	ClauseID      string
	ChunkID       string
	ClauseHeading string
	ClauseBody    string
	RuleCode      string
	Severity      string
	Summary       string
	Explanation   string
	Evidence      string
	EvidenceSpan  map[string]interface{}
	Source        string
	Model         string
	Confidence    *float64
	PromptRev     string
}

// PersistFindingsForRun replaces every Finding row owned by runID with the
// given findings, and records which model/prompt revision (if any)
// produced the LLM-sourced subset on the run itself.
func PersistFindingsForRun(ctx context.Context, client *ent.Client, documentID, runID string, findings []FindingInput) error {
	tx, err := client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	var llmModel, promptRev string
	for _, f := range findings {
		if f.Source == "llm" {
			llmModel = f.Model
			promptRev = f.PromptRev
			break
		}
	}

	runUpdate := tx.ReviewRun.UpdateOneID(runID)
	if llmModel != "" {
		runUpdate = runUpdate.SetLlmModel(llmModel)
	}
	if promptRev != "" {
		runUpdate = runUpdate.SetPromptRev(promptRev)
	}
	if _, err := runUpdate.Save(ctx); err != nil {
		return rollback(tx, fmt.Errorf("store: update run llm metadata: %w", err))
	}

	if _, err := tx.Finding.Delete().Where(finding.RunID(runID)).Exec(ctx); err != nil {
		return rollback(tx, fmt.Errorf("store: delete existing findings: %w", err))
	}

	builders := make([]*ent.FindingCreate, 0, len(findings))
	for _, f := range findings {
		severity := f.Severity
		if severity == "" {
			severity = "medium"
		}
		source := f.Source
		if source == "" {
			source = "unknown"
		}

		b := tx.Finding.Create().
			SetID(uuid.NewString()).
			SetDocumentID(documentID).
			SetRunID(runID).
			SetClauseID(f.ClauseID).
			SetSummary(f.Summary).
			SetSeverity(finding.Severity(severity)).
			SetSource(finding.Source(source))

		if f.ChunkID != "" {
			b.SetChunkID(f.ChunkID)
		}
		if f.ClauseHeading != "" {
			b.SetClauseHeading(f.ClauseHeading)
		}
		if f.ClauseBody != "" {
			b.SetClauseBody(f.ClauseBody)
		}
		if f.Explanation != "" {
			b.SetExplanation(f.Explanation)
		}
		if f.Evidence != "" {
			b.SetEvidence(f.Evidence)
		}
		if len(f.EvidenceSpan) > 0 {
			b.SetEvidenceSpan(f.EvidenceSpan)
		}
		if f.RuleCode != "" {
			b.SetRuleCode(f.RuleCode)
		}
		if f.Model != "" {
			b.SetModel(f.Model)
		}
		if f.Confidence != nil {
			b.SetConfidence(*f.Confidence)
		}
		if f.PromptRev != "" {
			b.SetPromptRev(f.PromptRev)
		}
		builders = append(builders, b)
	}

	if len(builders) > 0 {
		if _, err := tx.Finding.CreateBulk(builders...).Save(ctx); err != nil {
			return rollback(tx, fmt.Errorf("store: create findings: %w", err))
		}
	}

	return tx.Commit()
}

// CreateQueuedRun inserts a new ReviewRun row in the queued state.
func CreateQueuedRun(ctx context.Context, client *ent.Client, documentID string, idempotencyKey, requestFingerprint *string) (*ent.ReviewRun, error) {
	builder := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(documentID).
		SetStatus(reviewrun.StatusQueued)
	if idempotencyKey != nil {
		builder = builder.SetIdempotencyKey(*idempotencyKey)
	}
	if requestFingerprint != nil {
		builder = builder.SetRequestFingerprint(*requestFingerprint)
	}
	run, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: create queued run: %w", err)
	}
	return run, nil
}

func rollback(tx *ent.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
	}
	return err
}
