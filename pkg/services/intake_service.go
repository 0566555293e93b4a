package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/document"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/pkg/store"
)

// IdempotencyWindow is how long a (document, idempotency_key) pair keeps
// resolving to its original run instead of creating a new one.
const IdempotencyWindow = 24 * time.Hour

// RunEnqueuer hands a freshly created run to the execution side. The
// worker pool implements it; tests substitute a stub.
type RunEnqueuer interface {
	Enqueue(ctx context.Context, runID string) error
}

// EnqueueRunInput contains the domain-level data for one admission attempt.
type EnqueueRunInput struct {
	DocumentID string

	// IdempotencyKey collapses duplicate submissions for the same
	// document inside IdempotencyWindow. Nil means no deduplication.
	IdempotencyKey *string

	// RequestFingerprint identifies the requester for rate limiting only.
	RequestFingerprint string
}

// EnqueueRunResult is the admission outcome: the run row plus whether it
// was reused from a previous submission with the same idempotency key.
type EnqueueRunResult struct {
	Run    *ent.ReviewRun
	Reused bool
}

// IntakeService admits review runs: idempotency lookup, concurrency cap,
// rate limit, then create-and-enqueue.
type IntakeService struct {
	client   *ent.Client
	cfg      *config.ReviewConfig
	enqueuer RunEnqueuer
}

// NewIntakeService creates a new IntakeService.
func NewIntakeService(client *ent.Client, cfg *config.ReviewConfig, enqueuer RunEnqueuer) *IntakeService {
	if client == nil {
		panic("NewIntakeService: client must not be nil")
	}
	if cfg == nil {
		panic("NewIntakeService: cfg must not be nil")
	}
	if enqueuer == nil {
		panic("NewIntakeService: enqueuer must not be nil")
	}
	return &IntakeService{client: client, cfg: cfg, enqueuer: enqueuer}
}

// EnqueueRun runs the admission sequence for one submission:
//
//  1. Resolve the document (ErrNotFound if absent).
//  2. Idempotency lookup: a run with the same (document, idempotency_key)
//     inside the window is returned with Reused=true; an older one is an
//     IdempotencyExpiredError.
//  3. Concurrency cap: queued+running count across all documents.
//  4. Rate limit: runs created in the last 60s with the same fingerprint.
//  5. Create the run in "queued" and hand it to the worker pool. An
//     enqueue failure marks the run failed and surfaces EnqueueFailedError.
func (s *IntakeService) EnqueueRun(ctx context.Context, input EnqueueRunInput) (*EnqueueRunResult, error) {
	if input.DocumentID == "" {
		return nil, NewValidationError("document_id", "document_id is required")
	}

	exists, err := s.client.Document.Query().
		Where(document.ID(input.DocumentID)).
		Exist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	now := time.Now()

	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		existing, err := s.client.ReviewRun.Query().
			Where(
				reviewrun.DocumentID(input.DocumentID),
				reviewrun.IdempotencyKeyEQ(*input.IdempotencyKey),
			).
			Order(ent.Desc(reviewrun.FieldCreatedAt)).
			First(ctx)
		if err != nil && !ent.IsNotFound(err) {
			return nil, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if existing != nil {
			if existing.CreatedAt.After(now.Add(-IdempotencyWindow)) {
				slog.Info("Idempotency key matched recent run, reusing",
					"document_id", input.DocumentID,
					"run_id", existing.ID)
				return &EnqueueRunResult{Run: existing, Reused: true}, nil
			}
			return nil, &IdempotencyExpiredError{RunID: existing.ID}
		}
	}

	active, err := s.client.ReviewRun.Query().
		Where(reviewrun.StatusIn(reviewrun.StatusQueued, reviewrun.StatusRunning)).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active runs: %w", err)
	}
	if active >= s.cfg.MaxConcurrentRuns {
		return nil, ErrTooManyConcurrentRuns
	}

	if input.RequestFingerprint != "" {
		recent, err := s.client.ReviewRun.Query().
			Where(
				reviewrun.RequestFingerprintEQ(input.RequestFingerprint),
				reviewrun.CreatedAtGTE(now.Add(-60*time.Second)),
			).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count recent runs: %w", err)
		}
		if recent >= s.cfg.RateLimitPerMinute {
			return nil, ErrRateLimited
		}
	}

	var fingerprint *string
	if input.RequestFingerprint != "" {
		fingerprint = &input.RequestFingerprint
	}
	var idemKey *string
	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		idemKey = input.IdempotencyKey
	}

	run, err := store.CreateQueuedRun(ctx, s.client, input.DocumentID, idemKey, fingerprint)
	if err != nil {
		return nil, err
	}

	if err := s.enqueuer.Enqueue(ctx, run.ID); err != nil {
		failed, markErr := s.markEnqueueFailed(ctx, run.ID, err)
		if markErr != nil {
			slog.Error("Failed to mark run after enqueue failure",
				"run_id", run.ID, "error", markErr)
			failed = run
		}
		return nil, &EnqueueFailedError{Run: failed, Cause: err}
	}

	slog.Info("Review run enqueued",
		"run_id", run.ID,
		"document_id", input.DocumentID,
		"idempotency_key_present", idemKey != nil)

	return &EnqueueRunResult{Run: run, Reused: false}, nil
}

// markEnqueueFailed transitions a run that never reached the queue to its
// terminal failed state.
func (s *IntakeService) markEnqueueFailed(ctx context.Context, runID string, cause error) (*ent.ReviewRun, error) {
	return s.client.ReviewRun.UpdateOneID(runID).
		SetStatus(reviewrun.StatusFailed).
		SetError(fmt.Sprintf("enqueue failed: %v", cause)).
		SetCompletedAt(time.Now()).
		Save(ctx)
}
