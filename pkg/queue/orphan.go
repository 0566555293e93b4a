package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
)

// orphanState tracks orphan reaper metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanReaper periodically scans for runs stuck in "running". A worker
// crash mid-execution leaves the row in that state with nobody to finish
// it; the reaper transitions such runs to "failed" once they exceed the
// orphan threshold. Operations are idempotent.
func (p *WorkerPool) runOrphanReaper(ctx context.Context) {
	ticker := time.NewTicker(p.queueCfg.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan scan failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds running runs whose started_at is older
// than the threshold and marks them failed (terminal state).
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.queueCfg.OrphanThreshold)

	orphans, err := p.client.ReviewRun.Query().
		Where(
			reviewrun.StatusEQ(reviewrun.StatusRunning),
			reviewrun.StartedAtNotNil(),
			reviewrun.StartedAtLT(threshold),
		).
		All(ctx)
	if err != nil {
		return fmt.Errorf("failed to query orphaned runs: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("Detected orphaned runs", "count", len(orphans))

	recovered := 0
	failed := 0
	for _, run := range orphans {
		// Runs this instance is still actively processing are slow, not
		// orphaned; skip them.
		if p.isActiveRun(run.ID) {
			continue
		}
		if err := p.recoverOrphanedRun(ctx, run); err != nil {
			slog.Error("Failed to recover orphaned run",
				"run_id", run.ID,
				"error", err)
			failed++
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if failed > 0 {
		slog.Warn("Orphan recovery completed with failures",
			"total_orphans", len(orphans),
			"recovered", recovered,
			"failed", failed)
	}

	return nil
}

// isActiveRun reports whether this instance currently owns the run.
func (p *WorkerPool) isActiveRun(runID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.activeRuns[runID]
	return ok
}

// recoverOrphanedRun marks a single orphaned run as failed.
func (p *WorkerPool) recoverOrphanedRun(ctx context.Context, run *ent.ReviewRun) error {
	startedAt := "unknown"
	if run.StartedAt != nil {
		startedAt = run.StartedAt.Format(time.RFC3339)
	}

	errorMsg := fmt.Sprintf("Orphaned: run stayed in running since %s with no worker to finish it", startedAt)
	if err := markRunFailed(ctx, p.client, run.ID, errorMsg); err != nil {
		return err
	}
	orphansRecoveredTotal.Inc()

	slog.Warn("Orphaned run marked as failed", "run_id", run.ID, "started_at", startedAt)
	return nil
}

// CleanupStartupOrphans performs a one-time cleanup of runs that were
// running when this process previously crashed. Called once during
// startup, before the worker pool begins processing. With a single
// processing instance, every running row at boot is an orphan.
func CleanupStartupOrphans(ctx context.Context, client *ent.Client) error {
	orphans, err := client.ReviewRun.Query().
		Where(reviewrun.StatusEQ(reviewrun.StatusRunning)).
		All(ctx)
	if err != nil {
		return fmt.Errorf("failed to query startup orphans: %w", err)
	}

	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("Found startup orphans from previous run", "count", len(orphans))

	for _, run := range orphans {
		errorMsg := "Orphaned: process restarted while run was in progress"
		if err := markRunFailed(ctx, client, run.ID, errorMsg); err != nil {
			slog.Error("Failed to mark startup orphan",
				"run_id", run.ID,
				"error", err)
			continue
		}

		slog.Info("Startup orphan recovered", "run_id", run.ID)
	}

	return nil
}

// markRunFailed is a shared helper that writes the terminal failed state
// for a run the pipeline will never finish.
func markRunFailed(ctx context.Context, client *ent.Client, runID, errorMsg string) error {
	err := client.ReviewRun.UpdateOneID(runID).
		SetStatus(reviewrun.StatusFailed).
		SetError(errorMsg).
		SetCompletedAt(time.Now()).
		ClearCurrentStage().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark run as failed: %w", err)
	}
	return nil
}
