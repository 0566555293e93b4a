// Package queue provides review-run queue management and worker pool
// infrastructure: claiming queued runs, executing the pipeline against
// them, and recovering runs orphaned by a crashed worker.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates no queued runs are waiting to be claimed.
	ErrNoRunsAvailable = errors.New("no runs available")

	// ErrAtCapacity indicates the worker pool's concurrency ceiling has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// RunExecutor processes one claimed review run end to end: preprocess,
// rules, LLM, persist. It owns every stage transition and writes the
// run's terminal status (succeeded/partial/failed) itself; the worker
// only handles claiming and orphan bookkeeping around the call.
type RunExecutor interface {
	Process(ctx context.Context, runID string) error
}

// PoolHealth reports the health of the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveRuns       int            `json:"active_runs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports the health of a single worker goroutine.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentRunID  string    `json:"current_run_id,omitempty"`
	RunsProcessed int       `json:"runs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
