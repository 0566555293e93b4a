package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/config"
)

// WorkerPool manages a pool of queue workers. It doubles as the intake
// side's RunEnqueuer: a created run row is the durable queue entry, and
// Enqueue just nudges an idle worker so pickup does not wait out a full
// poll interval.
type WorkerPool struct {
	client      *ent.Client
	queueCfg    *config.QueueConfig
	maxActive   int
	runExecutor RunExecutor
	workers     []*Worker
	wakeCh      chan struct{}
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Run cancel registry: run_id → cancel function
	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool

	// Orphan detection state
	orphans orphanState
}

// NewWorkerPool creates a new worker pool. maxActive is the global ceiling
// of concurrently running runs (REVIEW_MAX_CONCURRENT_RUNS).
func NewWorkerPool(client *ent.Client, queueCfg *config.QueueConfig, maxActive int, executor RunExecutor) *WorkerPool {
	return &WorkerPool{
		client:      client,
		queueCfg:    queueCfg,
		maxActive:   maxActive,
		runExecutor: executor,
		workers:     make([]*Worker, 0, queueCfg.WorkerCount),
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		activeRuns:  make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan reaper background task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool",
		"worker_count", p.queueCfg.WorkerCount,
		"max_concurrent_runs", p.maxActive)

	for i := 0; i < p.queueCfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		worker := NewWorker(workerID, p.client, p.queueCfg, p.maxActive, p.runExecutor, p, p.wakeCh)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	// Start the orphan reaper
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanReaper(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current runs before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	// Log active runs
	active := p.getActiveRunIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active runs to complete",
			"count", len(active),
			"run_ids", active)
	}

	// Signal all workers to stop (they finish current runs)
	for _, worker := range p.workers {
		worker.Stop()
	}

	// Signal the orphan reaper to stop
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Enqueue implements services.RunEnqueuer. The run row in "queued" is the
// durable queue entry; this only wakes a worker early and reports whether
// the pool can still pick the run up.
func (p *WorkerPool) Enqueue(_ context.Context, runID string) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("worker pool is stopped, run %s cannot be scheduled", runID)
	default:
	}
	if !p.started {
		return fmt.Errorf("worker pool is not started, run %s cannot be scheduled", runID)
	}

	// Non-blocking nudge: a full channel means a wake-up is already pending.
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// RegisterRun stores a cancel function for shutdown-time cancellation.
func (p *WorkerPool) RegisterRun(runID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRuns[runID] = cancel
}

// UnregisterRun removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterRun(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeRuns, runID)
}

// CancelRun triggers context cancellation for a run on this instance.
// Returns true if the run was found and cancelled.
func (p *WorkerPool) CancelRun(runID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeRuns[runID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.client.ReviewRun.Query().
		Where(reviewrun.StatusEQ(reviewrun.StatusQueued)).
		Count(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check", "error", errQ)
	}

	activeRuns, errA := p.client.ReviewRun.Query().
		Where(reviewrun.StatusEQ(reviewrun.StatusRunning)).
		Count(ctx)
	if errA != nil {
		slog.Error("Failed to query active runs for health check", "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	// DB errors affect health status - if we can't reach the DB, we're not healthy
	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeRuns <= p.maxActive && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errA != nil {
			dbError = fmt.Sprintf("active runs query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveRuns:       activeRuns,
		MaxConcurrent:    p.maxActive,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

// getActiveRunIDs returns IDs of currently processing runs (for logging).
func (p *WorkerPool) getActiveRunIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	runs := make([]string, 0, len(p.activeRuns))
	for id := range p.activeRuns {
		runs = append(runs, id)
	}
	return runs
}
