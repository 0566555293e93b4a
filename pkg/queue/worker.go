package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes review runs.
type Worker struct {
	id          string
	client      *ent.Client
	queueCfg    *config.QueueConfig
	maxActive   int
	runExecutor RunExecutor
	pool        RunRegistry
	wakeCh      <-chan struct{}
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// RunRegistry is the subset of WorkerPool used by Worker for run registration.
type RunRegistry interface {
	RegisterRun(runID string, cancel context.CancelFunc)
	UnregisterRun(runID string)
}

// NewWorker creates a new queue worker. maxActive is the global ceiling of
// concurrently running runs; wakeCh carries enqueue nudges from intake.
func NewWorker(id string, client *ent.Client, queueCfg *config.QueueConfig, maxActive int, executor RunExecutor, pool RunRegistry, wakeCh <-chan struct{}) *Worker {
	return &Worker{
		id:           id,
		client:       client,
		queueCfg:     queueCfg,
		maxActive:    maxActive,
		runExecutor:  executor,
		pool:         pool,
		wakeCh:       wakeCh,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing run", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration, an enqueue nudge, or a stop signal.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-w.wakeCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a run, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check global capacity (best-effort; racy with concurrent workers
	//    but bounded by WorkerCount and mitigated by poll jitter).
	activeCount, err := w.client.ReviewRun.Query().
		Where(reviewrun.StatusEQ(reviewrun.StatusRunning)).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("checking active runs: %w", err)
	}
	if activeCount >= w.maxActive {
		return ErrAtCapacity
	}

	// 2. Claim next run
	run, err := w.claimNextRun(ctx)
	if err != nil {
		return err
	}

	log := slog.With("run_id", run.ID, "worker_id", w.id)
	log.Info("Run claimed")

	w.setStatus(WorkerStatusWorking, run.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	runsInFlight.Inc()
	defer runsInFlight.Dec()

	// 3. Create run context with timeout
	runCtx, cancelRun := context.WithTimeout(ctx, w.queueCfg.RunTimeout)
	defer cancelRun()

	// 4. Register cancel function so the pool can abort during shutdown
	w.pool.RegisterRun(run.ID, cancelRun)
	defer w.pool.UnregisterRun(run.ID)

	// 5. Execute with retry: LLM degradation is contained inside Process
	//    (terminal "partial"), so any error surfacing here is a hard
	//    failure eligible for backoff-with-jitter.
	var execErr error
	for attempt := 0; ; attempt++ {
		execErr = w.runExecutor.Process(runCtx, run.ID)
		if execErr == nil {
			break
		}
		if attempt >= w.queueCfg.MaxRetries {
			log.Error("Run failed after retries", "attempts", attempt+1, "error", execErr)
			break
		}
		if runCtx.Err() != nil {
			log.Error("Run context expired, not retrying", "error", execErr)
			break
		}
		backoff := w.retryBackoff(attempt)
		log.Warn("Run attempt failed, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
			"error", execErr)
		select {
		case <-runCtx.Done():
		case <-w.stopCh:
		case <-time.After(backoff):
		}
		if runCtx.Err() != nil {
			break
		}
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	if execErr != nil {
		// Process already wrote the terminal failed state; the loop just
		// records that this claim is finished.
		log.Info("Run processing finished with failure")
		return nil
	}

	log.Info("Run processing complete")
	return nil
}

// claimNextRun atomically claims the next queued run using FOR UPDATE SKIP LOCKED.
func (w *Worker) claimNextRun(ctx context.Context) (*ent.ReviewRun, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// SELECT ... FOR UPDATE SKIP LOCKED
	// Order by created_at for FIFO processing
	run, err := tx.ReviewRun.Query().
		Where(reviewrun.StatusEQ(reviewrun.StatusQueued)).
		Order(ent.Asc(reviewrun.FieldCreatedAt)).
		Limit(1).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNoRunsAvailable
		}
		return nil, fmt.Errorf("failed to query queued run: %w", err)
	}

	// Claim: set running + started_at so no other worker re-claims the row.
	// The executor's own running-transition is idempotent over this.
	run, err = run.Update().
		SetStatus(reviewrun.StatusRunning).
		SetStartedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return run, nil
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.queueCfg.PollInterval
	jitter := w.queueCfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// retryBackoff returns the delay before retry attempt+1: exponential on a
// configured base, with up to 50% added jitter.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	base := w.queueCfg.RetryBackoffBase
	if base <= 0 {
		base = time.Second
	}
	backoff := base << attempt
	jitter := time.Duration(rand.Int64N(int64(backoff)/2 + 1))
	return backoff + jitter
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
