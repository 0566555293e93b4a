package queue

import (
	"context"
	"testing"
	"time"

	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             2,
		PollInterval:            50 * time.Millisecond,
		PollIntervalJitter:      10 * time.Millisecond,
		RunTimeout:              time.Minute,
		GracefulShutdownTimeout: time.Minute,
		OrphanScanInterval:      time.Minute,
		OrphanThreshold:         10 * time.Minute,
		MaxRetries:              0,
		RetryBackoffBase:        10 * time.Millisecond,
	}
}

func TestWorkerPollInterval(t *testing.T) {
	cfg := testQueueConfig()
	w := &Worker{queueCfg: cfg}

	// With jitter the interval must stay inside [base-jitter, base+jitter].
	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, cfg.PollInterval-cfg.PollIntervalJitter)
		assert.LessOrEqual(t, d, cfg.PollInterval+cfg.PollIntervalJitter)
	}

	// Without jitter the interval is exact.
	cfg.PollIntervalJitter = 0
	assert.Equal(t, cfg.PollInterval, w.pollInterval())
}

func TestWorkerRetryBackoffGrows(t *testing.T) {
	cfg := testQueueConfig()
	cfg.RetryBackoffBase = 100 * time.Millisecond
	w := &Worker{queueCfg: cfg}

	for attempt := 0; attempt < 3; attempt++ {
		base := cfg.RetryBackoffBase << attempt
		for i := 0; i < 50; i++ {
			d := w.retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, base)
			assert.LessOrEqual(t, d, base+base/2+time.Millisecond)
		}
	}
}

func TestWorkerHealthTracking(t *testing.T) {
	w := &Worker{id: "worker-0", status: WorkerStatusIdle}

	w.setStatus(WorkerStatusWorking, "run-1")
	health := w.Health()
	assert.Equal(t, "worker-0", health.ID)
	assert.Equal(t, string(WorkerStatusWorking), health.Status)
	assert.Equal(t, "run-1", health.CurrentRunID)

	w.setStatus(WorkerStatusIdle, "")
	health = w.Health()
	assert.Equal(t, string(WorkerStatusIdle), health.Status)
	assert.Empty(t, health.CurrentRunID)
}

func TestClaimNextRun(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	doc, err := client.Document.Create().
		SetID(uuid.NewString()).
		SetTitle("Claim test").
		SetText("Some contract text.").
		Save(ctx)
	require.NoError(t, err)

	w := &Worker{id: "worker-0", client: client, queueCfg: testQueueConfig(), maxActive: 5}

	// No queued runs yet.
	_, err = w.claimNextRun(ctx)
	assert.ErrorIs(t, err, ErrNoRunsAvailable)

	first, err := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusQueued).
		Save(ctx)
	require.NoError(t, err)

	claimed, err := w.claimNextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, reviewrun.StatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// The claimed run is no longer visible to a second claim.
	_, err = w.claimNextRun(ctx)
	assert.ErrorIs(t, err, ErrNoRunsAvailable)
}

func TestPollAndProcessRespectsCapacity(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	doc, err := client.Document.Create().
		SetID(uuid.NewString()).
		SetTitle("Capacity test").
		SetText("Some contract text.").
		Save(ctx)
	require.NoError(t, err)

	// One run already running fills the whole capacity of 1.
	_, err = client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusRunning).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusQueued).
		Save(ctx)
	require.NoError(t, err)

	w := &Worker{id: "worker-0", client: client, queueCfg: testQueueConfig(), maxActive: 1}

	err = w.pollAndProcess(ctx)
	assert.ErrorIs(t, err, ErrAtCapacity)

	// The queued run is untouched.
	queued, err := client.ReviewRun.Query().
		Where(reviewrun.StatusEQ(reviewrun.StatusQueued)).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
}
