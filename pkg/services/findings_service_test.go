package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/finding"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/pkg/models"
	"github.com/markiskorova/reviewpipeline/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFindingsFixture(t *testing.T, findingCount int) (*ent.Client, *FindingsService, string, string) {
	t.Helper()
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	doc, err := client.Document.Create().
		SetID(uuid.NewString()).
		SetTitle("Findings test").
		SetText("Some contract text.").
		Save(ctx)
	require.NoError(t, err)

	run, err := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(doc.ID).
		SetStatus(reviewrun.StatusSucceeded).
		Save(ctx)
	require.NoError(t, err)

	severities := []string{"low", "medium", "high"}
	for i := 0; i < findingCount; i++ {
		_, err := client.Finding.Create().
			SetID(uuid.NewString()).
			SetDocumentID(doc.ID).
			SetRunID(run.ID).
			SetClauseID(fmt.Sprintf("chk_%03d", i)).
			SetSummary(fmt.Sprintf("Finding %d", i)).
			SetSeverity(finding.Severity(severities[i%len(severities)])).
			SetSource("rule").
			SetConfidence(float64(i) / 10.0).
			Save(ctx)
		require.NoError(t, err)
	}

	svc := NewFindingsService(client, config.DefaultReviewConfig())
	return client, svc, doc.ID, run.ID
}

func TestListFindingsPagination(t *testing.T) {
	_, svc, docID, _ := newFindingsFixture(t, 5)

	page, err := svc.ListFindings(context.Background(), docID, models.FindingsListParams{
		Page:     2,
		PageSize: 2,
	})
	require.NoError(t, err)

	assert.Len(t, page.Findings, 2)
	assert.Equal(t, models.Pagination{
		Page:       2,
		PageSize:   2,
		Total:      5,
		TotalPages: 3,
		HasNext:    true,
		HasPrev:    true,
	}, page.Pagination)
}

func TestListFindingsDefaultsToLatestRun(t *testing.T) {
	client, svc, docID, firstRunID := newFindingsFixture(t, 2)
	ctx := context.Background()

	// A newer run with one finding becomes the default.
	newer, err := client.ReviewRun.Create().
		SetID(uuid.NewString()).
		SetDocumentID(docID).
		SetStatus(reviewrun.StatusSucceeded).
		SetCreatedAt(time.Now().Add(time.Minute)).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.Finding.Create().
		SetID(uuid.NewString()).
		SetDocumentID(docID).
		SetRunID(newer.ID).
		SetClauseID("chk_new").
		SetSummary("Newest finding").
		SetSource("rule").
		Save(ctx)
	require.NoError(t, err)

	page, err := svc.ListFindings(ctx, docID, models.FindingsListParams{})
	require.NoError(t, err)
	require.NotNil(t, page.Run)
	assert.Equal(t, newer.ID, page.Run.ID)
	assert.Len(t, page.Findings, 1)

	// Naming the older run still works.
	page, err = svc.ListFindings(ctx, docID, models.FindingsListParams{RunID: firstRunID})
	require.NoError(t, err)
	assert.Equal(t, firstRunID, page.Run.ID)
	assert.Len(t, page.Findings, 2)
}

func TestListFindingsOrdering(t *testing.T) {
	_, svc, docID, _ := newFindingsFixture(t, 6)
	ctx := context.Background()

	page, err := svc.ListFindings(ctx, docID, models.FindingsListParams{Ordering: "-confidence"})
	require.NoError(t, err)
	require.NotEmpty(t, page.Findings)
	for i := 1; i < len(page.Findings); i++ {
		prev := page.Findings[i-1].Confidence
		cur := page.Findings[i].Confidence
		if prev != nil && cur != nil {
			assert.GreaterOrEqual(t, *prev, *cur)
		}
	}

	// Unknown ordering falls back to created_at without error.
	_, err = svc.ListFindings(ctx, docID, models.FindingsListParams{Ordering: "sneaky_column"})
	assert.NoError(t, err)
}

func TestListFindingsCapsPageSize(t *testing.T) {
	_, svc, docID, _ := newFindingsFixture(t, 3)

	page, err := svc.ListFindings(context.Background(), docID, models.FindingsListParams{
		PageSize: 100000,
	})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultReviewConfig().FindingsMaxPageSize, page.Pagination.PageSize)
}

func TestListFindingsUnknownDocument(t *testing.T) {
	_, svc, _, _ := newFindingsFixture(t, 0)

	_, err := svc.ListFindings(context.Background(), uuid.NewString(), models.FindingsListParams{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFindingsDocumentWithoutRuns(t *testing.T) {
	client, svc, _, _ := newFindingsFixture(t, 0)
	ctx := context.Background()

	bare, err := client.Document.Create().
		SetID(uuid.NewString()).
		SetTitle("No runs yet").
		SetText("text").
		Save(ctx)
	require.NoError(t, err)

	page, err := svc.ListFindings(ctx, bare.ID, models.FindingsListParams{})
	require.NoError(t, err)
	assert.Nil(t, page.Run)
	assert.Empty(t, page.Findings)
}
