package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/finding"
	"github.com/markiskorova/reviewpipeline/ent/reviewrun"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/pkg/models"
)

// orderableFindingFields whitelists the ordering values accepted by the
// findings listing. Anything else falls back to created_at.
var orderableFindingFields = map[string]string{
	"created_at": finding.FieldCreatedAt,
	"severity":   finding.FieldSeverity,
	"source":     finding.FieldSource,
	"confidence": finding.FieldConfidence,
}

// FindingsService serves paginated finding listings per document and run.
type FindingsService struct {
	client *ent.Client
	cfg    *config.ReviewConfig
}

// NewFindingsService creates a new FindingsService.
func NewFindingsService(client *ent.Client, cfg *config.ReviewConfig) *FindingsService {
	if client == nil {
		panic("NewFindingsService: client must not be nil")
	}
	if cfg == nil {
		panic("NewFindingsService: cfg must not be nil")
	}
	return &FindingsService{client: client, cfg: cfg}
}

// ListFindings returns one page of findings for a document. When no run is
// named, the document's most recent run is used; a document with no runs
// yields an empty page with Run nil.
func (s *FindingsService) ListFindings(ctx context.Context, documentID string, params models.FindingsListParams) (*models.FindingsPage, error) {
	doc, err := s.client.Document.Get(ctx, documentID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}

	run, err := s.resolveRun(ctx, documentID, params.RunID)
	if err != nil {
		return nil, err
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = s.cfg.FindingsDefaultPageSize
	}
	if pageSize > s.cfg.FindingsMaxPageSize {
		pageSize = s.cfg.FindingsMaxPageSize
	}

	result := &models.FindingsPage{
		Document: doc,
		Run:      run,
		Findings: []*ent.Finding{},
		Pagination: models.Pagination{
			Page:     page,
			PageSize: pageSize,
		},
	}
	if run == nil {
		return result, nil
	}

	query := s.client.Finding.Query().
		Where(finding.RunID(run.ID))

	total, err := query.Clone().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}

	field, desc := resolveOrdering(params.Ordering)
	order := []finding.OrderOption{ent.Asc(field), ent.Asc(finding.FieldID)}
	if desc {
		order[0] = ent.Desc(field)
	}

	rows, err := query.
		Order(order...).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	result.Findings = rows
	result.Pagination = models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
	return result, nil
}

// resolveRun picks the run to list findings for: the named one (which must
// belong to the document) or the document's most recent run.
func (s *FindingsService) resolveRun(ctx context.Context, documentID, runID string) (*ent.ReviewRun, error) {
	if runID != "" {
		run, err := s.client.ReviewRun.Query().
			Where(
				reviewrun.ID(runID),
				reviewrun.DocumentID(documentID),
			).
			Only(ctx)
		if err != nil {
			if ent.IsNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to fetch run: %w", err)
		}
		return run, nil
	}

	run, err := s.client.ReviewRun.Query().
		Where(reviewrun.DocumentID(documentID)).
		Order(ent.Desc(reviewrun.FieldCreatedAt)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve latest run: %w", err)
	}
	return run, nil
}

// resolveOrdering maps an external ordering value (optionally "-"-prefixed)
// to an ent field and direction, defaulting to ascending created_at.
func resolveOrdering(ordering string) (field string, desc bool) {
	value := strings.TrimSpace(ordering)
	if strings.HasPrefix(value, "-") {
		desc = true
		value = value[1:]
	}
	mapped, ok := orderableFindingFields[value]
	if !ok {
		return finding.FieldCreatedAt, desc
	}
	return mapped, desc
}
