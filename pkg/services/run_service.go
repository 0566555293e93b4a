package services

import (
	"context"
	"fmt"

	"github.com/markiskorova/reviewpipeline/ent"
)

// RunService handles review run lookups for the HTTP surface.
type RunService struct {
	client *ent.Client
}

// NewRunService creates a new RunService.
func NewRunService(client *ent.Client) *RunService {
	if client == nil {
		panic("NewRunService: client must not be nil")
	}
	return &RunService{client: client}
}

// GetRun fetches one run with its document.
func (s *RunService) GetRun(ctx context.Context, runID string) (*ent.ReviewRun, *ent.Document, error) {
	run, err := s.client.ReviewRun.Get(ctx, runID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to fetch run: %w", err)
	}

	doc, err := s.client.Document.Get(ctx, run.DocumentID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to fetch run document: %w", err)
	}
	return run, doc, nil
}
