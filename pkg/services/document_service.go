package services

import (
	"context"
	"fmt"

	"github.com/markiskorova/reviewpipeline/ent"
	"github.com/markiskorova/reviewpipeline/ent/document"
	"github.com/google/uuid"
)

// CreateDocumentInput contains the domain-level data needed to persist an
// uploaded document. Transformed from the multipart HTTP request by the
// handler after the ingestion reader has produced text and metadata.
type CreateDocumentInput struct {
	Title             string
	Text              string
	SourceType        string
	IngestionMetadata map[string]interface{}
}

// DocumentService handles document persistence and lookup.
type DocumentService struct {
	client *ent.Client
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(client *ent.Client) *DocumentService {
	if client == nil {
		panic("NewDocumentService: client must not be nil")
	}
	return &DocumentService{client: client}
}

// CreateDocument persists an ingested document.
func (s *DocumentService) CreateDocument(ctx context.Context, input CreateDocumentInput) (*ent.Document, error) {
	if input.Title == "" {
		return nil, NewValidationError("title", "title is required")
	}

	sourceType := input.SourceType
	if sourceType == "" {
		sourceType = "text"
	}

	builder := s.client.Document.Create().
		SetID(uuid.New().String()).
		SetTitle(input.Title).
		SetText(input.Text).
		SetSourceType(document.SourceType(sourceType))

	if len(input.IngestionMetadata) > 0 {
		builder.SetIngestionMetadata(input.IngestionMetadata)
	}

	doc, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return doc, nil
}

// GetDocument fetches one document by id.
func (s *DocumentService) GetDocument(ctx context.Context, documentID string) (*ent.Document, error) {
	doc, err := s.client.Document.Get(ctx, documentID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	return doc, nil
}
