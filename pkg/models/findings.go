// Package models holds service-layer parameter and result shapes shared
// between the HTTP handlers and the services that back them.
package models

import "github.com/markiskorova/reviewpipeline/ent"

// FindingsListParams carries the parsed query parameters for the findings
// listing endpoint. Zero values are resolved by the service against the
// configured defaults.
type FindingsListParams struct {
	// RunID restricts the listing to one run. Empty means the document's
	// most recent run.
	RunID string

	// Page is 1-based.
	Page int

	// PageSize is capped by the service at the configured maximum.
	PageSize int

	// Ordering is one of created_at, severity, source, confidence with an
	// optional leading "-" for descending. Unknown values fall back to
	// created_at.
	Ordering string
}

// Pagination describes one page of a larger result set.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// FindingsPage is the result of a paginated findings query.
type FindingsPage struct {
	Document   *ent.Document
	Run        *ent.ReviewRun
	Findings   []*ent.Finding
	Pagination Pagination
}
