package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/markiskorova/reviewpipeline/pkg/ingestion"
	"github.com/markiskorova/reviewpipeline/pkg/models"
	"github.com/markiskorova/reviewpipeline/pkg/services"
)

// uploadDocumentHandler handles POST /v1/documents/upload.
// Multipart form: "title" plus one "file". The ingestion reader is picked
// by file extension; unknown extensions decode as plain UTF-8 text.
func (s *Server) uploadDocumentHandler(c *echo.Context) error {
	title := c.FormValue("title")
	if title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title field is required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer func() { _ = file.Close() }()

	raw, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}

	parsed, err := ingestion.ReadDocument(fileHeader.Filename, raw)
	if err != nil {
		if errors.Is(err, ingestion.ErrUnsupportedFormat) {
			return echo.NewHTTPError(http.StatusBadRequest, "unsupported document format")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	doc, err := s.documentService.CreateDocument(c.Request().Context(), services.CreateDocumentInput{
		Title:             title,
		Text:              parsed.Text,
		SourceType:        parsed.SourceType,
		IngestionMetadata: parsed.IngestionMetadata,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, newDocumentResponse(doc))
}

// listFindingsHandler handles GET /v1/documents/:id/findings.
func (s *Server) listFindingsHandler(c *echo.Context) error {
	documentID := c.Param("id")
	if documentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document id is required")
	}

	params := models.FindingsListParams{
		RunID:    c.QueryParam("run_id"),
		Ordering: c.QueryParam("ordering"),
	}
	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			params.Page = p
		}
	}
	if v := c.QueryParam("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 {
			params.PageSize = ps
		}
	}

	page, err := s.findingsService.ListFindings(c.Request().Context(), documentID, params)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &FindingsListResponse{
		Document:   newDocumentResponse(page.Document),
		Run:        newRunResponse(page.Run),
		Findings:   newFindingResponses(page.Findings),
		Pagination: page.Pagination,
	})
}
