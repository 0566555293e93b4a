package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/markiskorova/reviewpipeline/pkg/services"
)

// runReviewHandler handles POST /v1/review/run.
// Admission outcomes map to distinct statuses with structured bodies:
//
//	202 — new run enqueued
//	200 — recent idempotency key resolved to an existing run
//	409 — idempotency key expired (surviving run id echoed)
//	429 — concurrency cap or per-fingerprint rate limit hit
//	503 — run created but the worker pool refused it (run marked failed)
func (s *Server) runReviewHandler(c *echo.Context) error {
	var req RunReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DocumentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document_id field is required")
	}

	// Header takes precedence over the body field.
	idempotencyKey := req.IdempotencyKey
	if header := c.Request().Header.Get("Idempotency-Key"); header != "" {
		idempotencyKey = header
	}

	input := services.EnqueueRunInput{
		DocumentID:         req.DocumentID,
		RequestFingerprint: requestFingerprint(c),
	}
	if idempotencyKey != "" {
		input.IdempotencyKey = &idempotencyKey
	}

	result, err := s.intakeService.EnqueueRun(c.Request().Context(), input)
	if err != nil {
		var expired *services.IdempotencyExpiredError
		if errors.As(err, &expired) {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"detail": "idempotency key expired; submit with a new key to reprocess",
				"run_id": expired.RunID,
			})
		}
		if errors.Is(err, services.ErrTooManyConcurrentRuns) {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"detail": "too many concurrent review runs",
				"limit":  s.reviewCfg.MaxConcurrentRuns,
			})
		}
		if errors.Is(err, services.ErrRateLimited) {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"detail":           "review run rate limit exceeded",
				"limit_per_minute": s.reviewCfg.RateLimitPerMinute,
			})
		}
		var enqueueErr *services.EnqueueFailedError
		if errors.As(err, &enqueueErr) {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"detail": "review queue unavailable; run marked failed",
				"run":    newRunResponse(enqueueErr.Run),
			})
		}
		return mapServiceError(err)
	}

	doc, err := s.documentService.GetDocument(c.Request().Context(), req.DocumentID)
	if err != nil {
		return mapServiceError(err)
	}

	status := http.StatusAccepted
	if result.Reused {
		status = http.StatusOK
	}
	return c.JSON(status, &RunReviewResponse{
		Document:          newDocumentResponse(doc),
		Clauses:           []interface{}{},
		Findings:          []*FindingResponse{},
		Run:               newRunResponse(result.Run),
		IdempotencyReused: result.Reused,
	})
}

// getRunHandler handles GET /v1/review-runs/:id.
func (s *Server) getRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	run, doc, err := s.runService.GetRun(c.Request().Context(), runID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &RunDetailResponse{
		Run:      newRunResponse(run),
		Document: newDocumentResponse(doc),
	})
}

// requestFingerprint derives the rate-limiting identity for a request: the
// authenticated user when a proxy forwards one, the client address otherwise.
func requestFingerprint(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	return c.RealIP()
}
