// Package api exposes calculation runs and results over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/nexus-exposure/internal/analysis"
	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/service"
)

// RunManager starts and tracks calculation runs.
type RunManager interface {
	Submit(ctx context.Context, analysisID string) (*analysis.Run, error)
	Get(ctx context.Context, runID string) (*analysis.Run, error)
	List(ctx context.Context, analysisID string) ([]*analysis.Run, error)
	Cancel(ctx context.Context, runID string) error
}

// ResultReader reads analyses and their stored results.
type ResultReader interface {
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	GetTransactionCount(ctx context.Context, analysisID string) (int, error)
	GetResults(ctx context.Context, analysisID string) ([]model.StateYearResult, error)
	GetSummary(ctx context.Context, analysisID string) (*model.AnalysisSummary, error)
}

var _ ResultReader = (service.Storage)(nil)

// Handler serves the v1 API.
type Handler struct {
	runs    RunManager
	results ResultReader
}

// NewHandler creates a handler.
func NewHandler(runs RunManager, results ResultReader) *Handler {
	return &Handler{runs: runs, results: results}
}

// RegisterRoutes mounts the v1 endpoints on router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/analyses/:id", h.GetAnalysis)
		v1.GET("/analyses/:id/results", h.GetResults)
		v1.POST("/analyses/:id/runs", h.SubmitRun)
		v1.GET("/analyses/:id/runs", h.ListRuns)
		v1.GET("/runs/:id", h.GetRun)
		v1.DELETE("/runs/:id", h.CancelRun)
	}
}

// GetAnalysis returns an analysis with its transaction count.
func (h *Handler) GetAnalysis(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := h.results.GetAnalysis(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.results.GetTransactionCount(ctx, a.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Success(http.StatusOK, newAnalysisResponse(a, count)))
}

// GetResults returns the latest stored result set. The optional state query
// parameter restricts rows and summary states to one state.
func (h *Handler) GetResults(c *gin.Context) {
	ctx := c.Request.Context()
	analysisID := c.Param("id")

	state := ""
	if raw := c.Query("state"); raw != "" {
		normalized, ok := model.NormalizeState(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, Error(http.StatusBadRequest, "unknown state code: "+raw))
			return
		}
		state = normalized
	}

	summary, err := h.results.GetSummary(ctx, analysisID)
	if err != nil {
		respondError(c, err)
		return
	}
	results, err := h.results.GetResults(ctx, analysisID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := ResultsResponse{
		AnalysisID: analysisID,
		Summary:    newSummaryResponse(summary),
		Results:    make([]StateYearResponse, 0, len(results)),
	}
	for i := range results {
		if state != "" && results[i].State != state {
			continue
		}
		resp.Results = append(resp.Results, newStateYearResponse(&results[i]))
	}
	if state != "" {
		filtered := resp.Summary.States[:0]
		for _, s := range resp.Summary.States {
			if s.State == state {
				filtered = append(filtered, s)
			}
		}
		resp.Summary.States = filtered
	}

	c.JSON(http.StatusOK, Success(http.StatusOK, resp))
}

// SubmitRun starts a calculation and returns the pending run.
func (h *Handler) SubmitRun(c *gin.Context) {
	run, err := h.runs.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Location", "/api/v1/runs/"+run.ID)
	c.JSON(http.StatusAccepted, Success(http.StatusAccepted, run))
}

// ListRuns returns an analysis's runs, newest first.
func (h *Handler) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()
	analysisID := c.Param("id")
	if _, err := h.results.GetAnalysis(ctx, analysisID); err != nil {
		respondError(c, err)
		return
	}
	runs, err := h.runs.List(ctx, analysisID)
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*analysis.Run{}
	}
	c.JSON(http.StatusOK, Success(http.StatusOK, runs))
}

// GetRun returns a run's status and progress.
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Success(http.StatusOK, run))
}

// CancelRun stops an in-flight run. The response carries the run as of the
// request; it reaches cancelled once the engine notices.
func (h *Handler) CancelRun(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	if err := h.runs.Cancel(ctx, runID); err != nil {
		respondError(c, err)
		return
	}
	run, err := h.runs.Get(ctx, runID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, Success(http.StatusAccepted, run))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound), errors.Is(err, analysis.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrRunFinished):
		return http.StatusConflict
	case errors.Is(err, analysis.ErrManagerStopped), errors.Is(err, common.ErrDatabaseBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = strings.ToLower(http.StatusText(status))
	}
	c.JSON(status, Error(status, msg))
}
