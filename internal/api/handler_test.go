package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/nexus-exposure/internal/analysis"
	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/nexus"
	"github.com/Veraticus/nexus-exposure/internal/rules"
	"github.com/Veraticus/nexus-exposure/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Status     string          `json:"status"`
	Error      string          `json:"error"`
	Data       json.RawMessage `json:"data"`
	StatusCode int             `json:"status_code"`
}

type apiFixture struct {
	db      *testutil.TestDB
	manager *analysis.Manager
	router  *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repo, err := rules.Default()
	require.NoError(t, err)
	engine, err := nexus.NewEngine(nexus.Deps{Rules: repo}, nexus.Config{Workers: 2})
	require.NoError(t, err)

	manager, err := analysis.NewManager(analysis.Deps{
		Storage:    db.Storage,
		Calculator: engine,
		Runs:       analysis.NewSQLiteRunStore(db.Storage.DB()),
	}, analysis.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})

	router := NewRouter(NewHandler(manager, db.Storage), RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
	})
	return &apiFixture{db: db, manager: manager, router: router}
}

func (f *apiFixture) seed(analysisID string) {
	f.db.MustCreateAnalysis(analysisID, testutil.Date(2024, 12, 31))
	f.db.MustSaveTransactions(
		testutil.Sale(analysisID, "CO", testutil.Date(2023, 3, 10), "60000"),
		testutil.Sale(analysisID, "CO", testutil.Date(2023, 8, 14), "50000"),
		testutil.Sale(analysisID, "CO", testutil.Date(2023, 10, 2), "30000"),
		testutil.Sale(analysisID, "GA", testutil.Date(2024, 5, 1), "1000"),
	)
}

func (f *apiFixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func (f *apiFixture) runToCompletion(t *testing.T, analysisID string) *analysis.Run {
	t.Helper()
	w, body := f.do(t, http.MethodPost, "/api/v1/analyses/"+analysisID+"/runs")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var run analysis.Run
	require.NoError(t, json.Unmarshal(body.Data, &run))
	assert.Equal(t, "/api/v1/runs/"+run.ID, w.Header().Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	finished, err := f.manager.Wait(ctx, run.ID)
	require.NoError(t, err)
	return finished
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"OK"}`, w.Body.String())
}

func TestGetAnalysis(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("acme")

	w, body := f.do(t, http.MethodGet, "/api/v1/analyses/acme")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body.Status)

	var resp AnalysisResponse
	require.NoError(t, json.Unmarshal(body.Data, &resp))
	assert.Equal(t, "acme", resp.ID)
	assert.Equal(t, "2024-12-31", resp.AsOfDate)
	assert.Equal(t, 4, resp.TransactionCount)

	w, body = f.do(t, http.MethodGet, "/api/v1/analyses/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, http.StatusNotFound, body.StatusCode)
}

func TestSubmitRun_PollAndResults(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("acme")

	finished := f.runToCompletion(t, "acme")
	assert.Equal(t, analysis.StatusComplete, finished.Status)

	w, body := f.do(t, http.MethodGet, "/api/v1/runs/"+finished.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var polled analysis.Run
	require.NoError(t, json.Unmarshal(body.Data, &polled))
	assert.Equal(t, analysis.StatusComplete, polled.Status)
	assert.Equal(t, 2, polled.StatesDone)

	w, body = f.do(t, http.MethodGet, "/api/v1/analyses/acme/results")
	require.Equal(t, http.StatusOK, w.Code)
	var results ResultsResponse
	require.NoError(t, json.Unmarshal(body.Data, &results))
	assert.Equal(t, "acme", results.AnalysisID)
	assert.Equal(t, 2, results.Summary.StatesAnalyzed)
	assert.Equal(t, 1, results.Summary.StatesWithNexus)
	require.NotEmpty(t, results.Results)

	var found bool
	for _, r := range results.Results {
		if r.State == "CO" && r.Year == 2023 {
			found = true
			assert.Equal(t, model.NexusEconomic, r.NexusType)
			require.NotNil(t, r.NexusDate)
			assert.Equal(t, "2023-08-14", *r.NexusDate)
			// Only the October sale falls after the obligation start.
			assert.True(t, r.Estimate.ExposureSales.Equal(decimal.NewFromInt(30000)), "exposure %s", r.Estimate.ExposureSales)
			assert.True(t, r.Estimate.Total.IsPositive())
		}
	}
	assert.True(t, found, "expected a CO 2023 row")

	w, body = f.do(t, http.MethodGet, "/api/v1/analyses/acme/results?state=ga")
	require.Equal(t, http.StatusOK, w.Code)
	var filtered ResultsResponse
	require.NoError(t, json.Unmarshal(body.Data, &filtered))
	require.NotEmpty(t, filtered.Results)
	for _, r := range filtered.Results {
		assert.Equal(t, "GA", r.State)
	}
	require.Len(t, filtered.Summary.States, 1)
	assert.Equal(t, "GA", filtered.Summary.States[0].State)

	w, _ = f.do(t, http.MethodGet, "/api/v1/analyses/acme/results?state=ZZ")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetResults_NoRunYet(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("acme")

	w, body := f.do(t, http.MethodGet, "/api/v1/analyses/acme/results")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body.Error, "not found")
}

func TestSubmitRun_UnknownAnalysis(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/analyses/nope/runs")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", body.Status)
}

func TestListRuns(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("acme")

	w, body := f.do(t, http.MethodGet, "/api/v1/analyses/acme/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(body.Data))

	f.runToCompletion(t, "acme")
	f.runToCompletion(t, "acme")

	_, body = f.do(t, http.MethodGet, "/api/v1/analyses/acme/runs")
	var runs []analysis.Run
	require.NoError(t, json.Unmarshal(body.Data, &runs))
	assert.Len(t, runs, 2)

	w, _ = f.do(t, http.MethodGet, "/api/v1/analyses/nope/runs")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelRun(t *testing.T) {
	f := newAPIFixture(t)
	f.seed("acme")

	finished := f.runToCompletion(t, "acme")

	w, body := f.do(t, http.MethodDelete, "/api/v1/runs/"+finished.ID)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body.Error, "already finished")

	w, _ = f.do(t, http.MethodDelete, "/api/v1/runs/does-not-exist")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/v1/runs/does-not-exist")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNoRoute(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/api/v2/anything")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route not found", body.Error)
}

func TestCORS(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/runs/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("analysis x: %w", common.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: r", analysis.ErrRunNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: complete", analysis.ErrRunFinished), http.StatusConflict},
		{analysis.ErrManagerStopped, http.StatusServiceUnavailable},
		{common.ErrDatabaseBusy, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRespondError_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, errors.New("disk exploded at /var/lib/secret"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
	assert.Contains(t, w.Body.String(), "internal server error")
	assert.Len(t, c.Errors, 1)
}
