// Package handler exposes the evaluation service over HTTP. Handlers build
// an explicit actor from the authenticated request, call the service and
// write exactly one JSON response.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	"evalledger/pkg/platform/httputil"
	"evalledger/pkg/requestcontext"
)

// Service defines the evaluation operations the handler depends on.
type Service interface {
	CreateExperiment(ctx context.Context, actor models.Actor, in models.ExperimentInput) (*models.Experiment, error)
	ListExperiments(ctx context.Context, actor models.Actor, page models.Page) ([]*models.Experiment, error)
	GetExperiment(ctx context.Context, actor models.Actor, expID id.ExperimentID) (*models.ExperimentWithRuns, error)
	UpdateExperiment(ctx context.Context, actor models.Actor, expID id.ExperimentID, in models.ExperimentInput, unchanged []string) (*models.Experiment, error)
	DeleteExperiment(ctx context.Context, actor models.Actor, expID id.ExperimentID) (*models.Experiment, error)

	CreateRun(ctx context.Context, actor models.Actor, expID id.ExperimentID, in models.RunInput) (*models.Run, error)
	ListRuns(ctx context.Context, actor models.Actor, expID id.ExperimentID) ([]*models.Run, error)
	GetRun(ctx context.Context, actor models.Actor, runID id.RunID) (*models.RunWithResults, error)
	UpdateRun(ctx context.Context, actor models.Actor, runID id.RunID, in models.RunInput, unchanged []string) (*models.Run, error)
	DeleteRun(ctx context.Context, actor models.Actor, runID id.RunID) (*models.Run, error)

	CreateTestCase(ctx context.Context, actor models.Actor, in models.TestCaseInput) (*models.TestCase, error)
	ListTestCases(ctx context.Context, actor models.Actor) ([]*models.TestCase, error)
	ListGlobalTestCases(ctx context.Context, actor models.Actor) ([]*models.TestCase, error)
	ListTestCasesByType(ctx context.Context, actor models.Actor, typ, scope string) ([]*models.TestCase, error)
	GetTestCase(ctx context.Context, actor models.Actor, tcID id.TestCaseID) (*models.TestCase, error)
	UpdateTestCase(ctx context.Context, actor models.Actor, tcID id.TestCaseID, in models.TestCaseInput, unchanged []string) (*models.TestCase, error)
	DeleteTestCase(ctx context.Context, actor models.Actor, tcID id.TestCaseID) (*models.TestCase, error)

	CreateTestResult(ctx context.Context, actor models.Actor, in models.TestResultInput) (*models.TestResult, error)
	CreateTestResultsBatch(ctx context.Context, actor models.Actor, inputs []models.TestResultInput) (*models.BatchReport, error)
	GetTestResult(ctx context.Context, actor models.Actor, resID id.TestResultID) (*models.TestResult, error)
	ListTestResults(ctx context.Context, actor models.Actor, runID id.RunID) ([]*models.TestResult, error)
}

// Handler wires the evaluation endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an evaluation handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the evaluation endpoints on the router. The caller applies
// authentication.
func (h *Handler) Register(r chi.Router) {
	r.Route("/experiments", func(r chi.Router) {
		r.Post("/", h.HandleCreateExperiment)
		r.Get("/", h.HandleListExperiments)
		r.Get("/{id}", h.HandleGetExperiment)
		r.Put("/{id}", h.HandleUpdateExperiment)
		r.Delete("/{id}", h.HandleDeleteExperiment)
		r.Post("/{id}/runs", h.HandleCreateRun)
		r.Get("/{id}/runs", h.HandleListRuns)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/{id}", h.HandleGetRun)
		r.Put("/{id}", h.HandleUpdateRun)
		r.Delete("/{id}", h.HandleDeleteRun)
		r.Get("/{id}/test-results", h.HandleListTestResults)
	})
	r.Route("/test-cases", func(r chi.Router) {
		r.Post("/", h.HandleCreateTestCase)
		r.Get("/", h.HandleListTestCases)
		r.Get("/global", h.HandleListGlobalTestCases)
		r.Get("/type/{type}", h.HandleListTestCasesByType)
		r.Get("/{id}", h.HandleGetTestCase)
		r.Put("/{id}", h.HandleUpdateTestCase)
		r.Delete("/{id}", h.HandleDeleteTestCase)
	})
	r.Route("/test-results", func(r chi.Router) {
		r.Post("/", h.HandleCreateTestResult)
		r.Post("/batch", h.HandleCreateTestResultsBatch)
		r.Get("/{id}", h.HandleGetTestResult)
	})
}

// actorFrom builds the explicit actor from the identity set by the auth
// middleware.
func actorFrom(ctx context.Context) models.Actor {
	return models.Actor{
		UserID:     requestcontext.UserID(ctx),
		Privileged: requestcontext.Privileged(ctx),
	}
}

// fail logs a failed operation and writes its error envelope.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"user_id", requestcontext.UserID(ctx),
		"error", err,
	}, attrs...)
	if httputil.ToHTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
	} else {
		h.logger.WarnContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) done(ctx context.Context, msg string, start time.Time, attrs ...any) {
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"user_id", requestcontext.UserID(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	}, attrs...)
	h.logger.InfoContext(ctx, msg, args...)
}

// HandleCreateExperiment handles POST /experiments.
func (h *Handler) HandleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ExperimentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	exp, err := h.service.CreateExperiment(ctx, actorFrom(ctx), req.Input())
	if err != nil {
		h.fail(ctx, w, "create experiment failed", err)
		return
	}
	h.done(ctx, "experiment created", start, "experiment_id", exp.ID)
	httputil.WriteJSON(w, http.StatusCreated, exp)
}

// HandleListExperiments handles GET /experiments?skip&limit.
func (h *Handler) HandleListExperiments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := parsePage(r)
	if err != nil {
		h.fail(ctx, w, "invalid page", err)
		return
	}
	exps, err := h.service.ListExperiments(ctx, actorFrom(ctx), page)
	if err != nil {
		h.fail(ctx, w, "list experiments failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, emptyIfNil(exps))
}

// HandleGetExperiment handles GET /experiments/{id}.
func (h *Handler) HandleGetExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	expID, err := id.ParseExperimentID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid experiment id", err)
		return
	}
	exp, err := h.service.GetExperiment(ctx, actorFrom(ctx), expID)
	if err != nil {
		h.fail(ctx, w, "get experiment failed", err, "experiment_id", expID)
		return
	}
	exp.Runs = emptyIfNil(exp.Runs)
	httputil.WriteJSON(w, http.StatusOK, exp)
}

// HandleUpdateExperiment handles PUT /experiments/{id}.
func (h *Handler) HandleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	expID, err := id.ParseExperimentID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid experiment id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ExperimentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	exp, err := h.service.UpdateExperiment(ctx, actorFrom(ctx), expID, req.Input(), req.Unchanged)
	if err != nil {
		h.fail(ctx, w, "update experiment failed", err, "experiment_id", expID)
		return
	}
	h.done(ctx, "experiment updated", start, "experiment_id", expID)
	httputil.WriteJSON(w, http.StatusOK, exp)
}

// HandleDeleteExperiment handles DELETE /experiments/{id}, cascading to runs
// and their results.
func (h *Handler) HandleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	expID, err := id.ParseExperimentID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid experiment id", err)
		return
	}
	exp, err := h.service.DeleteExperiment(ctx, actorFrom(ctx), expID)
	if err != nil {
		h.fail(ctx, w, "delete experiment failed", err, "experiment_id", expID)
		return
	}
	h.done(ctx, "experiment deleted", start, "experiment_id", expID)
	httputil.WriteJSON(w, http.StatusOK, exp)
}

// HandleCreateRun handles POST /experiments/{id}/runs.
func (h *Handler) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	expID, err := id.ParseExperimentID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid experiment id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RunRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	run, err := h.service.CreateRun(ctx, actorFrom(ctx), expID, req.Input())
	if err != nil {
		h.fail(ctx, w, "create run failed", err, "experiment_id", expID)
		return
	}
	h.done(ctx, "run created", start, "experiment_id", expID, "run_id", run.ID)
	httputil.WriteJSON(w, http.StatusCreated, run)
}

// HandleListRuns handles GET /experiments/{id}/runs.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	expID, err := id.ParseExperimentID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid experiment id", err)
		return
	}
	runs, err := h.service.ListRuns(ctx, actorFrom(ctx), expID)
	if err != nil {
		h.fail(ctx, w, "list runs failed", err, "experiment_id", expID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, emptyIfNil(runs))
}

// HandleGetRun handles GET /runs/{id}.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, err := id.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid run id", err)
		return
	}
	run, err := h.service.GetRun(ctx, actorFrom(ctx), runID)
	if err != nil {
		h.fail(ctx, w, "get run failed", err, "run_id", runID)
		return
	}
	run.TestResults = emptyIfNil(run.TestResults)
	httputil.WriteJSON(w, http.StatusOK, run)
}

// HandleUpdateRun handles PUT /runs/{id}.
func (h *Handler) HandleUpdateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	runID, err := id.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid run id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RunRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	run, err := h.service.UpdateRun(ctx, actorFrom(ctx), runID, req.Input(), req.Unchanged)
	if err != nil {
		h.fail(ctx, w, "update run failed", err, "run_id", runID)
		return
	}
	h.done(ctx, "run updated", start, "run_id", runID)
	httputil.WriteJSON(w, http.StatusOK, run)
}

// HandleDeleteRun handles DELETE /runs/{id}.
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	runID, err := id.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid run id", err)
		return
	}
	run, err := h.service.DeleteRun(ctx, actorFrom(ctx), runID)
	if err != nil {
		h.fail(ctx, w, "delete run failed", err, "run_id", runID)
		return
	}
	h.done(ctx, "run deleted", start, "run_id", runID)
	httputil.WriteJSON(w, http.StatusOK, run)
}

// HandleListTestResults handles GET /runs/{id}/test-results.
func (h *Handler) HandleListTestResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, err := id.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid run id", err)
		return
	}
	results, err := h.service.ListTestResults(ctx, actorFrom(ctx), runID)
	if err != nil {
		h.fail(ctx, w, "list test results failed", err, "run_id", runID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, emptyIfNil(results))
}

// HandleCreateTestCase handles POST /test-cases.
func (h *Handler) HandleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[TestCaseRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	tc, err := h.service.CreateTestCase(ctx, actorFrom(ctx), req.Input())
	if err != nil {
		h.fail(ctx, w, "create test case failed", err, "type", req.Type)
		return
	}
	h.done(ctx, "test case created", start, "test_case_id", tc.ID, "type", tc.Type, "global", tc.IsGlobal())
	httputil.WriteJSON(w, http.StatusCreated, toTestCaseResponse(tc))
}

// HandleListTestCases handles GET /test-cases.
func (h *Handler) HandleListTestCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cases, err := h.service.ListTestCases(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "list test cases failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTestCaseResponses(cases))
}

// HandleListGlobalTestCases handles GET /test-cases/global.
func (h *Handler) HandleListGlobalTestCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cases, err := h.service.ListGlobalTestCases(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "list global test cases failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTestCaseResponses(cases))
}

// HandleListTestCasesByType handles GET /test-cases/type/{type}?scope=owned|all.
func (h *Handler) HandleListTestCasesByType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	typ := chi.URLParam(r, "type")
	scope := r.URL.Query().Get("scope")
	cases, err := h.service.ListTestCasesByType(ctx, actorFrom(ctx), typ, scope)
	if err != nil {
		h.fail(ctx, w, "list test cases by type failed", err, "type", typ, "scope", scope)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTestCaseResponses(cases))
}

// HandleGetTestCase handles GET /test-cases/{id}.
func (h *Handler) HandleGetTestCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tcID, err := id.ParseTestCaseID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid test case id", err)
		return
	}
	tc, err := h.service.GetTestCase(ctx, actorFrom(ctx), tcID)
	if err != nil {
		h.fail(ctx, w, "get test case failed", err, "test_case_id", tcID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTestCaseResponse(tc))
}

// HandleUpdateTestCase handles PUT /test-cases/{id}.
func (h *Handler) HandleUpdateTestCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	tcID, err := id.ParseTestCaseID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid test case id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[TestCaseRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	tc, err := h.service.UpdateTestCase(ctx, actorFrom(ctx), tcID, req.Input(), req.Unchanged)
	if err != nil {
		h.fail(ctx, w, "update test case failed", err, "test_case_id", tcID)
		return
	}
	h.done(ctx, "test case updated", start, "test_case_id", tcID)
	httputil.WriteJSON(w, http.StatusOK, toTestCaseResponse(tc))
}

// HandleDeleteTestCase handles DELETE /test-cases/{id}. Results referencing
// the test case are kept.
func (h *Handler) HandleDeleteTestCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	tcID, err := id.ParseTestCaseID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid test case id", err)
		return
	}
	tc, err := h.service.DeleteTestCase(ctx, actorFrom(ctx), tcID)
	if err != nil {
		h.fail(ctx, w, "delete test case failed", err, "test_case_id", tcID)
		return
	}
	h.done(ctx, "test case deleted", start, "test_case_id", tcID)
	httputil.WriteJSON(w, http.StatusOK, toTestCaseResponse(tc))
}

// HandleCreateTestResult handles POST /test-results.
func (h *Handler) HandleCreateTestResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[TestResultRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.CreateTestResult(ctx, actorFrom(ctx), req.ToInput())
	if err != nil {
		h.fail(ctx, w, "create test result failed", err, "run_id", req.RunID, "test_case_id", req.TestCaseID)
		return
	}
	h.done(ctx, "test result created", start, "test_result_id", res.ID, "run_id", res.RunID)
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleCreateTestResultsBatch handles POST /test-results/batch. A rejected
// batch is a 400 whose envelope carries the per-item report.
func (h *Handler) HandleCreateTestResultsBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[BatchTestResultsRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	report, err := h.service.CreateTestResultsBatch(ctx, actorFrom(ctx), req.Inputs())
	if err != nil {
		if report == nil {
			h.fail(ctx, w, "batch ingestion failed", err, "items", len(req.Items))
			return
		}
		h.logger.WarnContext(ctx, "batch rejected",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", requestcontext.UserID(ctx),
			"items", len(report.Items),
			"failed", report.Failed(),
			"error", err,
		)
		httputil.WriteJSON(w, httputil.ToHTTPStatus(err), BatchErrorResponse{
			ErrorResponse: httputil.ToErrorResponse(err),
			Items:         report.Items,
		})
		return
	}
	h.done(ctx, "batch ingested", start, "items", len(report.Items))
	httputil.WriteJSON(w, http.StatusCreated, toBatchResponse(report))
}

// HandleGetTestResult handles GET /test-results/{id}.
func (h *Handler) HandleGetTestResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resID, err := id.ParseTestResultID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid test result id", err)
		return
	}
	res, err := h.service.GetTestResult(ctx, actorFrom(ctx), resID)
	if err != nil {
		h.fail(ctx, w, "get test result failed", err, "test_result_id", resID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
