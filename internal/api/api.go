// Package api exposes the intake pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/pipeline"
	"github.com/sells-group/intake-cli/internal/store"
)

// Service is the pipeline surface the handlers drive. *pipeline.Service
// implements it.
type Service interface {
	Ingest(ctx context.Context, runID string, ext model.Extraction) (*pipeline.IngestResult, error)
	Review(ctx context.Context, runID string) (model.ReviewSummary, error)
	Validate(ctx context.Context, runID string, tierTwo bool) (*pipeline.ValidateResult, error)
	Approve(ctx context.Context, runID string) (*model.CanonicalFields, model.ReviewSummary, error)
	Edit(ctx context.Context, runID string, edits map[string]string, force bool) (*pipeline.OpResult, error)
	AcceptAll(ctx context.Context, runID string) (*pipeline.OpResult, error)
	ApplySuggestion(ctx context.Context, runID, path string, index int) (*pipeline.OpResult, error)
	ResolveConflict(ctx context.Context, runID, path, label string) (*pipeline.OpResult, error)
	ConfirmInvalid(ctx context.Context, runID, path string) (*pipeline.OpResult, error)
	Fill(ctx context.Context, runID string) (*model.FillReport, error)
	PostFill(ctx context.Context, runID string, tierTwo bool) (*model.ValidationReport, error)
	Get(ctx context.Context, runID string) (*pipeline.RunView, error)
	List(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Handler serves the intake routes.
type Handler struct {
	svc Service
	reg *model.FieldRegistry
}

// NewHandler creates a Handler.
func NewHandler(svc Service, reg *model.FieldRegistry) *Handler {
	return &Handler{svc: svc, reg: reg}
}

// Router builds the chi router with CORS for the given origins.
func (h *Handler) Router(corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.handleHealth)
	r.Get("/field-registry", h.handleRegistry)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.handleIngest)
		r.Get("/", h.handleList)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/extraction", h.handleIngest)
			r.Post("/review", h.handleReview)
			r.Post("/validate", h.handleValidate)
			r.Post("/approve", h.handleApprove)
			r.Post("/edits", h.handleEdits)
			r.Post("/accept-all", h.handleAcceptAll)
			r.Post("/suggestions/apply", h.handleApplySuggestion)
			r.Post("/conflicts/resolve", h.handleResolveConflict)
			r.Post("/confirm-invalid", h.handleConfirmInvalid)
			r.Post("/fill", h.handleFill)
			r.Post("/postfill", h.handlePostFill)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRegistry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fields": h.reg.Fields, "documents": h.reg.Documents()})
}

type ingestRequest struct {
	RunID string `json:"run_id"`
	model.Extraction
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		runID = req.RunID
	}
	res, err := h.svc.Ingest(r.Context(), runID, req.Extraction)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid offset")
		return
	}
	runs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Review(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type tierTwoRequest struct {
	TierTwo bool `json:"tier_two"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req tierTwoRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.svc.Validate(r.Context(), chi.URLParam(r, "runID"), req.TierTwo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	snap, summary, err := h.svc.Approve(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canonical": snap, "summary": summary})
}

type editRequest struct {
	Edits map[string]string `json:"edits"`
	Force bool              `json:"force"`
}

func (h *Handler) handleEdits(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Edits) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "edits is required")
		return
	}
	res, err := h.svc.Edit(r.Context(), chi.URLParam(r, "runID"), req.Edits, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAcceptAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.AcceptAll(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type suggestionRequest struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
}

func (h *Handler) handleApplySuggestion(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeErrorMessage(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := h.svc.ApplySuggestion(r.Context(), chi.URLParam(r, "runID"), req.Path, req.Index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type conflictRequest struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

func (h *Handler) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req conflictRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" || req.Label == "" {
		writeErrorMessage(w, http.StatusBadRequest, "path and label are required")
		return
	}
	res, err := h.svc.ResolveConflict(r.Context(), chi.URLParam(r, "runID"), req.Path, req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type pathRequest struct {
	Path string `json:"path"`
}

func (h *Handler) handleConfirmInvalid(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeErrorMessage(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := h.svc.ConfirmInvalid(r.Context(), chi.URLParam(r, "runID"), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleFill(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Fill(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handlePostFill(w http.ResponseWriter, r *http.Request) {
	var req tierTwoRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	report, err := h.svc.PostFill(r.Context(), chi.URLParam(r, "runID"), req.TierTwo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}
