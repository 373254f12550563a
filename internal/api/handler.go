package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kite/internal/alerts"
	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/evaluate"
	"github.com/opensource-finance/kite/internal/ingest"
	"github.com/opensource-finance/kite/internal/reproduce"
	"github.com/opensource-finance/kite/internal/repository"
	"github.com/opensource-finance/kite/internal/version"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store    *repository.Store
	chain    *audit.Chain
	ingestor *ingest.Ingestor
	alerts   *alerts.Service
	bundles  *reproduce.Builder

	// newEvaluator builds a fresh evaluator per run so rule state never
	// leaks between runs.
	newEvaluator func() (*evaluate.Evaluator, error)

	configHash string
}

// NewHandler creates a new API handler.
func NewHandler(store *repository.Store, chain *audit.Chain, ingestor *ingest.Ingestor, alertSvc *alerts.Service, bundles *reproduce.Builder, newEvaluator func() (*evaluate.Evaluator, error), configHash string) *Handler {
	return &Handler{
		store:        store,
		chain:        chain,
		ingestor:     ingestor,
		alerts:       alertSvc,
		bundles:      bundles,
		newEvaluator: newEvaluator,
		configHash:   configHash,
	}
}

// runContext builds the run context for one request from the
// propagated headers.
func (h *Handler) runContext(r *http.Request) domain.RunContext {
	return domain.NewRunContext(
		GetCorrelationID(r.Context()),
		GetActor(r.Context()),
		h.configHash,
		version.RulesVersion,
		version.EngineVersion,
	)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": version.Version,
		"engine":  version.EngineVersion,
	})
}

// IngestRequest is the request body for POST /ingest.
type IngestRequest struct {
	Records []domain.RawRecord `json:"records"`
}

// IngestResponse is the response for POST /ingest.
type IngestResponse struct {
	CorrelationID string                `json:"correlationId"`
	Summary       *domain.IngestSummary `json:"summary"`
}

// Ingest handles POST /ingest.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "records is required"})
		return
	}

	rc := h.runContext(r)
	summary, err := h.ingestor.IngestBatch(r.Context(), req.Records, rc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{CorrelationID: rc.CorrelationID, Summary: summary})
}

// RunRequest is the request body for POST /run-rules.
type RunRequest struct {
	Resume bool `json:"resume,omitempty"`
}

// RunRules handles POST /run-rules.
func (h *Handler) RunRules(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
			return
		}
	}

	ev, err := h.newEvaluator()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	rc := h.runContext(r)
	summary, err := ev.Run(r.Context(), rc, req.Resume)
	if errors.Is(err, domain.ErrCheckpointConflict) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListAlerts handles GET /alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		CorrelationID: q.Get("correlation_id"),
		Status:        q.Get("status"),
		Severity:      q.Get("severity"),
		RuleID:        q.Get("rule_id"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	list, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list, "count": len(list)})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid alert id"})
		return
	}

	alert, err := h.alerts.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// UpdateAlertRequest is the request body for PATCH /alerts/{id}.
type UpdateAlertRequest struct {
	Status      string `json:"status"`
	Disposition string `json:"disposition"`
}

// UpdateAlert handles PATCH /alerts/{id}.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid alert id"})
		return
	}

	var req UpdateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	alert, err := h.alerts.UpdateDisposition(r.Context(), id, req.Status, req.Disposition, h.runContext(r))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// GetBundle handles GET /runs/{id}/bundle.
func (h *Handler) GetBundle(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "id")
	if correlationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run id is required"})
		return
	}

	bundle, err := h.bundles.Build(r.Context(), correlationID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// VerifyChain handles GET /audit/verify. A broken chain is reported
// with 409 and the first point of divergence.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	count, err := h.chain.Verify(r.Context())

	var chainErr *domain.ChainError
	if errors.As(err, &chainErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":       false,
			"index":    chainErr.Index,
			"entry_id": chainErr.EntryID,
			"reason":   chainErr.Reason,
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": count})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
