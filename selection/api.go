package selection

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/llmrelay/llmrelay"
	"github.com/llmrelay/llmrelay/health"
	"github.com/llmrelay/llmrelay/monitoring"
)

// APIHandler exposes the selection and health operations over HTTP for
// out-of-process dispatchers and for monitoring/admin use.
type APIHandler struct {
	selector  *Selector
	tracker   health.Tracker
	providers []llmrelay.ProviderRef
	metrics   *monitoring.Metrics
	logger    *zap.SugaredLogger
}

func NewAPIHandler(
	selector *Selector,
	tracker health.Tracker,
	providers []llmrelay.ProviderRef,
	metrics *monitoring.Metrics,
	logger *zap.SugaredLogger,
) *APIHandler {
	return &APIHandler{
		selector:  selector,
		tracker:   tracker,
		providers: providers,
		metrics:   metrics,
		logger:    logger,
	}
}

// RegisterRoutes registers all selection and health API routes.
func (h *APIHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/selection/select", h.HandleSelect).Methods("GET")
	router.HandleFunc("/v1/selection/rank", h.HandleRank).Methods("GET")
	router.HandleFunc("/v1/health/providers/{name}", h.HandleProviderHealth).Methods("GET")
	router.HandleFunc("/v1/health/providers/{name}/reset", h.HandleReset).Methods("POST")
	router.HandleFunc("/v1/health/providers/{name}/report", h.HandleReport).Methods("POST")
}

type selectResponse struct {
	DecisionId string               `json:"decision_id"`
	Provider   llmrelay.ProviderRef `json:"provider"`
}

// HandleSelect runs a selection over the configured candidate list. An
// optional "override" query parameter pins the choice to a named provider.
func (h *APIHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	override := r.URL.Query().Get("override")

	chosen := h.selector.Select(r.Context(), h.providers, override)
	if chosen == nil {
		if override != "" {
			h.writeError(w, http.StatusNotFound, "override_not_found",
				"Override does not match any configured provider")
			return
		}
		h.writeError(w, http.StatusServiceUnavailable, "no_providers",
			"No providers configured")
		return
	}

	h.writeJSON(w, http.StatusOK, selectResponse{
		DecisionId: uuid.NewString(),
		Provider:   *chosen,
	})
}

// HandleRank returns the diagnostic ranking of all configured providers.
func (h *APIHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"rankings": h.selector.Rank(r.Context(), h.providers),
	})
}

// HandleProviderHealth returns the health snapshot for one provider.
// Unseen providers report an empty, healthy history rather than an error.
func (h *APIHandler) HandleProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	status, err := h.tracker.Status(r.Context(), name)
	if err != nil {
		h.logger.Errorw("Failed to read provider health", "provider", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "tracker_error",
			"Failed to read provider health")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleReset clears a provider's health history. Idempotent.
func (h *APIHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.tracker.Reset(r.Context(), name); err != nil {
		h.logger.Errorw("Failed to reset provider health", "provider", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "tracker_error",
			"Failed to reset provider health")
		return
	}

	h.logger.Infow("Provider health reset", "provider", name)
	h.metrics.SetPriorityAdjustment(name, 0)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "reset",
		"provider": name,
	})
}

type reportRequest struct {
	Outcome string `json:"outcome"`
}

// HandleReport records one completed upstream attempt. The dispatcher must
// report exactly one outcome, "success" or "failure", per attempt.
func (h *APIHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var report reportRequest
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	var err error
	switch report.Outcome {
	case monitoring.OutcomeSuccess:
		err = h.tracker.RecordSuccess(r.Context(), name)
	case monitoring.OutcomeFailure:
		err = h.tracker.RecordFailure(r.Context(), name)
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_outcome",
			`Outcome must be "success" or "failure"`)
		return
	}
	if err != nil {
		h.logger.Errorw("Failed to record outcome", "provider", name, "outcome", report.Outcome, "error", err)
		h.writeError(w, http.StatusInternalServerError, "tracker_error",
			"Failed to record outcome")
		return
	}

	h.metrics.RecordOutcome(name, report.Outcome)
	if adjustment, err := h.tracker.PriorityAdjustment(r.Context(), name); err == nil {
		h.metrics.SetPriorityAdjustment(name, adjustment)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "recorded",
		"provider": name,
		"outcome":  report.Outcome,
	})
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Errorw("Failed to encode response", "error", err)
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, statusCode int, code string, message string) {
	h.writeJSON(w, statusCode, map[string]string{
		"error":   code,
		"message": message,
	})
}
