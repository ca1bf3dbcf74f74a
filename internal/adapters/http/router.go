package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
	"github.com/kirillkom/trialmatch/internal/core/usecase"
	"github.com/kirillkom/trialmatch/internal/observability/metrics"
)

const serviceName = "trialmatch-api"

type Options struct {
	Searcher   ports.TrialSearcher
	Trials     ports.TrialReader
	Categorize ports.TaxonomyService
	Agent      ports.EligibilityAgent

	// LLMConfigured drives /health and the chat configuration error frame.
	LLMConfigured bool

	Metrics *metrics.HTTPServerMetrics

	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

type Router struct {
	searcher      ports.TrialSearcher
	trials        ports.TrialReader
	categorize    ports.TaxonomyService
	agent         ports.EligibilityAgent
	llmConfigured bool
	metrics       *metrics.HTTPServerMetrics
	validator     *requestValidator
	options       Options
}

func NewRouter(options Options) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Router{
		searcher:      options.Searcher,
		trials:        options.Trials,
		categorize:    options.Categorize,
		agent:         options.Agent,
		llmConfigured: options.LLMConfigured,
		metrics:       options.Metrics,
		validator:     validator,
		options:       options,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", rt.health)
	mux.HandleFunc("GET /healthz", rt.health)
	mux.HandleFunc("POST /api/categorize", rt.categorizeConditions)
	mux.HandleFunc("GET /api/search", rt.searchTrials)
	mux.HandleFunc("GET /api/trials/{nct_id}", rt.getTrial)
	mux.Handle("GET /ws/verify/{nct_id}", rt.eligibilitySocket())
	mux.Handle("GET /ws/eligibility", rt.eligibilitySocket())
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	wait := rt.options.BackpressureWait
	if wait <= 0 {
		wait = 250 * time.Millisecond
	}

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = backpressureMiddleware(handler, rt.options.MaxInFlight, wait)
	handler = rateLimitMiddleware(handler, rt.options.RateLimitRPS, rt.options.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	if !rt.llmConfigured {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "LLM provider not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type categorizeRequest struct {
	Conditions json.RawMessage `json:"conditions"`
}

// conditionList accepts either a JSON list of strings or one
// comma-separated string.
func (req categorizeRequest) conditionList() ([]string, error) {
	var list []string
	if err := json.Unmarshal(req.Conditions, &list); err == nil {
		return list, nil
	}
	var joined string
	if err := json.Unmarshal(req.Conditions, &joined); err != nil {
		return nil, fmt.Errorf("conditions must be a list or a string")
	}
	return usecase.SplitConditions(joined), nil
}

func (rt *Router) categorizeConditions(w http.ResponseWriter, r *http.Request) {
	status, payload := rt.runCategorize(r)
	if rt.metrics != nil {
		rt.metrics.RecordCategorize(serviceName, status)
	}
	writeJSON(w, status, payload)
}

func (rt *Router) runCategorize(r *http.Request) (int, any) {
	var req categorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return http.StatusUnprocessableEntity, map[string]string{"detail": "invalid json"}
	}
	conditions, err := req.conditionList()
	if err != nil {
		return http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()}
	}
	if rt.categorize == nil {
		return http.StatusServiceUnavailable, map[string]string{"detail": "LLM provider not configured"}
	}

	taxonomy, err := rt.categorize.Categorize(r.Context(), conditions)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case domain.IsKind(err, domain.ErrInvalidInput):
			status = http.StatusUnprocessableEntity
		case domain.IsKind(err, domain.ErrNotConfigured):
			status = http.StatusServiceUnavailable
		}
		return status, map[string]string{"detail": domain.PublicMessage(err, "Categorization failed")}
	}
	return http.StatusOK, taxonomy
}

type searchResponse struct {
	State domain.SearchState `json:"state"`
	Page  domain.TrialPage   `json:"page"`
}

func (rt *Router) searchTrials(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		condition string
		age       int
		page      = 1
		terms     []string
	)
	if err := runtime.BindQueryParameter("form", true, true, "condition", query, &condition); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "age", query, &age); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "page", query, &page); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "term", query, &terms); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	state, visible, err := rt.searcher.Run(r.Context(), condition, age, terms, page)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{State: state, Page: visible})
}

func (rt *Router) getTrial(w http.ResponseWriter, r *http.Request) {
	nctID := strings.TrimSpace(r.PathValue("nct_id"))
	if nctID == "" {
		writeDetail(w, http.StatusBadRequest, "nct_id is required")
		return
	}
	trial, err := rt.trials.FetchTrial(r.Context(), nctID)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, trial)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
