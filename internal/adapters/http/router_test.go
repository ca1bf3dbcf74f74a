package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/observability/metrics"
)

type fakeSearcher struct {
	mu        sync.Mutex
	condition string
	age       int
	terms     []string
	page      int
	err       error
}

func (f *fakeSearcher) Run(_ context.Context, condition string, age int, terms []string, page int) (domain.SearchState, domain.TrialPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.condition, f.age, f.terms, f.page = condition, age, terms, page
	if f.err != nil {
		return domain.SearchState{}, domain.TrialPage{}, f.err
	}
	state := domain.NewSearchState(10)
	state.Step = domain.StepResults
	return state, domain.TrialPage{Items: []domain.FlattenedTrial{}, Page: page, PageSize: 10, TotalPages: 1}, nil
}

type fakeTrials struct {
	err error
}

func (f fakeTrials) FetchTrial(_ context.Context, nctID string) (*domain.FlattenedTrial, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.FlattenedTrial{NCTID: nctID, BriefTitle: "Trial"}, nil
}

type fakeTaxonomyService struct {
	got []string
	err error
}

func (f *fakeTaxonomyService) Categorize(_ context.Context, conditions []string) (domain.TaxonomyData, error) {
	f.got = conditions
	if f.err != nil {
		return domain.TaxonomyData{}, f.err
	}
	return domain.TaxonomyData{
		Summary: domain.TaxonomySummary{Genetic: []string{}, RecentEvents: []string{}, OtherMajorDiagnosis: []string{"Liver Disease"}},
		Lookup:  map[string]string{"nash": "Liver Disease"},
	}, nil
}

func newTestRouter(t *testing.T, options Options) http.Handler {
	t.Helper()
	if options.Searcher == nil {
		options.Searcher = &fakeSearcher{}
	}
	if options.Trials == nil {
		options.Trials = fakeTrials{}
	}
	rt, err := NewRouter(options)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return rt.Handler()
}

func decodeDetail(t *testing.T, res *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", res.Body.String(), err)
	}
	return body["detail"]
}

func postJSON(handler http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealthReportsLLMConfiguration(t *testing.T) {
	for _, tc := range []struct {
		configured bool
		want       int
	}{
		{configured: true, want: http.StatusOK},
		{configured: false, want: http.StatusServiceUnavailable},
	} {
		handler := newTestRouter(t, Options{LLMConfigured: tc.configured})
		for _, path := range []string{"/health", "/healthz"} {
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
			if res.Code != tc.want {
				t.Fatalf("%s configured=%v: expected %d, got %d", path, tc.configured, tc.want, res.Code)
			}
		}
	}
}

func TestCategorizeAcceptsListAndCommaString(t *testing.T) {
	svc := &fakeTaxonomyService{}
	handler := newTestRouter(t, Options{Categorize: svc, LLMConfigured: true})

	res := postJSON(handler, "/api/categorize", `{"conditions":["nash","fibrosis"]}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(svc.got) != 2 || svc.got[1] != "fibrosis" {
		t.Fatalf("unexpected conditions: %v", svc.got)
	}
	var taxonomy domain.TaxonomyData
	if err := json.Unmarshal(res.Body.Bytes(), &taxonomy); err != nil {
		t.Fatalf("decode taxonomy: %v", err)
	}
	if taxonomy.Lookup["nash"] != "Liver Disease" {
		t.Fatalf("unexpected lookup: %v", taxonomy.Lookup)
	}

	res = postJSON(handler, "/api/categorize", `{"conditions":"nash, , fibrosis "}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for string input, got %d", res.Code)
	}
	if len(svc.got) != 2 || svc.got[0] != "nash" || svc.got[1] != "fibrosis" {
		t.Fatalf("expected trimmed keywords without blanks, got %q", svc.got)
	}
}

func TestCategorizeRejectsMissingConditions(t *testing.T) {
	handler := newTestRouter(t, Options{Categorize: &fakeTaxonomyService{}, LLMConfigured: true})

	res := postJSON(handler, "/api/categorize", `{"items":[]}`)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if decodeDetail(t, res) == "" {
		t.Fatalf("expected detail for validation failure")
	}
}

func TestCategorizeMapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{
			name:   "empty",
			err:    domain.NewPublicError("conditions cannot be empty", domain.ErrInvalidInput),
			status: http.StatusUnprocessableEntity,
			detail: "conditions cannot be empty",
		},
		{
			name:   "not configured",
			err:    domain.NewPublicError("LLM provider not configured", domain.ErrNotConfigured),
			status: http.StatusServiceUnavailable,
			detail: "LLM provider not configured",
		},
		{
			name:   "model failure",
			err:    domain.NewPublicError("Categorization failed: boom", errors.New("boom")),
			status: http.StatusInternalServerError,
			detail: "Categorization failed: boom",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(t, Options{Categorize: &fakeTaxonomyService{err: tc.err}, LLMConfigured: true})
			res := postJSON(handler, "/api/categorize", `{"conditions":[]}`)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			if got := decodeDetail(t, res); got != tc.detail {
				t.Fatalf("expected detail %q, got %q", tc.detail, got)
			}
		})
	}
}

func TestSearchBindsQueryParameters(t *testing.T) {
	searcher := &fakeSearcher{}
	handler := newTestRouter(t, Options{Searcher: searcher, LLMConfigured: true})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/search?condition=nash&age=26&page=2&term=Liver&term=Genetic", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if searcher.condition != "nash" || searcher.age != 26 || searcher.page != 2 {
		t.Fatalf("unexpected binding: %+v", searcher)
	}
	if len(searcher.terms) != 2 || searcher.terms[1] != "Genetic" {
		t.Fatalf("unexpected terms: %v", searcher.terms)
	}
}

func TestSearchValidatesAndMapsErrors(t *testing.T) {
	handler := newTestRouter(t, Options{LLMConfigured: true})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/search?condition=nash", nil))
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without age, got %d", res.Code)
	}

	failing := &fakeSearcher{err: domain.WrapError(domain.ErrUpstream, "fetch trials",
		domain.NewPublicError("Failed to fetch from ClinicalTrials.gov", errors.New("status 500")))}
	handler = newTestRouter(t, Options{Searcher: failing, LLMConfigured: true})
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/search?condition=nash&age=30", nil))
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
	if got := decodeDetail(t, res); got != "Failed to fetch from ClinicalTrials.gov" {
		t.Fatalf("unexpected detail %q", got)
	}
}

func TestGetTrial(t *testing.T) {
	handler := newTestRouter(t, Options{LLMConfigured: true})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/trials/NCT01234567", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/trials/bogus", nil))
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for malformed id, got %d", res.Code)
	}

	missing := newTestRouter(t, Options{
		Trials:        fakeTrials{err: domain.WrapError(domain.ErrTrialNotFound, "fetch trial", errors.New("NCT09999999"))},
		LLMConfigured: true,
	})
	res = httptest.NewRecorder()
	missing.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/trials/NCT09999999", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	handler := newTestRouter(t, Options{LLMConfigured: true})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("expected request id echo, got %q", res.Header().Get(requestIDHeader))
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMetricsEndpointExposesSearchCounters(t *testing.T) {
	handler := newTestRouter(t, Options{LLMConfigured: true, Metrics: metrics.NewHTTPServerMetrics(serviceName)})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), "trialmatch_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestRouter(t, Options{
		LLMConfigured:  true,
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, httptest.NewRequest(http.MethodGet, "/health", nil))
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, httptest.NewRequest(http.MethodGet, "/health", nil))
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/search", nil))
		done <- res.Code
	}()

	<-started

	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["detail"] == "" {
		t.Fatalf("expected overload detail in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
