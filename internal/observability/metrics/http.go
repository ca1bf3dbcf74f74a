package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTransitions *prometheus.CounterVec
	searchViewChanges *prometheus.CounterVec
	searchOutcomes    *prometheus.CounterVec
	searchTrials      *prometheus.HistogramVec
	categorizeTotal   *prometheus.CounterVec
	chatSessions      prometheus.Gauge
	chatFramesTotal   *prometheus.CounterVec
	chatRepliesTotal  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialmatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trialmatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trialmatch",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialmatch",
			Subsystem: "search",
			Name:      "transitions_total",
			Help:      "Committed search state transitions by step.",
		},
		[]string{"service", "step"},
	)
	searchViewChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialmatch",
			Subsystem: "search",
			Name:      "view_changes_total",
			Help:      "Term selection and page changes on finished searches.",
		},
		[]string{"service"},
	)
	searchOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialmatch",
			Subsystem: "search",
			Name:      "outcomes_total",
			Help:      "Finished searches by outcome.",
		},
		[]string{"service", "outcome"},
	)
	searchTrials := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trialmatch",
			Subsystem: "search",
			Name:      "trials",
			Help:      "Trials observed per search stage.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"service", "stage"},
	)
	categorizeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialmatch",
			Subsystem: "categorize",
			Name:      "requests_total",
			Help:      "Categorize requests by status.",
		},
		[]string{"service", "status"},
	)
	chatSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trialmatch",
			Subsystem: "chat",
			Name:      "open_sessions",
			Help:      "Number of open eligibility chat sockets.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatFramesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialmatch",
			Subsystem: "chat",
			Name:      "frames_total",
			Help:      "Eligibility chat frames by direction and type.",
		},
		[]string{"service", "direction", "type"},
	)
	chatRepliesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialmatch",
			Subsystem: "chat",
			Name:      "model_replies_total",
			Help:      "Eligibility model replies by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTransitions,
		searchViewChanges,
		searchOutcomes,
		searchTrials,
		categorizeTotal,
		chatSessions,
		chatFramesTotal,
		chatRepliesTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		searchTransitions: searchTransitions,
		searchViewChanges: searchViewChanges,
		searchOutcomes:    searchOutcomes,
		searchTrials:      searchTrials,
		categorizeTotal:   categorizeTotal,
		chatSessions:      chatSessions,
		chatFramesTotal:   chatFramesTotal,
		chatRepliesTotal:  chatRepliesTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/trials/"):
		return "/api/trials/{nct_id}"
	case strings.HasPrefix(path, "/ws/verify/"):
		return "/ws/verify/{nct_id}"
	default:
		return path
	}
}

// SearchObserver returns a search transition sink labelled with service.
func (m *HTTPServerMetrics) SearchObserver(service string) *SearchObserver {
	return &SearchObserver{metrics: m, service: service}
}

type SearchObserver struct {
	metrics *HTTPServerMetrics
	service string
}

func (o *SearchObserver) OnSearchTransition(state domain.SearchState) {
	m := o.metrics
	m.searchTransitions.WithLabelValues(o.service, string(state.Step)).Inc()

	switch {
	case state.Step == domain.StepIdle && state.Error != "":
		m.searchOutcomes.WithLabelValues(o.service, "error").Inc()
	case state.Step == domain.StepResults:
		m.searchOutcomes.WithLabelValues(o.service, "results").Inc()
		if state.Progress != nil {
			m.searchTrials.WithLabelValues(o.service, "raw").Observe(float64(state.Progress.RawTrials))
			m.searchTrials.WithLabelValues(o.service, "age_filtered").Observe(float64(state.Progress.AgeFilteredTrials))
		}
	}
}

func (o *SearchObserver) OnSearchViewChange(domain.SearchState) {
	o.metrics.searchViewChanges.WithLabelValues(o.service).Inc()
}

func (m *HTTPServerMetrics) RecordCategorize(service string, status int) {
	m.categorizeTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
}

func (m *HTTPServerMetrics) ChatSessionOpened() {
	m.chatSessions.Inc()
}

func (m *HTTPServerMetrics) ChatSessionClosed() {
	m.chatSessions.Dec()
}

func (m *HTTPServerMetrics) RecordChatFrame(service, direction string, frameType domain.FrameType) {
	kind := string(frameType)
	if kind == "" {
		kind = "unknown"
	}
	m.chatFramesTotal.WithLabelValues(service, direction, kind).Inc()
}

func (m *HTTPServerMetrics) RecordChatReply(service string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.chatRepliesTotal.WithLabelValues(service, status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

// Hijack keeps websocket upgrades working behind the recorder.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
