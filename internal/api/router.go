package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// NewRouter wires the full HTTP surface. Mutating payment routes require a
// bearer token; execution and every read stay public.
func NewRouter(h *Handler, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(metricsMiddleware)

	apiV1.HandleFunc("/subscriptions/{id:[0-9]+}/execute", h.ExecutePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/subscriptions/{id:[0-9]+}/executable", h.CanExecuteHandler).Methods("GET")
	apiV1.HandleFunc("/subscriptions/{id:[0-9]+}", h.GetSubscriptionHandler).Methods("GET")
	apiV1.HandleFunc("/users/{address}/subscriptions", h.GetUserSubscriptionsHandler).Methods("GET")
	apiV1.HandleFunc("/users/{address}/subscriptions/pending", h.GetPendingSubscriptionsHandler).Methods("GET")
	apiV1.HandleFunc("/stats", h.GetStatsHandler).Methods("GET")
	apiV1.HandleFunc("/token/accounts/{address}", h.GetTokenAccountHandler).Methods("GET")

	protected := apiV1.NewRoute().Subrouter()
	protected.Use(AuthMiddleware(jwtSecret))
	protected.HandleFunc("/payments/now", h.PayNowHandler).Methods("POST")
	protected.HandleFunc("/payments/schedule", h.SchedulePaymentHandler).Methods("POST")
	protected.HandleFunc("/payments/batch", h.BatchScheduleHandler).Methods("POST")
	protected.HandleFunc("/subscriptions/{id:[0-9]+}/cancel", h.CancelSubscriptionHandler).Methods("POST")
	protected.HandleFunc("/token/approve", h.ApproveHandler).Methods("POST")

	return r
}
