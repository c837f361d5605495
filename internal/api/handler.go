package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/egovportal/internal/auth"
	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/models"
	"github.com/punchamoorthee/egovportal/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egov_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "egov_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	manager  *service.Manager
	catalog  *service.Catalog
	verifier auth.Verifier
	limiter  *RateLimiter
	log      logrus.FieldLogger
}

func NewHandler(manager *service.Manager, catalog *service.Catalog, verifier auth.Verifier, limiter *RateLimiter, log logrus.FieldLogger) *Handler {
	return &Handler{
		manager:  manager,
		catalog:  catalog,
		verifier: verifier,
		limiter:  limiter,
		log:      log,
	}
}

// Routes builds the router. Public catalog and tracking endpoints sit next
// to an authenticated subrouter.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	r.Use(h.logRequests)
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	public := r.PathPrefix("/api/v1").Subrouter()
	public.HandleFunc("/services", h.ListServicesHandler).Methods(http.MethodGet)
	public.HandleFunc("/services/{id}", h.GetServiceHandler).Methods(http.MethodGet)
	public.HandleFunc("/departments", h.ListDepartmentsHandler).Methods(http.MethodGet)
	public.HandleFunc("/track/{id}", h.TrackHandler).Methods(http.MethodGet)

	private := r.PathPrefix("/api/v1").Subrouter()
	private.Use(h.authenticate)
	private.HandleFunc("/me", h.MeHandler).Methods(http.MethodGet)
	private.HandleFunc("/me/requests", h.MyRequestsHandler).Methods(http.MethodGet)
	private.HandleFunc("/requests", h.SubmitHandler).Methods(http.MethodPost)
	private.HandleFunc("/requests", h.ListRequestsHandler).Methods(http.MethodGet)
	private.HandleFunc("/requests/{id}", h.GetRequestHandler).Methods(http.MethodGet)
	private.HandleFunc("/requests/{id}/transitions", h.TransitionHandler).Methods(http.MethodPost)
	private.HandleFunc("/citizens/{id}/requests", h.CitizenRequestsHandler).Methods(http.MethodGet)
	private.HandleFunc("/dashboard/stats", h.StatsHandler).Methods(http.MethodGet)
	private.HandleFunc("/admin/services", h.AdminListServicesHandler).Methods(http.MethodGet)
	private.HandleFunc("/admin/services", h.CreateServiceHandler).Methods(http.MethodPost)
	private.HandleFunc("/admin/services/{id}", h.UpdateServiceHandler).Methods(http.MethodPatch)

	return r
}

// instrument records request count and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(sw.status)).Inc()
	})
}

// respondWithDomainError maps an error kind to its HTTP status.
func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == statusClientClosedRequest {
		h.log.WithError(err).WithField("path", r.URL.Path).Debug("client went away")
		writeError(w, status, code, "client closed request")
		return
	}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		msg = http.StatusText(status)
	}
	writeError(w, status, code, msg)
}

// statusClientClosedRequest is the nginx convention for a caller that hung
// up before the response was ready.
const statusClientClosedRequest = 499

func statusFor(err error) (int, string) {
	if errors.Is(err, context.Canceled) {
		return statusClientClosedRequest, "client_closed"
	}
	switch kind := domain.Kind(err); {
	case kind == nil:
		return http.StatusInternalServerError, "internal_error"
	case errors.Is(kind, errors.NotValid):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(kind, errors.Unauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(kind, errors.Forbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(kind, errors.NotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(kind, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(kind, domain.ErrConcurrentUpdate):
		return http.StatusConflict, "conflict"
	case errors.Is(kind, domain.Unavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, models.ErrorBody{Error: models.ErrorDetail{Code: code, Message: message}})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
