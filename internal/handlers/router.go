package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/cloudspace/internal/domain"
	"github.com/maneesh/cloudspace/internal/ratelimit"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	apiBanner    = "the-CloudSpace API"
	allowMethods = "GET, POST, DELETE, PUT, PATCH, HEAD, OPTIONS"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	CORSOrigins []string
	// Limiter throttles workspace create and access per client IP; nil disables it
	Limiter *ratelimit.Limiter
	// Proxies whose X-Forwarded-For is believed; nil means the peer address is the client
	Proxies *ratelimit.Proxies
}

// NewRouter builds the HTTP handler: /health plus the route table under /api
func NewRouter(api *API, opts RouterOptions, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api").Subrouter()
	for _, route := range api.Routes() {
		h := route.Handler
		if route.Limited && opts.Limiter != nil {
			h = rateLimit(opts.Limiter, opts.Proxies, api.logger, h)
		}
		name := route.Method + " /api" + route.Path
		apiRouter.Handle(route.Path, otelhttp.NewHandler(h, name)).Methods(route.Method)
	}

	apiRouter.PathPrefix("/").Methods(http.MethodPut, http.MethodPatch).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, api.logger, http.StatusOK, map[string]string{"message": apiBanner})
	})
	apiRouter.PathPrefix("/").Methods(http.MethodHead).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	apiRouter.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allowMethods)
		w.WriteHeader(http.StatusOK)
	})

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, api.logger, http.StatusNotFound, errorResponse{Error: "Not found"})
	})
	for _, r := range []*mux.Router{router, apiRouter} {
		r.NotFoundHandler = notFound
		// an unsupported method on a known path is just another unknown route
		r.MethodNotAllowedHandler = notFound
	}

	c := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodDelete,
			http.MethodPut, http.MethodPatch, http.MethodHead,
		},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(accessLog(logger, opts.Proxies, router))
}

// rateLimit rejects requests over the per-client limit with 429 and Retry-After
func rateLimit(limiter *ratelimit.Limiter, proxies *ratelimit.Proxies, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := proxies.ClientIP(r)
		result := limiter.Allow(ip)
		if !result.Allowed {
			_, span := tracer.Start(r.Context(), "ratelimit.reject",
				trace.WithAttributes(attribute.String("client_ip", ip)),
			)
			span.End()

			logger.WarnContext(r.Context(), "rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			writeError(r.Context(), w, logger, &domain.RateLimitError{Message: "Too many attempts, try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func accessLog(logger *slog.Logger, proxies *ratelimit.Proxies, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"ip", proxies.ClientIP(r),
		)
	})
}
