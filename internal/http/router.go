// Package httpx exposes the deployment service over HTTP.
package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/service/deploy"
	"github.com/oestradiol/Voyager-Backend/internal/ws"
)

const (
	apiPrefix          = "/api/v1"
	healthCheckTimeout = 2 * time.Second
	defaultRateWindow  = time.Minute
)

// Deployments is the service the router drives.
type Deployments interface {
	Create(ctx context.Context, req deploy.Request) (string, error)
	List(ctx context.Context, filter domain.Filter) ([]domain.Deployment, error)
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	Delete(ctx context.Context, id string) error
	Logs(ctx context.Context, id string) ([]string, error)
	Restart(ctx context.Context, id string) error
}

// EventHub accepts websocket subscribers keyed by host.
type EventHub interface {
	Register(host string, client ws.Subscriber)
	Unregister(host string, client ws.Subscriber)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(context.Context) error

// Options configure a Router.
type Options struct {
	APIKey     string
	BaseDomain string
	// RateLimit caps deployment creations per client IP per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
	Limiter    RateLimiter
	// TrustProxy takes the client address from X-Forwarded-For. Only enable it
	// behind a proxy that overwrites the header.
	TrustProxy bool
	Events     EventHub
	Checks     map[string]HealthCheck
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	deployments Deployments
	events      EventHub
	checks      map[string]HealthCheck
	upgrader    websocket.Upgrader
	validate    *validator.Validate
	limiter     RateLimiter
	metrics     *metrics
	apiKey      string
	baseDomain  string
	rateLimit   int
	rateWindow  time.Duration
	trustProxy  bool
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deployments Deployments, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		deployments: deployments,
		events:      opts.Events,
		checks:      opts.Checks,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate:   newValidator(),
		limiter:    opts.Limiter,
		metrics:    newMetrics(),
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseDomain: strings.TrimSpace(opts.BaseDomain),
		rateLimit:  opts.RateLimit,
		rateWindow: opts.RateWindow,
		trustProxy: opts.TrustProxy,
	}
	if r.rateWindow <= 0 {
		r.rateWindow = defaultRateWindow
	}
	if r.limiter == nil && r.rateLimit > 0 {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.handle("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.handle("POST "+apiPrefix+"/deployments", r.requireAPIKey(r.withRateLimit("create_deployment", r.handleCreate)))
	r.handle("GET "+apiPrefix+"/deployments", r.requireAPIKey(r.handleList))
	r.handle("GET "+apiPrefix+"/deployments/{id}", r.requireAPIKey(r.handleGet))
	r.handle("DELETE "+apiPrefix+"/deployments/{id}", r.requireAPIKey(r.handleDelete))
	r.handle("GET "+apiPrefix+"/deployments/{id}/logs", r.requireAPIKey(r.handleLogs))
	r.handle("POST "+apiPrefix+"/deployments/{id}/restart", r.requireAPIKey(r.handleRestart))
	r.handle("GET "+apiPrefix+"/events", r.requireAPIKey(r.handleEvents))
}

func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, h))
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if r.events == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	host := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("host")))
	if host == "" {
		writeError(w, http.StatusBadRequest, "host query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.events.Register(host, client)
	go func() {
		defer func() {
			r.events.Unregister(host, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any, len(r.checks))
	status := "ok"
	for name, check := range r.checks {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status, map[string]any{
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.metrics.request(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := r.clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if id := req.PathValue("id"); id != "" {
			fields = append(fields, "deployment_id", id)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// clientIP returns the peer address, or the first X-Forwarded-For hop when the
// router sits behind a trusted proxy.
func (r *Router) clientIP(req *http.Request) string {
	if r.trustProxy {
		if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
			if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
