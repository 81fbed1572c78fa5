// Package httpx exposes the deployment pipeline over HTTP: a deploy
// endpoint, a single-probe progress check, a websocket progress stream, and
// the usual health and metrics routes.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skylift/skylift/internal/domain"
	"github.com/skylift/skylift/internal/ws"
)

const (
	rateWindowDefault = time.Minute
	rateLimitProgress = 120
)

// Deployer runs one deployment end to end.
type Deployer interface {
	Deploy(ctx context.Context, projectPath string) domain.Result
}

// Prober performs a single TCP reachability check.
type Prober interface {
	Probe(address string, port int) bool
}

// Router wires HTTP endpoints to the deployment service.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	deploy      Deployer
	prober      Prober
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	deployLimit int

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	deployResults      *prometheus.CounterVec
	rateLimitHits      *prometheus.CounterVec
}

// New assembles routes with dependencies. A nil limiter falls back to the
// in-memory implementation.
func New(logger *slog.Logger, deployer Deployer, prober Prober, hub *ws.Hub, limiter RateLimiter, deployLimit int) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		deploy: deployer,
		prober: prober,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		deployLimit: deployLimit,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	r.mux.HandleFunc("/deploy", r.instrument("/deploy",
		r.withRateLimit("/deploy", r.deployLimit, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/deploy/progress", r.instrument("/deploy/progress",
		r.withRateLimit("/deploy/progress", rateLimitProgress, rateWindowDefault, r.handleProgress)))
	r.mux.HandleFunc("/ws/progress", r.instrument("/ws/progress", r.handleProgressWS))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ProjectPath string `json:"project_path"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.ProjectPath == "" {
		writeError(w, http.StatusBadRequest, "project_path required")
		return
	}
	result := r.deploy.Deploy(req.Context(), payload.ProjectPath)
	r.recordDeployResult(result.Status)
	code := http.StatusOK
	if result.Status == domain.StatusFailed {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, result)
}

// handleProgress answers a coarse deployment state from one TCP probe:
// deployed when the port accepts, deploying when it does not, unknown when
// the caller gave nothing probeable.
func (r *Router) handleProgress(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	address := req.URL.Query().Get("address")
	port, err := strconv.Atoi(req.URL.Query().Get("port"))
	if address == "" || err != nil || port <= 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	status := "deploying"
	if r.prober.Probe(address, port) {
		status = "deployed"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (r *Router) handleProgressWS(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(deploymentID, client)
	go func() {
		defer func() {
			r.hub.Unregister(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
