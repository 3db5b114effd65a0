// Package api exposes the engine's control surface over HTTP. Handlers
// translate between JSON requests and engine method calls; error kinds map
// onto status codes in one place.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/R8355H0755/lan-insight/internal/alerts"
	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/logging"
	"github.com/R8355H0755/lan-insight/internal/monitoring"
	"github.com/R8355H0755/lan-insight/internal/store"
	"github.com/R8355H0755/lan-insight/internal/websocket"
)

var httpRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "laninsight",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by method and path prefix.",
	},
	[]string{"method", "path"},
)

func init() {
	prometheus.MustRegister(httpRequests)
}

// Router serves the REST API and the WebSocket endpoint.
type Router struct {
	mux     *http.ServeMux
	engine  *monitoring.Engine
	store   *store.Store
	alerts  *alerts.Manager
	hub     *websocket.Hub
	version string

	log zerolog.Logger
}

// Deps bundles the router's collaborators.
type Deps struct {
	Engine  *monitoring.Engine
	Store   *store.Store
	Alerts  *alerts.Manager
	Hub     *websocket.Hub
	Version string
}

// NewRouter registers every route.
func NewRouter(deps Deps) *Router {
	rt := &Router{
		mux:     http.NewServeMux(),
		engine:  deps.Engine,
		store:   deps.Store,
		alerts:  deps.Alerts,
		hub:     deps.Hub,
		version: deps.Version,
		log:     logging.Component("api"),
	}

	rt.mux.HandleFunc("/api/health", rt.handleHealth)
	rt.mux.HandleFunc("/api/version", rt.handleVersion)
	rt.mux.HandleFunc("/api/stats", rt.handleStats)
	rt.mux.HandleFunc("/api/maintenance", rt.handleMaintenance)
	rt.mux.HandleFunc("/api/config", rt.handleConfig)
	rt.mux.HandleFunc("/api/monitoring/start", rt.handleMonitoringStart)
	rt.mux.HandleFunc("/api/monitoring/stop", rt.handleMonitoringStop)

	rt.mux.HandleFunc("/api/devices", rt.handleDevices)
	rt.mux.HandleFunc("/api/devices/test", rt.handleDeviceTest)
	rt.mux.HandleFunc("/api/devices/", rt.handleDeviceSubtree)

	rt.mux.HandleFunc("/api/metrics/overview", rt.handleMetricsOverview)
	rt.mux.HandleFunc("/api/metrics/realtime", rt.handleMetricsRealtime)
	rt.mux.HandleFunc("/api/metrics/top", rt.handleMetricsTop)

	rt.mux.HandleFunc("/api/alerts", rt.handleAlerts)
	rt.mux.HandleFunc("/api/alerts/stats", rt.handleAlertStats)
	rt.mux.HandleFunc("/api/alerts/history", rt.handleAlertHistory)
	rt.mux.HandleFunc("/api/alerts/ack", rt.handleAlertBulkAck)
	rt.mux.HandleFunc("/api/alerts/resolve", rt.handleAlertBulkResolve)
	rt.mux.HandleFunc("/api/alerts/", rt.handleAlertSubtree)

	rt.mux.HandleFunc("/api/scan", rt.handleScanStart)
	rt.mux.HandleFunc("/api/scan/stop", rt.handleScanStop)
	rt.mux.HandleFunc("/api/scan/status", rt.handleScanStatus)
	rt.mux.HandleFunc("/api/scan/history", rt.handleScanHistory)
	rt.mux.HandleFunc("/api/scan/validate", rt.handleScanValidate)
	rt.mux.HandleFunc("/api/scan/presets", rt.handleScanPresets)
	rt.mux.HandleFunc("/api/scan/ping", rt.handleScanPing)
	rt.mux.HandleFunc("/api/scan/ports", rt.handleScanPorts)

	if rt.hub != nil {
		rt.mux.HandleFunc("/ws", rt.hub.HandleWebSocket)
	}

	return rt
}

// ServeHTTP adds the cross-cutting headers and dispatches to the mux. The
// API serves a trusted LAN; CORS stays open.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if strings.HasPrefix(req.URL.Path, "/api/") {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		httpRequests.WithLabelValues(req.Method, pathPrefix(req.URL.Path)).Inc()
	}

	start := time.Now()
	rt.mux.ServeHTTP(w, req)
	rt.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

// pathPrefix collapses the path to its first two segments so the request
// counter's label set stays bounded.
func pathPrefix(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return "/" + parts[0]
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (rt *Router) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeConflict:
		status = http.StatusConflict
	case errors.ErrorTypeUnreachable:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		rt.log.Error().Err(err).Msg("Request failed")
	}
	rt.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (rt *Router) decodeJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		rt.writeError(w, errors.WrapValidation("decode_request", fmt.Errorf("invalid JSON body: %w", err)))
		return false
	}
	return true
}

// decodeOptional decodes a JSON body when one is present; an empty body is
// not an error.
func decodeOptional(req *http.Request, v any) error {
	if req.Body == nil {
		return nil
	}
	if err := json.NewDecoder(req.Body).Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// queryInt reads an integer query parameter, falling back when absent or
// malformed.
func queryInt(req *http.Request, key string, fallback int) int {
	if raw := req.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}
