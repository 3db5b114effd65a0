package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/monitoring"
	"github.com/R8355H0755/lan-insight/internal/store"
)

func (rt *Router) handleDevices(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		rt.writeJSON(w, http.StatusOK, rt.engine.Devices())
	case http.MethodPost:
		var body monitoring.AddDeviceRequest
		if !rt.decodeJSON(w, req, &body) {
			return
		}
		dev, err := rt.engine.AddDevice(body)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusCreated, dev)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleDeviceTest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		IP        string `json:"ip"`
		Community string `json:"community"`
	}
	if !rt.decodeJSON(w, req, &body) {
		return
	}
	result, err := rt.engine.TestDevice(req.Context(), body.IP, body.Community)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, result)
}

// handleDeviceSubtree dispatches /api/devices/{id} and its nested resources.
func (rt *Router) handleDeviceSubtree(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/devices/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, req)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		rt.handleDeviceByID(w, req, id)
		return
	}

	switch strings.Join(parts[1:], "/") {
	case "collect":
		rt.handleDeviceCollect(w, req, id)
	case "metrics":
		rt.handleDeviceMetrics(w, req, id)
	case "metrics/history":
		rt.handleDeviceMetricsHistory(w, req, id)
	case "metrics/aggregated":
		rt.handleDeviceMetricsAggregated(w, req, id)
	case "interfaces":
		rt.handleDeviceInterfaces(w, req, id)
	case "system":
		rt.handleDeviceSystem(w, req, id)
	case "alerts":
		rt.handleDeviceAlerts(w, req, id)
	default:
		http.NotFound(w, req)
	}
}

func (rt *Router) handleDeviceByID(w http.ResponseWriter, req *http.Request, id string) {
	switch req.Method {
	case http.MethodGet:
		dev, err := rt.engine.GetDevice(id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, dev)
	case http.MethodPut:
		var body monitoring.UpdateDeviceRequest
		if !rt.decodeJSON(w, req, &body) {
			return
		}
		dev, err := rt.engine.UpdateDevice(id, body)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, dev)
	case http.MethodDelete:
		if err := rt.engine.RemoveDevice(id); err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleDeviceCollect(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sample, err := rt.engine.CollectDeviceNow(req.Context(), id)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, sample)
}

func (rt *Router) handleDeviceMetrics(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, err := rt.engine.GetDevice(id); err != nil {
		rt.writeError(w, err)
		return
	}
	samples, err := rt.store.LatestMetrics(id)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, samples)
}

func (rt *Router) handleDeviceMetricsHistory(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	metricType, ok := rt.requireMetricType(w, req)
	if !ok {
		return
	}
	hours := queryInt(req, "hours", 24)
	samples, err := rt.store.MetricsHistory(id, metricType, hours)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, samples)
}

func (rt *Router) handleDeviceMetricsAggregated(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	metricType, ok := rt.requireMetricType(w, req)
	if !ok {
		return
	}
	bucket := queryInt(req, "bucket", 300)
	hours := queryInt(req, "hours", 24)
	points, err := rt.store.AggregatedMetrics(id, metricType, int64(bucket), hours)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, points)
}

func (rt *Router) handleDeviceInterfaces(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	interfaces, err := rt.store.GetInterfaces(id)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, interfaces)
}

func (rt *Router) handleDeviceSystem(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	info, err := rt.store.LatestSystemInfo(id)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, info)
}

func (rt *Router) handleDeviceAlerts(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	list, err := rt.store.ListAlerts(store.AlertFilter{DeviceID: id, Limit: queryInt(req, "limit", 100)})
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, list)
}

// requireMetricType reads and validates the type query parameter.
func (rt *Router) requireMetricType(w http.ResponseWriter, req *http.Request) (models.MetricType, bool) {
	raw := req.URL.Query().Get("type")
	switch models.MetricType(raw) {
	case models.MetricCPUUsage, models.MetricMemoryUsage, models.MetricDiskUsage,
		models.MetricMemoryTotal, models.MetricMemoryUsed,
		models.MetricDiskTotal, models.MetricDiskUsed:
		return models.MetricType(raw), true
	}
	rt.writeError(w, errors.WrapValidation("parse_metric_type", fmt.Errorf("unknown metric type %q", raw)))
	return "", false
}
