package api

import (
	"net/http"
)

func (rt *Router) handleMetricsOverview(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.engine.MetricsOverview())
}

func (rt *Router) handleMetricsRealtime(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rows, err := rt.engine.Realtime()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, rows)
}

func (rt *Router) handleMetricsTop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	metricType, ok := rt.requireMetricType(w, req)
	if !ok {
		return
	}
	limit := queryInt(req, "limit", 10)
	rows, err := rt.store.TopUsage(metricType, limit)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, rows)
}
