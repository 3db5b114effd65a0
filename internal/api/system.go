package api

import (
	"net/http"
)

func (rt *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.engine.Health())
}

func (rt *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]string{
		"name":    "lan-insight",
		"version": rt.version,
	})
}

func (rt *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := rt.store.Stats()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) handleMaintenance(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	result, err := rt.engine.RunMaintenance()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, result)
}

func (rt *Router) handleConfig(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		values, err := rt.engine.ConfigValues()
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, values)
	case http.MethodPut:
		var updates map[string]string
		if !rt.decodeJSON(w, req, &updates) {
			return
		}
		applied, err := rt.engine.UpdateConfig(updates)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, applied)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) handleMonitoringStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := rt.engine.Start(req.Context()); err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]bool{"monitoring": true})
}

func (rt *Router) handleMonitoringStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rt.engine.Stop()
	rt.writeJSON(w, http.StatusOK, map[string]bool{"monitoring": false})
}
