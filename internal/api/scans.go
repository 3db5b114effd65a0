package api

import (
	"net/http"

	"github.com/R8355H0755/lan-insight/internal/scanner"
)

type scanRequest struct {
	Range        string `json:"range"`
	TimeoutMs    int    `json:"timeout_ms"`
	Concurrent   int    `json:"concurrent"`
	IncludePorts bool   `json:"include_ports"`
}

func (rt *Router) handleScanStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body scanRequest
	if !rt.decodeJSON(w, req, &body) {
		return
	}
	err := rt.engine.ScanNetwork(body.Range, scanner.Options{
		TimeoutMs:    body.TimeoutMs,
		Concurrent:   body.Concurrent,
		IncludePorts: body.IncludePorts,
	})
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "scanning",
		"range":  body.Range,
	})
}

func (rt *Router) handleScanStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := rt.engine.StopScan(); err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (rt *Router) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.engine.ScanStatus())
}

func (rt *Router) handleScanHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	records, err := rt.engine.ScanHistory(queryInt(req, "limit", 20))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, records)
}

func (rt *Router) handleScanValidate(w http.ResponseWriter, req *http.Request) {
	var spec string
	switch req.Method {
	case http.MethodGet:
		spec = req.URL.Query().Get("range")
	case http.MethodPost:
		var body struct {
			Range string `json:"range"`
		}
		if !rt.decodeJSON(w, req, &body) {
			return
		}
		spec = body.Range
	default:
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, scanner.ValidateRange(spec))
}

func (rt *Router) handleScanPresets(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, scanner.Presets())
}

type probeRequest struct {
	IP        string `json:"ip"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (rt *Router) handleScanPing(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body probeRequest
	if !rt.decodeJSON(w, req, &body) {
		return
	}
	result, err := scanner.PingHost(req.Context(), body.IP, body.TimeoutMs)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, result)
}

func (rt *Router) handleScanPorts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body probeRequest
	if !rt.decodeJSON(w, req, &body) {
		return
	}
	result, err := scanner.PortScan(req.Context(), body.IP, body.TimeoutMs)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, result)
}
