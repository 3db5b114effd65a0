package api

import (
	"net/http"
	"strings"

	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/store"
)

func (rt *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := req.URL.Query()

	// active=true short-circuits to the in-memory view the engine keeps.
	if q.Get("active") == "true" {
		rt.writeJSON(w, http.StatusOK, rt.alerts.ActiveAlerts())
		return
	}

	filter := store.AlertFilter{
		DeviceID: q.Get("device_id"),
		Type:     models.AlertType(q.Get("type")),
		Severity: models.Severity(q.Get("severity")),
		Limit:    queryInt(req, "limit", 100),
		Offset:   queryInt(req, "offset", 0),
	}
	if raw := q.Get("acknowledged"); raw != "" {
		acked := raw == "true"
		filter.Acknowledged = &acked
	}
	list, err := rt.store.ListAlerts(filter)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, list)
}

func (rt *Router) handleAlertStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.alerts.Stats())
}

func (rt *Router) handleAlertHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.alerts.History(queryInt(req, "limit", 100)))
}

type alertActionRequest struct {
	IDs []string `json:"ids"`
	By  string   `json:"by"`
}

// bulkAlertAction runs an alert operation across the submitted IDs and
// reports per-ID failures without aborting the batch.
func (rt *Router) bulkAlertAction(w http.ResponseWriter, req *http.Request, action func(id, who string) (*models.Alert, error)) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body alertActionRequest
	if !rt.decodeJSON(w, req, &body) {
		return
	}
	who := body.By
	if who == "" {
		who = "api"
	}

	updated := make([]models.Alert, 0, len(body.IDs))
	failed := map[string]string{}
	for _, id := range body.IDs {
		a, err := action(id, who)
		if err != nil {
			failed[id] = err.Error()
			continue
		}
		updated = append(updated, *a)
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"updated": updated,
		"failed":  failed,
	})
}

func (rt *Router) handleAlertBulkAck(w http.ResponseWriter, req *http.Request) {
	rt.bulkAlertAction(w, req, rt.alerts.Ack)
}

func (rt *Router) handleAlertBulkResolve(w http.ResponseWriter, req *http.Request) {
	rt.bulkAlertAction(w, req, rt.alerts.Resolve)
}

// handleAlertSubtree dispatches /api/alerts/{id} and its actions.
func (rt *Router) handleAlertSubtree(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/alerts/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, req)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch req.Method {
		case http.MethodGet:
			a, err := rt.alerts.Get(id)
			if err != nil {
				rt.writeError(w, err)
				return
			}
			rt.writeJSON(w, http.StatusOK, a)
		case http.MethodDelete:
			if err := rt.alerts.Delete(id); err != nil {
				rt.writeError(w, err)
				return
			}
			rt.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) != 2 || req.Method != http.MethodPost {
		if len(parts) == 2 && (parts[1] == "ack" || parts[1] == "resolve") {
			methodNotAllowed(w)
			return
		}
		http.NotFound(w, req)
		return
	}

	var body struct {
		By string `json:"by"`
	}
	// Body is optional for single-alert actions.
	_ = decodeOptional(req, &body)
	who := body.By
	if who == "" {
		who = "api"
	}

	switch parts[1] {
	case "ack":
		a, err := rt.alerts.Ack(id, who)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, a)
	case "resolve":
		a, err := rt.alerts.Resolve(id, who)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, a)
	default:
		http.NotFound(w, req)
	}
}
