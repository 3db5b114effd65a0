// Package alerts owns the canonical active-alert set: deduplicated creation,
// the acknowledge/resolve lifecycle, and threshold-driven auto-resolution.
// Alerts live in memory while active and are mirrored to the store so they
// survive restarts; resolved alerts move to a bounded in-memory history.
package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/R8355H0755/lan-insight/internal/config"
	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/logging"
	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/store"
)

// maxHistory bounds the in-memory resolved-alert list.
const maxHistory = 1000

var (
	alertsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Total number of alerts created by type and severity.",
		},
		[]string{"type", "severity"},
	)
	alertsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "alerts",
			Name:      "resolved_total",
			Help:      "Total number of alerts resolved by trigger.",
		},
		[]string{"trigger"},
	)
	activeAlertsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "laninsight",
			Subsystem: "alerts",
			Name:      "active",
			Help:      "Currently active alerts by severity.",
		},
		[]string{"severity"},
	)
)

func init() {
	prometheus.MustRegister(alertsCreated, alertsResolved, activeAlertsGauge)
}

// Manager is the alert engine. A single mutex guards the active set and the
// history; store writes and event publishes happen after the memory commit so
// a slow disk never blocks alert evaluation.
type Manager struct {
	mu      sync.RWMutex
	active  map[string]*models.Alert
	history []models.Alert

	store *store.Store
	bus   *events.Broadcaster
	log   zerolog.Logger
}

// NewManager creates an empty alert engine backed by st, publishing to bus.
func NewManager(st *store.Store, bus *events.Broadcaster) *Manager {
	return &Manager{
		active: make(map[string]*models.Alert),
		store:  st,
		bus:    bus,
		log:    logging.Component("alerts"),
	}
}

// Load hydrates the active set from the store. Only unacknowledged,
// unresolved rows come back; acknowledged alerts stay reachable through the
// persisted alert listing instead of re-firing on restart.
func (m *Manager) Load() error {
	rows, err := m.store.ActiveAlerts()
	if err != nil {
		return err
	}

	m.mu.Lock()
	for i := range rows {
		a := rows[i]
		if a.OccurrenceCount == 0 {
			a.OccurrenceCount = 1
		}
		if a.LastOccurrence.IsZero() {
			a.LastOccurrence = a.CreatedAt
		}
		m.active[a.ID] = &a
	}
	count := len(m.active)
	m.refreshGaugesLocked()
	m.mu.Unlock()

	m.log.Info().Int("count", count).Msg("Hydrated active alerts from store")
	return nil
}

// CreateRequest describes an alert candidate.
type CreateRequest struct {
	DeviceID string
	DeviceIP string
	Type     models.AlertType
	Severity models.Severity
	Message  string
	Metadata map[string]any
}

// Create records an alert. A still-active, unacknowledged alert with the
// same (device, type, severity) absorbs the new occurrence instead of
// producing a duplicate row.
func (m *Manager) Create(req CreateRequest) (*models.Alert, error) {
	if req.DeviceID == "" || req.Type == "" || req.Severity == "" {
		return nil, errors.WrapValidation("create_alert", fmt.Errorf("device_id, type and severity are required"))
	}
	now := time.Now()

	m.mu.Lock()
	for _, a := range m.active {
		if a.DeviceID == req.DeviceID && a.Type == req.Type && a.Severity == req.Severity &&
			!a.Acknowledged && a.ResolvedAt == nil {
			a.OccurrenceCount++
			a.LastOccurrence = now
			clone := a.Clone()
			m.mu.Unlock()

			m.log.Debug().
				Str("alert_id", clone.ID).
				Str("device_id", req.DeviceID).
				Int("occurrences", clone.OccurrenceCount).
				Msg("Duplicate alert folded into existing")
			return clone, nil
		}
	}

	alert := &models.Alert{
		ID:              uuid.New().String(),
		DeviceID:        req.DeviceID,
		DeviceIP:        req.DeviceIP,
		Type:            req.Type,
		Severity:        req.Severity,
		Message:         req.Message,
		CreatedAt:       now,
		OccurrenceCount: 1,
		LastOccurrence:  now,
		Metadata:        req.Metadata,
	}
	m.active[alert.ID] = alert
	clone := alert.Clone()
	m.refreshGaugesLocked()
	m.mu.Unlock()

	if err := m.store.UpsertAlert(clone); err != nil {
		m.log.Error().Err(err).Str("alert_id", clone.ID).Msg("Failed to persist alert")
	}
	alertsCreated.WithLabelValues(string(req.Type), string(req.Severity)).Inc()

	m.log.Warn().
		Str("alert_id", clone.ID).
		Str("device_id", req.DeviceID).
		Str("type", string(req.Type)).
		Str("severity", string(req.Severity)).
		Str("message", req.Message).
		Msg("Alert created")
	m.bus.Publish(events.TypeAlertCreated, clone)
	return clone, nil
}

// Ack marks an active alert acknowledged.
func (m *Manager) Ack(id, who string) (*models.Alert, error) {
	m.mu.Lock()
	alert, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return nil, errors.WrapNotFound("ack_alert", id, errors.ErrNotFound)
	}
	if alert.Acknowledged {
		m.mu.Unlock()
		return nil, errors.WrapConflict("ack_alert", fmt.Errorf("alert %s is already acknowledged", id))
	}
	now := time.Now()
	alert.Acknowledged = true
	alert.AcknowledgedBy = who
	alert.AcknowledgedAt = &now
	clone := alert.Clone()
	m.mu.Unlock()

	if err := m.store.AckAlert(id, who); err != nil {
		m.log.Error().Err(err).Str("alert_id", id).Msg("Failed to persist acknowledgement")
	}

	m.log.Info().Str("alert_id", id).Str("user", who).Msg("Alert acknowledged")
	m.bus.Publish(events.TypeAlertAcknowledged, clone)
	return clone, nil
}

// Resolve closes an active alert and moves it to history.
func (m *Manager) Resolve(id, who string) (*models.Alert, error) {
	now := time.Now()

	m.mu.Lock()
	alert, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return nil, errors.WrapNotFound("resolve_alert", id, errors.ErrNotFound)
	}
	if alert.ResolvedAt != nil {
		m.mu.Unlock()
		return nil, errors.WrapConflict("resolve_alert", fmt.Errorf("alert %s is already resolved", id))
	}
	alert.ResolvedAt = &now
	alert.ResolvedBy = who
	delete(m.active, id)
	m.appendHistoryLocked(*alert)
	clone := alert.Clone()
	m.refreshGaugesLocked()
	m.mu.Unlock()

	if err := m.store.ResolveAlert(id, who, now); err != nil {
		m.log.Error().Err(err).Str("alert_id", id).Msg("Failed to persist resolution")
	}
	alertsResolved.WithLabelValues("manual").Inc()

	m.log.Info().Str("alert_id", id).Str("user", who).Msg("Alert resolved")
	m.bus.Publish(events.TypeAlertResolved, clone)
	return clone, nil
}

// AutoResolve closes active alerts for (device, type) that the latest sample
// no longer justifies. cpu/memory/disk alerts clear when the value drops
// below the warning threshold; offline alerts clear unconditionally because
// the caller just completed a successful poll.
func (m *Manager) AutoResolve(deviceID string, alertType models.AlertType, value float64, th config.Thresholds) []*models.Alert {
	now := time.Now()

	m.mu.Lock()
	var resolved []*models.Alert
	for id, a := range m.active {
		if a.DeviceID != deviceID || a.Type != alertType {
			continue
		}
		switch alertType {
		case models.AlertCPU, models.AlertMemory, models.AlertDisk:
			if value >= th.Warning {
				continue
			}
		case models.AlertOffline:
		default:
			continue
		}
		a.ResolvedAt = &now
		a.ResolvedBy = "system"
		delete(m.active, id)
		m.appendHistoryLocked(*a)
		resolved = append(resolved, a.Clone())
	}
	if len(resolved) > 0 {
		m.refreshGaugesLocked()
	}
	m.mu.Unlock()

	for _, clone := range resolved {
		if err := m.store.ResolveAlert(clone.ID, clone.ResolvedBy, now); err != nil {
			m.log.Error().Err(err).Str("alert_id", clone.ID).Msg("Failed to persist auto-resolution")
		}
		alertsResolved.WithLabelValues("auto").Inc()

		m.log.Info().
			Str("alert_id", clone.ID).
			Str("device_id", deviceID).
			Str("type", string(alertType)).
			Float64("value", value).
			Msg("Alert auto-resolved")
		m.bus.Publish(events.TypeAlertResolved, clone)
	}
	return resolved
}

// Delete removes an alert from the active set and the store.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	alert, wasActive := m.active[id]
	var clone *models.Alert
	if wasActive {
		clone = alert.Clone()
		delete(m.active, id)
		m.refreshGaugesLocked()
	}
	m.mu.Unlock()

	if err := m.store.DeleteAlert(id); err != nil {
		if !wasActive {
			return err
		}
		m.log.Error().Err(err).Str("alert_id", id).Msg("Failed to delete persisted alert")
	}

	data := map[string]any{"id": id}
	if clone != nil {
		data["device_id"] = clone.DeviceID
	}
	m.log.Info().Str("alert_id", id).Msg("Alert deleted")
	m.bus.Publish(events.TypeAlertDeleted, data)
	return nil
}

// DropForDevice discards every active alert for a removed device. The store
// rows go away with the device cascade; history keeps whatever already
// resolved.
func (m *Manager) DropForDevice(deviceID string) int {
	m.mu.Lock()
	var dropped []*models.Alert
	for id, a := range m.active {
		if a.DeviceID == deviceID {
			delete(m.active, id)
			dropped = append(dropped, a.Clone())
		}
	}
	if len(dropped) > 0 {
		m.refreshGaugesLocked()
	}
	m.mu.Unlock()

	for _, clone := range dropped {
		m.bus.Publish(events.TypeAlertDeleted, map[string]any{"id": clone.ID, "device_id": deviceID})
	}
	if len(dropped) > 0 {
		m.log.Info().Str("device_id", deviceID).Int("count", len(dropped)).Msg("Dropped alerts for removed device")
	}
	return len(dropped)
}

// Get returns a copy of one active alert.
func (m *Manager) Get(id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.active[id]
	if !ok {
		return nil, errors.WrapNotFound("get_alert", id, errors.ErrNotFound)
	}
	return alert.Clone(), nil
}

// ActiveAlerts returns copies of all active alerts, newest first.
func (m *Manager) ActiveAlerts() []models.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActiveForDevice returns copies of the active alerts for one device.
func (m *Manager) ActiveForDevice(deviceID string) []models.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Alert
	for _, a := range m.active {
		if a.DeviceID == deviceID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// HighestUnackedSeverity returns the worst unacknowledged severity among a
// device's active alerts, or "" when the device has none.
func (m *Manager) HighestUnackedSeverity(deviceID string) models.Severity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var worst models.Severity
	for _, a := range m.active {
		if a.DeviceID != deviceID || a.Acknowledged {
			continue
		}
		if a.Severity == models.SeverityCritical {
			return models.SeverityCritical
		}
		worst = models.SeverityWarning
	}
	return worst
}

// History returns up to limit resolved alerts, newest first.
func (m *Manager) History(limit int) []models.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]models.Alert, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// Stats summarizes the active set and recent resolutions.
type Stats struct {
	TotalActive     int            `json:"total_active"`
	BySeverity      map[string]int `json:"by_severity"`
	ByType          map[string]int `json:"by_type"`
	ByDevice        map[string]int `json:"by_device"`
	Acknowledged    int            `json:"acknowledged"`
	Unacknowledged  int            `json:"unacknowledged"`
	ResolvedLast24h int            `json:"resolved_last_24h"`
}

// Stats computes counts over the active set and the in-memory history.
func (m *Manager) Stats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalActive: len(m.active),
		BySeverity:  make(map[string]int),
		ByType:      make(map[string]int),
		ByDevice:    make(map[string]int),
	}
	for _, a := range m.active {
		stats.BySeverity[string(a.Severity)]++
		stats.ByType[string(a.Type)]++
		stats.ByDevice[a.DeviceID]++
		if a.Acknowledged {
			stats.Acknowledged++
		} else {
			stats.Unacknowledged++
		}
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	for i := range m.history {
		if at := m.history[i].ResolvedAt; at != nil && at.After(cutoff) {
			stats.ResolvedLast24h++
		}
	}
	return stats
}

func (m *Manager) appendHistoryLocked(a models.Alert) {
	m.history = append(m.history, a)
	if len(m.history) > maxHistory {
		offset := len(m.history) - maxHistory
		m.history = append([]models.Alert(nil), m.history[offset:]...)
	}
}

func (m *Manager) refreshGaugesLocked() {
	var warn, crit int
	for _, a := range m.active {
		switch a.Severity {
		case models.SeverityCritical:
			crit++
		case models.SeverityWarning:
			warn++
		}
	}
	activeAlertsGauge.WithLabelValues(string(models.SeverityWarning)).Set(float64(warn))
	activeAlertsGauge.WithLabelValues(string(models.SeverityCritical)).Set(float64(crit))
}
