package monitoring

import (
	"sync/atomic"
	"time"

	"github.com/R8355H0755/lan-insight/internal/alerts"
	"github.com/R8355H0755/lan-insight/internal/models"
)

// Overview is the dashboard summary: device counts by status, alert totals
// and the cost of the last polling cycle.
type Overview struct {
	TotalDevices   int            `json:"total_devices"`
	ByStatus       map[string]int `json:"by_status"`
	ActiveAlerts   int            `json:"active_alerts"`
	CriticalAlerts int            `json:"critical_alerts"`
	WarningAlerts  int            `json:"warning_alerts"`
	LastCycleMs    int64          `json:"last_cycle_ms"`
	LastScanTime   *time.Time     `json:"last_scan_time,omitempty"`
	Monitoring     bool           `json:"monitoring"`
}

// MetricsOverview summarizes the registry and alert state.
func (e *Engine) MetricsOverview() *Overview {
	devices := e.Devices()
	byStatus := make(map[string]int, 5)
	for _, d := range devices {
		byStatus[string(d.Status)]++
	}

	stats := e.alerts.Stats()
	ov := &Overview{
		TotalDevices:   len(devices),
		ByStatus:       byStatus,
		ActiveAlerts:   stats.TotalActive,
		CriticalAlerts: stats.BySeverity[string(models.SeverityCritical)],
		WarningAlerts:  stats.BySeverity[string(models.SeverityWarning)],
		LastCycleMs:    atomic.LoadInt64(&e.lastCycleMs),
		Monitoring:     e.Running(),
	}
	if last := e.LastScanTime(); !last.IsZero() {
		ov.LastScanTime = &last
	}
	return ov
}

// DeviceRealtime is the latest usage snapshot for one device.
type DeviceRealtime struct {
	DeviceID  string              `json:"device_id"`
	IP        string              `json:"ip"`
	Hostname  string              `json:"hostname"`
	Status    models.DeviceStatus `json:"status"`
	CPU       *float64            `json:"cpu,omitempty"`
	Memory    *float64            `json:"memory,omitempty"`
	Disk      *float64            `json:"disk,omitempty"`
	SampledAt *time.Time          `json:"sampled_at,omitempty"`
}

// Realtime returns the newest usage percentages for every registered device,
// straight from the latest persisted rows.
func (e *Engine) Realtime() ([]DeviceRealtime, error) {
	devices := e.Devices()
	out := make([]DeviceRealtime, 0, len(devices))
	for _, d := range devices {
		entry := DeviceRealtime{
			DeviceID: d.ID,
			IP:       d.IP,
			Hostname: d.Hostname,
			Status:   d.Status,
		}
		rows, err := e.store.LatestMetrics(d.ID,
			models.MetricCPUUsage, models.MetricMemoryUsage, models.MetricDiskUsage)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			row := rows[i]
			value := row.Value
			switch row.Type {
			case models.MetricCPUUsage:
				entry.CPU = &value
			case models.MetricMemoryUsage:
				entry.Memory = &value
			case models.MetricDiskUsage:
				entry.Disk = &value
			}
			if entry.SampledAt == nil || row.Timestamp.After(*entry.SampledAt) {
				ts := row.Timestamp
				entry.SampledAt = &ts
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// HealthStatus is the liveness summary served by the health endpoint.
type HealthStatus struct {
	Status        string `json:"status"`
	Monitoring    bool   `json:"monitoring"`
	UptimeSeconds int64  `json:"uptime_s"`
	Devices       int    `json:"devices"`
	ActiveAlerts  int    `json:"active_alerts"`
	Scanning      bool   `json:"scanning"`
	Database      bool   `json:"database"`
	DatabaseBytes int64  `json:"database_bytes,omitempty"`
}

// Health checks the store and reports the engine's vital signs. A failing
// store degrades the status instead of erroring.
func (e *Engine) Health() *HealthStatus {
	h := &HealthStatus{
		Status:        "ok",
		Monitoring:    e.Running(),
		UptimeSeconds: int64(time.Since(e.startTime).Seconds()),
		Devices:       len(e.Devices()),
		ActiveAlerts:  len(e.alerts.ActiveAlerts()),
		Scanning:      e.scanner.Scanning(),
		Database:      true,
	}
	stats, err := e.store.Stats()
	if err != nil {
		e.log.Error().Err(err).Msg("Health check could not read the store")
		h.Status = "degraded"
		h.Database = false
		return h
	}
	h.DatabaseBytes = stats.SizeBytes
	return h
}

// AlertStats exposes the alert manager's summary for the API layer.
func (e *Engine) AlertStats() *alerts.Stats {
	return e.alerts.Stats()
}
