// Package models defines the shared data types persisted by the store and
// exchanged between the probes, the alert engine and the monitoring engine.
package models

import "time"

// DeviceStatus is the rolled-up health of a monitored endpoint, derived from
// the most recent poll and the severities of its unacknowledged alerts.
type DeviceStatus string

const (
	StatusUnknown  DeviceStatus = "unknown"
	StatusOnline   DeviceStatus = "online"
	StatusWarning  DeviceStatus = "warning"
	StatusCritical DeviceStatus = "critical"
	StatusOffline  DeviceStatus = "offline"
)

const (
	// LocalDeviceID is the sentinel id of the device sampled by the host probe.
	LocalDeviceID = "localhost"
	// LocalCommunity marks a device polled locally instead of over SNMP.
	LocalCommunity = "local"
)

// Device is one monitored endpoint. Exactly one device carries the
// LocalDeviceID sentinel; no two devices share an IP.
type Device struct {
	ID          string       `json:"id"`
	IP          string       `json:"ip"`
	Hostname    string       `json:"hostname"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Contact     string       `json:"contact,omitempty"`
	Community   string       `json:"community"`
	Status      DeviceStatus `json:"status"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastSeen    time.Time    `json:"last_seen"`
}

// IsLocal reports whether the device is sampled by the host probe rather
// than polled over the network.
func (d Device) IsLocal() bool {
	return d.ID == LocalDeviceID || d.Community == LocalCommunity
}

// MetricType identifies one time-series column.
type MetricType string

const (
	MetricCPUUsage    MetricType = "cpu_usage"
	MetricMemoryUsage MetricType = "memory_usage"
	MetricDiskUsage   MetricType = "disk_usage"
	MetricMemoryTotal MetricType = "memory_total"
	MetricMemoryUsed  MetricType = "memory_used"
	MetricDiskTotal   MetricType = "disk_total"
	MetricDiskUsed    MetricType = "disk_used"
)

// MetricUnit is the unit a metric value is expressed in.
type MetricUnit string

const (
	UnitPercent MetricUnit = "percent"
	UnitBytes   MetricUnit = "bytes"
)

// MetricSample is one immutable observation.
type MetricSample struct {
	DeviceID  string     `json:"device_id"`
	Type      MetricType `json:"metric_type"`
	Value     float64    `json:"value"`
	Unit      MetricUnit `json:"unit"`
	Timestamp time.Time  `json:"timestamp"`
}

// SystemInfo is the per-poll host summary row.
type SystemInfo struct {
	DeviceID  string    `json:"device_id"`
	Uptime    int64     `json:"uptime"`
	Processes int       `json:"processes"`
	Users     int       `json:"users"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworkInterface is one interface row. The store keeps only the latest
// snapshot per device.
type NetworkInterface struct {
	DeviceID    string    `json:"device_id"`
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"`
	Speed       uint64    `json:"speed,omitempty"`
	MAC         string    `json:"mac,omitempty"`
	AdminStatus string    `json:"admin_status,omitempty"`
	OperStatus  string    `json:"oper_status,omitempty"`
	InOctets    uint64    `json:"in_octets"`
	OutOctets   uint64    `json:"out_octets"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertType names the resource an alert fired for.
type AlertType string

const (
	AlertCPU     AlertType = "cpu"
	AlertMemory  AlertType = "memory"
	AlertDisk    AlertType = "disk"
	AlertNetwork AlertType = "network"
	AlertOffline AlertType = "offline"
)

// Severity is the alert level.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one threshold or reachability violation. An alert is active while
// ResolvedAt is nil; active alerts live in memory and are mirrored to the
// store, resolved ones persist for history only.
type Alert struct {
	ID              string         `json:"id"`
	DeviceID        string         `json:"device_id"`
	DeviceIP        string         `json:"device_ip,omitempty"`
	Type            AlertType      `json:"type"`
	Severity        Severity       `json:"severity"`
	Message         string         `json:"message"`
	Acknowledged    bool           `json:"acknowledged"`
	AcknowledgedBy  string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	OccurrenceCount int            `json:"occurrence_count"`
	LastOccurrence  time.Time      `json:"last_occurrence"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Active reports whether the alert has not been resolved yet.
func (a *Alert) Active() bool {
	return a.ResolvedAt == nil
}

// Clone returns a deep copy safe to hand to callers while the original keeps
// mutating under the alert engine's lock.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ScanRecord is the audit row appended after a completed sweep.
type ScanRecord struct {
	ID              int64     `json:"id,omitempty"`
	ScanRange       string    `json:"scan_range"`
	TotalIPs        int       `json:"total_ips"`
	DiscoveredHosts int       `json:"discovered_hosts"`
	DurationMs      int64     `json:"duration_ms"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// ConfigEntry is one row of the persisted key/value configuration table.
type ConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
