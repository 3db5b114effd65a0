package models

import "math"

// Sample is the normalized output of one probe pass over one device. Sub-metric
// pointers are nil when every collection path for that metric failed; the
// failure reasons accumulate in Errors. A probe always returns a Sample.
type Sample struct {
	System     SystemSample       `json:"system"`
	CPU        *CPUSample         `json:"cpu,omitempty"`
	Memory     *MemorySample      `json:"memory,omitempty"`
	Disk       *DiskSample        `json:"disk,omitempty"`
	Interfaces []NetworkInterface `json:"interfaces,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
}

// SystemSample carries device identity and the per-poll host summary.
type SystemSample struct {
	Hostname         string `json:"hostname,omitempty"`
	Description      string `json:"description,omitempty"`
	ObjectID         string `json:"object_id,omitempty"`
	Location         string `json:"location,omitempty"`
	Contact          string `json:"contact,omitempty"`
	UptimeSeconds    int64  `json:"uptime_s,omitempty"`
	Platform         string `json:"platform,omitempty"`
	Arch             string `json:"arch,omitempty"`
	CPUCores         int    `json:"cpu_cores,omitempty"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes,omitempty"`
	Processes        int    `json:"processes,omitempty"`
	Users            int    `json:"users,omitempty"`
}

type CPUSample struct {
	UsagePercent float64 `json:"usage_percent"`
}

type MemorySample struct {
	UsagePercent float64 `json:"usage_percent"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
}

type DiskSample struct {
	UsagePercent float64 `json:"usage_percent"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
}

// AddError appends a collection failure without failing the sample.
func (s *Sample) AddError(msg string) {
	if msg == "" {
		return
	}
	s.Errors = append(s.Errors, msg)
}

// Metrics flattens the non-nil sub-metrics into store rows for one device.
func (s *Sample) Metrics(deviceID string) []MetricSample {
	out := make([]MetricSample, 0, 7)
	if s.CPU != nil {
		out = append(out, MetricSample{DeviceID: deviceID, Type: MetricCPUUsage, Value: s.CPU.UsagePercent, Unit: UnitPercent})
	}
	if s.Memory != nil {
		out = append(out,
			MetricSample{DeviceID: deviceID, Type: MetricMemoryUsage, Value: s.Memory.UsagePercent, Unit: UnitPercent},
			MetricSample{DeviceID: deviceID, Type: MetricMemoryTotal, Value: float64(s.Memory.TotalBytes), Unit: UnitBytes},
			MetricSample{DeviceID: deviceID, Type: MetricMemoryUsed, Value: float64(s.Memory.UsedBytes), Unit: UnitBytes},
		)
	}
	if s.Disk != nil {
		out = append(out,
			MetricSample{DeviceID: deviceID, Type: MetricDiskUsage, Value: s.Disk.UsagePercent, Unit: UnitPercent},
			MetricSample{DeviceID: deviceID, Type: MetricDiskTotal, Value: float64(s.Disk.TotalBytes), Unit: UnitBytes},
			MetricSample{DeviceID: deviceID, Type: MetricDiskUsed, Value: float64(s.Disk.UsedBytes), Unit: UnitBytes},
		)
	}
	return out
}

// RoundPercent rounds half-up to an integer percent and clamps to [0, 100].
func RoundPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Floor(v + 0.5)
}

// UsedPercent computes a rounded percentage, returning 0 when total is zero.
func UsedPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return RoundPercent(100 * float64(used) / float64(total))
}
