// Package config holds the runtime configuration: server settings sourced
// from the environment and monitoring settings seeded from the environment
// but owned by the store once loaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/R8355H0755/lan-insight/internal/models"
)

// Recognized keys of the persisted configuration table.
const (
	KeyRefreshInterval  = "refresh_interval"
	KeyDefaultCommunity = "default_community"
	KeyScanTimeout      = "scan_timeout"
	KeySNMPTimeout      = "snmp_timeout"
	KeyMaxHistoryDays   = "max_history_days"
	KeyCPUWarning       = "cpu_warning_threshold"
	KeyCPUCritical      = "cpu_critical_threshold"
	KeyMemoryWarning    = "memory_warning_threshold"
	KeyMemoryCritical   = "memory_critical_threshold"
	KeyDiskWarning      = "disk_warning_threshold"
	KeyDiskCritical     = "disk_critical_threshold"
)

const envPrefix = "LANINSIGHT_"

// Thresholds is one warning/critical percent pair.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// AlertThresholds groups the per-resource pairs.
type AlertThresholds struct {
	CPU    Thresholds `json:"cpu"`
	Memory Thresholds `json:"memory"`
	Disk   Thresholds `json:"disk"`
}

// Config is the resolved runtime configuration.
type Config struct {
	// Server settings, environment only.
	ListenHost string
	ListenPort int
	DataPath   string
	LogLevel   string
	LogFormat  string

	// Monitoring settings, environment first, store overrides on load.
	RefreshInterval  int    // seconds between polling ticks
	DefaultCommunity string // fallback SNMP community
	ScanTimeout      int    // ms per liveness probe
	SNMPTimeout      int    // ms per SNMP query
	MaxHistoryDays   int    // retention for metrics/system_info
	ConcurrentPolls  int    // worker pool ceiling per tick
	Thresholds       AlertThresholds
}

// New returns the built-in defaults.
func New() *Config {
	return &Config{
		ListenHost:       "0.0.0.0",
		ListenPort:       3000,
		DataPath:         "data",
		LogLevel:         "info",
		LogFormat:        "auto",
		RefreshInterval:  10,
		DefaultCommunity: "public",
		ScanTimeout:      3000,
		SNMPTimeout:      5000,
		MaxHistoryDays:   30,
		ConcurrentPolls:  16,
		Thresholds: AlertThresholds{
			CPU:    Thresholds{Warning: 75, Critical: 90},
			Memory: Thresholds{Warning: 80, Critical: 95},
			Disk:   Thresholds{Warning: 85, Critical: 95},
		},
	}
}

// Load builds the configuration from defaults overlaid with environment
// variables. Store overrides are applied later via ApplyStored.
func Load() *Config {
	cfg := New()
	cfg.loadFromEnv()
	return cfg
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv(envPrefix + "SERVER_HOST"); val != "" {
		c.ListenHost = val
	}
	if val := os.Getenv(envPrefix + "SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil && port > 0 && port < 65536 {
			c.ListenPort = port
		}
	}
	if val := os.Getenv(envPrefix + "DATA_PATH"); val != "" {
		c.DataPath = val
	}
	if val := os.Getenv(envPrefix + "LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv(envPrefix + "LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := os.Getenv(envPrefix + "CONCURRENT_POLLS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.ConcurrentPolls = n
		}
	}

	// The store-owned keys accept initial values from the environment too.
	overrides := make(map[string]string)
	for _, key := range StoredKeys() {
		envKey := envPrefix + strings.ToUpper(key)
		if val := os.Getenv(envKey); val != "" {
			overrides[key] = val
		}
	}
	c.ApplyStored(overrides)
}

// StoredKeys lists the recognized persisted configuration keys.
func StoredKeys() []string {
	return []string{
		KeyRefreshInterval,
		KeyDefaultCommunity,
		KeyScanTimeout,
		KeySNMPTimeout,
		KeyMaxHistoryDays,
		KeyCPUWarning,
		KeyCPUCritical,
		KeyMemoryWarning,
		KeyMemoryCritical,
		KeyDiskWarning,
		KeyDiskCritical,
	}
}

// DefaultEntries returns the rows seeded into the configuration table on
// first open.
func DefaultEntries() []models.ConfigEntry {
	d := New()
	return []models.ConfigEntry{
		{Key: KeyRefreshInterval, Value: strconv.Itoa(d.RefreshInterval), Description: "Seconds between polling ticks"},
		{Key: KeyDefaultCommunity, Value: d.DefaultCommunity, Description: "Fallback SNMP community string"},
		{Key: KeyScanTimeout, Value: strconv.Itoa(d.ScanTimeout), Description: "Milliseconds per liveness probe"},
		{Key: KeySNMPTimeout, Value: strconv.Itoa(d.SNMPTimeout), Description: "Milliseconds per SNMP query"},
		{Key: KeyMaxHistoryDays, Value: strconv.Itoa(d.MaxHistoryDays), Description: "Retention days for metrics and system info"},
		{Key: KeyCPUWarning, Value: formatPercent(d.Thresholds.CPU.Warning), Description: "CPU usage warning threshold (percent)"},
		{Key: KeyCPUCritical, Value: formatPercent(d.Thresholds.CPU.Critical), Description: "CPU usage critical threshold (percent)"},
		{Key: KeyMemoryWarning, Value: formatPercent(d.Thresholds.Memory.Warning), Description: "Memory usage warning threshold (percent)"},
		{Key: KeyMemoryCritical, Value: formatPercent(d.Thresholds.Memory.Critical), Description: "Memory usage critical threshold (percent)"},
		{Key: KeyDiskWarning, Value: formatPercent(d.Thresholds.Disk.Warning), Description: "Disk usage warning threshold (percent)"},
		{Key: KeyDiskCritical, Value: formatPercent(d.Thresholds.Disk.Critical), Description: "Disk usage critical threshold (percent)"},
	}
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NormalizeSetting validates a key/value pair and returns the canonical value
// that should be persisted. Unknown keys and unparsable values are rejected;
// out-of-range numbers are clamped, not rejected. The warning < critical pair
// rule is enforced separately in ApplyStored, where both sides are known.
func NormalizeSetting(key, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch key {
	case KeyRefreshInterval:
		return normalizeIntSetting(key, value, 5, 300)
	case KeyScanTimeout, KeySNMPTimeout:
		return normalizeIntSetting(key, value, 1000, 30000)
	case KeyMaxHistoryDays:
		return normalizeIntSetting(key, value, 1, 365)
	case KeyCPUWarning, KeyCPUCritical, KeyMemoryWarning, KeyMemoryCritical, KeyDiskWarning, KeyDiskCritical:
		return normalizeFloatSetting(key, value, 1, 100)
	case KeyDefaultCommunity:
		if value == "" {
			return "", fmt.Errorf("%s must not be empty", key)
		}
		return value, nil
	default:
		return "", fmt.Errorf("unknown configuration key %q", key)
	}
}

func normalizeIntSetting(key, value string, lo, hi int) (string, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return strconv.Itoa(n), nil
}

func normalizeFloatSetting(key, value string, lo, hi float64) (string, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", fmt.Errorf("%s must be numeric: %w", key, err)
	}
	if f < lo {
		f = lo
	}
	if f > hi {
		f = hi
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// ApplyStored overlays persisted settings onto the configuration. Values are
// clamped into their documented ranges; unparsable values are logged and
// skipped; a threshold pair violating warning < critical keeps its prior
// values.
func (c *Config) ApplyStored(values map[string]string) {
	prior := *c
	for key, value := range values {
		if err := c.applySetting(key, value); err != nil {
			log.Warn().Str("key", key).Str("value", value).Err(err).Msg("Ignoring invalid stored setting")
		}
	}
	c.enforceThresholdOrder(&prior)
}

func (c *Config) applySetting(key, value string) error {
	normalized, err := NormalizeSetting(key, value)
	if err != nil {
		return err
	}
	switch key {
	case KeyRefreshInterval:
		c.RefreshInterval, _ = strconv.Atoi(normalized)
	case KeyDefaultCommunity:
		c.DefaultCommunity = normalized
	case KeyScanTimeout:
		c.ScanTimeout, _ = strconv.Atoi(normalized)
	case KeySNMPTimeout:
		c.SNMPTimeout, _ = strconv.Atoi(normalized)
	case KeyMaxHistoryDays:
		c.MaxHistoryDays, _ = strconv.Atoi(normalized)
	case KeyCPUWarning:
		c.Thresholds.CPU.Warning, _ = strconv.ParseFloat(normalized, 64)
	case KeyCPUCritical:
		c.Thresholds.CPU.Critical, _ = strconv.ParseFloat(normalized, 64)
	case KeyMemoryWarning:
		c.Thresholds.Memory.Warning, _ = strconv.ParseFloat(normalized, 64)
	case KeyMemoryCritical:
		c.Thresholds.Memory.Critical, _ = strconv.ParseFloat(normalized, 64)
	case KeyDiskWarning:
		c.Thresholds.Disk.Warning, _ = strconv.ParseFloat(normalized, 64)
	case KeyDiskCritical:
		c.Thresholds.Disk.Critical, _ = strconv.ParseFloat(normalized, 64)
	}
	return nil
}

// enforceThresholdOrder reverts any pair where warning >= critical to the
// values carried in prior.
func (c *Config) enforceThresholdOrder(prior *Config) {
	revert := func(name string, cur *Thresholds, prev Thresholds) {
		if cur.Warning >= cur.Critical {
			log.Warn().
				Str("metric", name).
				Float64("warning", cur.Warning).
				Float64("critical", cur.Critical).
				Msg("Threshold pair violates warning < critical; keeping previous values")
			*cur = prev
		}
	}
	revert("cpu", &c.Thresholds.CPU, prior.Thresholds.CPU)
	revert("memory", &c.Thresholds.Memory, prior.Thresholds.Memory)
	revert("disk", &c.Thresholds.Disk, prior.Thresholds.Disk)
}

// ThresholdsFor returns the pair governing an alert type, and false for types
// that are not threshold-driven.
func (t AlertThresholds) ThresholdsFor(alertType models.AlertType) (Thresholds, bool) {
	switch alertType {
	case models.AlertCPU:
		return t.CPU, true
	case models.AlertMemory:
		return t.Memory, true
	case models.AlertDisk:
		return t.Disk, true
	default:
		return Thresholds{}, false
	}
}
