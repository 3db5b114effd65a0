package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R8355H0755/lan-insight/internal/config"
	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDevice(id, ip string) *models.Device {
	return &models.Device{
		ID:        id,
		IP:        ip,
		Hostname:  "host-" + id,
		Community: "public",
		Status:    models.StatusUnknown,
	}
}

func TestOpenSeedsDefaultConfig(t *testing.T) {
	s := newTestStore(t)

	values, err := s.AllConfig()
	require.NoError(t, err)
	for _, key := range config.StoredKeys() {
		assert.Contains(t, values, key)
	}
	assert.Equal(t, "10", values[config.KeyRefreshInterval])
	assert.Equal(t, "public", values[config.KeyDefaultCommunity])
}

func TestSeedDoesNotClobberExistingValues(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.SetConfig(config.KeyRefreshInterval, "60", ""))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	entry, err := s.GetConfig(config.KeyRefreshInterval)
	require.NoError(t, err)
	assert.Equal(t, "60", entry.Value)
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetConfig("scan_timeout", "2500", "probe timeout"))
	entry, err := s.GetConfig("scan_timeout")
	require.NoError(t, err)
	assert.Equal(t, "2500", entry.Value)
	assert.Equal(t, "probe timeout", entry.Description)

	// Overwriting with an empty description keeps the old one.
	require.NoError(t, s.SetConfig("scan_timeout", "3000", ""))
	entry, err = s.GetConfig("scan_timeout")
	require.NoError(t, err)
	assert.Equal(t, "3000", entry.Value)
	assert.Equal(t, "probe timeout", entry.Description)
}

func TestUpsertDevicePreservesFirstSeen(t *testing.T) {
	s := newTestStore(t)

	d := testDevice("dev1", "192.168.1.10")
	require.NoError(t, s.UpsertDevice(d))
	firstSeen := d.FirstSeen
	require.False(t, firstSeen.IsZero())

	d.Hostname = "renamed"
	d.FirstSeen = time.Time{}
	require.NoError(t, s.UpsertDevice(d))

	got, err := s.GetDevice("dev1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Hostname)
	assert.Equal(t, firstSeen.Unix(), got.FirstSeen.Unix())
	assert.GreaterOrEqual(t, got.LastSeen.Unix(), firstSeen.Unix())
}

func TestGetDeviceNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDevice("missing")
	assert.True(t, errors.Is(err, internalerrors.ErrNotFound))

	_, err = s.GetDeviceByIP("10.9.8.7")
	assert.True(t, errors.Is(err, internalerrors.ErrNotFound))
}

func TestDuplicateIPRejected(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertDevice(testDevice("dev1", "192.168.1.10")))
	err := s.UpsertDevice(testDevice("dev2", "192.168.1.10"))
	assert.Error(t, err)
}

func TestListDevicesOrdered(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertDevice(testDevice("b", "192.168.1.20")))
	require.NoError(t, s.UpsertDevice(testDevice("a", "192.168.1.10")))

	devices, err := s.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "192.168.1.10", devices[0].IP)
}

func TestUpdateDeviceStatus(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertDevice(testDevice("dev1", "192.168.1.10")))
	require.NoError(t, s.UpdateDeviceStatus("dev1", models.StatusOffline))

	got, err := s.GetDevice("dev1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, got.Status)

	err = s.UpdateDeviceStatus("missing", models.StatusOnline)
	assert.True(t, errors.Is(err, internalerrors.ErrNotFound))
}

func TestDeleteDeviceCascades(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertDevice(testDevice("dev1", "192.168.1.10")))
	require.NoError(t, s.InsertMetric("dev1", models.MetricCPUUsage, 50, models.UnitPercent))
	require.NoError(t, s.InsertSystemInfo(&models.SystemInfo{DeviceID: "dev1", Uptime: 100}))
	require.NoError(t, s.ReplaceInterfaces("dev1", []models.NetworkInterface{{Index: 1, Name: "eth0"}}))
	require.NoError(t, s.UpsertAlert(&models.Alert{
		ID: "al1", DeviceID: "dev1", Type: models.AlertCPU,
		Severity: models.SeverityWarning, CreatedAt: time.Now(),
	}))

	require.NoError(t, s.DeleteDevice("dev1"))

	_, err := s.GetDevice("dev1")
	assert.True(t, errors.Is(err, internalerrors.ErrNotFound))

	metrics, err := s.LatestMetrics("dev1")
	require.NoError(t, err)
	assert.Empty(t, metrics)

	ifaces, err := s.GetInterfaces("dev1")
	require.NoError(t, err)
	assert.Empty(t, ifaces)

	alerts, err := s.ListAlerts(AlertFilter{DeviceID: "dev1"})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestInsertMetricsBatchAndLatest(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	samples := []models.MetricSample{
		{Type: models.MetricCPUUsage, Value: 10, Unit: models.UnitPercent, Timestamp: now.Add(-2 * time.Minute)},
		{Type: models.MetricCPUUsage, Value: 35, Unit: models.UnitPercent, Timestamp: now},
		{Type: models.MetricMemoryUsage, Value: 60, Unit: models.UnitPercent, Timestamp: now},
	}
	require.NoError(t, s.InsertMetrics("dev1", samples))

	latest, err := s.LatestMetrics("dev1")
	require.NoError(t, err)
	require.Len(t, latest, 2)

	byType := make(map[models.MetricType]models.MetricSample)
	for _, m := range latest {
		byType[m.Type] = m
	}
	assert.Equal(t, 35.0, byType[models.MetricCPUUsage].Value)
	assert.Equal(t, 60.0, byType[models.MetricMemoryUsage].Value)

	onlyCPU, err := s.LatestMetrics("dev1", models.MetricCPUUsage)
	require.NoError(t, err)
	require.Len(t, onlyCPU, 1)
	assert.Equal(t, models.MetricCPUUsage, onlyCPU[0].Type)
}

func TestMetricsHistoryAscending(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	samples := []models.MetricSample{
		{Type: models.MetricCPUUsage, Value: 30, Unit: models.UnitPercent, Timestamp: now.Add(-1 * time.Hour)},
		{Type: models.MetricCPUUsage, Value: 10, Unit: models.UnitPercent, Timestamp: now.Add(-3 * time.Hour)},
		{Type: models.MetricCPUUsage, Value: 20, Unit: models.UnitPercent, Timestamp: now.Add(-2 * time.Hour)},
		// Outside the window, must not appear.
		{Type: models.MetricCPUUsage, Value: 99, Unit: models.UnitPercent, Timestamp: now.Add(-30 * time.Hour)},
	}
	require.NoError(t, s.InsertMetrics("dev1", samples))

	history, err := s.MetricsHistory("dev1", models.MetricCPUUsage, 24)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []float64{10, 20, 30}, []float64{history[0].Value, history[1].Value, history[2].Value})
}

func TestAggregatedMetricsHourBucket(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-30 * time.Minute).Truncate(time.Hour)
	samples := []models.MetricSample{
		{Type: models.MetricCPUUsage, Value: 10, Unit: models.UnitPercent, Timestamp: base.Add(5 * time.Minute)},
		{Type: models.MetricCPUUsage, Value: 20, Unit: models.UnitPercent, Timestamp: base.Add(10 * time.Minute)},
		{Type: models.MetricCPUUsage, Value: 30, Unit: models.UnitPercent, Timestamp: base.Add(15 * time.Minute)},
		{Type: models.MetricCPUUsage, Value: 40, Unit: models.UnitPercent, Timestamp: base.Add(20 * time.Minute)},
	}
	require.NoError(t, s.InsertMetrics("dev1", samples))

	points, err := s.AggregatedMetrics("dev1", models.MetricCPUUsage, 3600, 24)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 25.0, points[0].Avg)
	assert.Equal(t, 10.0, points[0].Min)
	assert.Equal(t, 40.0, points[0].Max)
	assert.Equal(t, int64(4), points[0].SampleCount)
}

func TestTopUsageOrdersByLatestValue(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertMetrics("hot", []models.MetricSample{
		{Type: models.MetricCPUUsage, Value: 20, Unit: models.UnitPercent, Timestamp: now.Add(-time.Minute)},
		{Type: models.MetricCPUUsage, Value: 95, Unit: models.UnitPercent, Timestamp: now},
	}))
	require.NoError(t, s.InsertMetrics("cool", []models.MetricSample{
		{Type: models.MetricCPUUsage, Value: 90, Unit: models.UnitPercent, Timestamp: now.Add(-time.Minute)},
		{Type: models.MetricCPUUsage, Value: 15, Unit: models.UnitPercent, Timestamp: now},
	}))

	top, err := s.TopUsage(models.MetricCPUUsage, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "hot", top[0].DeviceID)
	assert.Equal(t, 95.0, top[0].Value)
	assert.Equal(t, "cool", top[1].DeviceID)
	assert.Equal(t, 15.0, top[1].Value)
}

func TestReplaceInterfacesSwapsSnapshot(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ReplaceInterfaces("dev1", []models.NetworkInterface{
		{Index: 1, Name: "eth0", OperStatus: "up"},
		{Index: 2, Name: "eth1", OperStatus: "down"},
	}))
	require.NoError(t, s.ReplaceInterfaces("dev1", []models.NetworkInterface{
		{Index: 1, Name: "eth0", OperStatus: "up", InOctets: 1000},
	}))

	ifaces, err := s.GetInterfaces("dev1")
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	assert.Equal(t, "eth0", ifaces[0].Name)
	assert.Equal(t, uint64(1000), ifaces[0].InOctets)
}

func TestSystemInfoLatest(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertSystemInfo(&models.SystemInfo{
		DeviceID: "dev1", Uptime: 100, Processes: 50, Users: 1, Timestamp: now.Add(-time.Minute),
	}))
	require.NoError(t, s.InsertSystemInfo(&models.SystemInfo{
		DeviceID: "dev1", Uptime: 160, Processes: 52, Users: 2, Timestamp: now,
	}))

	info, err := s.LatestSystemInfo("dev1")
	require.NoError(t, err)
	assert.Equal(t, int64(160), info.Uptime)
	assert.Equal(t, 52, info.Processes)
}

func TestAlertLifecyclePersistence(t *testing.T) {
	s := newTestStore(t)
	created := time.Now().Add(-time.Minute)

	alert := &models.Alert{
		ID:       "al1",
		DeviceID: "dev1",
		DeviceIP: "192.168.1.10",
		Type:     models.AlertCPU,
		Severity: models.SeverityCritical,
		Message:  "CPU usage critical: 95%",
		CreatedAt: created,
	}
	require.NoError(t, s.UpsertAlert(alert))

	require.NoError(t, s.AckAlert("al1", "operator"))
	got, err := s.GetAlert("al1")
	require.NoError(t, err)
	assert.True(t, got.Acknowledged)
	assert.Equal(t, "operator", got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)
	assert.False(t, got.AcknowledgedAt.Before(got.CreatedAt))

	require.NoError(t, s.ResolveAlert("al1", "operator", time.Now()))
	got, err = s.GetAlert("al1")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.False(t, got.ResolvedAt.Before(got.CreatedAt))

	require.NoError(t, s.DeleteAlert("al1"))
	_, err = s.GetAlert("al1")
	assert.True(t, errors.Is(err, internalerrors.ErrNotFound))
}

func TestListAlertsFilters(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	resolved := now.Add(-time.Minute)

	mk := func(id, deviceID string, sev models.Severity, acked bool, resolvedAt *time.Time) *models.Alert {
		return &models.Alert{
			ID: id, DeviceID: deviceID, Type: models.AlertCPU, Severity: sev,
			Acknowledged: acked, CreatedAt: now.Add(-time.Hour), ResolvedAt: resolvedAt,
		}
	}
	require.NoError(t, s.UpsertAlert(mk("a1", "dev1", models.SeverityWarning, false, nil)))
	require.NoError(t, s.UpsertAlert(mk("a2", "dev1", models.SeverityCritical, true, nil)))
	require.NoError(t, s.UpsertAlert(mk("a3", "dev2", models.SeverityWarning, false, &resolved)))

	active, err := s.ActiveAlerts()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a1", active[0].ID)

	byDevice, err := s.ListAlerts(AlertFilter{DeviceID: "dev2"})
	require.NoError(t, err)
	require.Len(t, byDevice, 1)
	assert.Equal(t, "a3", byDevice[0].ID)

	bySeverity, err := s.ListAlerts(AlertFilter{Severity: models.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, "a2", bySeverity[0].ID)

	limited, err := s.ListAlerts(AlertFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCleanupRemovesExpiredRows(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertMetrics("dev1", []models.MetricSample{
		{Type: models.MetricCPUUsage, Value: 10, Unit: models.UnitPercent, Timestamp: now.AddDate(0, 0, -40)},
		{Type: models.MetricCPUUsage, Value: 20, Unit: models.UnitPercent, Timestamp: now},
	}))
	require.NoError(t, s.InsertSystemInfo(&models.SystemInfo{
		DeviceID: "dev1", Uptime: 5, Timestamp: now.AddDate(0, 0, -40),
	}))

	oldResolved := now.AddDate(0, 0, -10)
	require.NoError(t, s.UpsertAlert(&models.Alert{
		ID: "old", DeviceID: "dev1", Type: models.AlertCPU, Severity: models.SeverityWarning,
		CreatedAt: now.AddDate(0, 0, -11), ResolvedAt: &oldResolved,
	}))
	freshResolved := now.Add(-time.Hour)
	require.NoError(t, s.UpsertAlert(&models.Alert{
		ID: "fresh", DeviceID: "dev1", Type: models.AlertMemory, Severity: models.SeverityWarning,
		CreatedAt: now.Add(-2 * time.Hour), ResolvedAt: &freshResolved,
	}))

	result, err := s.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Metrics)
	assert.Equal(t, int64(1), result.SystemInfo)
	assert.Equal(t, int64(1), result.Alerts)

	history, err := s.MetricsHistory("dev1", models.MetricCPUUsage, 24*60)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 20.0, history[0].Value)

	_, err = s.GetAlert("fresh")
	assert.NoError(t, err)
}

func TestScanHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	started := time.Now().Add(-time.Minute)

	record := &models.ScanRecord{
		ScanRange:       "192.168.1.1-254",
		TotalIPs:        254,
		DiscoveredHosts: 3,
		DurationMs:      4200,
		StartedAt:       started,
		CompletedAt:     time.Now(),
	}
	require.NoError(t, s.AppendScanHistory(record))
	assert.NotZero(t, record.ID)

	list, err := s.ListScanHistory(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "192.168.1.1-254", list[0].ScanRange)
	assert.Equal(t, 254, list[0].TotalIPs)
	assert.Equal(t, 3, list[0].DiscoveredHosts)
}

func TestStatsCountsRows(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertDevice(testDevice("dev1", "192.168.1.10")))
	require.NoError(t, s.InsertMetric("dev1", models.MetricCPUUsage, 42, models.UnitPercent))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Devices)
	assert.Equal(t, int64(1), stats.Metrics)
	assert.Greater(t, stats.SizeBytes, int64(0))
	assert.GreaterOrEqual(t, stats.Config, int64(11))
}
