package monitoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/store"
)

func TestAddDeviceDefaults(t *testing.T) {
	te := newTestEngine(t)

	dev, err := te.engine.AddDevice(AddDeviceRequest{IP: "192.168.1.50"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", dev.Hostname, "hostname falls back to the IP")
	assert.Equal(t, "public", dev.Community, "community falls back to the configured default")
	assert.Equal(t, models.StatusUnknown, dev.Status)

	stored, err := te.store.GetDevice(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, dev.IP, stored.IP)
}

func TestAddDeviceValidation(t *testing.T) {
	te := newTestEngine(t)

	tests := []struct {
		name string
		ip   string
	}{
		{"empty", ""},
		{"hostname not ip", "switch.local"},
		{"ipv6", "fe80::1"},
		{"garbage", "999.1.2.3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := te.engine.AddDevice(AddDeviceRequest{IP: tc.ip})
			require.Error(t, err)
			assert.True(t, internalerrors.IsValidation(err))
		})
	}
}

func TestAddDeviceDuplicateIP(t *testing.T) {
	te := newTestEngine(t)
	te.addRemoteDevice(t, "first", "192.168.1.51")

	_, err := te.engine.AddDevice(AddDeviceRequest{IP: "192.168.1.51", Hostname: "second"})
	require.Error(t, err)
	assert.True(t, internalerrors.IsValidation(err))
	assert.Len(t, te.engine.Devices(), 2, "localhost plus the first device only")
}

func TestUpdateDeviceFields(t *testing.T) {
	te := newTestEngine(t)
	dev := te.addRemoteDevice(t, "old-name", "192.168.1.52")

	hostname := "new-name"
	community := "monitoring"
	location := "rack 4"
	updated, err := te.engine.UpdateDevice(dev.ID, UpdateDeviceRequest{
		Hostname:  &hostname,
		Community: &community,
		Location:  &location,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-name", updated.Hostname)
	assert.Equal(t, "monitoring", updated.Community)
	assert.Equal(t, "rack 4", updated.Location)

	stored, err := te.store.GetDevice(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, "monitoring", stored.Community)
}

func TestUpdateDeviceRekeysIP(t *testing.T) {
	te := newTestEngine(t)
	dev := te.addRemoteDevice(t, "mover", "192.168.1.53")

	newIP := "192.168.1.54"
	updated, err := te.engine.UpdateDevice(dev.ID, UpdateDeviceRequest{IP: &newIP})
	require.NoError(t, err)
	assert.Equal(t, newIP, updated.IP)

	_, found := te.engine.deviceByIP("192.168.1.53")
	assert.False(t, found, "the old key is gone")
	moved, found := te.engine.deviceByIP(newIP)
	require.True(t, found)
	assert.Equal(t, dev.ID, moved.ID)
}

func TestUpdateDeviceIPConflict(t *testing.T) {
	te := newTestEngine(t)
	te.addRemoteDevice(t, "holder", "192.168.1.55")
	dev := te.addRemoteDevice(t, "mover", "192.168.1.56")

	taken := "192.168.1.55"
	_, err := te.engine.UpdateDevice(dev.ID, UpdateDeviceRequest{IP: &taken})
	require.Error(t, err)
	assert.True(t, internalerrors.IsValidation(err))
}

func TestUpdateDeviceNotFound(t *testing.T) {
	te := newTestEngine(t)
	hostname := "x"
	_, err := te.engine.UpdateDevice("nope", UpdateDeviceRequest{Hostname: &hostname})
	require.Error(t, err)
	assert.True(t, internalerrors.IsNotFound(err))
}

func TestRemoveDeviceCascades(t *testing.T) {
	te := newTestEngine(t)
	dev := te.addRemoteDevice(t, "doomed", "192.168.1.57")

	// Give it history and an active alert, then remove.
	te.remote.errs[dev.IP] = fmt.Errorf("unreachable")
	te.runTick(t)
	require.Equal(t, 1, te.engine.AlertStats().TotalActive)

	require.NoError(t, te.engine.RemoveDevice(dev.ID))

	_, err := te.engine.GetDevice(dev.ID)
	assert.True(t, internalerrors.IsNotFound(err))
	_, err = te.store.GetDevice(dev.ID)
	assert.True(t, internalerrors.IsNotFound(err))
	assert.Equal(t, 0, te.engine.AlertStats().TotalActive, "alerts drop with the device")

	rows, err := te.store.ListAlerts(store.AlertFilter{DeviceID: dev.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRemoveLocalhostRejected(t *testing.T) {
	te := newTestEngine(t)
	err := te.engine.RemoveDevice(models.LocalDeviceID)
	require.Error(t, err)
	assert.True(t, internalerrors.IsValidation(err))
}

func TestCollectDeviceNowLocal(t *testing.T) {
	te := newTestEngine(t)

	sample, err := te.engine.CollectDeviceNow(context.Background(), models.LocalDeviceID)
	require.NoError(t, err)
	require.NotNil(t, sample.CPU)
	assert.Equal(t, 12.0, sample.CPU.UsagePercent)

	rows, err := te.store.LatestMetrics(models.LocalDeviceID, models.MetricCPUUsage)
	require.NoError(t, err)
	require.Len(t, rows, 1, "an on-demand poll persists like a scheduled one")
}

func TestCollectDeviceNowUnreachable(t *testing.T) {
	te := newTestEngine(t)
	dev := te.addRemoteDevice(t, "gone", "192.168.1.58")
	te.remote.errs[dev.IP] = fmt.Errorf("all probes failed")

	_, err := te.engine.CollectDeviceNow(context.Background(), dev.ID)
	require.Error(t, err)

	after, err := te.engine.GetDevice(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, after.Status)
	assert.Equal(t, 1, te.engine.AlertStats().TotalActive)
}

func TestTestDeviceUsesDefaultCommunity(t *testing.T) {
	te := newTestEngine(t)
	te.remote.systems["192.168.1.59"] = map[string]*models.SystemSample{
		"public": {Hostname: "printer"},
	}

	result, err := te.engine.TestDevice(context.Background(), "192.168.1.59", "")
	require.NoError(t, err)
	assert.True(t, result.Reachable)
	require.NotNil(t, result.System)
	assert.Equal(t, "printer", result.System.Hostname)

	miss, err := te.engine.TestDevice(context.Background(), "192.168.1.60", "private")
	require.NoError(t, err)
	assert.False(t, miss.Reachable)

	_, err = te.engine.TestDevice(context.Background(), "not-an-ip", "")
	require.Error(t, err)
	assert.True(t, internalerrors.IsValidation(err))
}
