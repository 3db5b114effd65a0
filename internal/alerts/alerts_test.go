package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R8355H0755/lan-insight/internal/config"
	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *events.Subscriber) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := events.NewBroadcaster()
	t.Cleanup(bus.Close)

	return NewManager(s, bus), s, bus.Subscribe(256)
}

func cpuRequest(deviceID string) CreateRequest {
	return CreateRequest{
		DeviceID: deviceID,
		DeviceIP: "192.168.1.20",
		Type:     models.AlertCPU,
		Severity: models.SeverityWarning,
		Message:  "CPU usage above threshold",
	}
}

func drainTypes(sub *events.Subscriber) []string {
	var out []string
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func TestCreateDedupIncrementsOccurrence(t *testing.T) {
	m, s, sub := newTestManager(t)

	first, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.OccurrenceCount)

	second, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.OccurrenceCount)
	assert.False(t, second.LastOccurrence.Before(first.LastOccurrence))

	require.Len(t, m.ActiveAlerts(), 1)

	rows, err := s.ListAlerts(store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1, "dedup must not write a second row")

	types := drainTypes(sub)
	assert.Equal(t, []string{events.TypeAlertCreated}, types, "the folded occurrence must not re-announce")
}

func TestCreateSeparatesDistinctSeverities(t *testing.T) {
	m, _, _ := newTestManager(t)

	warn, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)

	req := cpuRequest("dev-1")
	req.Severity = models.SeverityCritical
	crit, err := m.Create(req)
	require.NoError(t, err)

	assert.NotEqual(t, warn.ID, crit.ID)
	assert.Len(t, m.ActiveAlerts(), 2)
}

func TestCreateValidatesRequest(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Create(CreateRequest{Type: models.AlertCPU, Severity: models.SeverityWarning})
	require.Error(t, err)
	assert.True(t, internalerrors.IsValidation(err))
}

func TestConcurrentCreateProducesOneAlert(t *testing.T) {
	m, s, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(cpuRequest("dev-1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, 10, active[0].OccurrenceCount)

	rows, err := s.ListAlerts(store.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestAckLifecycle(t *testing.T) {
	m, s, sub := newTestManager(t)

	created, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)

	acked, err := m.Ack(created.ID, "operator")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "operator", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	_, err = m.Ack(created.ID, "operator")
	require.Error(t, err)
	assert.True(t, internalerrors.IsConflict(err))

	_, err = m.Ack("missing", "operator")
	require.Error(t, err)
	assert.True(t, internalerrors.IsNotFound(err))

	row, err := s.GetAlert(created.ID)
	require.NoError(t, err)
	assert.True(t, row.Acknowledged)
	assert.Equal(t, "operator", row.AcknowledgedBy)

	types := drainTypes(sub)
	assert.Equal(t, []string{events.TypeAlertCreated, events.TypeAlertAcknowledged}, types)
}

func TestAckedAlertDoesNotAbsorbDuplicates(t *testing.T) {
	m, _, _ := newTestManager(t)

	first, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)
	_, err = m.Ack(first.ID, "operator")
	require.NoError(t, err)

	second, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, second.OccurrenceCount)
	assert.Len(t, m.ActiveAlerts(), 2)
}

func TestResolveMovesToHistory(t *testing.T) {
	m, s, sub := newTestManager(t)

	created, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)

	resolved, err := m.Resolve(created.ID, "operator")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "operator", resolved.ResolvedBy)

	assert.Empty(t, m.ActiveAlerts())

	history := m.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)

	_, err = m.Resolve(created.ID, "operator")
	require.Error(t, err)
	assert.True(t, internalerrors.IsNotFound(err))

	row, err := s.GetAlert(created.ID)
	require.NoError(t, err)
	assert.NotNil(t, row.ResolvedAt)

	types := drainTypes(sub)
	assert.Equal(t, []string{events.TypeAlertCreated, events.TypeAlertResolved}, types)
}

func TestAutoResolveBelowWarning(t *testing.T) {
	m, _, sub := newTestManager(t)
	th := config.Thresholds{Warning: 75, Critical: 90}

	created, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)

	// At the warning threshold the alert must stay up.
	assert.Empty(t, m.AutoResolve("dev-1", models.AlertCPU, 75, th))
	assert.Len(t, m.ActiveAlerts(), 1)

	resolved := m.AutoResolve("dev-1", models.AlertCPU, 50, th)
	require.Len(t, resolved, 1)
	assert.Equal(t, created.ID, resolved[0].ID)
	assert.Equal(t, "system", resolved[0].ResolvedBy)
	assert.Empty(t, m.ActiveAlerts())

	// Second pass is a no-op.
	assert.Empty(t, m.AutoResolve("dev-1", models.AlertCPU, 50, th))

	types := drainTypes(sub)
	assert.Equal(t, []string{events.TypeAlertCreated, events.TypeAlertResolved}, types)
}

func TestAutoResolveLeavesOtherTypesAlone(t *testing.T) {
	m, _, _ := newTestManager(t)
	th := config.Thresholds{Warning: 80, Critical: 95}

	req := cpuRequest("dev-1")
	req.Type = models.AlertMemory
	_, err := m.Create(req)
	require.NoError(t, err)

	assert.Empty(t, m.AutoResolve("dev-1", models.AlertCPU, 10, th))
	assert.Len(t, m.ActiveAlerts(), 1)
}

func TestAutoResolveOfflineIsUnconditional(t *testing.T) {
	m, _, _ := newTestManager(t)

	req := cpuRequest("dev-1")
	req.Type = models.AlertOffline
	req.Severity = models.SeverityCritical
	req.Message = "Device unreachable"
	_, err := m.Create(req)
	require.NoError(t, err)

	resolved := m.AutoResolve("dev-1", models.AlertOffline, 0, config.Thresholds{})
	require.Len(t, resolved, 1)
	assert.Empty(t, m.ActiveAlerts())
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	m, s, sub := newTestManager(t)

	created, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)

	require.NoError(t, m.Delete(created.ID))
	assert.Empty(t, m.ActiveAlerts())

	_, err = s.GetAlert(created.ID)
	require.Error(t, err)
	assert.True(t, internalerrors.IsNotFound(err))

	err = m.Delete("missing")
	require.Error(t, err)
	assert.True(t, internalerrors.IsNotFound(err))

	types := drainTypes(sub)
	assert.Equal(t, []string{events.TypeAlertCreated, events.TypeAlertDeleted}, types)
}

func TestLoadHydratesOnlyUnackedUnresolved(t *testing.T) {
	m, s, _ := newTestManager(t)
	now := time.Now()

	require.NoError(t, s.UpsertAlert(&models.Alert{
		ID: "a-active", DeviceID: "dev-1", Type: models.AlertCPU,
		Severity: models.SeverityWarning, CreatedAt: now,
	}))
	require.NoError(t, s.UpsertAlert(&models.Alert{
		ID: "a-acked", DeviceID: "dev-1", Type: models.AlertMemory,
		Severity: models.SeverityWarning, CreatedAt: now,
		Acknowledged: true, AcknowledgedBy: "operator", AcknowledgedAt: &now,
	}))
	require.NoError(t, s.UpsertAlert(&models.Alert{
		ID: "a-resolved", DeviceID: "dev-2", Type: models.AlertDisk,
		Severity: models.SeverityCritical, CreatedAt: now,
		ResolvedAt: &now, ResolvedBy: "system",
	}))

	require.NoError(t, m.Load())

	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "a-active", active[0].ID)
	assert.Equal(t, 1, active[0].OccurrenceCount, "hydrated rows default to one occurrence")
	assert.False(t, active[0].LastOccurrence.IsZero())
}

func TestHighestUnackedSeverity(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.Equal(t, models.Severity(""), m.HighestUnackedSeverity("dev-1"))

	_, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, m.HighestUnackedSeverity("dev-1"))

	req := cpuRequest("dev-1")
	req.Type = models.AlertMemory
	req.Severity = models.SeverityCritical
	crit, err := m.Create(req)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, m.HighestUnackedSeverity("dev-1"))

	_, err = m.Ack(crit.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, m.HighestUnackedSeverity("dev-1"))

	assert.Equal(t, models.Severity(""), m.HighestUnackedSeverity("dev-2"))
}

func TestActiveForDevice(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)
	_, err = m.Create(cpuRequest("dev-2"))
	require.NoError(t, err)

	assert.Len(t, m.ActiveForDevice("dev-1"), 1)
	assert.Len(t, m.ActiveForDevice("dev-2"), 1)
	assert.Empty(t, m.ActiveForDevice("dev-3"))
}

func TestStats(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Create(cpuRequest("dev-1"))
	require.NoError(t, err)

	req := cpuRequest("dev-1")
	req.Type = models.AlertMemory
	req.Severity = models.SeverityCritical
	crit, err := m.Create(req)
	require.NoError(t, err)
	_, err = m.Ack(crit.ID, "operator")
	require.NoError(t, err)

	offline, err := m.Create(CreateRequest{
		DeviceID: "dev-2", Type: models.AlertOffline,
		Severity: models.SeverityCritical, Message: "Device unreachable",
	})
	require.NoError(t, err)
	_, err = m.Resolve(offline.ID, "operator")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalActive)
	assert.Equal(t, map[string]int{"warning": 1, "critical": 1}, stats.BySeverity)
	assert.Equal(t, map[string]int{"cpu": 1, "memory": 1}, stats.ByType)
	assert.Equal(t, map[string]int{"dev-1": 2}, stats.ByDevice)
	assert.Equal(t, 1, stats.Acknowledged)
	assert.Equal(t, 1, stats.Unacknowledged)
	assert.Equal(t, 1, stats.ResolvedLast24h)
}

func TestHistoryNewestFirstAndBounded(t *testing.T) {
	m, _, _ := newTestManager(t)

	for _, device := range []string{"dev-1", "dev-2", "dev-3"} {
		created, err := m.Create(cpuRequest(device))
		require.NoError(t, err)
		_, err = m.Resolve(created.ID, "operator")
		require.NoError(t, err)
	}

	history := m.History(2)
	require.Len(t, history, 2)
	assert.Equal(t, "dev-3", history[0].DeviceID)
	assert.Equal(t, "dev-2", history[1].DeviceID)

	assert.Len(t, m.History(0), 3)
}
