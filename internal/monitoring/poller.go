package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/R8355H0755/lan-insight/internal/alerts"
	"github.com/R8355H0755/lan-insight/internal/config"
	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/models"
)

// run is the engine's polling loop. The first cycle fires immediately;
// UpdateConfig resets the ticker through resetTicker.
func (e *Engine) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tickWG.Add(1)
	go e.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			e.tickWG.Add(1)
			go e.Tick(ctx)
		case d := <-e.resetTicker:
			ticker.Reset(d)
			e.log.Info().Dur("interval", d).Msg("Polling interval changed")
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one monitoring cycle. Cycles never queue: if the previous cycle
// is still running, or a scan holds the network, the tick is dropped. Callers
// must have registered on tickWG.
func (e *Engine) Tick(ctx context.Context) {
	defer e.tickWG.Done()

	if e.scanner.Scanning() {
		cyclesCoalesced.Inc()
		e.log.Debug().Msg("Scan in progress, skipping polling cycle")
		return
	}
	if current := atomic.AddInt32(&e.activeCycles, 1); current > 1 {
		atomic.AddInt32(&e.activeCycles, -1)
		cyclesCoalesced.Inc()
		e.log.Debug().Int32("active", current-1).Msg("Previous cycle still running, skipping")
		return
	}
	defer atomic.AddInt32(&e.activeCycles, -1)

	started := time.Now()
	devices := e.Devices()
	if len(devices) == 0 {
		cyclesTotal.Inc()
		e.publishMonitoringUpdate(time.Since(started))
		return
	}

	deadline := time.Duration(e.refreshSeconds()) * 2 * time.Second
	tickCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(e.pollLimit(len(devices)))
	for i := range devices {
		dev := devices[i]
		g.Go(func() error {
			e.pollDevice(tickCtx, dev)
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(started)
	atomic.StoreInt64(&e.lastCycleMs, elapsed.Milliseconds())
	cycleDuration.Set(elapsed.Seconds())
	cyclesTotal.Inc()
	e.refreshDeviceGauges()

	e.log.Debug().
		Int("devices", len(devices)).
		Dur("elapsed", elapsed).
		Msg("Polling cycle complete")
	e.publishMonitoringUpdate(elapsed)
}

// pollDevice samples one device and persists the outcome. Failures never
// propagate; an unreachable remote device goes offline with a critical alert.
func (e *Engine) pollDevice(ctx context.Context, dev models.Device) {
	if dev.IsLocal() {
		sample := e.hostProbe.Collect(ctx)
		e.recordSample(dev, sample)
		devicePolls.WithLabelValues("ok").Inc()
		return
	}

	sample, err := e.remoteProbe.CollectAll(ctx, dev.IP, dev.Community)
	if err != nil {
		e.markOffline(dev, err)
		devicePolls.WithLabelValues("offline").Inc()
		return
	}
	e.recordSample(dev, sample)
	devicePolls.WithLabelValues("ok").Inc()
}

// recordSample persists a successful poll and re-derives the device status.
// Events for the device are emitted only after its rows are written.
func (e *Engine) recordSample(dev models.Device, sample *models.Sample) {
	was := dev.Status
	mergeIdentity(&dev, sample)

	if err := e.store.UpsertDevice(&dev); err != nil {
		e.log.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to upsert device")
	}
	if err := e.store.InsertSystemInfo(&models.SystemInfo{
		DeviceID:  dev.ID,
		Uptime:    sample.System.UptimeSeconds,
		Processes: sample.System.Processes,
		Users:     sample.System.Users,
	}); err != nil {
		e.log.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to insert system info")
	}
	if rows := sample.Metrics(dev.ID); len(rows) > 0 {
		if err := e.store.InsertMetrics(dev.ID, rows); err != nil {
			e.log.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to insert metrics")
		}
	}
	if len(sample.Interfaces) > 0 {
		if err := e.store.ReplaceInterfaces(dev.ID, sample.Interfaces); err != nil {
			e.log.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to replace interfaces")
		}
	}
	for _, msg := range sample.Errors {
		e.log.Debug().Str("device_id", dev.ID).Str("probe_error", msg).Msg("Partial sample")
	}

	// The device answered, so any offline alert is stale.
	e.alerts.AutoResolve(dev.ID, models.AlertOffline, 0, config.Thresholds{})
	e.CheckThresholds(&dev, sample)

	status := e.deriveStatus(dev.ID)
	dev.Status = status
	if err := e.store.UpdateDeviceStatus(dev.ID, status); err != nil {
		e.log.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to update device status")
	}
	e.storeRegistryEntry(&dev)

	if was == models.StatusOffline || was == models.StatusUnknown {
		e.bus.Publish(events.TypeHostOnline, map[string]any{
			"device_id": dev.ID,
			"ip":        dev.IP,
			"hostname":  dev.Hostname,
		})
	}
}

// markOffline transitions a device to offline and raises the reachability
// alert. The host_offline event fires on the transition, not on every tick.
func (e *Engine) markOffline(dev models.Device, cause error) {
	was := dev.Status
	dev.Status = models.StatusOffline
	if err := e.store.UpdateDeviceStatus(dev.ID, models.StatusOffline); err != nil {
		e.log.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to update device status")
	}
	e.storeRegistryEntry(&dev)

	name := dev.Hostname
	if name == "" {
		name = dev.IP
	}
	if _, err := e.alerts.Create(alerts.CreateRequest{
		DeviceID: dev.ID,
		DeviceIP: dev.IP,
		Type:     models.AlertOffline,
		Severity: models.SeverityCritical,
		Message:  fmt.Sprintf("Device %s (%s) is unreachable", name, dev.IP),
	}); err != nil {
		e.log.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to create offline alert")
	}

	e.log.Warn().
		Str("device_id", dev.ID).
		Str("ip", dev.IP).
		Err(cause).
		Msg("Device unreachable")

	if was != models.StatusOffline {
		e.bus.Publish(events.TypeHostOffline, map[string]any{
			"device_id": dev.ID,
			"ip":        dev.IP,
			"hostname":  dev.Hostname,
		})
	}
}

// CheckThresholds compares a sample's usage figures against the configured
// thresholds, raising or auto-resolving alerts as each metric crosses its
// pair.
func (e *Engine) CheckThresholds(dev *models.Device, sample *models.Sample) {
	th := e.thresholds()
	if sample.CPU != nil {
		e.checkMetric(dev, models.AlertCPU, "CPU", sample.CPU.UsagePercent, th.CPU)
	}
	if sample.Memory != nil {
		e.checkMetric(dev, models.AlertMemory, "Memory", sample.Memory.UsagePercent, th.Memory)
	}
	if sample.Disk != nil {
		e.checkMetric(dev, models.AlertDisk, "Disk", sample.Disk.UsagePercent, th.Disk)
	}
}

func (e *Engine) checkMetric(dev *models.Device, alertType models.AlertType, label string, usage float64, th config.Thresholds) {
	name := dev.Hostname
	if name == "" {
		name = dev.IP
	}
	switch {
	case usage >= th.Critical:
		e.raiseThresholdAlert(dev, alertType, models.SeverityCritical,
			fmt.Sprintf("%s usage on %s is %.0f%% (critical threshold %.0f%%)", label, name, usage, th.Critical), usage)
	case usage >= th.Warning:
		e.raiseThresholdAlert(dev, alertType, models.SeverityWarning,
			fmt.Sprintf("%s usage on %s is %.0f%% (warning threshold %.0f%%)", label, name, usage, th.Warning), usage)
	default:
		e.alerts.AutoResolve(dev.ID, alertType, usage, th)
	}
}

func (e *Engine) raiseThresholdAlert(dev *models.Device, alertType models.AlertType, severity models.Severity, message string, usage float64) {
	if _, err := e.alerts.Create(alerts.CreateRequest{
		DeviceID: dev.ID,
		DeviceIP: dev.IP,
		Type:     alertType,
		Severity: severity,
		Message:  message,
		Metadata: map[string]any{"value": usage},
	}); err != nil {
		e.log.Error().Err(err).Str("device_id", dev.ID).Str("type", string(alertType)).Msg("Failed to create alert")
	}
}

// deriveStatus rolls a reachable device's status up from its unacknowledged
// active alerts: critical wins over warning wins over online.
func (e *Engine) deriveStatus(deviceID string) models.DeviceStatus {
	switch e.alerts.HighestUnackedSeverity(deviceID) {
	case models.SeverityCritical:
		return models.StatusCritical
	case models.SeverityWarning:
		return models.StatusWarning
	default:
		return models.StatusOnline
	}
}

// mergeIdentity refreshes the registry fields a probe can observe, keeping
// the stored value wherever the sample has none.
func mergeIdentity(dev *models.Device, sample *models.Sample) {
	sys := sample.System
	if sys.Hostname != "" {
		dev.Hostname = sys.Hostname
	}
	if sys.Description != "" {
		dev.Description = sys.Description
	}
	if sys.Location != "" {
		dev.Location = sys.Location
	}
	if sys.Contact != "" {
		dev.Contact = sys.Contact
	}
	if dev.Hostname == "" {
		dev.Hostname = dev.IP
	}
}

// storeRegistryEntry writes a device back into the registry map.
func (e *Engine) storeRegistryEntry(dev *models.Device) {
	copied := *dev
	e.mu.Lock()
	e.devices[copied.IP] = &copied
	e.mu.Unlock()
}

func (e *Engine) publishMonitoringUpdate(elapsed time.Duration) {
	devices := e.Devices()
	sort.Slice(devices, func(i, j int) bool { return devices[i].IP < devices[j].IP })
	e.bus.Publish(events.TypeMonitoringUpdate, map[string]any{
		"devices":  devices,
		"cycle_ms": elapsed.Milliseconds(),
	})
}
