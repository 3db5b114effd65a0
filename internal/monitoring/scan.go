package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R8355H0755/lan-insight/internal/config"
	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/scanner"
)

// ScanNetwork launches a background sweep of rangeSpec. The range is
// validated up front so the caller gets the parse error; a sweep already in
// progress is a conflict. Discovered hosts are staged and merged into the
// registry when the sweep ends.
func (e *Engine) ScanNetwork(rangeSpec string, opts scanner.Options) error {
	if _, err := scanner.ParseRange(rangeSpec); err != nil {
		return err
	}

	e.scanMu.Lock()
	if e.scanActive {
		e.scanMu.Unlock()
		return errors.WrapConflict("scan_network", errors.ErrScanInProgress)
	}
	e.scanActive = true
	e.scanStaged = nil
	e.scanMu.Unlock()

	go e.runScan(rangeSpec, opts)
	return nil
}

func (e *Engine) runScan(rangeSpec string, opts scanner.Options) {
	defer func() {
		e.scanMu.Lock()
		e.scanActive = false
		e.scanMu.Unlock()
	}()

	result, err := e.scanner.Scan(e.lifeCtx, rangeSpec, opts)
	if err != nil {
		e.log.Error().Err(err).Str("range", rangeSpec).Msg("Scan failed to run")
		return
	}

	// Hosts found before a stop are kept either way; only a completed sweep
	// earns a history row.
	added := e.mergeStagedDevices()
	if result.State == scanner.StateIdleCompleted {
		record := &models.ScanRecord{
			ScanRange:       result.Range,
			TotalIPs:        result.TotalScanned,
			DiscoveredHosts: result.TotalFound,
			DurationMs:      result.DurationMs,
			StartedAt:       result.StartedAt,
			CompletedAt:     result.CompletedAt,
		}
		if err := e.store.AppendScanHistory(record); err != nil {
			e.log.Error().Err(err).Str("range", result.Range).Msg("Failed to record scan history")
		}
	}

	e.scanMu.Lock()
	e.lastScanTime = result.CompletedAt
	e.scanMu.Unlock()

	e.refreshDeviceGauges()
	e.log.Info().
		Str("range", result.Range).
		Str("state", string(result.State)).
		Int("found", result.TotalFound).
		Int("new_devices", added).
		Msg("Scan finished")
}

// StopScan cancels the sweep in progress.
func (e *Engine) StopScan() error {
	return e.scanner.Stop()
}

// ScanStatus reports the scanner's progress snapshot.
func (e *Engine) ScanStatus() scanner.Status {
	return e.scanner.Status()
}

// ScanHistory returns the most recent completed sweeps, newest first.
func (e *Engine) ScanHistory(limit int) ([]models.ScanRecord, error) {
	return e.store.ListScanHistory(limit)
}

// LastScanTime reports when the most recent sweep ended, zero before any.
func (e *Engine) LastScanTime() time.Time {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()
	return e.lastScanTime
}

// ProcessDiscoveredHost folds one responsive address into the engine. A known
// IP comes back from the dead on the spot; an unknown one is interrogated
// over SNMP with the candidate community strings, persisted, and staged for
// the registry merge at sweep end.
func (e *Engine) ProcessDiscoveredHost(ctx context.Context, h scanner.Host) {
	if dev, ok := e.deviceByIP(h.IP); ok {
		e.reviveDevice(dev)
		return
	}

	dev := e.identifyHost(ctx, h)
	if err := e.store.UpsertDevice(dev); err != nil {
		e.log.Error().Err(err).Str("ip", h.IP).Msg("Failed to persist discovered device")
		return
	}

	e.scanMu.Lock()
	e.scanStaged = append(e.scanStaged, dev)
	e.scanMu.Unlock()

	e.log.Info().
		Str("ip", dev.IP).
		Str("hostname", dev.Hostname).
		Str("community", dev.Community).
		Msg("New device discovered")
}

// reviveDevice marks a known device reachable again after it answered a
// sweep probe.
func (e *Engine) reviveDevice(dev models.Device) {
	was := dev.Status
	e.alerts.AutoResolve(dev.ID, models.AlertOffline, 0, config.Thresholds{})
	status := e.deriveStatus(dev.ID)
	if status == dev.Status {
		return
	}
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

// identifyHost walks the candidate communities looking for one the host
// answers to. When none works the host is registered anyway with the default
// community and its IP for a name.
func (e *Engine) identifyHost(ctx context.Context, h scanner.Host) *models.Device {
	dev := &models.Device{
		ID:        uuid.NewString(),
		IP:        h.IP,
		Hostname:  h.IP,
		Community: e.defaultCommunity(),
		Status:    models.StatusOnline,
	}

	for _, community := range e.communityCandidates() {
		sys, err := e.remoteProbe.CollectSystem(ctx, h.IP, community)
		if err != nil {
			continue
		}
		dev.Community = community
		if sys.Hostname != "" {
			dev.Hostname = sys.Hostname
		}
		dev.Description = sys.Description
		dev.Location = sys.Location
		dev.Contact = sys.Contact
		break
	}
	return dev
}

// communityCandidates is the ordered list walked during discovery: the
// configured default first, then the conventional strings.
func (e *Engine) communityCandidates() []string {
	candidates := []string{e.defaultCommunity(), "public", "private", "monitoring"}
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// mergeStagedDevices moves the sweep's staged discoveries into the registry.
func (e *Engine) mergeStagedDevices() int {
	e.scanMu.Lock()
	staged := e.scanStaged
	e.scanStaged = nil
	e.scanMu.Unlock()
	if len(staged) == 0 {
		return 0
	}

	e.mu.Lock()
	added := 0
	for _, dev := range staged {
		if _, exists := e.devices[dev.IP]; exists {
			continue
		}
		e.devices[dev.IP] = dev
		added++
	}
	e.mu.Unlock()
	return added
}
