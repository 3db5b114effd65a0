// Package monitoring drives the polling loop. The Engine owns the device
// registry, dispatches poll tasks onto a bounded worker pool every tick,
// feeds samples through the threshold checks into the alert manager, and
// glues the scanner's discoveries back into the registry.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/R8355H0755/lan-insight/internal/alerts"
	"github.com/R8355H0755/lan-insight/internal/config"
	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/logging"
	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/remoteprobe"
	"github.com/R8355H0755/lan-insight/internal/scanner"
	"github.com/R8355H0755/lan-insight/internal/store"
)

var (
	cycleDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "laninsight",
			Subsystem: "monitoring",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of the most recent polling cycle in seconds.",
		},
	)
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "monitoring",
			Name:      "poll_cycles_total",
			Help:      "Total number of completed polling cycles.",
		},
	)
	cyclesCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "monitoring",
			Name:      "poll_cycles_coalesced_total",
			Help:      "Ticks skipped because the previous cycle was still running or a scan was active.",
		},
	)
	devicePolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "monitoring",
			Name:      "device_polls_total",
			Help:      "Total number of per-device polls by result.",
		},
		[]string{"result"},
	)
	devicesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "laninsight",
			Subsystem: "monitoring",
			Name:      "devices",
			Help:      "Number of registered devices by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(cycleDuration, cyclesTotal, cyclesCoalesced, devicePolls, devicesByStatus)
}

// HostProber samples the machine the engine runs on.
type HostProber interface {
	Collect(ctx context.Context) *models.Sample
	PrimaryIP(ctx context.Context) string
}

// RemoteProber queries devices over the management protocol.
type RemoteProber interface {
	CollectAll(ctx context.Context, ip, community string) (*models.Sample, error)
	CollectSystem(ctx context.Context, ip, community string) (*models.SystemSample, error)
	TestConnectivity(ctx context.Context, ip, community string) *remoteprobe.ConnectivityResult
	SetTimeout(d time.Duration)
	Close() error
}

// Sweeper runs network range sweeps.
type Sweeper interface {
	Scan(ctx context.Context, rangeSpec string, opts scanner.Options) (*scanner.Result, error)
	Stop() error
	Scanning() bool
	Status() scanner.Status
	OnDiscovered(fn func(scanner.Host))
}

// Deps bundles the engine's collaborators. All fields are required.
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Bus         *events.Broadcaster
	Alerts      *alerts.Manager
	Scanner     Sweeper
	HostProbe   HostProber
	RemoteProbe RemoteProber
}

// Engine orchestrates polling, discovery and alerting.
type Engine struct {
	mu  sync.RWMutex
	cfg *config.Config

	store       *store.Store
	bus         *events.Broadcaster
	alerts      *alerts.Manager
	scanner     Sweeper
	hostProbe   HostProber
	remoteProbe RemoteProber

	// devices is keyed by IP and written only from engine-owned paths:
	// registry operations, poll status updates and scan completion.
	devices map[string]*models.Device

	running      bool
	loopCancel   context.CancelFunc
	loopDone     chan struct{}
	tickWG       sync.WaitGroup
	resetTicker  chan time.Duration
	activeCycles int32 // accessed atomically

	scanMu       sync.Mutex
	scanActive   bool
	scanStaged   []*models.Device
	lastScanTime time.Time

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	startTime   time.Time
	lastCycleMs int64 // accessed atomically

	log zerolog.Logger
}

// New wires an Engine from its collaborators. Initialize must run before
// Start.
func New(deps Deps) *Engine {
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         deps.Config,
		store:       deps.Store,
		bus:         deps.Bus,
		alerts:      deps.Alerts,
		scanner:     deps.Scanner,
		hostProbe:   deps.HostProbe,
		remoteProbe: deps.RemoteProbe,
		devices:     make(map[string]*models.Device),
		resetTicker: make(chan time.Duration, 1),
		lifeCtx:     lifeCtx,
		lifeCancel:  lifeCancel,
		startTime:   time.Now(),
		log:         logging.Component("monitoring"),
	}
}

// Initialize loads the persisted configuration, hydrates the device registry,
// guarantees the localhost device exists and wires the scanner callback.
// A failure here is fatal to startup.
func (e *Engine) Initialize(ctx context.Context) error {
	stored, err := e.store.AllConfig()
	if err != nil {
		return errors.WrapFatal("initialize", err)
	}
	e.mu.Lock()
	e.cfg.ApplyStored(stored)
	snmpTimeout := time.Duration(e.cfg.SNMPTimeout) * time.Millisecond
	e.mu.Unlock()
	e.remoteProbe.SetTimeout(snmpTimeout)

	rows, err := e.store.ListDevices()
	if err != nil {
		return errors.WrapFatal("initialize", err)
	}
	e.mu.Lock()
	for i := range rows {
		d := rows[i]
		e.devices[d.IP] = &d
	}
	e.mu.Unlock()

	if err := e.ensureLocalDevice(ctx); err != nil {
		return errors.WrapFatal("initialize", err)
	}

	if err := e.alerts.Load(); err != nil {
		return errors.WrapFatal("initialize", err)
	}

	e.scanner.OnDiscovered(func(h scanner.Host) {
		e.ProcessDiscoveredHost(e.lifeCtx, h)
	})

	e.refreshDeviceGauges()
	e.log.Info().
		Int("devices", len(e.Devices())).
		Int("refresh_interval_s", e.refreshSeconds()).
		Msg("Monitoring engine initialized")
	return nil
}

// Start launches the polling loop and the daily maintenance job. Starting a
// running engine is a conflict.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.WrapConflict("start_monitoring", errors.ErrAlreadyRunning)
	}
	loopCtx, cancel := context.WithCancel(e.lifeCtx)
	e.running = true
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})
	interval := time.Duration(e.cfg.RefreshInterval) * time.Second
	done := e.loopDone
	e.mu.Unlock()

	e.log.Info().Dur("interval", interval).Msg("Starting monitoring loop")
	go e.run(loopCtx, interval, done)
	go e.runMaintenanceLoop(loopCtx)
	return nil
}

// Stop halts the polling loop and waits for in-flight poll tasks to drain.
// Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.loopCancel
	done := e.loopDone
	e.mu.Unlock()

	cancel()
	<-done
	e.tickWG.Wait()
	e.log.Info().Msg("Monitoring loop stopped")
}

// Close shuts the engine down for good: the loop, any running scan and the
// maintenance job all observe the cancellation.
func (e *Engine) Close() {
	e.Stop()
	e.lifeCancel()
}

// Running reports whether the polling loop is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) refreshSeconds() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.RefreshInterval
}

func (e *Engine) pollLimit(devices int) int {
	e.mu.RLock()
	limit := e.cfg.ConcurrentPolls
	e.mu.RUnlock()
	if limit <= 0 {
		limit = 1
	}
	if devices > 0 && devices < limit {
		limit = devices
	}
	return limit
}

func (e *Engine) thresholds() config.AlertThresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Thresholds
}

func (e *Engine) defaultCommunity() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.DefaultCommunity
}

func (e *Engine) retentionDays() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.MaxHistoryDays
}

// ensureLocalDevice inserts the localhost sentinel device on first run.
func (e *Engine) ensureLocalDevice(ctx context.Context) error {
	e.mu.RLock()
	var existing *models.Device
	for _, d := range e.devices {
		if d.IsLocal() {
			existing = d
			break
		}
	}
	e.mu.RUnlock()
	if existing != nil {
		return nil
	}

	ip := e.hostProbe.PrimaryIP(ctx)
	hostname := ip
	if sample := e.hostProbe.Collect(ctx); sample.System.Hostname != "" {
		hostname = sample.System.Hostname
	}
	local := &models.Device{
		ID:        models.LocalDeviceID,
		IP:        ip,
		Hostname:  hostname,
		Community: models.LocalCommunity,
		Status:    models.StatusUnknown,
	}
	if err := e.store.UpsertDevice(local); err != nil {
		return fmt.Errorf("register localhost device: %w", err)
	}
	e.mu.Lock()
	e.devices[local.IP] = local
	e.mu.Unlock()
	e.log.Info().Str("ip", ip).Str("hostname", hostname).Msg("Registered localhost device")
	return nil
}

func (e *Engine) refreshDeviceGauges() {
	counts := map[models.DeviceStatus]int{
		models.StatusUnknown:  0,
		models.StatusOnline:   0,
		models.StatusWarning:  0,
		models.StatusCritical: 0,
		models.StatusOffline:  0,
	}
	e.mu.RLock()
	for _, d := range e.devices {
		counts[d.Status]++
	}
	e.mu.RUnlock()
	for status, n := range counts {
		devicesByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
