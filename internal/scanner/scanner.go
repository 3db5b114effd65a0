// Package scanner sweeps IPv4 ranges for responsive hosts. A sweep probes
// the range in fixed-size batches with a short pause between batches, emits
// progress and discovery events while it runs, and optionally checks a fixed
// list of well-known ports on every responsive host.
package scanner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/logging"
)

// State describes where the scanner is in its lifecycle. The idle_* states
// record how the most recent sweep ended.
type State string

const (
	StateIdle          State = "idle"
	StateScanning      State = "scanning"
	StateIdleCompleted State = "idle_completed"
	StateIdleStopped   State = "idle_stopped"
	StateIdleError     State = "idle_error"
)

const (
	defaultTimeoutMs   = 2000
	defaultConcurrent  = 50
	portConnectTimeout = time.Second
	interBatchDelay    = 100 * time.Millisecond
)

var (
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Total number of network scans by result status.",
		},
		[]string{"result"},
	)
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "laninsight",
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "Duration of network scans in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	lastScanHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "laninsight",
			Subsystem: "scanner",
			Name:      "last_scan_hosts",
			Help:      "Number of responsive hosts found in the most recent scan.",
		},
	)
	lastScanErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "laninsight",
			Subsystem: "scanner",
			Name:      "last_scan_errors",
			Help:      "Number of probe errors encountered in the most recent scan.",
		},
	)
)

func init() {
	prometheus.MustRegister(scansTotal, scanDuration, lastScanHosts, lastScanErrors)
}

// Options tune a single sweep.
type Options struct {
	TimeoutMs    int  `json:"timeout_ms"`
	Concurrent   int  `json:"concurrent"`
	IncludePorts bool `json:"include_ports"`
}

func (o Options) withDefaults() Options {
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = defaultTimeoutMs
	}
	if o.Concurrent <= 0 {
		o.Concurrent = defaultConcurrent
	}
	return o
}

// Port is one well-known service port checked during a port scan.
type Port struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
}

// Host is one responsive address found by a sweep.
type Host struct {
	IP        string  `json:"ip"`
	RTTMs     float64 `json:"rtt_ms,omitempty"`
	Method    string  `json:"method"`
	OpenPorts []Port  `json:"open_ports,omitempty"`
}

// Result summarizes a finished sweep.
type Result struct {
	Range        string    `json:"range"`
	State        State     `json:"state"`
	TotalScanned int       `json:"total_scanned"`
	TotalFound   int       `json:"total_found"`
	Hosts        []Host    `json:"hosts"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// Status is a point-in-time snapshot of scan progress.
type Status struct {
	State     State   `json:"state"`
	Range     string  `json:"range,omitempty"`
	Scanned   int     `json:"scanned"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Found     int     `json:"found"`
	CurrentIP string  `json:"current_ip,omitempty"`
}

// Scanner runs at most one sweep at a time and publishes its lifecycle on
// the event bus.
type Scanner struct {
	mu         sync.Mutex
	state      State
	rangeSpec  string
	scanned    int
	total      int
	found      int
	currentIP  string
	cancelScan context.CancelFunc

	onDiscovered func(Host)

	bus *events.Broadcaster
	log zerolog.Logger
}

// New creates an idle Scanner publishing to bus.
func New(bus *events.Broadcaster) *Scanner {
	return &Scanner{
		state: StateIdle,
		bus:   bus,
		log:   logging.Component("scanner"),
	}
}

// OnDiscovered registers a callback invoked synchronously for every
// responsive host, after the host_discovered event is published. Unlike bus
// subscribers the callback is never dropped, so registration work belongs
// here.
func (s *Scanner) OnDiscovered(fn func(Host)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDiscovered = fn
}

type probeOutcome struct {
	alive bool
	host  Host
	err   error
}

// Scan sweeps rangeSpec and blocks until the sweep ends. A second scan
// request while one is running is rejected with a conflict error.
func (s *Scanner) Scan(ctx context.Context, rangeSpec string, opts Options) (*Result, error) {
	ips, err := ParseRange(rangeSpec)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	s.mu.Lock()
	if s.state == StateScanning {
		s.mu.Unlock()
		return nil, errors.WrapConflict("scan_network", errors.ErrScanInProgress)
	}
	scanCtx, cancel := context.WithCancel(ctx)
	s.state = StateScanning
	s.rangeSpec = rangeSpec
	s.scanned = 0
	s.total = len(ips)
	s.found = 0
	s.currentIP = ""
	s.cancelScan = cancel
	onDiscovered := s.onDiscovered
	s.mu.Unlock()
	defer cancel()

	started := time.Now()
	s.log.Info().
		Str("range", rangeSpec).
		Int("total_ips", len(ips)).
		Int("concurrent", opts.Concurrent).
		Bool("include_ports", opts.IncludePorts).
		Msg("Starting network scan")
	s.bus.Publish(events.TypeScanStarted, map[string]any{
		"range":     rangeSpec,
		"total_ips": len(ips),
	})

	// In-flight probes are never cut short: each one bounds itself with the
	// probe timeout, and a stop request takes effect at the batch boundary.
	probeCtx := context.WithoutCancel(scanCtx)
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond

	var (
		hosts     []Host
		probeErrs int
	)

batches:
	for offset := 0; offset < len(ips); offset += opts.Concurrent {
		if scanCtx.Err() != nil {
			break
		}
		end := offset + opts.Concurrent
		if end > len(ips) {
			end = len(ips)
		}
		batch := ips[offset:end]

		outcomes := make([]probeOutcome, len(batch))
		var wg sync.WaitGroup
		for i, ip := range batch {
			wg.Add(1)
			go func(i int, ip string) {
				defer wg.Done()
				alive, rtt, method, err := pingHost(probeCtx, ip, timeout)
				if !alive {
					outcomes[i] = probeOutcome{err: err}
					return
				}
				host := Host{IP: ip, RTTMs: rtt, Method: method}
				if opts.IncludePorts {
					host.OpenPorts = scanPorts(probeCtx, ip, portConnectTimeout)
				}
				outcomes[i] = probeOutcome{alive: true, host: host}
			}(i, ip)
		}
		wg.Wait()

		for i, ip := range batch {
			s.mu.Lock()
			s.scanned++
			s.currentIP = ip
			scanned, total := s.scanned, s.total
			s.mu.Unlock()

			outcome := outcomes[i]
			if outcome.err != nil {
				probeErrs++
				s.log.Debug().Err(outcome.err).Str("ip", ip).Msg("Probe failed")
			}

			result := "offline"
			if outcome.alive {
				result = "online"
			}
			s.bus.Publish(events.TypeScanProgress, map[string]any{
				"percent": progressPercent(scanned, total),
				"ip":      ip,
				"result":  result,
			})
			if !outcome.alive {
				continue
			}

			hosts = append(hosts, outcome.host)
			s.mu.Lock()
			s.found = len(hosts)
			s.mu.Unlock()

			s.log.Debug().
				Str("ip", outcome.host.IP).
				Float64("rtt_ms", outcome.host.RTTMs).
				Str("method", outcome.host.Method).
				Int("open_ports", len(outcome.host.OpenPorts)).
				Msg("Host responded")
			s.bus.Publish(events.TypeHostDiscovered, hostEventData(outcome.host))
			if onDiscovered != nil {
				onDiscovered(outcome.host)
			}
		}

		if end < len(ips) {
			select {
			case <-time.After(interBatchDelay):
			case <-scanCtx.Done():
				break batches
			}
		}
	}

	return s.finalize(scanCtx, rangeSpec, started, hosts, probeErrs), nil
}

func (s *Scanner) finalize(ctx context.Context, rangeSpec string, started time.Time, hosts []Host, probeErrs int) *Result {
	duration := time.Since(started)

	var final State
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		final = StateIdleError
	case ctx.Err() != nil:
		final = StateIdleStopped
	default:
		final = StateIdleCompleted
	}

	s.mu.Lock()
	scanned := s.scanned
	s.state = final
	s.currentIP = ""
	s.cancelScan = nil
	s.mu.Unlock()

	scanDuration.Observe(duration.Seconds())
	lastScanHosts.Set(float64(len(hosts)))
	lastScanErrors.Set(float64(probeErrs))

	switch final {
	case StateIdleStopped:
		scansTotal.WithLabelValues("stopped").Inc()
		s.log.Info().
			Str("range", rangeSpec).
			Int("total_scanned", scanned).
			Int("total_found", len(hosts)).
			Msg("Scan stopped")
		s.bus.Publish(events.TypeScanStopped, map[string]any{
			"range":         rangeSpec,
			"total_scanned": scanned,
			"total_found":   len(hosts),
		})
	case StateIdleError:
		scansTotal.WithLabelValues("error").Inc()
		s.log.Warn().
			Str("range", rangeSpec).
			Dur("duration", duration).
			Msg("Scan aborted by deadline")
		s.bus.Publish(events.TypeScanError, map[string]any{
			"range": rangeSpec,
			"error": ctx.Err().Error(),
		})
	default:
		scansTotal.WithLabelValues("completed").Inc()
		s.log.Info().
			Str("range", rangeSpec).
			Int("total_scanned", scanned).
			Int("total_found", len(hosts)).
			Dur("duration", duration).
			Msg("Scan completed")
		s.bus.Publish(events.TypeScanCompleted, map[string]any{
			"range":         rangeSpec,
			"total_scanned": scanned,
			"total_found":   len(hosts),
			"duration_ms":   duration.Milliseconds(),
		})
	}

	return &Result{
		Range:        rangeSpec,
		State:        final,
		TotalScanned: scanned,
		TotalFound:   len(hosts),
		Hosts:        hosts,
		StartedAt:    started.UTC(),
		CompletedAt:  started.Add(duration).UTC(),
		DurationMs:   duration.Milliseconds(),
	}
}

// Stop cancels the sweep in progress. The current batch finishes its
// in-flight probes before the sweep winds down.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateScanning || s.cancelScan == nil {
		return errors.WrapConflict("stop_scan", fmt.Errorf("no scan in progress"))
	}
	s.cancelScan()
	return nil
}

// Scanning reports whether a sweep is currently running.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateScanning
}

// Status reports a snapshot of scan progress.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state,
		Range:     s.rangeSpec,
		Scanned:   s.scanned,
		Total:     s.total,
		Percent:   progressPercent(s.scanned, s.total),
		Found:     s.found,
		CurrentIP: s.currentIP,
	}
}

func progressPercent(scanned, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(scanned)/float64(total)*1000) / 10
}

func hostEventData(h Host) map[string]any {
	data := map[string]any{"ip": h.IP, "method": h.Method}
	if h.RTTMs > 0 {
		data["rtt_ms"] = h.RTTMs
	}
	if len(h.OpenPorts) > 0 {
		data["ports"] = h.OpenPorts
	}
	return data
}
