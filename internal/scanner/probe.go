package scanner

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/R8355H0755/lan-insight/internal/errors"
)

const (
	methodICMP = "icmp"
	methodTCP  = "tcp"
)

// livenessPorts are dialed when ICMP gets no answer; plenty of hosts sit
// behind ping-dropping firewalls but still expose one of these.
var livenessPorts = []int{22, 80, 443}

// portTargets is the fixed list checked when a scan requests port detail.
var portTargets = []Port{
	{Port: 22, Service: "ssh"},
	{Port: 23, Service: "telnet"},
	{Port: 53, Service: "dns"},
	{Port: 80, Service: "http"},
	{Port: 443, Service: "https"},
	{Port: 161, Service: "snmp"},
	{Port: 162, Service: "snmp-trap"},
	{Port: 3389, Service: "rdp"},
}

// pingHost reports whether a host answers an ICMP echo or, failing that,
// accepts a TCP connection on a common port. The returned error is set only
// when the probe machinery itself failed, not when the host stayed silent.
var pingHost = func(ctx context.Context, ip string, timeout time.Duration) (alive bool, rttMs float64, method string, err error) {
	alive, rttMs, icmpErr := icmpPing(ctx, ip, timeout)
	if alive {
		return true, rttMs, methodICMP, nil
	}
	if tcpProbe(ctx, ip, timeout) {
		return true, 0, methodTCP, nil
	}
	return false, 0, "", icmpErr
}

// dialPort reports whether a TCP connection to ip:port succeeds.
var dialPort = func(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func icmpPing(ctx context.Context, ip string, timeout time.Duration) (bool, float64, error) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false, 0, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	// Unprivileged UDP echo so the collector runs without CAP_NET_RAW.
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false, 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return false, 0, nil
	}
	return true, float64(stats.AvgRtt.Microseconds()) / 1000.0, nil
}

// tcpProbe dials the liveness ports in parallel and succeeds on the first
// completed connection.
func tcpProbe(ctx context.Context, ip string, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hit := make(chan struct{}, len(livenessPorts))
	var wg sync.WaitGroup
	for _, port := range livenessPorts {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			if dialPort(probeCtx, ip, port, timeout) {
				hit <- struct{}{}
				cancel()
			}
		}(port)
	}
	go func() {
		wg.Wait()
		close(hit)
	}()

	_, ok := <-hit
	return ok
}

// scanPorts checks every target port concurrently and returns the open ones
// sorted by port number.
func scanPorts(ctx context.Context, ip string, timeout time.Duration) []Port {
	var (
		mu   sync.Mutex
		open []Port
		wg   sync.WaitGroup
	)
	for _, target := range portTargets {
		wg.Add(1)
		go func(target Port) {
			defer wg.Done()
			if dialPort(ctx, ip, target.Port, timeout) {
				mu.Lock()
				open = append(open, target)
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	sort.Slice(open, func(i, j int) bool { return open[i].Port < open[j].Port })
	return open
}

// PingResult is the outcome of a single-host reachability check.
type PingResult struct {
	IP     string  `json:"ip"`
	Alive  bool    `json:"alive"`
	RTTMs  float64 `json:"rtt_ms,omitempty"`
	Method string  `json:"method,omitempty"`
}

// PingHost probes one address outside of any sweep.
func PingHost(ctx context.Context, ip string, timeoutMs int) (*PingResult, error) {
	if _, err := parseIPv4(ip); err != nil {
		return nil, errors.WrapValidation("ping_host", err)
	}
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	alive, rtt, method, _ := pingHost(ctx, ip, time.Duration(timeoutMs)*time.Millisecond)
	result := &PingResult{IP: ip, Alive: alive}
	if alive {
		result.RTTMs = rtt
		result.Method = method
	}
	return result, nil
}

// PortScanResult lists the open target ports on one host.
type PortScanResult struct {
	IP        string `json:"ip"`
	OpenPorts []Port `json:"open_ports"`
}

// PortScan checks the fixed port list on one address outside of any sweep.
func PortScan(ctx context.Context, ip string, timeoutMs int) (*PortScanResult, error) {
	if _, err := parseIPv4(ip); err != nil {
		return nil, errors.WrapValidation("port_scan", err)
	}
	timeout := portConnectTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &PortScanResult{IP: ip, OpenPorts: scanPorts(ctx, ip, timeout)}, nil
}
