// Package hostprobe samples the local machine: CPU, memory, disk, uptime and
// network interfaces. Every sub-metric walks a fallback chain and records its
// failures into the sample instead of raising; Collect always returns a Sample.
package hostprobe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gocpu "github.com/shirou/gopsutil/v4/cpu"
	godisk "github.com/shirou/gopsutil/v4/disk"
	gohost "github.com/shirou/gopsutil/v4/host"
	gomem "github.com/shirou/gopsutil/v4/mem"
	gonet "github.com/shirou/gopsutil/v4/net"
	goproc "github.com/shirou/gopsutil/v4/process"

	"github.com/R8355H0755/lan-insight/internal/logging"
	"github.com/R8355H0755/lan-insight/internal/models"
)

const (
	collectTimeout  = 10 * time.Second
	cpuSampleWindow = 100 * time.Millisecond
)

// System call wrappers for testing
var (
	cpuCounts      = gocpu.CountsWithContext
	cpuPercent     = gocpu.PercentWithContext
	virtualMemory  = gomem.VirtualMemoryWithContext
	diskUsage      = godisk.UsageWithContext
	diskPartitions = godisk.PartitionsWithContext
	hostInfo       = gohost.InfoWithContext
	hostUsers      = gohost.UsersWithContext
	netInterfaces  = gonet.InterfacesWithContext
	netIOCounters  = gonet.IOCountersWithContext
	runCommand     = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).Output()
	}
	readFile    = os.ReadFile
	processSelf = func(ctx context.Context) (processHandle, error) {
		return goproc.NewProcessWithContext(ctx, int32(os.Getpid()))
	}
	goos = runtime.GOOS
)

type processHandle interface {
	TimesWithContext(ctx context.Context) (*gocpu.TimesStat, error)
}

// Probe collects samples for the local device.
type Probe struct {
	log zerolog.Logger
}

// New creates a host probe.
func New() *Probe {
	return &Probe{log: logging.Component("hostprobe")}
}

// Collect gathers a point-in-time sample of the host. It never returns an
// error: failed sub-metrics stay nil and the reasons land in sample.Errors.
func (p *Probe) Collect(ctx context.Context) *models.Sample {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	sample := &models.Sample{}

	p.collectSystem(collectCtx, sample)

	if usage, err := p.collectCPU(collectCtx); err == nil {
		sample.CPU = &models.CPUSample{UsagePercent: usage}
	} else {
		sample.AddError(fmt.Sprintf("cpu: %v", err))
	}

	if mem, err := p.collectMemory(collectCtx); err == nil {
		sample.Memory = mem
		sample.System.TotalMemoryBytes = mem.TotalBytes
	} else {
		sample.AddError(fmt.Sprintf("memory: %v", err))
	}

	if disk, err := p.collectDisk(collectCtx); err == nil {
		sample.Disk = disk
	} else {
		sample.AddError(fmt.Sprintf("disk: %v", err))
	}

	if ifaces, err := p.collectInterfaces(collectCtx); err == nil {
		sample.Interfaces = ifaces
	} else {
		sample.AddError(fmt.Sprintf("interfaces: %v", err))
	}

	return sample
}

func (p *Probe) collectSystem(ctx context.Context, sample *models.Sample) {
	sample.System.Platform = goos
	sample.System.Arch = runtime.GOARCH

	if cores, err := cpuCounts(ctx, true); err == nil {
		sample.System.CPUCores = cores
	}

	info, err := hostInfo(ctx)
	if err != nil {
		if hostname, herr := os.Hostname(); herr == nil {
			sample.System.Hostname = hostname
		}
		sample.AddError(fmt.Sprintf("system: %v", err))
		return
	}

	sample.System.Hostname = info.Hostname
	sample.System.UptimeSeconds = int64(info.Uptime)
	sample.System.Processes = int(info.Procs)
	sample.System.Description = strings.TrimSpace(fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.KernelVersion))
	if info.Platform != "" {
		sample.System.Platform = info.Platform
	}

	if users, err := hostUsers(ctx); err == nil {
		sample.System.Users = len(users)
	}
}

// collectCPU walks the fallback chain: the OS-native sampled read first, the
// platform command second, the process-level time delta last.
func (p *Probe) collectCPU(ctx context.Context) (float64, error) {
	if percentages, err := cpuPercent(ctx, cpuSampleWindow, false); err == nil && len(percentages) > 0 {
		return models.RoundPercent(percentages[0]), nil
	} else if err != nil {
		p.log.Debug().Err(err).Msg("Native CPU read failed, trying platform command")
	}

	if usage, err := p.collectCPUByCommand(ctx); err == nil {
		return usage, nil
	} else {
		p.log.Debug().Err(err).Msg("Platform CPU command failed, trying process delta")
	}

	return p.collectCPUByProcessDelta(ctx)
}

func (p *Probe) collectCPUByCommand(ctx context.Context) (float64, error) {
	switch goos {
	case "linux":
		return p.collectCPUFromProcStat(ctx)
	case "darwin":
		out, err := runCommand(ctx, "top", "-l", "1", "-n", "0")
		if err != nil {
			return 0, fmt.Errorf("top: %w", err)
		}
		return parseTopCPULine(string(out))
	case "windows":
		out, err := runCommand(ctx, "powershell", "-NoProfile", "-Command",
			"(Get-CimInstance Win32_Processor | Measure-Object -Property LoadPercentage -Average).Average")
		if err == nil {
			if usage, perr := parseFirstNumber(string(out)); perr == nil {
				return models.RoundPercent(usage), nil
			}
		}
		out, err = runCommand(ctx, "wmic", "cpu", "get", "loadpercentage")
		if err != nil {
			return 0, fmt.Errorf("wmic: %w", err)
		}
		usage, perr := parseFirstNumber(string(out))
		if perr != nil {
			return 0, perr
		}
		return models.RoundPercent(usage), nil
	default:
		return 0, fmt.Errorf("no platform CPU command for %s", goos)
	}
}

// collectCPUFromProcStat reads the aggregate CPU line twice, 100 ms apart,
// and derives usage from the idle share of the delta.
func (p *Probe) collectCPUFromProcStat(ctx context.Context) (float64, error) {
	first, err := readProcStatCPU()
	if err != nil {
		return 0, err
	}
	select {
	case <-time.After(cpuSampleWindow):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	second, err := readProcStatCPU()
	if err != nil {
		return 0, err
	}

	if second.total <= first.total {
		return 0, fmt.Errorf("proc stat did not advance")
	}
	totalDelta := second.total - first.total
	idleDelta := second.idle - first.idle
	usage := 100 - (float64(idleDelta)/float64(totalDelta))*100
	return models.RoundPercent(usage), nil
}

// collectCPUByProcessDelta approximates host load from this process's CPU
// time over a short window. Last resort only.
func (p *Probe) collectCPUByProcessDelta(ctx context.Context) (float64, error) {
	proc, err := processSelf(ctx)
	if err != nil {
		return 0, fmt.Errorf("process handle: %w", err)
	}
	first, err := proc.TimesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("process times: %w", err)
	}
	start := time.Now()
	select {
	case <-time.After(cpuSampleWindow):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	second, err := proc.TimesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("process times: %w", err)
	}

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0, fmt.Errorf("zero elapsed window")
	}
	busy := (second.User + second.System) - (first.User + first.System)
	return models.RoundPercent(busy / elapsed * 100), nil
}

// collectMemory reads totals from the OS; used is total minus free.
func (p *Probe) collectMemory(ctx context.Context) (*models.MemorySample, error) {
	memStats, err := virtualMemory(ctx)
	if err != nil {
		return nil, err
	}
	if memStats.Total == 0 {
		return nil, fmt.Errorf("zero total memory reported")
	}
	used := memStats.Total - memStats.Free
	return &models.MemorySample{
		UsagePercent: models.UsedPercent(used, memStats.Total),
		TotalBytes:   memStats.Total,
		UsedBytes:    used,
	}, nil
}

// collectDisk reads the root filesystem via the OS, summing logical drives on
// Windows; the df command is the fallback on unix-likes.
func (p *Probe) collectDisk(ctx context.Context) (*models.DiskSample, error) {
	if goos == "windows" {
		return p.collectDiskWindows(ctx)
	}

	if usage, err := diskUsage(ctx, "/"); err == nil && usage.Total > 0 {
		return &models.DiskSample{
			UsagePercent: models.UsedPercent(usage.Used, usage.Total),
			TotalBytes:   usage.Total,
			UsedBytes:    usage.Used,
		}, nil
	} else if err != nil {
		p.log.Debug().Err(err).Msg("Native disk read failed, trying df")
	}

	out, err := runCommand(ctx, "df", "-h", "/")
	if err != nil {
		return nil, fmt.Errorf("df: %w", err)
	}
	return parseDFRoot(string(out))
}

// collectDiskWindows sums size and free space across local drives, skipping
// zero-size entries (empty card readers and the like).
func (p *Probe) collectDiskWindows(ctx context.Context) (*models.DiskSample, error) {
	partitions, err := diskPartitions(ctx, false)
	if err != nil {
		return nil, err
	}

	var total, used uint64
	for _, part := range partitions {
		usage, err := diskUsage(ctx, part.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		total += usage.Total
		used += usage.Used
	}
	if total == 0 {
		return nil, fmt.Errorf("no non-empty local drives found")
	}
	return &models.DiskSample{
		UsagePercent: models.UsedPercent(used, total),
		TotalBytes:   total,
		UsedBytes:    used,
	}, nil
}

// collectInterfaces maps every host NIC into an interface row, with octet
// counters merged from the OS counters when available.
func (p *Probe) collectInterfaces(ctx context.Context) ([]models.NetworkInterface, error) {
	ifaces, err := netInterfaces(ctx)
	if err != nil {
		return nil, err
	}

	ioCounters, err := netIOCounters(ctx, true)
	if err != nil {
		ioCounters = nil
	}
	ioMap := make(map[string]gonet.IOCountersStat, len(ioCounters))
	for _, stat := range ioCounters {
		ioMap[stat.Name] = stat
	}

	now := time.Now()
	out := make([]models.NetworkInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		counter := ioMap[iface.Name]
		out = append(out, models.NetworkInterface{
			Index:       iface.Index,
			Name:        iface.Name,
			Description: strings.Join(addressStrings(iface.Addrs), ", "),
			Type:        interfaceType(iface.Flags),
			MAC:         iface.HardwareAddr,
			AdminStatus: flagStatus(iface.Flags),
			OperStatus:  flagStatus(iface.Flags),
			InOctets:    counter.BytesRecv,
			OutOctets:   counter.BytesSent,
			Timestamp:   now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// NIC is one host interface with its addressing, used for primary-address
// selection and the device API.
type NIC struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
	MAC       string   `json:"mac,omitempty"`
	Internal  bool     `json:"internal"`
}

// ListNICs enumerates all host interfaces including loopbacks.
func (p *Probe) ListNICs(ctx context.Context) ([]NIC, error) {
	ifaces, err := netInterfaces(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NIC, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, NIC{
			Name:      iface.Name,
			Addresses: addressStrings(iface.Addrs),
			MAC:       iface.HardwareAddr,
			Internal:  isLoopback(iface.Flags),
		})
	}
	return out, nil
}

// PrimaryIP returns the first IPv4 address of a non-internal interface, or
// 127.0.0.1 when none qualifies.
func (p *Probe) PrimaryIP(ctx context.Context) string {
	nics, err := p.ListNICs(ctx)
	if err != nil {
		return "127.0.0.1"
	}
	for _, nic := range nics {
		if nic.Internal {
			continue
		}
		for _, addr := range nic.Addresses {
			if ip := ipv4From(addr); ip != "" {
				return ip
			}
		}
	}
	return "127.0.0.1"
}

func addressStrings(addrs []gonet.InterfaceAddr) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Addr != "" {
			out = append(out, addr.Addr)
		}
	}
	return out
}

func flagStatus(flags []string) string {
	for _, flag := range flags {
		if strings.EqualFold(flag, "up") {
			return "up"
		}
	}
	return "down"
}

func interfaceType(flags []string) string {
	if isLoopback(flags) {
		return "loopback"
	}
	return "ethernet"
}

func isLoopback(flags []string) bool {
	for _, flag := range flags {
		if strings.EqualFold(flag, "loopback") {
			return true
		}
	}
	return false
}
