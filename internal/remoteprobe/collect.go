package remoteprobe

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"golang.org/x/sync/errgroup"

	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
)

// run executes one SNMP operation against the cached session for the target,
// dropping the session on failure so the next operation redials.
func (p *Probe) run(ctx context.Context, ip, community string, fn func(conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := p.acquire(ip, community)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("session to %s was invalidated", ip)
	}
	if err := fn(s.conn); err != nil {
		p.drop(ip, community, s)
		_ = s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// CollectAll gathers system, CPU, memory, disk and interface data
// concurrently. It always returns a sample; the error is non-nil only when
// every sub-collection failed, which the engine treats as unreachable.
func (p *Probe) CollectAll(ctx context.Context, ip, community string) (*models.Sample, error) {
	start := time.Now()
	sample := &models.Sample{}

	var (
		mu        sync.Mutex
		succeeded int
		firstErr  error
	)
	fail := func(err error) {
		mu.Lock()
		sample.AddError(err.Error())
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	ok := func() {
		mu.Lock()
		succeeded++
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		if sys, err := p.CollectSystem(ctx, ip, community); err == nil {
			sample.System = *sys
			ok()
		} else {
			fail(err)
		}
		return nil
	})
	g.Go(func() error {
		if usage, err := p.CollectCPU(ctx, ip, community); err == nil {
			sample.CPU = &models.CPUSample{UsagePercent: usage}
			ok()
		} else {
			fail(err)
		}
		return nil
	})
	g.Go(func() error {
		if mem, err := p.CollectMemory(ctx, ip, community); err == nil {
			sample.Memory = mem
			ok()
		} else {
			fail(err)
		}
		return nil
	})
	g.Go(func() error {
		if disk, err := p.CollectDisk(ctx, ip, community); err == nil {
			sample.Disk = disk
			ok()
		} else {
			fail(err)
		}
		return nil
	})
	g.Go(func() error {
		if ifaces, err := p.CollectInterfaces(ctx, ip, community); err == nil {
			sample.Interfaces = ifaces
			ok()
		} else {
			fail(err)
		}
		return nil
	})
	_ = g.Wait()

	if sample.Memory != nil {
		sample.System.TotalMemoryBytes = sample.Memory.TotalBytes
	}

	p.log.Debug().
		Str("ip", ip).
		Int("succeeded", succeeded).
		Int("failed", len(sample.Errors)).
		Dur("duration", time.Since(start)).
		Msg("SNMP collection finished")

	if succeeded == 0 {
		return sample, errors.WrapUnreachable("collect_all", "", ip, firstErr)
	}
	return sample, nil
}

// CollectSystem reads the system group plus the host-resources summary
// scalars. Uptime arrives in centiseconds and is stored as seconds.
func (p *Probe) CollectSystem(ctx context.Context, ip, community string) (*models.SystemSample, error) {
	var sys models.SystemSample
	err := p.run(ctx, ip, community, func(c conn) error {
		pkt, err := c.Get([]string{oidSysDescr, oidSysObjectID, oidSysUpTime, oidSysContact, oidSysName, oidSysLocation})
		if err != nil {
			return err
		}
		for _, pdu := range pkt.Variables {
			switch normalizeOID(pdu.Name) {
			case oidSysDescr:
				sys.Description = pduString(pdu)
			case oidSysObjectID:
				sys.ObjectID = pduString(pdu)
			case oidSysUpTime:
				if ticks, ok := pduUint(pdu); ok {
					sys.UptimeSeconds = int64(ticks / 100)
				}
			case oidSysContact:
				sys.Contact = pduString(pdu)
			case oidSysName:
				sys.Hostname = pduString(pdu)
			case oidSysLocation:
				sys.Location = pduString(pdu)
			}
		}

		// Host-resources scalars are best-effort; agents without the MIB
		// answer with NoSuchObject.
		if pkt, err := c.Get([]string{oidHrSystemProcesses, oidHrSystemNumUsers, oidHrMemorySize}); err == nil {
			for _, pdu := range pkt.Variables {
				switch normalizeOID(pdu.Name) {
				case oidHrSystemProcesses:
					if v, ok := pduInt(pdu); ok {
						sys.Processes = int(v)
					}
				case oidHrSystemNumUsers:
					if v, ok := pduInt(pdu); ok {
						sys.Users = int(v)
					}
				case oidHrMemorySize:
					if v, ok := pduUint(pdu); ok {
						sys.TotalMemoryBytes = v * 1024
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient("collect_system", ip, err)
	}
	if sys.Hostname == "" && sys.Description == "" && sys.UptimeSeconds == 0 {
		return nil, errors.WrapTransient("collect_system", ip, fmt.Errorf("device returned no system values"))
	}
	return &sys, nil
}

// CollectCPU averages the processor load table; devices without it fall back
// to the UCD 1-minute load average scaled by 10 and capped at 100.
func (p *Probe) CollectCPU(ctx context.Context, ip, community string) (float64, error) {
	var loads []int64
	walkErr := p.run(ctx, ip, community, func(c conn) error {
		pdus, err := c.BulkWalkAll(oidHrProcessorLoad)
		if err != nil {
			return err
		}
		for _, pdu := range pdus {
			if v, ok := pduInt(pdu); ok {
				loads = append(loads, v)
			}
		}
		return nil
	})
	if walkErr == nil && len(loads) > 0 {
		var sum int64
		for _, v := range loads {
			sum += v
		}
		return models.RoundPercent(float64(sum) / float64(len(loads))), nil
	}

	var (
		load     float64
		haveLoad bool
	)
	loadErr := p.run(ctx, ip, community, func(c conn) error {
		pkt, err := c.Get([]string{oidLaLoad1})
		if err != nil {
			return err
		}
		if len(pkt.Variables) > 0 {
			load, haveLoad = pduFloat(pkt.Variables[0])
		}
		return nil
	})
	if loadErr == nil && haveLoad {
		usage := load * 10
		if usage > 100 {
			usage = 100
		}
		return models.RoundPercent(usage), nil
	}

	err := walkErr
	if err == nil {
		err = loadErr
	}
	if err == nil {
		err = fmt.Errorf("no processor load or load average reported")
	}
	return 0, errors.WrapTransient("collect_cpu", ip, err)
}

// CollectMemory prefers the UCD real-memory scalars (KB) and falls back to a
// host-resources storage row describing memory or RAM.
func (p *Probe) CollectMemory(ctx context.Context, ip, community string) (*models.MemorySample, error) {
	var sample *models.MemorySample
	ucdErr := p.run(ctx, ip, community, func(c conn) error {
		pkt, err := c.Get([]string{
			oidMemTotalReal, oidMemAvailReal,
			oidMemTotalSwap, oidMemAvailSwap,
			oidMemBuffer, oidMemCached,
		})
		if err != nil {
			return err
		}
		if len(pkt.Variables) >= 2 {
			total, okTotal := pduInt(pkt.Variables[0])
			avail, okAvail := pduInt(pkt.Variables[1])
			if okTotal && okAvail && total > 0 {
				totalBytes := uint64(total) * 1024
				availBytes := uint64(avail) * 1024
				if availBytes > totalBytes {
					availBytes = totalBytes
				}
				used := totalBytes - availBytes
				sample = &models.MemorySample{
					UsagePercent: models.UsedPercent(used, totalBytes),
					TotalBytes:   totalBytes,
					UsedBytes:    used,
				}
			}
		}
		if len(pkt.Variables) >= 6 {
			swapTotal, _ := pduInt(pkt.Variables[2])
			swapAvail, _ := pduInt(pkt.Variables[3])
			buffers, _ := pduInt(pkt.Variables[4])
			cached, _ := pduInt(pkt.Variables[5])
			p.log.Trace().
				Str("ip", ip).
				Int64("swap_total_kb", swapTotal).
				Int64("swap_avail_kb", swapAvail).
				Int64("buffers_kb", buffers).
				Int64("cached_kb", cached).
				Msg("UCD memory scalars")
		}
		return nil
	})
	if ucdErr == nil && sample != nil {
		return sample, nil
	}

	rows, storageErr := p.collectStorage(ctx, ip, community)
	if storageErr == nil {
		if row, ok := findMemoryRow(rows); ok {
			total := row.TotalBytes()
			used := row.UsedBytes()
			if used > total {
				used = total
			}
			return &models.MemorySample{
				UsagePercent: models.UsedPercent(used, total),
				TotalBytes:   total,
				UsedBytes:    used,
			}, nil
		}
		storageErr = fmt.Errorf("no memory row in storage table")
	}

	err := ucdErr
	if err == nil {
		err = storageErr
	}
	return nil, errors.WrapTransient("collect_memory", ip, err)
}

// findMemoryRow picks the storage row describing memory, preferring physical
// memory over virtual when a device reports both.
func findMemoryRow(rows []storageRow) (storageRow, bool) {
	var (
		match storageRow
		found bool
	)
	for _, row := range rows {
		if row.TotalBytes() == 0 {
			continue
		}
		descr := strings.ToLower(row.Descr)
		if !strings.Contains(descr, "memory") && !strings.Contains(descr, "ram") {
			continue
		}
		if strings.Contains(descr, "physical") {
			return row, true
		}
		if !found {
			match, found = row, true
		}
	}
	return match, found
}

// CollectDisk aggregates the storage rows that describe filesystems or disks.
func (p *Probe) CollectDisk(ctx context.Context, ip, community string) (*models.DiskSample, error) {
	rows, err := p.collectStorage(ctx, ip, community)
	if err != nil {
		return nil, errors.WrapTransient("collect_disk", ip, err)
	}

	var total, used uint64
	for _, row := range rows {
		if !isDiskRow(row.Descr) {
			continue
		}
		t := row.TotalBytes()
		if t == 0 {
			continue
		}
		u := row.UsedBytes()
		if u > t {
			u = t
		}
		total += t
		used += u
	}
	if total == 0 {
		return nil, errors.WrapTransient("collect_disk", ip, fmt.Errorf("no disk rows in storage table"))
	}
	return &models.DiskSample{
		UsagePercent: models.UsedPercent(used, total),
		TotalBytes:   total,
		UsedBytes:    used,
	}, nil
}

func isDiskRow(descr string) bool {
	d := strings.ToLower(descr)
	return strings.Contains(d, "/") || strings.Contains(d, "c:") || strings.Contains(d, "disk")
}

// CollectInterfaces walks the interface table into interface rows sorted by
// index.
func (p *Probe) CollectInterfaces(ctx context.Context, ip, community string) ([]models.NetworkInterface, error) {
	var pdus []gosnmp.SnmpPDU
	err := p.run(ctx, ip, community, func(c conn) error {
		var walkErr error
		pdus, walkErr = c.BulkWalkAll(oidIfEntry)
		return walkErr
	})
	if err != nil {
		return nil, errors.WrapTransient("collect_interfaces", ip, err)
	}

	rows := make(map[int]*models.NetworkInterface)
	row := func(index int) *models.NetworkInterface {
		r, ok := rows[index]
		if !ok {
			r = &models.NetworkInterface{Index: index}
			rows[index] = r
		}
		return r
	}
	for _, pdu := range pdus {
		col, index, ok := columnIndex(pdu.Name, oidIfEntry)
		if !ok {
			continue
		}
		switch col {
		case colIfIndex:
			row(index)
		case colIfDescr:
			row(index).Name = pduString(pdu)
		case colIfType:
			if v, ok := pduInt(pdu); ok {
				row(index).Type = ifTypeName(int(v))
			}
		case colIfSpeed:
			if v, ok := pduUint(pdu); ok {
				row(index).Speed = v
			}
		case colIfPhysAddress:
			row(index).MAC = macString(pdu)
		case colIfAdminStatus:
			if v, ok := pduInt(pdu); ok {
				row(index).AdminStatus = ifStatusName(int(v))
			}
		case colIfOperStatus:
			if v, ok := pduInt(pdu); ok {
				row(index).OperStatus = ifStatusName(int(v))
			}
		case colIfInOctets:
			if v, ok := pduUint(pdu); ok {
				row(index).InOctets = v
			}
		case colIfOutOctets:
			if v, ok := pduUint(pdu); ok {
				row(index).OutOctets = v
			}
		}
	}
	if len(rows) == 0 {
		return nil, errors.WrapTransient("collect_interfaces", ip, fmt.Errorf("interface table empty"))
	}

	now := time.Now()
	out := make([]models.NetworkInterface, 0, len(rows))
	for _, r := range rows {
		r.Timestamp = now
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// ConnectivityResult is the outcome of a single reachability check.
type ConnectivityResult struct {
	Reachable bool                 `json:"reachable"`
	LatencyMs int64                `json:"latency_ms"`
	System    *models.SystemSample `json:"system,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// TestConnectivity checks whether the device answers system queries for the
// given community. It never returns an error; failures land in the result.
func (p *Probe) TestConnectivity(ctx context.Context, ip, community string) *ConnectivityResult {
	start := time.Now()
	sys, err := p.CollectSystem(ctx, ip, community)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &ConnectivityResult{Reachable: false, LatencyMs: latency, Error: err.Error()}
	}
	return &ConnectivityResult{Reachable: true, LatencyMs: latency, System: sys}
}

// storageRow is one hrStorageTable row; sizes are in allocation units.
type storageRow struct {
	Index int
	Type  string
	Descr string
	Units uint64
	Size  uint64
	Used  uint64
}

func (r storageRow) TotalBytes() uint64 { return r.Size * r.Units }
func (r storageRow) UsedBytes() uint64  { return r.Used * r.Units }

func (p *Probe) collectStorage(ctx context.Context, ip, community string) ([]storageRow, error) {
	var pdus []gosnmp.SnmpPDU
	err := p.run(ctx, ip, community, func(c conn) error {
		var walkErr error
		pdus, walkErr = c.BulkWalkAll(oidHrStorageEntry)
		return walkErr
	})
	if err != nil {
		return nil, err
	}

	rows := make(map[int]*storageRow)
	row := func(index int) *storageRow {
		r, ok := rows[index]
		if !ok {
			r = &storageRow{Index: index}
			rows[index] = r
		}
		return r
	}
	for _, pdu := range pdus {
		col, index, ok := columnIndex(pdu.Name, oidHrStorageEntry)
		if !ok {
			continue
		}
		switch col {
		case colStorageIndex:
			row(index)
		case colStorageType:
			row(index).Type = pduString(pdu)
		case colStorageDescr:
			row(index).Descr = pduString(pdu)
		case colStorageUnits:
			if v, ok := pduUint(pdu); ok {
				row(index).Units = v
			}
		case colStorageSize:
			if v, ok := pduUint(pdu); ok {
				row(index).Size = v
			}
		case colStorageUsed:
			if v, ok := pduUint(pdu); ok {
				row(index).Used = v
			}
		}
	}

	out := make([]storageRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func normalizeOID(name string) string {
	if !strings.HasPrefix(name, ".") {
		return "." + name
	}
	return name
}

func macString(pdu gosnmp.SnmpPDU) string {
	b, ok := pdu.Value.([]byte)
	if !ok || len(b) == 0 {
		return ""
	}
	return net.HardwareAddr(b).String()
}

func ifTypeName(v int) string {
	switch v {
	case 6:
		return "ethernet"
	case 24:
		return "loopback"
	case 53:
		return "virtual"
	case 71:
		return "wireless"
	case 131:
		return "tunnel"
	case 161:
		return "lag"
	default:
		return "other"
	}
}

func ifStatusName(v int) string {
	switch v {
	case 1:
		return "up"
	case 2:
		return "down"
	case 3:
		return "testing"
	default:
		return "unknown"
	}
}
