package remoteprobe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
)

type fakeConn struct {
	mu     sync.Mutex
	values map[string]gosnmp.SnmpPDU
	walks  map[string][]gosnmp.SnmpPDU
	err    error
	gets   int
	closed bool
}

func (f *fakeConn) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	pkt := &gosnmp.SnmpPacket{}
	for _, oid := range oids {
		if pdu, ok := f.values[oid]; ok {
			pkt.Variables = append(pkt.Variables, pdu)
		} else {
			pkt.Variables = append(pkt.Variables, gosnmp.SnmpPDU{Name: oid, Type: gosnmp.NoSuchObject})
		}
	}
	return pkt, nil
}

func (f *fakeConn) BulkWalkAll(root string) ([]gosnmp.SnmpPDU, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.walks[root], nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeConn) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// stubDial makes every dial hand out the next conn from the list, repeating
// the last one. Returns the dial counter.
func stubDial(t *testing.T, conns ...conn) *atomic.Int32 {
	t.Helper()
	orig := dialSession
	var dials atomic.Int32
	dialSession = func(ip, community string, timeout time.Duration) (conn, error) {
		n := int(dials.Add(1)) - 1
		if n >= len(conns) {
			n = len(conns) - 1
		}
		return conns[n], nil
	}
	t.Cleanup(func() { dialSession = orig })
	return &dials
}

func stubDialError(t *testing.T, err error) {
	t.Helper()
	orig := dialSession
	dialSession = func(ip, community string, timeout time.Duration) (conn, error) {
		return nil, err
	}
	t.Cleanup(func() { dialSession = orig })
}

func pduOctet(name, s string) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: name, Type: gosnmp.OctetString, Value: []byte(s)}
}

func pduInteger(name string, v int) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: name, Type: gosnmp.Integer, Value: v}
}

func pduTicks(name string, v uint32) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: name, Type: gosnmp.TimeTicks, Value: v}
}

func pduCounter(name string, v uint) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: name, Type: gosnmp.Counter32, Value: v}
}

func systemConn() *fakeConn {
	return &fakeConn{
		values: map[string]gosnmp.SnmpPDU{
			oidSysDescr:    pduOctet(oidSysDescr, "Linux router 5.15"),
			oidSysObjectID: {Name: oidSysObjectID, Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.8072.3.2.10"},
			oidSysUpTime:   pduTicks(oidSysUpTime, 12345),
			oidSysContact:  pduOctet(oidSysContact, "ops@example.com"),
			oidSysName:     pduOctet(oidSysName, "core-sw"),
			oidSysLocation: pduOctet(oidSysLocation, "rack 4"),

			oidHrSystemProcesses: pduInteger(oidHrSystemProcesses, 210),
			oidHrSystemNumUsers:  pduInteger(oidHrSystemNumUsers, 4),
			oidHrMemorySize:      pduInteger(oidHrMemorySize, 16384),
		},
	}
}

func TestCollectSystemReadsSystemGroup(t *testing.T) {
	stubDial(t, systemConn())
	p := New()

	sys, err := p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)

	assert.Equal(t, "core-sw", sys.Hostname)
	assert.Equal(t, "Linux router 5.15", sys.Description)
	assert.Equal(t, ".1.3.6.1.4.1.8072.3.2.10", sys.ObjectID)
	assert.Equal(t, "ops@example.com", sys.Contact)
	assert.Equal(t, "rack 4", sys.Location)
	assert.Equal(t, int64(123), sys.UptimeSeconds)
	assert.Equal(t, 210, sys.Processes)
	assert.Equal(t, 4, sys.Users)
	assert.Equal(t, uint64(16384)*1024, sys.TotalMemoryBytes)
}

func TestCollectSystemFailsOnEmptyDevice(t *testing.T) {
	stubDial(t, &fakeConn{})
	p := New()

	_, err := p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.Error(t, err)
	assert.Equal(t, internalerrors.ErrorTypeTransient, internalerrors.TypeOf(err))
}

func TestCollectCPUAveragesProcessorLoadTable(t *testing.T) {
	fake := &fakeConn{walks: map[string][]gosnmp.SnmpPDU{
		oidHrProcessorLoad: {
			pduInteger(oidHrProcessorLoad+".196608", 10),
			pduInteger(oidHrProcessorLoad+".196609", 20),
			pduInteger(oidHrProcessorLoad+".196610", 30),
			pduInteger(oidHrProcessorLoad+".196611", 40),
		},
	}}
	stubDial(t, fake)
	p := New()

	usage, err := p.CollectCPU(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, 25.0, usage)
}

func TestCollectCPUFallsBackToLoadAverage(t *testing.T) {
	fake := &fakeConn{values: map[string]gosnmp.SnmpPDU{
		oidLaLoad1: pduOctet(oidLaLoad1, "0.42"),
	}}
	stubDial(t, fake)
	p := New()

	usage, err := p.CollectCPU(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, 4.0, usage)
}

func TestCollectCPUCapsLoadAverageAtHundred(t *testing.T) {
	fake := &fakeConn{values: map[string]gosnmp.SnmpPDU{
		oidLaLoad1: pduOctet(oidLaLoad1, "25.50"),
	}}
	stubDial(t, fake)
	p := New()

	usage, err := p.CollectCPU(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, 100.0, usage)
}

func TestCollectCPUErrorsWhenNothingReported(t *testing.T) {
	stubDial(t, &fakeConn{})
	p := New()

	_, err := p.CollectCPU(context.Background(), "192.168.1.20", "public")
	require.Error(t, err)
	assert.Equal(t, internalerrors.ErrorTypeTransient, internalerrors.TypeOf(err))
}

func TestCollectMemoryPrefersUCDScalars(t *testing.T) {
	fake := &fakeConn{values: map[string]gosnmp.SnmpPDU{
		oidMemTotalReal: pduInteger(oidMemTotalReal, 4096),
		oidMemAvailReal: pduInteger(oidMemAvailReal, 1024),
	}}
	stubDial(t, fake)
	p := New()

	mem, err := p.CollectMemory(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096)*1024, mem.TotalBytes)
	assert.Equal(t, uint64(3072)*1024, mem.UsedBytes)
	assert.Equal(t, 75.0, mem.UsagePercent)
}

func TestCollectMemoryStorageFallbackPrefersPhysical(t *testing.T) {
	fake := &fakeConn{walks: map[string][]gosnmp.SnmpPDU{
		oidHrStorageEntry: {
			pduOctet(oidHrStorageEntry+".3.1", "Virtual memory"),
			pduInteger(oidHrStorageEntry+".4.1", 4096),
			pduInteger(oidHrStorageEntry+".5.1", 2000),
			pduInteger(oidHrStorageEntry+".6.1", 100),

			pduOctet(oidHrStorageEntry+".3.2", "Physical memory"),
			pduInteger(oidHrStorageEntry+".4.2", 4096),
			pduInteger(oidHrStorageEntry+".5.2", 1000),
			pduInteger(oidHrStorageEntry+".6.2", 250),
		},
	}}
	stubDial(t, fake)
	p := New()

	mem, err := p.CollectMemory(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096)*1000, mem.TotalBytes)
	assert.Equal(t, uint64(4096)*250, mem.UsedBytes)
	assert.Equal(t, 25.0, mem.UsagePercent)
}

func TestCollectDiskAggregatesFilesystemRows(t *testing.T) {
	fake := &fakeConn{walks: map[string][]gosnmp.SnmpPDU{
		oidHrStorageEntry: {
			pduOctet(oidHrStorageEntry+".3.1", "/"),
			pduInteger(oidHrStorageEntry+".4.1", 4096),
			pduInteger(oidHrStorageEntry+".5.1", 10000),
			pduInteger(oidHrStorageEntry+".6.1", 4000),

			pduOctet(oidHrStorageEntry+".3.2", "/boot"),
			pduInteger(oidHrStorageEntry+".4.2", 1024),
			pduInteger(oidHrStorageEntry+".5.2", 500000),
			pduInteger(oidHrStorageEntry+".6.2", 100000),

			pduOctet(oidHrStorageEntry+".3.3", "Physical memory"),
			pduInteger(oidHrStorageEntry+".4.3", 4096),
			pduInteger(oidHrStorageEntry+".5.3", 99999),
			pduInteger(oidHrStorageEntry+".6.3", 99999),

			pduOctet(oidHrStorageEntry+".3.4", "Swap space"),
			pduInteger(oidHrStorageEntry+".4.4", 4096),
			pduInteger(oidHrStorageEntry+".5.4", 99999),
			pduInteger(oidHrStorageEntry+".6.4", 99999),
		},
	}}
	stubDial(t, fake)
	p := New()

	disk, err := p.CollectDisk(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, uint64(552960000), disk.TotalBytes)
	assert.Equal(t, uint64(118784000), disk.UsedBytes)
	assert.Equal(t, 21.0, disk.UsagePercent)
}

func TestCollectDiskErrorsWithoutRows(t *testing.T) {
	stubDial(t, &fakeConn{})
	p := New()

	_, err := p.CollectDisk(context.Background(), "192.168.1.20", "public")
	require.Error(t, err)
}

func TestCollectInterfacesBuildsSortedRows(t *testing.T) {
	fake := &fakeConn{walks: map[string][]gosnmp.SnmpPDU{
		oidIfEntry: {
			pduInteger(oidIfEntry+".1.2", 2),
			pduOctet(oidIfEntry+".2.2", "eth0"),
			pduInteger(oidIfEntry+".3.2", 6),
			{Name: oidIfEntry + ".5.2", Type: gosnmp.Gauge32, Value: uint(1000000000)},
			{Name: oidIfEntry + ".6.2", Type: gosnmp.OctetString, Value: []byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}},
			pduInteger(oidIfEntry+".7.2", 1),
			pduInteger(oidIfEntry+".8.2", 1),
			pduCounter(oidIfEntry+".10.2", 123456),
			pduCounter(oidIfEntry+".16.2", 654321),

			pduInteger(oidIfEntry+".1.1", 1),
			pduOctet(oidIfEntry+".2.1", "lo"),
			pduInteger(oidIfEntry+".3.1", 24),
			pduInteger(oidIfEntry+".7.1", 1),
			pduInteger(oidIfEntry+".8.1", 2),
		},
	}}
	stubDial(t, fake)
	p := New()

	rows, err := p.CollectInterfaces(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].Index)
	assert.Equal(t, "lo", rows[0].Name)
	assert.Equal(t, "loopback", rows[0].Type)
	assert.Equal(t, "down", rows[0].OperStatus)

	assert.Equal(t, 2, rows[1].Index)
	assert.Equal(t, "eth0", rows[1].Name)
	assert.Equal(t, "ethernet", rows[1].Type)
	assert.Equal(t, uint64(1000000000), rows[1].Speed)
	assert.Equal(t, "00:1a:2b:3c:4d:5e", rows[1].MAC)
	assert.Equal(t, "up", rows[1].AdminStatus)
	assert.Equal(t, "up", rows[1].OperStatus)
	assert.Equal(t, uint64(123456), rows[1].InOctets)
	assert.Equal(t, uint64(654321), rows[1].OutOctets)
}

func TestCollectAllReturnsSampleOnTotalFailure(t *testing.T) {
	stubDialError(t, errors.New("no route to host"))
	p := New()

	sample, err := p.CollectAll(context.Background(), "192.168.1.99", "public")
	require.NotNil(t, sample)
	require.Error(t, err)
	assert.True(t, errors.Is(err, internalerrors.ErrUnreachable))
	assert.Len(t, sample.Errors, 5)
	assert.Nil(t, sample.CPU)
	assert.Nil(t, sample.Memory)
	assert.Nil(t, sample.Disk)
}

func TestCollectAllPartialSuccess(t *testing.T) {
	stubDial(t, systemConn())
	p := New()

	sample, err := p.CollectAll(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, "core-sw", sample.System.Hostname)
	assert.Nil(t, sample.CPU)
	assert.Nil(t, sample.Memory)
	assert.Nil(t, sample.Disk)
	assert.Empty(t, sample.Interfaces)
	assert.Len(t, sample.Errors, 4)
}

func TestSessionReusedAcrossCalls(t *testing.T) {
	dials := stubDial(t, systemConn())
	p := New()

	_, err := p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	_, err = p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)

	assert.Equal(t, int32(1), dials.Load())
}

func TestSessionInvalidatedOnError(t *testing.T) {
	broken := systemConn()
	replacement := systemConn()
	dials := stubDial(t, broken, replacement)
	p := New()

	_, err := p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)

	broken.fail(errors.New("request timeout"))
	_, err = p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.Error(t, err)
	assert.True(t, broken.wasClosed())

	_, err = p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, int32(2), dials.Load())
}

func TestSetTimeoutFlushesSessions(t *testing.T) {
	first := systemConn()
	second := systemConn()
	dials := stubDial(t, first, second)
	p := New()

	_, err := p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)

	p.SetTimeout(10 * time.Second)
	assert.Equal(t, 10*time.Second, p.Timeout())
	assert.True(t, first.wasClosed())

	_, err = p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)
	assert.Equal(t, int32(2), dials.Load())

	// same value is a no-op
	p.SetTimeout(10 * time.Second)
	assert.False(t, second.wasClosed())
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	fake := systemConn()
	stubDial(t, fake)
	p := New()

	_, err := p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, fake.wasClosed())

	_, err = p.CollectSystem(context.Background(), "192.168.1.20", "public")
	require.Error(t, err)
}

func TestTestConnectivity(t *testing.T) {
	stubDial(t, systemConn())
	p := New()

	res := p.TestConnectivity(context.Background(), "192.168.1.20", "public")
	require.True(t, res.Reachable)
	require.NotNil(t, res.System)
	assert.Equal(t, "core-sw", res.System.Hostname)

	stubDialError(t, errors.New("no route to host"))
	res = p.TestConnectivity(context.Background(), "192.168.1.21", "public")
	assert.False(t, res.Reachable)
	assert.NotEmpty(t, res.Error)
}

func TestColumnIndex(t *testing.T) {
	col, index, ok := columnIndex(".1.3.6.1.2.1.2.2.1.10.42", oidIfEntry)
	require.True(t, ok)
	assert.Equal(t, 10, col)
	assert.Equal(t, 42, index)

	col, index, ok = columnIndex("1.3.6.1.2.1.2.2.1.2.7", oidIfEntry)
	require.True(t, ok)
	assert.Equal(t, 2, col)
	assert.Equal(t, 7, index)

	_, _, ok = columnIndex(".1.3.6.1.2.1.1.1.0", oidIfEntry)
	assert.False(t, ok)
}
