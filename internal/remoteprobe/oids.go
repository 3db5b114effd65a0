package remoteprobe

import (
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// MIB-2 system group
const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysUpTime   = ".1.3.6.1.2.1.1.3.0"
	oidSysContact  = ".1.3.6.1.2.1.1.4.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"
)

// HOST-RESOURCES-MIB
const (
	oidHrSystemNumUsers  = ".1.3.6.1.2.1.25.1.5.0"
	oidHrSystemProcesses = ".1.3.6.1.2.1.25.1.6.0"
	oidHrMemorySize      = ".1.3.6.1.2.1.25.2.2.0"
	oidHrStorageEntry    = ".1.3.6.1.2.1.25.2.3.1"
	oidHrProcessorLoad   = ".1.3.6.1.2.1.25.3.3.1.2"
)

// hrStorageEntry columns
const (
	colStorageIndex = 1
	colStorageType  = 2
	colStorageDescr = 3
	colStorageUnits = 4
	colStorageSize  = 5
	colStorageUsed  = 6
)

// IF-MIB ifTable
const (
	oidIfEntry = ".1.3.6.1.2.1.2.2.1"
)

// ifEntry columns
const (
	colIfIndex       = 1
	colIfDescr       = 2
	colIfType        = 3
	colIfSpeed       = 5
	colIfPhysAddress = 6
	colIfAdminStatus = 7
	colIfOperStatus  = 8
	colIfInOctets    = 10
	colIfOutOctets   = 16
)

// UCD-SNMP-MIB load and memory scalars (memory values are in KB)
const (
	oidLaLoad1      = ".1.3.6.1.4.1.2021.10.1.3.1"
	oidMemTotalSwap = ".1.3.6.1.4.1.2021.4.3.0"
	oidMemAvailSwap = ".1.3.6.1.4.1.2021.4.4.0"
	oidMemTotalReal = ".1.3.6.1.4.1.2021.4.5.0"
	oidMemAvailReal = ".1.3.6.1.4.1.2021.4.6.0"
	oidMemBuffer    = ".1.3.6.1.4.1.2021.4.14.0"
	oidMemCached    = ".1.3.6.1.4.1.2021.4.15.0"
)

func pduMissing(pdu gosnmp.SnmpPDU) bool {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return true
	}
	return false
}

// pduString renders octet-string and OID values; numeric values are not
// stringified.
func pduString(pdu gosnmp.SnmpPDU) string {
	if pduMissing(pdu) {
		return ""
	}
	switch v := pdu.Value.(type) {
	case []byte:
		return strings.TrimSpace(string(v))
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

func pduInt(pdu gosnmp.SnmpPDU) (int64, bool) {
	if pduMissing(pdu) {
		return 0, false
	}
	switch v := pdu.Value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > 1<<62 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func pduUint(pdu gosnmp.SnmpPDU) (uint64, bool) {
	v, ok := pduInt(pdu)
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// pduFloat also parses numeric octet strings; UCD load averages arrive as
// strings like "0.42".
func pduFloat(pdu gosnmp.SnmpPDU) (float64, bool) {
	if pduMissing(pdu) {
		return 0, false
	}
	switch v := pdu.Value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	if n, ok := pduInt(pdu); ok {
		return float64(n), true
	}
	return 0, false
}

// columnIndex splits a walked OID under base into its column and row index.
func columnIndex(name, base string) (col int, index int, ok bool) {
	name = strings.TrimPrefix(name, ".")
	base = strings.TrimPrefix(base, ".")
	if !strings.HasPrefix(name, base+".") {
		return 0, 0, false
	}
	rest := name[len(base)+1:]
	colPart, indexPart, found := strings.Cut(rest, ".")
	if !found {
		return 0, 0, false
	}
	col, err := strconv.Atoi(colPart)
	if err != nil {
		return 0, 0, false
	}
	index, err = strconv.Atoi(indexPart)
	if err != nil {
		return 0, 0, false
	}
	return col, index, true
}
