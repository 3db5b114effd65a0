package hostprobe

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/R8355H0755/lan-insight/internal/models"
)

type cpuTimes struct {
	idle  uint64
	total uint64
}

// readProcStatCPU parses the aggregate cpu line of /proc/stat.
func readProcStatCPU() (cpuTimes, error) {
	data, err := readFile("/proc/stat")
	if err != nil {
		return cpuTimes{}, fmt.Errorf("read proc stat: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, fmt.Errorf("unexpected proc stat line %q", line)
	}

	var times cpuTimes
	for i, field := range fields[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return cpuTimes{}, fmt.Errorf("parse proc stat field %q: %w", field, err)
		}
		times.total += v
		if i == 3 { // the idle column
			times.idle = v
		}
	}
	return times, nil
}

// parseTopCPULine extracts the user percent from the "CPU usage" line of
// macOS top output.
func parseTopCPULine(out string) (float64, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "CPU usage") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if !strings.HasSuffix(part, "user") {
				continue
			}
			part = strings.TrimSpace(strings.TrimSuffix(part, "user"))
			if idx := strings.Index(part, ":"); idx >= 0 {
				part = strings.TrimSpace(part[idx+1:])
			}
			value, err := strconv.ParseFloat(strings.TrimSuffix(part, "%"), 64)
			if err != nil {
				return 0, fmt.Errorf("parse top user percent %q: %w", part, err)
			}
			return models.RoundPercent(value), nil
		}
	}
	return 0, fmt.Errorf("no CPU usage line in top output")
}

// parseFirstNumber returns the first numeric token in command output.
func parseFirstNumber(out string) (float64, error) {
	for _, field := range strings.Fields(out) {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(field, "%"), 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no numeric value in output %q", strings.TrimSpace(out))
}

// parseDFRoot extracts total and used bytes for the root filesystem from
// `df -h /` output, tolerating a filesystem name wrapped onto its own line.
func parseDFRoot(out string) (*models.DiskSample, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("df output too short")
	}

	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		// A wrapped device name leaves exactly the five value columns; an
		// unwrapped line carries the device first.
		var sizeField, usedField string
		if len(fields) == 5 {
			sizeField, usedField = fields[0], fields[1]
		} else {
			sizeField, usedField = fields[1], fields[2]
		}

		total, err := parseSizeSuffix(sizeField)
		if err != nil {
			continue
		}
		used, err := parseSizeSuffix(usedField)
		if err != nil {
			continue
		}
		if total == 0 {
			continue
		}
		return &models.DiskSample{
			UsagePercent: models.UsedPercent(used, total),
			TotalBytes:   total,
			UsedBytes:    used,
		}, nil
	}
	return nil, fmt.Errorf("no parsable filesystem row in df output")
}

// parseSizeSuffix converts a df -h size like "50G" or "1.5T" into bytes.
// A bare number is taken as bytes.
func parseSizeSuffix(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, fmt.Errorf("empty size field")
	}
	s = strings.TrimSuffix(s, "B")
	s = strings.TrimSuffix(s, "i")
	if s == "" {
		return 0, fmt.Errorf("empty size field")
	}

	multiplier := uint64(1)
	switch last := s[len(s)-1]; last {
	case 'K', 'k':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case 'G', 'g':
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case 'T', 't':
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return uint64(value * float64(multiplier)), nil
}

// ipv4From strips an optional CIDR mask and returns the address when IPv4.
func ipv4From(addr string) string {
	host := addr
	if idx := strings.Index(addr, "/"); idx >= 0 {
		host = addr[:idx]
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return ""
	}
	return ip.To4().String()
}
