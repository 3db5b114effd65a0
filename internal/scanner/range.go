package scanner

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/R8355H0755/lan-insight/internal/errors"
)

// ParseRange expands a range specification into the ordered list of target
// addresses. Three forms are accepted: a single IPv4 address, "A.B.C.D-N"
// covering last octets D through N inclusive, and a /24 network covering
// hosts .1 through .254.
func ParseRange(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.WrapValidation("parse_range", fmt.Errorf("empty scan range"))
	}

	switch {
	case strings.Contains(spec, "/"):
		return parseCIDR(spec)
	case strings.Contains(spec, "-"):
		return parseOctetRange(spec)
	default:
		if _, err := parseIPv4(spec); err != nil {
			return nil, errors.WrapValidation("parse_range", err)
		}
		return []string{spec}, nil
	}
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	copy(out[:], ip.To4())
	return out, nil
}

func parseOctetRange(spec string) ([]string, error) {
	base, endPart, _ := strings.Cut(spec, "-")
	start, err := parseIPv4(strings.TrimSpace(base))
	if err != nil {
		return nil, errors.WrapValidation("parse_range", err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endPart))
	if err != nil || end < 0 || end > 255 {
		return nil, errors.WrapValidation("parse_range", fmt.Errorf("invalid range end %q", endPart))
	}
	if end < int(start[3]) {
		return nil, errors.WrapValidation("parse_range", fmt.Errorf("range end %d precedes start octet %d", end, start[3]))
	}

	ips := make([]string, 0, end-int(start[3])+1)
	for octet := int(start[3]); octet <= end; octet++ {
		ips = append(ips, fmt.Sprintf("%d.%d.%d.%d", start[0], start[1], start[2], octet))
	}
	return ips, nil
}

func parseCIDR(spec string) ([]string, error) {
	_, network, err := net.ParseCIDR(strings.TrimSpace(spec))
	if err != nil {
		return nil, errors.WrapValidation("parse_range", err)
	}
	if ones, bits := network.Mask.Size(); bits != 32 || ones != 24 {
		return nil, errors.WrapValidation("parse_range", fmt.Errorf("only /24 networks are supported, got %q", spec))
	}

	base := network.IP.To4()
	ips := make([]string, 0, 254)
	for octet := 1; octet <= 254; octet++ {
		ips = append(ips, fmt.Sprintf("%d.%d.%d.%d", base[0], base[1], base[2], octet))
	}
	return ips, nil
}

// RangeValidation summarizes what a range specification would expand to.
type RangeValidation struct {
	Valid     bool     `json:"valid"`
	Error     string   `json:"error,omitempty"`
	TotalIPs  int      `json:"total_ips"`
	FirstIP   string   `json:"first_ip,omitempty"`
	LastIP    string   `json:"last_ip,omitempty"`
	SampleIPs []string `json:"sample_ips,omitempty"`
}

// ValidateRange dry-runs a range specification without probing anything.
func ValidateRange(spec string) *RangeValidation {
	ips, err := ParseRange(spec)
	if err != nil {
		return &RangeValidation{Error: err.Error()}
	}

	v := &RangeValidation{
		Valid:    true,
		TotalIPs: len(ips),
		FirstIP:  ips[0],
		LastIP:   ips[len(ips)-1],
	}
	sample := len(ips)
	if sample > 5 {
		sample = 5
	}
	v.SampleIPs = append(v.SampleIPs, ips[:sample]...)
	return v
}

// Preset is a commonly scanned range offered to clients as a suggestion.
type Preset struct {
	Label string `json:"label"`
	Range string `json:"range"`
}

// Presets returns the built-in range suggestions.
func Presets() []Preset {
	return []Preset{
		{Label: "Home network (192.168.1.x)", Range: "192.168.1.0/24"},
		{Label: "Home network (192.168.0.x)", Range: "192.168.0.0/24"},
		{Label: "Office network (10.0.0.x)", Range: "10.0.0.0/24"},
		{Label: "Private range (172.16.0.x)", Range: "172.16.0.0/24"},
		{Label: "Localhost", Range: "127.0.0.1"},
	}
}
