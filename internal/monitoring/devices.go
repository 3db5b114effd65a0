package monitoring

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
	"github.com/R8355H0755/lan-insight/internal/remoteprobe"
)

// Devices returns a snapshot of the registry sorted by IP.
func (e *Engine) Devices() []models.Device {
	e.mu.RLock()
	out := make([]models.Device, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, *d)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// GetDevice returns one registered device by id.
func (e *Engine) GetDevice(id string) (*models.Device, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.devices {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, errors.WrapNotFound("get_device", id, errors.ErrNotFound)
}

func (e *Engine) deviceByIP(ip string) (models.Device, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.devices[ip]
	if !ok {
		return models.Device{}, false
	}
	return *d, true
}

// AddDeviceRequest carries the caller-supplied fields of a new device.
type AddDeviceRequest struct {
	IP          string `json:"ip"`
	Hostname    string `json:"hostname"`
	Community   string `json:"community"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Contact     string `json:"contact"`
}

// AddDevice registers a device manually. The IP must be a unique IPv4
// address; hostname and community fall back to the IP and the configured
// default.
func (e *Engine) AddDevice(req AddDeviceRequest) (*models.Device, error) {
	ip := strings.TrimSpace(req.IP)
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
		return nil, errors.WrapValidation("add_device", fmt.Errorf("invalid IPv4 address %q", req.IP))
	}

	dev := &models.Device{
		ID:          uuid.NewString(),
		IP:          ip,
		Hostname:    strings.TrimSpace(req.Hostname),
		Description: strings.TrimSpace(req.Description),
		Location:    strings.TrimSpace(req.Location),
		Contact:     strings.TrimSpace(req.Contact),
		Community:   strings.TrimSpace(req.Community),
		Status:      models.StatusUnknown,
	}
	if dev.Hostname == "" {
		dev.Hostname = ip
	}
	if dev.Community == "" {
		dev.Community = e.defaultCommunity()
	}

	e.mu.Lock()
	if _, exists := e.devices[ip]; exists {
		e.mu.Unlock()
		return nil, errors.WrapValidation("add_device", fmt.Errorf("a device with IP %s already exists", ip))
	}
	e.devices[ip] = dev
	e.mu.Unlock()

	if err := e.store.UpsertDevice(dev); err != nil {
		e.mu.Lock()
		delete(e.devices, ip)
		e.mu.Unlock()
		return nil, err
	}

	e.refreshDeviceGauges()
	e.log.Info().Str("device_id", dev.ID).Str("ip", ip).Msg("Device added")
	copied := *dev
	return &copied, nil
}

// UpdateDeviceRequest carries the mutable device fields. Nil pointers leave
// the current value untouched.
type UpdateDeviceRequest struct {
	IP          *string `json:"ip"`
	Hostname    *string `json:"hostname"`
	Community   *string `json:"community"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	Contact     *string `json:"contact"`
}

// UpdateDevice edits a registered device. Changing the IP re-keys the
// registry and is rejected when the target IP is taken.
func (e *Engine) UpdateDevice(id string, req UpdateDeviceRequest) (*models.Device, error) {
	newIP := ""
	if req.IP != nil {
		newIP = strings.TrimSpace(*req.IP)
		if parsed := net.ParseIP(newIP); parsed == nil || parsed.To4() == nil {
			return nil, errors.WrapValidation("update_device", fmt.Errorf("invalid IPv4 address %q", *req.IP))
		}
	}

	e.mu.Lock()
	var dev *models.Device
	for _, d := range e.devices {
		if d.ID == id {
			dev = d
			break
		}
	}
	if dev == nil {
		e.mu.Unlock()
		return nil, errors.WrapNotFound("update_device", id, errors.ErrNotFound)
	}
	if newIP != "" && newIP != dev.IP {
		if dev.IsLocal() {
			e.mu.Unlock()
			return nil, errors.WrapValidation("update_device", fmt.Errorf("the localhost device keeps its detected IP"))
		}
		if _, taken := e.devices[newIP]; taken {
			e.mu.Unlock()
			return nil, errors.WrapValidation("update_device", fmt.Errorf("a device with IP %s already exists", newIP))
		}
		delete(e.devices, dev.IP)
		dev.IP = newIP
		e.devices[newIP] = dev
	}
	if req.Hostname != nil {
		dev.Hostname = strings.TrimSpace(*req.Hostname)
		if dev.Hostname == "" {
			dev.Hostname = dev.IP
		}
	}
	if req.Community != nil && strings.TrimSpace(*req.Community) != "" && !dev.IsLocal() {
		dev.Community = strings.TrimSpace(*req.Community)
	}
	if req.Description != nil {
		dev.Description = strings.TrimSpace(*req.Description)
	}
	if req.Location != nil {
		dev.Location = strings.TrimSpace(*req.Location)
	}
	if req.Contact != nil {
		dev.Contact = strings.TrimSpace(*req.Contact)
	}
	copied := *dev
	e.mu.Unlock()

	if err := e.store.UpsertDevice(&copied); err != nil {
		return nil, err
	}
	e.storeRegistryEntry(&copied)
	e.log.Info().Str("device_id", id).Msg("Device updated")
	return &copied, nil
}

// RemoveDevice deletes a device with all of its rows and drops its alerts.
// The localhost device cannot be removed.
func (e *Engine) RemoveDevice(id string) error {
	dev, err := e.GetDevice(id)
	if err != nil {
		return err
	}
	if dev.IsLocal() {
		return errors.WrapValidation("remove_device", fmt.Errorf("the localhost device cannot be removed"))
	}

	if err := e.store.DeleteDevice(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.devices, dev.IP)
	e.mu.Unlock()
	e.alerts.DropForDevice(id)

	e.refreshDeviceGauges()
	e.log.Info().Str("device_id", id).Str("ip", dev.IP).Msg("Device removed")
	return nil
}

// CollectDeviceNow polls one device outside the ticker and returns the
// sample. The poll persists exactly like a scheduled one, so an unreachable
// device still goes offline and raises its alert.
func (e *Engine) CollectDeviceNow(ctx context.Context, id string) (*models.Sample, error) {
	dev, err := e.GetDevice(id)
	if err != nil {
		return nil, err
	}

	deadline := time.Duration(e.refreshSeconds()) * 2 * time.Second
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if dev.IsLocal() {
		sample := e.hostProbe.Collect(pollCtx)
		e.recordSample(*dev, sample)
		return sample, nil
	}

	sample, err := e.remoteProbe.CollectAll(pollCtx, dev.IP, dev.Community)
	if err != nil {
		e.markOffline(*dev, err)
		return nil, errors.WrapUnreachable("collect_device", dev.ID, dev.IP, err)
	}
	e.recordSample(*dev, sample)
	return sample, nil
}

// TestDevice checks SNMP connectivity to an address without registering it.
// An empty community falls back to the configured default.
func (e *Engine) TestDevice(ctx context.Context, ip, community string) (*remoteprobe.ConnectivityResult, error) {
	ip = strings.TrimSpace(ip)
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
		return nil, errors.WrapValidation("test_device", fmt.Errorf("invalid IPv4 address %q", ip))
	}
	if community == "" {
		community = e.defaultCommunity()
	}
	return e.remoteProbe.TestConnectivity(ctx, ip, community), nil
}
