package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
)

const deviceColumns = "id, ip, hostname, description, location, contact, community, status, first_seen, last_seen"

// UpsertDevice inserts or replaces a device by id. last_seen is always
// refreshed; an existing row keeps its first_seen.
func (s *Store) UpsertDevice(d *models.Device) error {
	if d.ID == "" || d.IP == "" {
		return internalerrors.WrapValidation("upsert_device", fmt.Errorf("device id and ip are required"))
	}
	now := time.Now()
	firstSeen := d.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	status := d.Status
	if status == "" {
		status = models.StatusUnknown
	}

	_, err := s.db.Exec(`
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ip = excluded.ip,
			hostname = excluded.hostname,
			description = excluded.description,
			location = excluded.location,
			contact = excluded.contact,
			community = excluded.community,
			status = excluded.status,
			last_seen = excluded.last_seen
	`, d.ID, d.IP, d.Hostname, d.Description, d.Location, d.Contact, d.Community, status, firstSeen.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.ID, err)
	}

	d.Status = status
	d.FirstSeen = firstSeen
	d.LastSeen = now
	return nil
}

// GetDevice fetches one device by id.
func (s *Store) GetDevice(id string) (*models.Device, error) {
	row := s.db.QueryRow("SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, internalerrors.WrapNotFound("get_device", id, internalerrors.ErrNotFound)
	}
	return d, err
}

// GetDeviceByIP fetches one device by its unique address.
func (s *Store) GetDeviceByIP(ip string) (*models.Device, error) {
	row := s.db.QueryRow("SELECT "+deviceColumns+" FROM devices WHERE ip = ?", ip)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, internalerrors.WrapNotFound("get_device_by_ip", ip, internalerrors.ErrNotFound)
	}
	return d, err
}

// ListDevices returns all devices ordered by address.
func (s *Store) ListDevices() ([]models.Device, error) {
	rows, err := s.db.Query("SELECT " + deviceColumns + " FROM devices ORDER BY ip")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// UpdateDeviceStatus flips only the status and last_seen columns.
func (s *Store) UpdateDeviceStatus(id string, status models.DeviceStatus) error {
	res, err := s.db.Exec(
		"UPDATE devices SET status = ?, last_seen = ? WHERE id = ?",
		status, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update device status %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internalerrors.WrapNotFound("update_device_status", id, internalerrors.ErrNotFound)
	}
	return nil
}

// DeleteDevice removes a device and cascades its metrics, system info,
// interface snapshots and alerts in one transaction.
func (s *Store) DeleteDevice(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"metrics", "system_info", "network_interfaces", "alerts"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE device_id = ?", id); err != nil {
			return fmt.Errorf("delete device %s rows from %s: %w", id, table, err)
		}
	}
	res, err := tx.Exec("DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internalerrors.WrapNotFound("delete_device", id, internalerrors.ErrNotFound)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var status string
	var firstSeen, lastSeen int64
	err := row.Scan(&d.ID, &d.IP, &d.Hostname, &d.Description, &d.Location, &d.Contact,
		&d.Community, &status, &firstSeen, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.Status = models.DeviceStatus(status)
	d.FirstSeen = time.Unix(firstSeen, 0)
	d.LastSeen = time.Unix(lastSeen, 0)
	return &d, nil
}
