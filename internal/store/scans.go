package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
)

// AppendScanHistory records one completed sweep.
func (s *Store) AppendScanHistory(record *models.ScanRecord) error {
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO scan_history (scan_range, total_ips, discovered_hosts, duration_ms, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, record.ScanRange, record.TotalIPs, record.DiscoveredHosts, record.DurationMs,
		startedAt.Unix(), completedAt.Unix())
	if err != nil {
		return fmt.Errorf("append scan history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	record.StartedAt = startedAt
	record.CompletedAt = completedAt
	return nil
}

// ListScanHistory returns the most recent sweeps, newest first.
func (s *Store) ListScanHistory(limit int) ([]models.ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, scan_range, total_ips, discovered_hosts, duration_ms, started_at, completed_at
		FROM scan_history
		ORDER BY completed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan history: %w", err)
	}
	defer rows.Close()

	var out []models.ScanRecord
	for rows.Next() {
		var r models.ScanRecord
		var startedAt, completedAt int64
		if err := rows.Scan(&r.ID, &r.ScanRange, &r.TotalIPs, &r.DiscoveredHosts,
			&r.DurationMs, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0)
		r.CompletedAt = time.Unix(completedAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetConfig returns one configuration row by key.
func (s *Store) GetConfig(key string) (*models.ConfigEntry, error) {
	row := s.db.QueryRow(
		"SELECT key, value, description, updated_at FROM configuration WHERE key = ?", key)

	var entry models.ConfigEntry
	var updatedAt int64
	if err := row.Scan(&entry.Key, &entry.Value, &entry.Description, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internalerrors.WrapNotFound("get_config", key, internalerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get config %s: %w", key, err)
	}
	entry.UpdatedAt = time.Unix(updatedAt, 0)
	return &entry, nil
}

// AllConfig returns the whole configuration table as a key/value map.
func (s *Store) AllConfig() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM configuration")
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan configuration row: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SetConfig writes one configuration value, keeping an existing description
// when the caller passes none.
func (s *Store) SetConfig(key, value, description string) error {
	if key == "" {
		return internalerrors.WrapValidation("set_config", fmt.Errorf("configuration key is required"))
	}
	_, err := s.db.Exec(`
		INSERT INTO configuration (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = CASE WHEN excluded.description = '' THEN configuration.description ELSE excluded.description END,
			updated_at = excluded.updated_at
	`, key, value, description, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}
