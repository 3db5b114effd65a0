// Package store persists devices, metrics, alerts, scan history and
// configuration in an embedded SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/R8355H0755/lan-insight/internal/config"
)

const dbFileName = "lan-insight.db"

// Store wraps the SQLite database. A single connection serializes writers;
// WAL mode keeps the file safe for the process lifetime.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the database under dataDir, creates missing tables
// and indexes, and seeds default configuration keys on first open.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, dbFileName)

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
			"cache_size(-64000)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		wrappedInitErr := fmt.Errorf("initialize schema for %q: %w", path, err)
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(
				wrappedInitErr,
				fmt.Errorf("close database %q after init failure: %w", path, closeErr),
			)
		}
		return nil, wrappedInitErr
	}
	if err := s.seedDefaultConfig(); err != nil {
		log.Warn().Err(err).Msg("Failed to seed default configuration")
	}

	log.Info().Str("path", path).Msg("Database opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		ip TEXT NOT NULL UNIQUE,
		hostname TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT '',
		community TEXT NOT NULL DEFAULT 'public',
		status TEXT NOT NULL DEFAULT 'unknown',
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices(ip);
	CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_device_time ON metrics(device_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_metrics_type_time ON metrics(metric_type, timestamp);

	CREATE TABLE IF NOT EXISTS system_info (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		uptime INTEGER NOT NULL DEFAULT 0,
		processes INTEGER NOT NULL DEFAULT 0,
		users INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_system_info_device_time ON system_info(device_id, timestamp);

	CREATE TABLE IF NOT EXISTS network_interfaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		if_index INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		if_type TEXT NOT NULL DEFAULT '',
		speed INTEGER NOT NULL DEFAULT 0,
		mac TEXT NOT NULL DEFAULT '',
		admin_status TEXT NOT NULL DEFAULT '',
		oper_status TEXT NOT NULL DEFAULT '',
		in_octets INTEGER NOT NULL DEFAULT 0,
		out_octets INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interfaces_device ON network_interfaces(device_id);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		device_ip TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		acknowledged INTEGER NOT NULL DEFAULT 0,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at INTEGER,
		created_at INTEGER NOT NULL,
		resolved_at INTEGER,
		resolved_by TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_device_severity ON alerts(device_id, severity);
	CREATE INDEX IF NOT EXISTS idx_alerts_acknowledged ON alerts(acknowledged);

	CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_range TEXT NOT NULL,
		total_ips INTEGER NOT NULL DEFAULT 0,
		discovered_hosts INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS configuration (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// seedDefaultConfig inserts the recognized configuration keys that are not
// present yet. Existing values are left untouched.
func (s *Store) seedDefaultConfig() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO configuration (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, entry := range config.DefaultEntries() {
		if _, err := stmt.Exec(entry.Key, entry.Value, entry.Description, now); err != nil {
			return fmt.Errorf("seed %s: %w", entry.Key, err)
		}
	}
	return tx.Commit()
}

// Stats reports per-table row counts and the storage footprint.
type Stats struct {
	Devices      int64 `json:"devices"`
	Metrics      int64 `json:"metrics"`
	SystemInfo   int64 `json:"system_info"`
	Interfaces   int64 `json:"network_interfaces"`
	Alerts       int64 `json:"alerts"`
	ScanHistory  int64 `json:"scan_history"`
	Config       int64 `json:"configuration"`
	SizeBytes    int64 `json:"size_bytes"`
	OldestMetric int64 `json:"oldest_metric_ts,omitempty"`
	NewestMetric int64 `json:"newest_metric_ts,omitempty"`
}

// Stats counts rows in every table and sums the database file sizes.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{}
	tables := []struct {
		name string
		dst  *int64
	}{
		{"devices", &stats.Devices},
		{"metrics", &stats.Metrics},
		{"system_info", &stats.SystemInfo},
		{"network_interfaces", &stats.Interfaces},
		{"alerts", &stats.Alerts},
		{"scan_history", &stats.ScanHistory},
		{"configuration", &stats.Config},
	}
	for _, tbl := range tables {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + tbl.name).Scan(tbl.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", tbl.name, err)
		}
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM metrics").Scan(&oldest, &newest); err == nil {
		stats.OldestMetric = oldest.Int64
		stats.NewestMetric = newest.Int64
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, err := os.Stat(s.dbPath + suffix); err == nil {
			stats.SizeBytes += info.Size()
		}
	}
	return stats, nil
}

// CleanupResult reports the rows removed by one maintenance pass.
type CleanupResult struct {
	Metrics    int64 `json:"metrics"`
	SystemInfo int64 `json:"system_info"`
	Interfaces int64 `json:"network_interfaces"`
	Alerts     int64 `json:"alerts"`
}

// Cleanup removes metrics and system_info rows older than retentionDays,
// interface snapshots older than one day, and resolved alerts older than
// seven days.
func (s *Store) Cleanup(retentionDays int) (*CleanupResult, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	now := time.Now()
	metricCutoff := now.AddDate(0, 0, -retentionDays).Unix()
	interfaceCutoff := now.Add(-24 * time.Hour).Unix()
	alertCutoff := now.AddDate(0, 0, -7).Unix()

	result := &CleanupResult{}
	steps := []struct {
		query string
		args  []any
		dst   *int64
	}{
		{"DELETE FROM metrics WHERE timestamp < ?", []any{metricCutoff}, &result.Metrics},
		{"DELETE FROM system_info WHERE timestamp < ?", []any{metricCutoff}, &result.SystemInfo},
		{"DELETE FROM network_interfaces WHERE timestamp < ?", []any{interfaceCutoff}, &result.Interfaces},
		{"DELETE FROM alerts WHERE resolved_at IS NOT NULL AND resolved_at < ?", []any{alertCutoff}, &result.Alerts},
	}
	for _, step := range steps {
		res, err := s.db.Exec(step.query, step.args...)
		if err != nil {
			return result, fmt.Errorf("cleanup: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			*step.dst = n
		}
	}

	log.Info().
		Int64("metrics", result.Metrics).
		Int64("system_info", result.SystemInfo).
		Int64("interfaces", result.Interfaces).
		Int64("alerts", result.Alerts).
		Int("retention_days", retentionDays).
		Msg("Store cleanup completed")
	return result, nil
}
