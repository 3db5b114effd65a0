package store

import (
	"fmt"
	"strings"
	"time"

	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
)

// InsertMetric writes a single observation.
func (s *Store) InsertMetric(deviceID string, metricType models.MetricType, value float64, unit models.MetricUnit) error {
	_, err := s.db.Exec(`
		INSERT INTO metrics (device_id, metric_type, value, unit, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, deviceID, metricType, value, unit, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert metric %s/%s: %w", deviceID, metricType, err)
	}
	return nil
}

// InsertMetrics writes one device's samples atomically: either every row of
// the batch lands or none do.
func (s *Store) InsertMetrics(deviceID string, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("insert metrics %s: %w", deviceID, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO metrics (device_id, metric_type, value, unit, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert metrics %s: %w", deviceID, err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, sample := range samples {
		ts := sample.Timestamp.Unix()
		if sample.Timestamp.IsZero() {
			ts = now
		}
		if _, err := stmt.Exec(deviceID, sample.Type, sample.Value, sample.Unit, ts); err != nil {
			return fmt.Errorf("insert metric %s/%s: %w", deviceID, sample.Type, err)
		}
	}
	return tx.Commit()
}

// LatestMetrics returns the most recent row per metric type for a device.
// With no explicit types, all types present for the device are returned.
func (s *Store) LatestMetrics(deviceID string, types ...models.MetricType) ([]models.MetricSample, error) {
	query := `
		SELECT m.device_id, m.metric_type, m.value, m.unit, m.timestamp
		FROM metrics m
		WHERE m.device_id = ?
		  AND m.id = (
			SELECT m2.id FROM metrics m2
			WHERE m2.device_id = m.device_id AND m2.metric_type = m.metric_type
			ORDER BY m2.timestamp DESC, m2.id DESC
			LIMIT 1
		  )
	`
	args := []any{deviceID}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += " AND m.metric_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY m.metric_type"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("latest metrics %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []models.MetricSample
	for rows.Next() {
		var m models.MetricSample
		var metricType, unit string
		var ts int64
		if err := rows.Scan(&m.DeviceID, &metricType, &m.Value, &unit, &ts); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Type = models.MetricType(metricType)
		m.Unit = models.MetricUnit(unit)
		m.Timestamp = time.Unix(ts, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MetricsHistory returns one device's rows for a type inside the window,
// ordered ascending by timestamp.
func (s *Store) MetricsHistory(deviceID string, metricType models.MetricType, windowHours int) ([]models.MetricSample, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour).Unix()

	rows, err := s.db.Query(`
		SELECT device_id, metric_type, value, unit, timestamp
		FROM metrics
		WHERE device_id = ? AND metric_type = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`, deviceID, metricType, since)
	if err != nil {
		return nil, fmt.Errorf("metrics history %s/%s: %w", deviceID, metricType, err)
	}
	defer rows.Close()

	var out []models.MetricSample
	for rows.Next() {
		var m models.MetricSample
		var mt, unit string
		var ts int64
		if err := rows.Scan(&m.DeviceID, &mt, &m.Value, &unit, &ts); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Type = models.MetricType(mt)
		m.Unit = models.MetricUnit(unit)
		m.Timestamp = time.Unix(ts, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AggregatedPoint is one time bucket of a roll-up query.
type AggregatedPoint struct {
	BucketTS    time.Time `json:"bucket_ts"`
	Avg         float64   `json:"avg"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	SampleCount int64     `json:"sample_count"`
}

// AggregatedMetrics rolls one device/type series up into fixed buckets of
// bucketSeconds covering the trailing window.
func (s *Store) AggregatedMetrics(deviceID string, metricType models.MetricType, bucketSeconds int64, windowHours int) ([]AggregatedPoint, error) {
	if bucketSeconds <= 0 {
		return nil, internalerrors.WrapValidation("aggregated_metrics", fmt.Errorf("bucket size must be positive, got %d", bucketSeconds))
	}
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour).Unix()

	rows, err := s.db.Query(`
		SELECT
			(timestamp / ?) * ? AS bucket_ts,
			AVG(value) AS avg_value,
			MIN(value) AS min_value,
			MAX(value) AS max_value,
			COUNT(*) AS sample_count
		FROM metrics
		WHERE device_id = ? AND metric_type = ? AND timestamp >= ?
		GROUP BY bucket_ts
		ORDER BY bucket_ts ASC
	`, bucketSeconds, bucketSeconds, deviceID, metricType, since)
	if err != nil {
		return nil, fmt.Errorf("aggregated metrics %s/%s: %w", deviceID, metricType, err)
	}
	defer rows.Close()

	var out []AggregatedPoint
	for rows.Next() {
		var p AggregatedPoint
		var bucketTS int64
		if err := rows.Scan(&bucketTS, &p.Avg, &p.Min, &p.Max, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("scan aggregated point: %w", err)
		}
		p.BucketTS = time.Unix(bucketTS, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeviceMetric pairs a device with its latest value for one metric type.
type DeviceMetric struct {
	DeviceID  string    `json:"device_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// TopUsage returns the devices with the highest latest value for a metric
// type, descending.
func (s *Store) TopUsage(metricType models.MetricType, limit int) ([]DeviceMetric, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(`
		SELECT m.device_id, m.value, m.timestamp
		FROM metrics m
		WHERE m.metric_type = ?
		  AND m.id = (
			SELECT m2.id FROM metrics m2
			WHERE m2.device_id = m.device_id AND m2.metric_type = m.metric_type
			ORDER BY m2.timestamp DESC, m2.id DESC
			LIMIT 1
		  )
		ORDER BY m.value DESC
		LIMIT ?
	`, metricType, limit)
	if err != nil {
		return nil, fmt.Errorf("top usage %s: %w", metricType, err)
	}
	defer rows.Close()

	var out []DeviceMetric
	for rows.Next() {
		var dm DeviceMetric
		var ts int64
		if err := rows.Scan(&dm.DeviceID, &dm.Value, &ts); err != nil {
			return nil, fmt.Errorf("scan top usage: %w", err)
		}
		dm.Timestamp = time.Unix(ts, 0)
		out = append(out, dm)
	}
	return out, rows.Err()
}

// InsertSystemInfo appends one per-poll host summary row.
func (s *Store) InsertSystemInfo(info *models.SystemInfo) error {
	ts := info.Timestamp.Unix()
	if info.Timestamp.IsZero() {
		ts = time.Now().Unix()
	}
	_, err := s.db.Exec(`
		INSERT INTO system_info (device_id, uptime, processes, users, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, info.DeviceID, info.Uptime, info.Processes, info.Users, ts)
	if err != nil {
		return fmt.Errorf("insert system info %s: %w", info.DeviceID, err)
	}
	return nil
}

// LatestSystemInfo returns the newest summary row for a device.
func (s *Store) LatestSystemInfo(deviceID string) (*models.SystemInfo, error) {
	row := s.db.QueryRow(`
		SELECT device_id, uptime, processes, users, timestamp
		FROM system_info
		WHERE device_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, deviceID)

	var info models.SystemInfo
	var ts int64
	if err := row.Scan(&info.DeviceID, &info.Uptime, &info.Processes, &info.Users, &ts); err != nil {
		return nil, internalerrors.WrapNotFound("latest_system_info", deviceID, internalerrors.ErrNotFound)
	}
	info.Timestamp = time.Unix(ts, 0)
	return &info, nil
}

// ReplaceInterfaces atomically swaps a device's interface snapshot: the old
// rows are deleted and the new list inserted in one transaction.
func (s *Store) ReplaceInterfaces(deviceID string, interfaces []models.NetworkInterface) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace interfaces %s: %w", deviceID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM network_interfaces WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("replace interfaces %s: %w", deviceID, err)
	}

	if len(interfaces) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO network_interfaces
				(device_id, if_index, name, description, if_type, speed, mac,
				 admin_status, oper_status, in_octets, out_octets, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("replace interfaces %s: %w", deviceID, err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, iface := range interfaces {
			ts := iface.Timestamp.Unix()
			if iface.Timestamp.IsZero() {
				ts = now
			}
			if _, err := stmt.Exec(deviceID, iface.Index, iface.Name, iface.Description,
				iface.Type, int64(iface.Speed), iface.MAC, iface.AdminStatus, iface.OperStatus,
				int64(iface.InOctets), int64(iface.OutOctets), ts); err != nil {
				return fmt.Errorf("insert interface %s/%d: %w", deviceID, iface.Index, err)
			}
		}
	}
	return tx.Commit()
}

// GetInterfaces returns the latest interface snapshot for a device.
func (s *Store) GetInterfaces(deviceID string) ([]models.NetworkInterface, error) {
	rows, err := s.db.Query(`
		SELECT device_id, if_index, name, description, if_type, speed, mac,
		       admin_status, oper_status, in_octets, out_octets, timestamp
		FROM network_interfaces
		WHERE device_id = ?
		ORDER BY if_index
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("get interfaces %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []models.NetworkInterface
	for rows.Next() {
		var iface models.NetworkInterface
		var speed, inOctets, outOctets, ts int64
		if err := rows.Scan(&iface.DeviceID, &iface.Index, &iface.Name, &iface.Description,
			&iface.Type, &speed, &iface.MAC, &iface.AdminStatus, &iface.OperStatus,
			&inOctets, &outOctets, &ts); err != nil {
			return nil, fmt.Errorf("scan interface: %w", err)
		}
		iface.Speed = uint64(speed)
		iface.InOctets = uint64(inOctets)
		iface.OutOctets = uint64(outOctets)
		iface.Timestamp = time.Unix(ts, 0)
		out = append(out, iface)
	}
	return out, rows.Err()
}
