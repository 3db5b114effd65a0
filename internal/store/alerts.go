package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	internalerrors "github.com/R8355H0755/lan-insight/internal/errors"
	"github.com/R8355H0755/lan-insight/internal/models"
)

const alertColumns = `id, device_id, device_ip, type, severity, message,
	acknowledged, acknowledged_by, acknowledged_at, created_at, resolved_at, resolved_by`

// UpsertAlert mirrors one alert row by its unique id. The alert engine owns
// dedup; ids never collide across distinct alerts, so replacing by id is safe.
func (s *Store) UpsertAlert(a *models.Alert) error {
	if a.ID == "" {
		return internalerrors.WrapValidation("upsert_alert", fmt.Errorf("alert id is required"))
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_ip = excluded.device_ip,
			severity = excluded.severity,
			message = excluded.message,
			acknowledged = excluded.acknowledged,
			acknowledged_by = excluded.acknowledged_by,
			acknowledged_at = excluded.acknowledged_at,
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by
	`, a.ID, a.DeviceID, a.DeviceIP, a.Type, a.Severity, a.Message,
		boolToInt(a.Acknowledged), a.AcknowledgedBy, unixOrNull(a.AcknowledgedAt),
		a.CreatedAt.Unix(), unixOrNull(a.ResolvedAt), a.ResolvedBy)
	if err != nil {
		return fmt.Errorf("upsert alert %s: %w", a.ID, err)
	}
	return nil
}

// AckAlert marks a persisted alert acknowledged.
func (s *Store) AckAlert(id, who string) error {
	res, err := s.db.Exec(`
		UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ?
	`, who, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("ack alert %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internalerrors.WrapNotFound("ack_alert", id, internalerrors.ErrNotFound)
	}
	return nil
}

// ResolveAlert stamps a persisted alert resolved.
func (s *Store) ResolveAlert(id, who string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.Exec(`
		UPDATE alerts SET resolved_at = ?, resolved_by = ? WHERE id = ?
	`, at.Unix(), who, id)
	if err != nil {
		return fmt.Errorf("resolve alert %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internalerrors.WrapNotFound("resolve_alert", id, internalerrors.ErrNotFound)
	}
	return nil
}

// DeleteAlert removes a persisted alert row.
func (s *Store) DeleteAlert(id string) error {
	res, err := s.db.Exec("DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internalerrors.WrapNotFound("delete_alert", id, internalerrors.ErrNotFound)
	}
	return nil
}

// GetAlert fetches one persisted alert by id.
func (s *Store) GetAlert(id string) (*models.Alert, error) {
	row := s.db.QueryRow("SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if err != nil {
		return nil, internalerrors.WrapNotFound("get_alert", id, internalerrors.ErrNotFound)
	}
	return a, nil
}

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	DeviceID     string
	Type         models.AlertType
	Severity     models.Severity
	Acknowledged *bool
	ActiveOnly   bool
	Limit        int
	Offset       int
}

// ListAlerts returns persisted alerts newest first.
func (s *Store) ListAlerts(filter AlertFilter) ([]models.Alert, error) {
	var conds []string
	var args []any
	if filter.DeviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Acknowledged != nil {
		conds = append(conds, "acknowledged = ?")
		args = append(args, boolToInt(*filter.Acknowledged))
	}
	if filter.ActiveOnly {
		conds = append(conds, "resolved_at IS NULL")
	}

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ActiveAlerts returns the rows that hydrate the alert engine on startup:
// unacknowledged and unresolved.
func (s *Store) ActiveAlerts() ([]models.Alert, error) {
	f := false
	return s.ListAlerts(AlertFilter{Acknowledged: &f, ActiveOnly: true})
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var alertType, severity string
	var acknowledged int
	var ackAt, resolvedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&a.ID, &a.DeviceID, &a.DeviceIP, &alertType, &severity, &a.Message,
		&acknowledged, &a.AcknowledgedBy, &ackAt, &createdAt, &resolvedAt, &a.ResolvedBy)
	if err != nil {
		return nil, err
	}
	a.Type = models.AlertType(alertType)
	a.Severity = models.Severity(severity)
	a.Acknowledged = acknowledged != 0
	a.CreatedAt = time.Unix(createdAt, 0)
	a.LastOccurrence = a.CreatedAt
	a.OccurrenceCount = 1
	if ackAt.Valid {
		t := time.Unix(ackAt.Int64, 0)
		a.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0)
		a.ResolvedAt = &t
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
