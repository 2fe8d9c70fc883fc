package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// AppendMonitoringHistory appends one metric sample for a host.
func (s *Store) AppendMonitoringHistory(m *model.MonitoringHistory) error {
	_, err := s.db.Exec(`INSERT INTO monitoring_history (host_ref, metric_type, json, timestamp)
		VALUES (?,?,?,?)`, m.HostRef, m.MetricType, m.JSON, m.Timestamp)
	return trace.Wrap(err)
}

// ListMonitoringHistory returns a page of samples for a (host, metric)
// pair within an optional time range, newest first.
func (s *Store) ListMonitoringHistory(hostRef int64, metric string, since, until *time.Time, p Page) ([]*model.MonitoringHistory, error) {
	p = NormalizePage(p)
	query := `SELECT host_ref, metric_type, json, timestamp FROM monitoring_history WHERE host_ref = ? AND metric_type = ?`
	args := []any{hostRef, metric}
	if since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, *since)
	}
	if until != nil {
		query += ` AND timestamp <= ?`
		args = append(args, *until)
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.MonitoringHistory
	for rows.Next() {
		var m model.MonitoringHistory
		if err := rows.Scan(&m.HostRef, &m.MetricType, &m.JSON, &m.Timestamp); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, &m)
	}
	return out, trace.Wrap(rows.Err())
}

// PruneMonitoringHistory deletes samples older than cutoff, used by the
// lifecycle manager's scheduled cleanup job.
func (s *Store) PruneMonitoringHistory(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM monitoring_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	return n, trace.Wrap(err)
}

// CreateAlert inserts a new threshold-breach alert.
func (s *Store) CreateAlert(a *model.Alert) error {
	a.CreatedAt = time.Now()
	res, err := s.db.Exec(`INSERT INTO alerts (host_ref, severity, metric, value, threshold, message, is_read, created_at)
		VALUES (?,?,?,?,?,?,0,?)`, a.HostRef, a.Severity, a.Metric, a.Value, a.Threshold, a.Message, a.CreatedAt)
	if err != nil {
		return trace.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return trace.Wrap(err)
	}
	a.ID = id
	return nil
}

// ListAlerts returns a page of alerts for a host, optionally filtered
// to unread only.
func (s *Store) ListAlerts(hostRef int64, unreadOnly bool, p Page) ([]*model.Alert, error) {
	p = NormalizePage(p)
	query := `SELECT id, host_ref, severity, metric, value, threshold, message, is_read, created_at
		FROM alerts WHERE host_ref = ?`
	args := []any{hostRef}
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.HostRef, &a.Severity, &a.Metric, &a.Value,
			&a.Threshold, &a.Message, &a.IsRead, &a.CreatedAt); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, &a)
	}
	return out, trace.Wrap(rows.Err())
}

// MarkAlertRead flags an alert as read.
func (s *Store) MarkAlertRead(id int64) error {
	res, err := s.db.Exec(`UPDATE alerts SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "alert", id)
}
