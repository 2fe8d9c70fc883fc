package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/gravitational/trace"
)

// ExportHostsCSV renders every host as CSV, escaping cells that could
// be interpreted as spreadsheet formulas on open.
func (s *Store) ExportHostsCSV() ([]byte, error) {
	hosts, err := s.ListHosts("", "", Page{Limit: MaxPageSize})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "name", "address", "port", "username", "status", "group_ref", "last_seen"})
	for _, h := range hosts {
		lastSeen := ""
		if h.LastSeen != nil {
			lastSeen = h.LastSeen.Format(time.RFC3339)
		}
		row := []string{
			fmt.Sprint(h.ID), h.Name, h.Address, fmt.Sprint(h.Port), h.Username,
			string(h.Status), h.GroupRef, lastSeen,
		}
		escapeRow(row)
		if err := w.Write(row); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	w.Flush()
	return buf.Bytes(), trace.Wrap(w.Error())
}

// ExportAlertsCSV renders alerts for a host as CSV.
func (s *Store) ExportAlertsCSV(hostRef int64) ([]byte, error) {
	alerts, err := s.ListAlerts(hostRef, false, Page{Limit: MaxPageSize})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "host_ref", "severity", "metric", "value", "threshold", "message", "is_read", "created_at"})
	for _, a := range alerts {
		row := []string{
			fmt.Sprint(a.ID), fmt.Sprint(a.HostRef), a.Severity, a.Metric,
			fmt.Sprint(a.Value), fmt.Sprint(a.Threshold), a.Message,
			fmt.Sprint(a.IsRead), a.CreatedAt.Format(time.RFC3339),
		}
		escapeRow(row)
		if err := w.Write(row); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	w.Flush()
	return buf.Bytes(), trace.Wrap(w.Error())
}

// ExportMonitoringHistoryCSV renders samples for a (host, metric) pair.
func (s *Store) ExportMonitoringHistoryCSV(hostRef int64, metric string) ([]byte, error) {
	samples, err := s.ListMonitoringHistory(hostRef, metric, nil, nil, Page{Limit: MaxPageSize})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"host_ref", "metric_type", "timestamp", "json"})
	for _, m := range samples {
		row := []string{fmt.Sprint(m.HostRef), m.MetricType, m.Timestamp.Format(time.RFC3339), m.JSON}
		escapeRow(row)
		if err := w.Write(row); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	w.Flush()
	return buf.Bytes(), trace.Wrap(w.Error())
}

// ExportAuditLogsCSV renders a page of audit rows.
func (s *Store) ExportAuditLogsCSV(f AuditFilter) ([]byte, error) {
	rows, err := s.ListAuditLogs(f, Page{Limit: MaxPageSize})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "user_ref", "action", "target_type", "target_id", "ip", "created_at"})
	for _, a := range rows {
		userRef := ""
		if a.UserRef != nil {
			userRef = fmt.Sprint(*a.UserRef)
		}
		row := []string{a.ID, userRef, a.Action, a.TargetType, a.TargetID, a.IP, a.CreatedAt.Format(time.RFC3339)}
		escapeRow(row)
		if err := w.Write(row); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	w.Flush()
	return buf.Bytes(), trace.Wrap(w.Error())
}

func escapeRow(row []string) {
	for i, cell := range row {
		row[i] = EscapeCSVCell(cell)
	}
}
