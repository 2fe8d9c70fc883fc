package store

import (
	"encoding/json"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// CreateAuditLog inserts an append-only audit row. Writes are expected
// to be linearized with respect to the originating domain write by the
// caller (events package), per spec.md §5's ordering guarantees.
func (s *Store) CreateAuditLog(a *model.AuditLog) error {
	a.CreatedAt = time.Now()
	metaJSON, err := json.Marshal(a.Meta)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.db.Exec(`INSERT INTO audit_logs (id, user_ref, action, target_type, target_id, meta, ip, user_agent, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserRef, a.Action, a.TargetType, a.TargetID, string(metaJSON), a.IP, a.UserAgent, a.CreatedAt)
	return trace.Wrap(err)
}

// AuditFilter narrows ListAuditLogs.
type AuditFilter struct {
	UserRef *int64
	Action  string
	Since   *time.Time
	Until   *time.Time
}

func scanAudit(row rowScanner) (*model.AuditLog, error) {
	var a model.AuditLog
	var userRef *int64
	var targetType, targetID, ip, userAgent *string
	var metaJSON string
	if err := row.Scan(&a.ID, &userRef, &a.Action, &targetType, &targetID, &metaJSON,
		&ip, &userAgent, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.UserRef = userRef
	if targetType != nil {
		a.TargetType = *targetType
	}
	if targetID != nil {
		a.TargetID = *targetID
	}
	if ip != nil {
		a.IP = *ip
	}
	if userAgent != nil {
		a.UserAgent = *userAgent
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &a.Meta)
	}
	return &a, nil
}

// PruneAuditLogs deletes audit rows older than cutoff, per spec.md
// §4.12's scheduled audit-log cleanup job.
func (s *Store) PruneAuditLogs(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM audit_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	return n, trace.Wrap(err)
}

const auditColumns = `id, user_ref, action, target_type, target_id, meta, ip, user_agent, created_at`

// ListAuditLogs returns a page of audit rows ordered newest first.
func (s *Store) ListAuditLogs(f AuditFilter, p Page) ([]*model.AuditLog, error) {
	p = NormalizePage(p)
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`
	var args []any
	if f.UserRef != nil {
		query += ` AND user_ref = ?`
		args = append(args, *f.UserRef)
	}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, f.Action)
	}
	if f.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, *f.Until)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.AuditLog
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, a)
	}
	return out, trace.Wrap(rows.Err())
}
