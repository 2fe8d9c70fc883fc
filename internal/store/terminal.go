package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// CreateTerminalSession inserts the durable ledger row for a new PTY
// bridge.
func (s *Store) CreateTerminalSession(t *model.TerminalSession) error {
	t.StartedAt = time.Now()
	t.LastActivity = t.StartedAt
	_, err := s.db.Exec(`INSERT INTO terminal_sessions
		(id, host_ref, user_ref, vault_key_ref, started_at, last_activity, status)
		VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.HostRef, t.UserRef, t.VaultKeyRef, t.StartedAt, t.LastActivity, t.Status)
	return trace.Wrap(err)
}

// TouchTerminalSession updates last_activity, called on every inbound
// frame per the idle-timeout discipline in spec.md §4.5.
func (s *Store) TouchTerminalSession(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE terminal_sessions SET last_activity = ? WHERE id = ? AND status = ?`,
		at, id, model.TerminalActive)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "terminal session", id)
}

// EndTerminalSession sets the terminal status and stamps ended_at.
func (s *Store) EndTerminalSession(id string, status model.TerminalStatus) error {
	res, err := s.db.Exec(`UPDATE terminal_sessions SET status = ?, ended_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "terminal session", id)
}

// GetTerminalSession returns a terminal session row by ID.
func (s *Store) GetTerminalSession(id string) (*model.TerminalSession, error) {
	var t model.TerminalSession
	var vaultKeyRef *string
	var endedAt *time.Time
	err := s.db.QueryRow(`SELECT id, host_ref, user_ref, vault_key_ref, started_at, ended_at,
		last_activity, status FROM terminal_sessions WHERE id = ?`, id).
		Scan(&t.ID, &t.HostRef, &t.UserRef, &vaultKeyRef, &t.StartedAt, &endedAt, &t.LastActivity, &t.Status)
	if isNoRows(err) {
		return nil, trace.NotFound("terminal session %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if vaultKeyRef != nil {
		t.VaultKeyRef = *vaultKeyRef
	}
	t.EndedAt = endedAt
	return &t, nil
}

// InterruptActiveTerminalSessions transitions every active terminal
// session to interrupted at startup recovery.
func (s *Store) InterruptActiveTerminalSessions() (int64, error) {
	res, err := s.db.Exec(`UPDATE terminal_sessions SET status = ?, ended_at = ? WHERE status = ?`,
		model.TerminalInterrupted, time.Now(), model.TerminalActive)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	return n, trace.Wrap(err)
}

// ListActiveTerminalSessionsOlderThan returns active sessions whose
// last_activity predates cutoff, for the idle-timeout sweep.
func (s *Store) ListActiveTerminalSessionsOlderThan(cutoff time.Time) ([]*model.TerminalSession, error) {
	rows, err := s.db.Query(`SELECT id, host_ref, user_ref, vault_key_ref, started_at, ended_at,
		last_activity, status FROM terminal_sessions WHERE status = ? AND last_activity < ?`,
		model.TerminalActive, cutoff)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.TerminalSession
	for rows.Next() {
		var t model.TerminalSession
		var vaultKeyRef *string
		var endedAt *time.Time
		if err := rows.Scan(&t.ID, &t.HostRef, &t.UserRef, &vaultKeyRef, &t.StartedAt,
			&endedAt, &t.LastActivity, &t.Status); err != nil {
			return nil, trace.Wrap(err)
		}
		if vaultKeyRef != nil {
			t.VaultKeyRef = *vaultKeyRef
		}
		t.EndedAt = endedAt
		out = append(out, &t)
	}
	return out, trace.Wrap(rows.Err())
}
