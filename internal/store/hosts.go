package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// CreateHost inserts a new host and returns its generated ID.
func (s *Store) CreateHost(h *model.Host) error {
	now := time.Now()
	h.CreatedAt, h.UpdatedAt = now, now
	if h.Status == "" {
		h.Status = model.HostUnknown
	}
	res, err := s.db.Exec(`INSERT INTO hosts
		(name, address, port, username, description, agent_port, tags, group_ref,
		 status, ssh_key_path, ssh_password_wrapped, ssh_key_vault_ref, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.Name, h.Address, h.Port, h.Username, h.Description, h.AgentPort,
		joinTags(h.Tags), h.GroupRef, h.Status, h.SSHKeyPath, h.SSHPasswordWrapped,
		h.SSHKeyVaultRef, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return trace.Wrap(err, "creating host %q", h.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return trace.Wrap(err)
	}
	h.ID = id
	return nil
}

func scanHost(row rowScanner) (*model.Host, error) {
	var h model.Host
	var tags string
	var lastSeen *time.Time
	var sshKeyPath, groupRef, sshKeyVaultRef *string
	if err := row.Scan(&h.ID, &h.Name, &h.Address, &h.Port, &h.Username, &h.Description,
		&h.AgentPort, &tags, &groupRef, &h.Status, &lastSeen, &sshKeyPath,
		&h.SSHPasswordWrapped, &sshKeyVaultRef, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Tags = splitTags(tags)
	if groupRef != nil {
		h.GroupRef = *groupRef
	}
	if sshKeyPath != nil {
		h.SSHKeyPath = *sshKeyPath
	}
	if sshKeyVaultRef != nil {
		h.SSHKeyVaultRef = *sshKeyVaultRef
	}
	h.LastSeen = lastSeen
	return &h, nil
}

const hostColumns = `id, name, address, port, username, description, agent_port, tags,
	group_ref, status, last_seen, ssh_key_path, ssh_password_wrapped, ssh_key_vault_ref,
	created_at, updated_at`

// GetHost returns a host by ID, or NotFound.
func (s *Store) GetHost(id int64) (*model.Host, error) {
	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id)
	h, err := scanHost(row)
	if isNoRows(err) {
		return nil, trace.NotFound("host %d not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h, nil
}

// ListHosts returns a page of hosts, optionally filtered by status and
// group.
func (s *Store) ListHosts(status, group string, p Page) ([]*model.Host, error) {
	p = NormalizePage(p)
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if group != "" {
		query += ` AND group_ref = ?`
		args = append(args, group)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, h)
	}
	return out, trace.Wrap(rows.Err())
}

// ListMonitoredHosts returns every host, unpaginated, for the stats
// broadcaster's per-tick sweep (spec.md §4.6 has no page concept — it
// always considers the full host set).
func (s *Store) ListMonitoredHosts() ([]*model.Host, error) {
	rows, err := s.db.Query(`SELECT ` + hostColumns + ` FROM hosts ORDER BY id`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, h)
	}
	return out, trace.Wrap(rows.Err())
}

// UpdateHost persists mutable host fields (not status/last_seen, which
// belong to the monitoring path only, per spec.md §3).
func (s *Store) UpdateHost(h *model.Host) error {
	h.UpdatedAt = time.Now()
	res, err := s.db.Exec(`UPDATE hosts SET name=?, address=?, port=?, username=?,
		description=?, agent_port=?, tags=?, group_ref=?, ssh_key_path=?,
		ssh_password_wrapped=?, ssh_key_vault_ref=?, updated_at=? WHERE id=?`,
		h.Name, h.Address, h.Port, h.Username, h.Description, h.AgentPort,
		joinTags(h.Tags), h.GroupRef, h.SSHKeyPath, h.SSHPasswordWrapped,
		h.SSHKeyVaultRef, h.UpdatedAt, h.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "host", h.ID)
}

// UpdateHostStatus is called exclusively by the monitoring path (C6).
func (s *Store) UpdateHostStatus(id int64, status model.HostStatus, lastSeen time.Time) error {
	res, err := s.db.Exec(`UPDATE hosts SET status=?, last_seen=? WHERE id=?`, status, lastSeen, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "host", id)
}

// DeleteHost removes a host and cascades to its Tasks, TerminalSessions,
// Alerts, inventory snapshots, and monitoring history, per spec.md §3's
// ownership & lifecycle rule. All deletes run in one transaction.
func (s *Store) DeleteHost(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
	}{
		{`DELETE FROM tasks WHERE host_ref = ?`},
		{`DELETE FROM terminal_sessions WHERE host_ref = ?`},
		{`DELETE FROM alerts WHERE host_ref = ?`},
		{`DELETE FROM host_inventory_snapshots WHERE host_ref = ?`},
		{`DELETE FROM host_inventory_latest WHERE host_ref = ?`},
		{`DELETE FROM monitoring_history WHERE host_ref = ?`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.query, id); err != nil {
			return trace.Wrap(err)
		}
	}
	res, err := tx.Exec(`DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound("host %d not found", id)
	}
	return trace.Wrap(tx.Commit())
}

type rowScanner interface {
	Scan(dest ...any) error
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func checkAffected(res rowsAffecter, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound("%s %v not found", kind, id)
	}
	return nil
}
