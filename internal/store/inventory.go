package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// UpsertHostInventoryLatest replaces the "latest facts" row for a host.
func (s *Store) UpsertHostInventoryLatest(hostRef int64, collectedAt time.Time, jsonBody string) error {
	_, err := s.db.Exec(`INSERT INTO host_inventory_latest (host_ref, collected_at, json)
		VALUES (?,?,?)
		ON CONFLICT(host_ref) DO UPDATE SET collected_at = excluded.collected_at, json = excluded.json`,
		hostRef, collectedAt, jsonBody)
	return trace.Wrap(err)
}

// GetHostInventoryLatest returns the most recent inventory facts for a
// host.
func (s *Store) GetHostInventoryLatest(hostRef int64) (*model.HostInventoryLatest, error) {
	var out model.HostInventoryLatest
	err := s.db.QueryRow(`SELECT host_ref, collected_at, json FROM host_inventory_latest WHERE host_ref = ?`, hostRef).
		Scan(&out.HostRef, &out.CollectedAt, &out.JSON)
	if isNoRows(err) {
		return nil, trace.NotFound("no inventory recorded for host %d", hostRef)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// AppendHostInventorySnapshot appends one historical inventory row.
func (s *Store) AppendHostInventorySnapshot(snap *model.HostInventorySnapshot) error {
	snap.CollectedAt = time.Now()
	_, err := s.db.Exec(`INSERT INTO host_inventory_snapshots (id, host_ref, collected_at, json)
		VALUES (?,?,?,?)`, snap.ID, snap.HostRef, snap.CollectedAt, snap.JSON)
	return trace.Wrap(err)
}

// ListHostInventorySnapshots returns a page of historical snapshots for
// a host, newest first.
func (s *Store) ListHostInventorySnapshots(hostRef int64, p Page) ([]*model.HostInventorySnapshot, error) {
	p = NormalizePage(p)
	rows, err := s.db.Query(`SELECT id, host_ref, collected_at, json FROM host_inventory_snapshots
		WHERE host_ref = ? ORDER BY collected_at DESC LIMIT ? OFFSET ?`, hostRef, p.Limit, p.Offset)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.HostInventorySnapshot
	for rows.Next() {
		var snap model.HostInventorySnapshot
		if err := rows.Scan(&snap.ID, &snap.HostRef, &snap.CollectedAt, &snap.JSON); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, &snap)
	}
	return out, trace.Wrap(rows.Err())
}
