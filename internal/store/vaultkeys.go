package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// CreateVaultKey inserts a new encrypted key row.
func (s *Store) CreateVaultKey(k *model.VaultKey) error {
	k.CreatedAt = time.Now()
	_, err := s.db.Exec(`INSERT INTO vault_keys
		(id, name, key_type, fingerprint, ciphertext, iv, auth_tag, public_key, created_by, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		k.ID, k.Name, k.KeyType, k.Fingerprint, k.Ciphertext, k.IV, k.AuthTag,
		k.PublicKey, k.CreatedBy, k.CreatedAt)
	if err != nil {
		return trace.Wrap(err, "creating vault key %q", k.Name)
	}
	return nil
}

func scanVaultKey(row rowScanner) (*model.VaultKey, error) {
	var k model.VaultKey
	var publicKey *string
	var deletedAt *time.Time
	if err := row.Scan(&k.ID, &k.Name, &k.KeyType, &k.Fingerprint, &k.Ciphertext,
		&k.IV, &k.AuthTag, &publicKey, &k.CreatedBy, &k.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if publicKey != nil {
		k.PublicKey = *publicKey
	}
	k.DeletedAt = deletedAt
	return &k, nil
}

const vaultKeyColumns = `id, name, key_type, fingerprint, ciphertext, iv, auth_tag, public_key, created_by, created_at, deleted_at`

// GetVaultKey returns a key by ID regardless of soft-delete state; the
// vault package itself decides whether a deleted key is usable.
func (s *Store) GetVaultKey(id string) (*model.VaultKey, error) {
	row := s.db.QueryRow(`SELECT `+vaultKeyColumns+` FROM vault_keys WHERE id = ?`, id)
	k, err := scanVaultKey(row)
	if isNoRows(err) {
		return nil, trace.NotFound("ssh key %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return k, nil
}

// ListVaultKeys returns all keys, excluding soft-deleted ones unless
// includeDeleted is set.
func (s *Store) ListVaultKeys(includeDeleted bool) ([]*model.VaultKey, error) {
	query := `SELECT ` + vaultKeyColumns + ` FROM vault_keys`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.VaultKey
	for rows.Next() {
		k, err := scanVaultKey(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, k)
	}
	return out, trace.Wrap(rows.Err())
}

// SoftDeleteVaultKey sets deleted_at; ciphertext is retained for audit.
func (s *Store) SoftDeleteVaultKey(id string) error {
	res, err := s.db.Exec(`UPDATE vault_keys SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "ssh key", id)
}
