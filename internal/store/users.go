package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// CreateUser inserts a new operator account.
func (s *Store) CreateUser(u *model.User) error {
	u.CreatedAt = time.Now()
	res, err := s.db.Exec(`INSERT INTO users (username, email, password_hash, role, is_active, created_at)
		VALUES (?,?,?,?,?,?)`, u.Username, u.Email, u.PasswordHash, u.Role, u.IsActive, u.CreatedAt)
	if err != nil {
		return trace.Wrap(err, "creating user %q", u.Username)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return trace.Wrap(err)
	}
	u.ID = id
	return nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var email *string
	var lastLogin *time.Time
	if err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.Role,
		&u.IsActive, &lastLogin, &u.CreatedAt); err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	u.LastLogin = lastLogin
	return &u, nil
}

const userColumns = `id, username, email, password_hash, role, is_active, last_login, created_at`

// GetUser returns a user by ID.
func (s *Store) GetUser(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if isNoRows(err) {
		return nil, trace.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return u, nil
}

// GetUserByUsername returns a user by login name.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if isNoRows(err) {
		return nil, trace.NotFound("user %q not found", username)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return u, nil
}

// ListUsers returns a page of users.
func (s *Store) ListUsers(p Page) ([]*model.User, error) {
	p = NormalizePage(p)
	rows, err := s.db.Query(`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`, p.Limit, p.Offset)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, u)
	}
	return out, trace.Wrap(rows.Err())
}

// UpdateUserPasswordHash rewrites a user's password hash, e.g. on
// migration from a legacy plain-SHA256 hash to the salted format.
func (s *Store) UpdateUserPasswordHash(id int64, hash string) error {
	res, err := s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "user", id)
}

// RecordLogin stamps last_login to now.
func (s *Store) RecordLogin(id int64) error {
	res, err := s.db.Exec(`UPDATE users SET last_login = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "user", id)
}

// SetUserActive enables or disables an account.
func (s *Store) SetUserActive(id int64, active bool) error {
	res, err := s.db.Exec(`UPDATE users SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "user", id)
}

// CreateSession inserts a legacy opaque-token session.
func (s *Store) CreateSession(sess *model.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (token, user_ref, expires_at) VALUES (?,?,?)`,
		sess.Token, sess.UserRef, sess.ExpiresAt)
	return trace.Wrap(err)
}

// GetSession returns a session by token, or NotFound if missing or
// expired.
func (s *Store) GetSession(token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRow(`SELECT token, user_ref, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&sess.Token, &sess.UserRef, &sess.ExpiresAt)
	if isNoRows(err) {
		return nil, trace.NotFound("session not found")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, trace.NotFound("session expired")
	}
	return &sess, nil
}

// DeleteSession revokes a session token.
func (s *Store) DeleteSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return trace.Wrap(err)
}

// DeleteExpiredSessions removes sessions older than the given cutoff,
// per spec.md §4.12's startup "delete expired Sessions (>7d)" step.
func (s *Store) DeleteExpiredSessions(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, olderThan)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	return n, trace.Wrap(err)
}
