package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

func TestCreateAndGetUser(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	u := &model.User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", Role: model.RoleOperator, IsActive: true}
	require.NoError(t, s.CreateUser(u))
	require.NotZero(t, u.ID)

	got, err := s.GetUser(u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)

	byName, err := s.GetUserByUsername("alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)
}

func TestGetUserByUsernameNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.GetUserByUsername("nobody")
	require.Error(t, err)
}

func TestListUsers(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.CreateUser(&model.User{Username: "alice", PasswordHash: "x", Role: model.RoleAdmin}))
	require.NoError(t, s.CreateUser(&model.User{Username: "bob", PasswordHash: "x", Role: model.RoleViewer}))

	users, err := s.ListUsers(Page{})
	require.NoError(t, err)
	require.Len(t, users, 2)
}

func TestUpdateUserPasswordHash(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	u := &model.User{Username: "alice", PasswordHash: "old", Role: model.RoleAdmin}
	require.NoError(t, s.CreateUser(u))

	require.NoError(t, s.UpdateUserPasswordHash(u.ID, "new"))

	got, err := s.GetUser(u.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.PasswordHash)
}

func TestRecordLoginAndSetUserActive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	u := &model.User{Username: "alice", PasswordHash: "x", Role: model.RoleAdmin, IsActive: true}
	require.NoError(t, s.CreateUser(u))

	require.NoError(t, s.RecordLogin(u.ID))
	require.NoError(t, s.SetUserActive(u.ID, false))

	got, err := s.GetUser(u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	require.False(t, got.IsActive)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	u := &model.User{Username: "alice", PasswordHash: "x", Role: model.RoleAdmin}
	require.NoError(t, s.CreateUser(u))

	sess := &model.Session{Token: "tok-1", UserRef: u.ID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateSession(sess))

	got, err := s.GetSession("tok-1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserRef)

	require.NoError(t, s.DeleteSession("tok-1"))
	_, err = s.GetSession("tok-1")
	require.Error(t, err)
}

func TestGetSessionExpired(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	u := &model.User{Username: "alice", PasswordHash: "x", Role: model.RoleAdmin}
	require.NoError(t, s.CreateUser(u))

	sess := &model.Session{Token: "tok-expired", UserRef: u.ID, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.CreateSession(sess))

	_, err := s.GetSession("tok-expired")
	require.Error(t, err)
}

func TestDeleteExpiredSessions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	u := &model.User{Username: "alice", PasswordHash: "x", Role: model.RoleAdmin}
	require.NoError(t, s.CreateUser(u))

	require.NoError(t, s.CreateSession(&model.Session{Token: "old", UserRef: u.ID, ExpiresAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, s.CreateSession(&model.Session{Token: "fresh", UserRef: u.ID, ExpiresAt: time.Now().Add(time.Hour)}))

	n, err := s.DeleteExpiredSessions(time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
