package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

func TestCreateAndGetTerminalSession(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)

	ts := &model.TerminalSession{ID: "term-1", HostRef: h.ID, UserRef: 1, Status: model.TerminalActive}
	require.NoError(t, s.CreateTerminalSession(ts))
	require.NotZero(t, ts.StartedAt)

	got, err := s.GetTerminalSession("term-1")
	require.NoError(t, err)
	require.Equal(t, model.TerminalActive, got.Status)
}

func TestGetTerminalSessionNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.GetTerminalSession("missing")
	require.Error(t, err)
}

func TestTouchTerminalSessionRequiresActive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)
	require.NoError(t, s.CreateTerminalSession(&model.TerminalSession{ID: "term-1", HostRef: h.ID, UserRef: 1, Status: model.TerminalActive}))

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.TouchTerminalSession("term-1", now))

	got, err := s.GetTerminalSession("term-1")
	require.NoError(t, err)
	require.WithinDuration(t, now, got.LastActivity, time.Second)

	require.NoError(t, s.EndTerminalSession("term-1", model.TerminalClosed))
	require.Error(t, s.TouchTerminalSession("term-1", time.Now()))
}

func TestEndTerminalSession(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)
	require.NoError(t, s.CreateTerminalSession(&model.TerminalSession{ID: "term-1", HostRef: h.ID, UserRef: 1, Status: model.TerminalActive}))

	require.NoError(t, s.EndTerminalSession("term-1", model.TerminalTimeout))

	got, err := s.GetTerminalSession("term-1")
	require.NoError(t, err)
	require.Equal(t, model.TerminalTimeout, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestInterruptActiveTerminalSessions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)
	require.NoError(t, s.CreateTerminalSession(&model.TerminalSession{ID: "term-1", HostRef: h.ID, UserRef: 1, Status: model.TerminalActive}))
	require.NoError(t, s.CreateTerminalSession(&model.TerminalSession{ID: "term-2", HostRef: h.ID, UserRef: 1, Status: model.TerminalClosed}))

	n, err := s.InterruptActiveTerminalSessions()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.GetTerminalSession("term-1")
	require.NoError(t, err)
	require.Equal(t, model.TerminalInterrupted, got.Status)
}

func TestListActiveTerminalSessionsOlderThan(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)
	require.NoError(t, s.CreateTerminalSession(&model.TerminalSession{ID: "term-1", HostRef: h.ID, UserRef: 1, Status: model.TerminalActive}))

	future := time.Now().Add(time.Hour)
	stale, err := s.ListActiveTerminalSessionsOlderThan(future)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "term-1", stale[0].ID)

	past := time.Now().Add(-time.Hour)
	none, err := s.ListActiveTerminalSessionsOlderThan(past)
	require.NoError(t, err)
	require.Empty(t, none)
}
