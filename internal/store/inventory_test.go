package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

func TestUpsertAndGetHostInventoryLatest(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.UpsertHostInventoryLatest(h.ID, now, `{"os":"linux"}`))

	got, err := s.GetHostInventoryLatest(h.ID)
	require.NoError(t, err)
	require.Equal(t, `{"os":"linux"}`, got.JSON)

	later := now.Add(time.Minute)
	require.NoError(t, s.UpsertHostInventoryLatest(h.ID, later, `{"os":"linux","kernel":"6.1"}`))

	got, err = s.GetHostInventoryLatest(h.ID)
	require.NoError(t, err)
	require.Equal(t, `{"os":"linux","kernel":"6.1"}`, got.JSON)
}

func TestGetHostInventoryLatestNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)

	_, err := s.GetHostInventoryLatest(h.ID)
	require.Error(t, err)
}

func TestAppendAndListHostInventorySnapshots(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)

	require.NoError(t, s.AppendHostInventorySnapshot(&model.HostInventorySnapshot{ID: "snap-1", HostRef: h.ID, JSON: `{"os":"linux"}`}))
	require.NoError(t, s.AppendHostInventorySnapshot(&model.HostInventorySnapshot{ID: "snap-2", HostRef: h.ID, JSON: `{"os":"linux","patched":true}`}))

	snaps, err := s.ListHostInventorySnapshots(h.ID, Page{})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "snap-2", snaps[0].ID)
}
