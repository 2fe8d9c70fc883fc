package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

func testHost(name string) *model.Host {
	return &model.Host{Name: name, Address: "10.0.0.1", Port: 22, Username: "deploy", Tags: []string{"prod", "web"}}
}

func TestCreateAndGetHost(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := testHost("web-1")
	require.NoError(t, s.CreateHost(h))
	require.NotZero(t, h.ID)
	require.Equal(t, model.HostUnknown, h.Status)

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, "web-1", got.Name)
	require.ElementsMatch(t, []string{"prod", "web"}, got.Tags)
}

func TestGetHostNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.GetHost(999)
	require.Error(t, err)
}

func TestListHostsFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		h := testHost("host-" + string(rune('a'+i)))
		h.GroupRef = "group-a"
		require.NoError(t, s.CreateHost(h))
	}
	other := testHost("host-other")
	other.GroupRef = "group-b"
	require.NoError(t, s.CreateHost(other))

	filtered, err := s.ListHosts("", "group-a", Page{})
	require.NoError(t, err)
	require.Len(t, filtered, 3)

	paged, err := s.ListHosts("", "group-a", Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, paged, 2)
}

func TestUpdateHost(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := testHost("web-1")
	require.NoError(t, s.CreateHost(h))

	h.Description = "updated description"
	require.NoError(t, s.UpdateHost(h))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, "updated description", got.Description)
}

func TestUpdateHostNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	err := s.UpdateHost(&model.Host{ID: 999, Name: "ghost"})
	require.Error(t, err)
}

func TestUpdateHostStatus(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := testHost("web-1")
	require.NoError(t, s.CreateHost(h))

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.UpdateHostStatus(h.ID, model.HostOnline, now))

	got, err := s.GetHost(h.ID)
	require.NoError(t, err)
	require.Equal(t, model.HostOnline, got.Status)
	require.NotNil(t, got.LastSeen)
}

func TestListMonitoredHosts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.CreateHost(testHost("web-1")))
	require.NoError(t, s.CreateHost(testHost("web-2")))

	hosts, err := s.ListMonitoredHosts()
	require.NoError(t, err)
	require.Len(t, hosts, 2)
}

func TestDeleteHostCascades(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := testHost("web-1")
	require.NoError(t, s.CreateHost(h))

	require.NoError(t, s.CreateTask(&model.Task{ID: "task-1", HostRef: h.ID, UserRef: 1, Command: "uptime", Status: model.TaskQueued}))
	require.NoError(t, s.CreateAlert(&model.Alert{HostRef: h.ID, Severity: model.SeverityWarning, Metric: "cpu", Value: 90, Threshold: 80}))

	require.NoError(t, s.DeleteHost(h.ID))

	_, err := s.GetHost(h.ID)
	require.Error(t, err)
	_, err = s.GetTask("task-1")
	require.Error(t, err)
}

func TestDeleteHostNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.Error(t, s.DeleteHost(999))
}
