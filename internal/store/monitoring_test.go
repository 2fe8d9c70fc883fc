package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

func TestAppendAndListMonitoringHistory(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)

	require.NoError(t, s.AppendMonitoringHistory(&model.MonitoringHistory{
		HostRef: h.ID, MetricType: "cpu", JSON: `{"percent":10}`, Timestamp: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.AppendMonitoringHistory(&model.MonitoringHistory{
		HostRef: h.ID, MetricType: "cpu", JSON: `{"percent":20}`, Timestamp: time.Now(),
	}))
	require.NoError(t, s.AppendMonitoringHistory(&model.MonitoringHistory{
		HostRef: h.ID, MetricType: "memory", JSON: `{"percent":50}`, Timestamp: time.Now(),
	}))

	samples, err := s.ListMonitoringHistory(h.ID, "cpu", nil, nil, Page{})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, `{"percent":20}`, samples[0].JSON)
}

func TestListMonitoringHistoryTimeRange(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)
	require.NoError(t, s.AppendMonitoringHistory(&model.MonitoringHistory{
		HostRef: h.ID, MetricType: "cpu", JSON: `{}`, Timestamp: time.Now().Add(-time.Hour),
	}))

	since := time.Now().Add(-time.Minute)
	samples, err := s.ListMonitoringHistory(h.ID, "cpu", &since, nil, Page{})
	require.NoError(t, err)
	require.Empty(t, samples)
}

func TestPruneMonitoringHistory(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)
	require.NoError(t, s.AppendMonitoringHistory(&model.MonitoringHistory{
		HostRef: h.ID, MetricType: "cpu", JSON: `{}`, Timestamp: time.Now().Add(-time.Hour),
	}))

	n, err := s.PruneMonitoringHistory(time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestCreateAndListAlerts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	h := seedHost(t, s)

	a := &model.Alert{HostRef: h.ID, Severity: model.SeverityWarning, Metric: "cpu", Value: 95, Threshold: 90, Message: "cpu hot"}
	require.NoError(t, s.CreateAlert(a))
	require.NotZero(t, a.ID)

	alerts, err := s.ListAlerts(h.ID, false, Page{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.False(t, alerts[0].IsRead)

	require.NoError(t, s.MarkAlertRead(a.ID))

	unread, err := s.ListAlerts(h.ID, true, Page{})
	require.NoError(t, err)
	require.Empty(t, unread)
}
