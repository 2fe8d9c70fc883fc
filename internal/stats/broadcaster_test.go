package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

type fakeStatsStore struct {
	mu       sync.Mutex
	hosts    []*model.Host
	statuses map[int64]model.HostStatus
	history  []*model.MonitoringHistory
	alerts   []*model.Alert
}

func newFakeStatsStore(hosts ...*model.Host) *fakeStatsStore {
	return &fakeStatsStore{hosts: hosts, statuses: make(map[int64]model.HostStatus)}
}

func (f *fakeStatsStore) ListMonitoredHosts() ([]*model.Host, error) { return f.hosts, nil }

func (f *fakeStatsStore) UpdateHostStatus(id int64, status model.HostStatus, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeStatsStore) AppendMonitoringHistory(m *model.MonitoringHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, m)
	return nil
}

func (f *fakeStatsStore) CreateAlert(a *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

type fakeCollector struct {
	byHost map[int64]*HostMetrics
	errs   map[int64]error
}

func (f *fakeCollector) Collect(ctx context.Context, host *model.Host) (*HostMetrics, error) {
	if err, ok := f.errs[host.ID]; ok {
		return nil, err
	}
	return f.byHost[host.ID], nil
}

type fakeAlertSink struct {
	mu     sync.Mutex
	raised []*model.Alert
}

func (f *fakeAlertSink) AlertRaised(a *model.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, a)
}

func (f *fakeAlertSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.raised)
}

var upgrader = websocket.Upgrader{}

func newWebsocketPair(t *testing.T, onConn func(*websocket.Conn)) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		onConn(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })
	return clientConn
}

func TestBroadcasterTickBroadcastsAllHostsByDefault(t *testing.T) {
	t.Parallel()

	host := &model.Host{ID: 1, Name: "web-1"}
	store := newFakeStatsStore(host)
	collector := &fakeCollector{byHost: map[int64]*HostMetrics{1: {CPUPercent: 10, MemPercent: 20, DiskPercent: 30}}}
	b := New(store, collector, nil, time.Hour, clockwork.NewFakeClock())

	var server *client
	registered := make(chan struct{})
	clientConn := newWebsocketPair(t, func(conn *websocket.Conn) {
		server = b.Register(conn)
		close(registered)
	})
	<-registered

	b.tick(context.Background())

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	var frame statsFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, "stats_update", frame.Type)
	require.Len(t, frame.Hosts, 1)
	require.Equal(t, int64(1), frame.Hosts[0].HostID)
	require.NotNil(t, frame.Hosts[0].Metric)
	require.Equal(t, 10.0, frame.Hosts[0].Metric.CPUPercent)

	require.NotNil(t, server)
}

func TestBroadcasterTickFiltersBySubscription(t *testing.T) {
	t.Parallel()

	h1 := &model.Host{ID: 1, Name: "web-1"}
	h2 := &model.Host{ID: 2, Name: "web-2"}
	store := newFakeStatsStore(h1, h2)
	collector := &fakeCollector{byHost: map[int64]*HostMetrics{
		1: {CPUPercent: 10}, 2: {CPUPercent: 20},
	}}
	b := New(store, collector, nil, time.Hour, clockwork.NewFakeClock())

	registered := make(chan struct{})
	clientConn := newWebsocketPair(t, func(conn *websocket.Conn) {
		c := b.Register(conn)
		c.Subscribe([]int64{2})
		close(registered)
	})
	<-registered

	b.tick(context.Background())

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	var frame statsFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Len(t, frame.Hosts, 1)
	require.Equal(t, int64(2), frame.Hosts[0].HostID)
}

func TestBroadcasterCollectOneMarksOfflineOnError(t *testing.T) {
	t.Parallel()

	host := &model.Host{ID: 1, Name: "web-1"}
	store := newFakeStatsStore(host)
	collector := &fakeCollector{errs: map[int64]error{1: errors.New("connection refused")}}
	b := New(store, collector, nil, time.Hour, clockwork.NewFakeClock())

	entry := b.collectOne(context.Background(), host)
	require.Nil(t, entry.Metric)
	require.Equal(t, "connection refused", entry.Error)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, model.HostOffline, store.statuses[1])
}

func TestBroadcasterCollectOneRaisesWarningAlert(t *testing.T) {
	t.Parallel()

	host := &model.Host{ID: 1, Name: "web-1"}
	store := newFakeStatsStore(host)
	collector := &fakeCollector{byHost: map[int64]*HostMetrics{1: {CPUPercent: 90, MemPercent: 10, DiskPercent: 10}}}
	sink := &fakeAlertSink{}
	b := New(store, collector, sink, time.Hour, clockwork.NewFakeClock())

	b.collectOne(context.Background(), host)

	store.mu.Lock()
	require.Len(t, store.alerts, 1)
	require.Equal(t, model.SeverityWarning, store.alerts[0].Severity)
	store.mu.Unlock()
	require.Equal(t, 1, sink.count())
}

func TestBroadcasterCollectOneRaisesCriticalAlertAboveCriticalThreshold(t *testing.T) {
	t.Parallel()

	host := &model.Host{ID: 1, Name: "web-1"}
	store := newFakeStatsStore(host)
	collector := &fakeCollector{byHost: map[int64]*HostMetrics{1: {CPUPercent: 99, MemPercent: 10, DiskPercent: 10}}}
	b := New(store, collector, nil, time.Hour, clockwork.NewFakeClock())

	b.collectOne(context.Background(), host)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.alerts, 1)
	require.Equal(t, model.SeverityCritical, store.alerts[0].Severity)
}

func TestBroadcasterCollectOneNoAlertBelowThreshold(t *testing.T) {
	t.Parallel()

	host := &model.Host{ID: 1, Name: "web-1"}
	store := newFakeStatsStore(host)
	collector := &fakeCollector{byHost: map[int64]*HostMetrics{1: {CPUPercent: 5, MemPercent: 5, DiskPercent: 5}}}
	b := New(store, collector, nil, time.Hour, clockwork.NewFakeClock())

	b.collectOne(context.Background(), host)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Empty(t, store.alerts)
}

func TestNewDefaultsInterval(t *testing.T) {
	t.Parallel()

	b := New(newFakeStatsStore(), &fakeCollector{}, nil, 0, nil)
	require.Equal(t, defaultInterval, b.interval)
}
