// Package stats implements the stats broadcaster (C6): a ticker-driven
// per-host metric collector fanned out to subscribed WebSocket clients
// with threshold-based alerting.
//
// Grounded on spec.md §4.6; WebSocket framing follows the same
// gorilla/websocket idiom as internal/terminal (itself grounded on the
// teacher's lib/web websocket test usage); the tick-doesn't-pile-up
// discipline and bounded per-tick parallelism follow the teacher's
// goroutine-per-unit-of-work style throughout lib/srv.
package stats

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/obslog"
)

var log = obslog.New(obslog.Component("stats"))

const (
	defaultInterval     = 3 * time.Second
	defaultMaxParallel  = 8
	cpuWarnThreshold    = 80.0
	memWarnThreshold    = 85.0
	diskWarnThreshold   = 90.0
	criticalMultipleOf  = 95.0
)

// Store is the persistence contract the broadcaster needs from C2.
type Store interface {
	ListMonitoredHosts() ([]*model.Host, error)
	UpdateHostStatus(id int64, status model.HostStatus, lastSeen time.Time) error
	AppendMonitoringHistory(m *model.MonitoringHistory) error
	CreateAlert(a *model.Alert) error
}

// Collector fetches one host's metrics, proxied over SSH to the
// on-host agent's loopback HTTP endpoint via curl, per spec.md §4.6.
type Collector interface {
	Collect(ctx context.Context, host *model.Host) (*HostMetrics, error)
}

// HostMetrics is the parsed per-host metrics payload.
type HostMetrics struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
	Raw         json.RawMessage `json:"-"`
}

// EventSink receives alert-raised notifications for audit/webhook
// fan-out.
type EventSink interface {
	AlertRaised(a *model.Alert)
}

// client is one subscribed WebSocket connection and its subscription
// filter (nil means "all hosts").
type client struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	hostSet  map[int64]bool // nil => all
}

// Broadcaster is the stats broadcaster (C6).
type Broadcaster struct {
	store     Store
	collector Collector
	sink      EventSink
	interval  time.Duration
	clock     clockwork.Clock

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New constructs a Broadcaster.
func New(store Store, collector Collector, sink EventSink, interval time.Duration, clock clockwork.Clock) *Broadcaster {
	if interval <= 0 {
		interval = defaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Broadcaster{
		store: store, collector: collector, sink: sink,
		interval: interval, clock: clock,
		clients: make(map[*client]struct{}),
	}
}

// Register adds a connected WebSocket client to the fan-out set; the
// subscription protocol (subscribe / server_ids) is driven by the
// HTTP-layer caller reading frames and calling Subscribe.
func (b *Broadcaster) Register(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

// Unregister removes a client from the fan-out set.
func (b *Broadcaster) Unregister(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// Subscribe narrows a client's subscription; nil ids means "all hosts".
func (c *client) Subscribe(ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ids == nil {
		c.hostSet = nil
		return
	}
	c.hostSet = make(map[int64]bool, len(ids))
	for _, id := range ids {
		c.hostSet[id] = true
	}
}

func (c *client) wants(hostID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostSet == nil || c.hostSet[hostID]
}

// Run ticks on b.interval, collecting metrics and fanning out frames,
// until ctx is cancelled. If a tick runs longer than the interval, the
// next tick starts only when the previous one finishes (no pile-up).
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.tick(ctx)
		}
	}
}

type hostFrameEntry struct {
	HostID int64            `json:"host_id"`
	Metric *HostMetrics     `json:"metrics,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type statsFrame struct {
	Type  string           `json:"type"`
	Hosts []hostFrameEntry `json:"hosts"`
}

func (b *Broadcaster) tick(ctx context.Context) {
	hosts, err := b.store.ListMonitoredHosts()
	if err != nil {
		log.WithError(err).Error("failed to list hosts for stats tick")
		return
	}

	entries := make([]hostFrameEntry, len(hosts))
	sem := make(chan struct{}, defaultMaxParallel)
	var wg sync.WaitGroup
	for i, h := range hosts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, h *model.Host) {
			defer wg.Done()
			defer func() { <-sem }()
			entries[i] = b.collectOne(ctx, h)
		}(i, h)
	}
	wg.Wait()

	frame := statsFrame{Type: "stats_update", Hosts: entries}
	data, err := json.Marshal(frame)
	if err != nil {
		log.WithError(err).Error("failed to marshal stats frame")
		return
	}

	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		out := data
		perClient := frame
		if !allWanted(c) {
			var filtered []hostFrameEntry
			for _, e := range entries {
				if c.wants(e.HostID) {
					filtered = append(filtered, e)
				}
			}
			perClient.Hosts = filtered
			out, err = json.Marshal(perClient)
			if err != nil {
				continue
			}
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, out); err != nil {
			// Best-effort send: a slow/closed client is dropped.
			b.Unregister(c)
		}
	}
}

func allWanted(c *client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostSet == nil
}

func (b *Broadcaster) collectOne(ctx context.Context, h *model.Host) hostFrameEntry {
	metrics, err := b.collector.Collect(ctx, h)
	now := b.clock.Now()
	if err != nil {
		if uerr := b.store.UpdateHostStatus(h.ID, model.HostOffline, now); uerr != nil {
			log.WithError(uerr).Error("failed to mark host offline")
		}
		return hostFrameEntry{HostID: h.ID, Error: err.Error()}
	}
	if uerr := b.store.UpdateHostStatus(h.ID, model.HostOnline, now); uerr != nil {
		log.WithError(uerr).Error("failed to mark host online")
	}

	b.recordHistory(h.ID, "cpu", metrics.CPUPercent, now)
	b.recordHistory(h.ID, "mem", metrics.MemPercent, now)
	b.recordHistory(h.ID, "disk", metrics.DiskPercent, now)

	b.evaluateThreshold(h.ID, "cpu", metrics.CPUPercent, cpuWarnThreshold)
	b.evaluateThreshold(h.ID, "mem", metrics.MemPercent, memWarnThreshold)
	b.evaluateThreshold(h.ID, "disk", metrics.DiskPercent, diskWarnThreshold)

	return hostFrameEntry{HostID: h.ID, Metric: metrics}
}

func (b *Broadcaster) recordHistory(hostID int64, metric string, value float64, at time.Time) {
	body, _ := json.Marshal(map[string]float64{"value": value})
	if err := b.store.AppendMonitoringHistory(&model.MonitoringHistory{
		HostRef: hostID, MetricType: metric, JSON: string(body), Timestamp: at,
	}); err != nil {
		log.WithError(err).Error("failed to append monitoring history")
	}
}

func (b *Broadcaster) evaluateThreshold(hostID int64, metric string, value, threshold float64) {
	if value <= threshold {
		return
	}
	severity := model.SeverityWarning
	if value > criticalMultipleOf {
		severity = model.SeverityCritical
	}
	alert := &model.Alert{
		HostRef: hostID, Severity: severity, Metric: metric,
		Value: value, Threshold: threshold,
		Message: metric + " usage exceeded threshold",
	}
	if err := b.store.CreateAlert(alert); err != nil {
		log.WithError(err).Error("failed to create alert")
		return
	}
	if b.sink != nil {
		b.sink.AlertRaised(alert)
	}
}
