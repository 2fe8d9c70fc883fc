// Package inventory implements the inventory collector (C7): a
// one-shot, read-only fact-gathering pass over a host's SSH session.
//
// Grounded on spec.md §4.7; the fixed read-only command set and
// best-effort per-section parsing follow
// original_source/inventory_collector.py's command list
// (uname/hostname/df/os-release/ip/meminfo/package-count/systemd
// units) directly. Connections are one-off, not pooled, per spec.md
// §4.7's "direct, not pooled, because one-shot" instruction.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/obslog"
	"github.com/gravitational/fleetctl/internal/sshpool"
)

var log = obslog.New(obslog.Component("inventory"))

const cmdTimeout = 10 * time.Second

// Options controls optional, heavier collection sections.
type Options struct {
	IncludePackages bool
	IncludeServices bool
}

// Store is the persistence contract the collector needs from C2.
type Store interface {
	UpsertHostInventoryLatest(hostRef int64, collectedAt time.Time, jsonBody string) error
	AppendHostInventorySnapshot(snap *model.HostInventorySnapshot) error
}

// Facts is the structured result of one collection pass.
type Facts struct {
	Uname        string            `json:"uname,omitempty"`
	Hostname     string            `json:"hostname,omitempty"`
	OSRelease    map[string]string `json:"os_release,omitempty"`
	Disk         string            `json:"disk,omitempty"`
	Links        string            `json:"links,omitempty"`
	Routes       string            `json:"routes,omitempty"`
	MemInfo      string            `json:"mem_info,omitempty"`
	PackageCount string            `json:"package_count,omitempty"`
	Services     string            `json:"services,omitempty"`
	CollectedAt  time.Time         `json:"collected_at"`
}

// Collector runs the fixed read-only command set against a host.
type Collector struct {
	store Store
	dial  func(host *model.Host, creds sshpool.Credentials) (*ssh.Client, error)
}

// New constructs a Collector. dial is injected so tests can fake the
// SSH layer without a live server.
func New(store Store, dial func(host *model.Host, creds sshpool.Credentials) (*ssh.Client, error)) *Collector {
	return &Collector{store: store, dial: dial}
}

// Collect opens a direct (unpooled) SSH session, runs the fixed
// command set, and persists both a "latest" upsert and an append-only
// snapshot. No command in this set ever mutates host state.
func (c *Collector) Collect(ctx context.Context, host *model.Host, creds sshpool.Credentials, opts Options) (*Facts, error) {
	client, err := c.dial(host, creds)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer client.Close()

	facts := &Facts{CollectedAt: time.Now()}
	facts.Uname = c.runBestEffort(ctx, client, "uname -a")
	facts.Hostname = c.runBestEffort(ctx, client, "hostname")
	facts.Disk = c.runBestEffort(ctx, client, "df -h")
	facts.Links = c.runBestEffort(ctx, client, "ip -o link")
	facts.Routes = c.runBestEffort(ctx, client, "ip route")
	facts.MemInfo = c.runBestEffort(ctx, client, "cat /proc/meminfo || free -m")

	if osRelease := c.runBestEffort(ctx, client, "cat /etc/os-release"); osRelease != "" {
		facts.OSRelease = parseOSRelease(osRelease)
	}

	if opts.IncludePackages {
		facts.PackageCount = c.runBestEffort(ctx, client,
			"dpkg -l 2>/dev/null | wc -l || rpm -qa 2>/dev/null | wc -l || pacman -Q 2>/dev/null | wc -l")
	}
	if opts.IncludeServices {
		facts.Services = c.runBestEffort(ctx, client, "systemctl list-units --type=service --no-pager")
	}

	body, err := json.Marshal(facts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.store.UpsertHostInventoryLatest(host.ID, facts.CollectedAt, string(body)); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.store.AppendHostInventorySnapshot(&model.HostInventorySnapshot{
		ID: uuid.NewString(), HostRef: host.ID, CollectedAt: facts.CollectedAt, JSON: string(body),
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return facts, nil
}

// runBestEffort executes a single time-boxed command; a failed command
// yields an empty section rather than aborting collection, per
// spec.md §4.7.
func (c *Collector) runBestEffort(ctx context.Context, client *ssh.Client, cmd string) string {
	sess, err := client.NewSession()
	if err != nil {
		log.WithError(err).WithField("cmd", cmd).Debug("failed to open session")
		return ""
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	var out bytes.Buffer
	sess.Stdout = &out

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		sess.Signal("KILL") //nolint:errcheck
		return ""
	case err := <-done:
		if err != nil {
			log.WithError(err).WithField("cmd", cmd).Debug("command failed")
			return ""
		}
		return out.String()
	}
}

func parseOSRelease(raw string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := line[:idx]
		val := strings.Trim(line[idx+1:], `"`)
		out[key] = val
	}
	return out
}
