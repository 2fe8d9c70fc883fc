package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/sshpool"
)

// CredentialResolver mirrors tasks.CredentialResolver without an
// import cycle.
type CredentialResolver interface {
	Resolve(host *model.Host) (sshpool.Credentials, error)
}

// SSHCollector fetches a host's agent metrics by curling its loopback
// HTTP endpoint through an SSH session, per spec.md §4.6.
type SSHCollector struct {
	pool  *sshpool.Pool
	creds CredentialResolver
}

// NewSSHCollector builds a Collector backed by the shared connection
// pool.
func NewSSHCollector(pool *sshpool.Pool, creds CredentialResolver) *SSHCollector {
	return &SSHCollector{pool: pool, creds: creds}
}

// Collect implements Collector.
func (c *SSHCollector) Collect(ctx context.Context, host *model.Host) (*HostMetrics, error) {
	creds, err := c.creds.Resolve(host)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := c.pool.Get(host.Address, host.Port, host.Username, creds)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer sess.Close()

	agentPort := host.AgentPort
	if agentPort == 0 {
		agentPort = 9100
	}
	cmd := fmt.Sprintf("curl -sf --max-time 5 http://127.0.0.1:%d/metrics", agentPort)

	var out bytes.Buffer
	sess.Stdout = &out
	if err := sess.Run(cmd); err != nil {
		return nil, trace.ConnectionProblem(err, "agent metrics request failed")
	}

	var m HostMetrics
	if err := json.Unmarshal(out.Bytes(), &m); err != nil {
		return nil, trace.Wrap(err, "parsing agent metrics payload")
	}
	m.Raw = json.RawMessage(out.Bytes())
	return &m, nil
}
