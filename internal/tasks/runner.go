package tasks

import (
	"bytes"
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/sshpool"
)

// CredentialResolver turns a Host's credential fields into sshpool
// Credentials, unwrapping vault keys or stored passwords as needed.
type CredentialResolver interface {
	Resolve(host *model.Host) (sshpool.Credentials, error)
}

// SSHRunner is the default Runner, backed by the connection pool.
type SSHRunner struct {
	pool  *sshpool.Pool
	creds CredentialResolver
}

// NewSSHRunner builds a Runner that executes commands over pooled SSH
// connections.
func NewSSHRunner(pool *sshpool.Pool, creds CredentialResolver) *SSHRunner {
	return &SSHRunner{pool: pool, creds: creds}
}

// Run implements Runner by obtaining a client via the pool and calling
// exec_command equivalent semantics: timeout maps to a ctx-cancelled
// session, and a failure to obtain a client (including a failed SSH
// authentication) is the pool's error wrapped with an "authentication"
// message.
func (r *SSHRunner) Run(ctx context.Context, host *model.Host, command string, timeout time.Duration) (int, string, string, error) {
	creds, err := r.creds.Resolve(host)
	if err != nil {
		return -1, "", "", trace.Wrap(err, "resolving credentials")
	}
	client, err := r.pool.Get(host.Address, host.Port, host.Username, creds)
	if err != nil {
		return -1, "", "", trace.Wrap(err, "authentication")
	}

	sess, err := client.NewSession()
	if err != nil {
		return -1, "", "", trace.Wrap(err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		sess.Signal("KILL") //nolint:errcheck
		return -1, stdout.String(), stderr.String(), ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, stdout.String(), stderr.String(), nil
		}
		return exitCodeFromError(err), stdout.String(), stderr.String(), nil
	}
}

func exitCodeFromError(err error) int {
	type exitStatuser interface{ ExitStatus() int }
	if es, ok := err.(exitStatuser); ok {
		return es.ExitStatus()
	}
	return -1
}
