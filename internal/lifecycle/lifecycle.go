// Package lifecycle implements the Lifecycle Manager (C12): startup
// validation, crash recovery, scheduled cleanup jobs, signal handling,
// and graceful shutdown, per spec.md §4.12.
//
// Grounded on the teacher's service.Supervisor (lib/service), which
// runs named "service functions" under a shared signal-aware context
// and fans in their errors; this package is a narrower purpose-built
// version of the same idea, since fleetd has a fixed, known set of
// background jobs rather than a pluggable registry.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/fleetctl/internal/config"
	"github.com/gravitational/fleetctl/internal/obslog"
	"github.com/gravitational/fleetctl/internal/sshpool"
	"github.com/gravitational/fleetctl/internal/tasks"
)

var log = obslog.New(obslog.Component("lifecycle"))

const (
	sessionMaxAge = 7 * 24 * time.Hour

	auditLogRetention    = 90 * 24 * time.Hour
	monitoringRetention  = 30 * 24 * time.Hour
	cleanupSweepInterval = 1 * time.Hour
)

// Store is the persistence contract the lifecycle manager needs from
// C2 to perform recovery and scheduled cleanup.
type Store interface {
	InterruptRunningTasks() (int64, error)
	InterruptActiveTerminalSessions() (int64, error)
	DeleteExpiredSessions(olderThan time.Time) (int64, error)
	PruneMonitoringHistory(cutoff time.Time) (int64, error)
	PruneAuditLogs(cutoff time.Time) (int64, error)
	Close() error
}

// Manager owns the background jobs and shutdown sequencing around the
// HTTP/WebSocket servers.
type Manager struct {
	cfg    *config.Config
	store  Store
	tasks  *tasks.Engine
	pool   *sshpool.Pool
	clock  clockwork.Clock

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// New constructs a Manager. clock may be a fake in tests.
func New(cfg *config.Config, store Store, taskEngine *tasks.Engine, pool *sshpool.Pool, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg: cfg, store: store, tasks: taskEngine, pool: pool, clock: clock,
		stopCleanup: make(chan struct{}),
	}
}

// ValidateStartup runs the mode-dependent startup checks. The config
// layer's CheckAndSetDefaults already enforces the hard requirements
// (ENCRYPTION_KEY, JWT_SECRET cannot be empty); outside CI this adds a
// warning for a JWT secret shorter than 32 bytes. It only warns: it
// always returns nil and never stops startup.
func (m *Manager) ValidateStartup() error {
	if m.cfg.CI {
		return nil
	}
	if len(m.cfg.JWTSecret) < 32 {
		log.Warn("JWT_SECRET is shorter than 32 bytes; this is insecure outside local development")
	}
	return nil
}

// Recover runs the crash-recovery steps spec.md §4.12 requires at
// startup: any Task left "running" and any TerminalSession left
// "active" from a prior process are transitioned to "interrupted",
// and Sessions older than 7 days are deleted.
func (m *Manager) Recover() error {
	tasksInterrupted, err := m.store.InterruptRunningTasks()
	if err != nil {
		return trace.Wrap(err, "interrupting running tasks")
	}
	sessionsInterrupted, err := m.store.InterruptActiveTerminalSessions()
	if err != nil {
		return trace.Wrap(err, "interrupting active terminal sessions")
	}
	expired, err := m.store.DeleteExpiredSessions(m.clock.Now().Add(-sessionMaxAge))
	if err != nil {
		return trace.Wrap(err, "deleting expired sessions")
	}
	log.WithField("tasks_interrupted", tasksInterrupted).
		WithField("terminal_sessions_interrupted", sessionsInterrupted).
		WithField("expired_sessions_deleted", expired).
		Info("recovery complete")
	return nil
}

// StartScheduledJobs launches the audit-log and monitoring-history
// cleanup sweeps. They run once immediately, then on cleanupSweepInterval
// until ctx is cancelled or Shutdown is called.
func (m *Manager) StartScheduledJobs(ctx context.Context) {
	m.wg.Add(1)
	go m.cleanupLoop(ctx)
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()
	m.runCleanup()

	ticker := time.NewTicker(cleanupSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.runCleanup()
		}
	}
}

func (m *Manager) runCleanup() {
	now := m.clock.Now()
	if n, err := m.store.PruneAuditLogs(now.Add(-auditLogRetention)); err != nil {
		log.WithError(err).Warn("audit log cleanup failed")
	} else if n > 0 {
		log.WithField("rows_deleted", n).Info("pruned audit logs")
	}
	if n, err := m.store.PruneMonitoringHistory(now.Add(-monitoringRetention)); err != nil {
		log.WithError(err).Warn("monitoring history cleanup failed")
	} else if n > 0 {
		log.WithField("rows_deleted", n).Info("pruned monitoring history")
	}
}

// WaitForShutdownSignal blocks until SIGINT or SIGTERM arrives, per
// spec.md §4.12's "install signal handlers" step.
func WaitForShutdownSignal() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	sig := <-ch
	signal.Stop(ch)
	return sig
}

// Shutdown performs the ordered graceful shutdown spec.md §4.12
// describes: stop the scheduler, mark in-flight tasks and terminal
// sessions interrupted, close the SSH pool, then close the store. It
// does not stop the HTTP listeners themselves; callers are expected to
// have already stopped accepting new requests (e.g. via
// http.Server.Shutdown) before calling this.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stopCleanup)
	m.wg.Wait()

	if m.tasks != nil {
		m.tasks.Stop()
	}

	if _, err := m.store.InterruptRunningTasks(); err != nil {
		log.WithError(err).Warn("failed to interrupt running tasks during shutdown")
	}
	if _, err := m.store.InterruptActiveTerminalSessions(); err != nil {
		log.WithError(err).Warn("failed to interrupt terminal sessions during shutdown")
	}

	if m.pool != nil {
		m.pool.CloseAll()
	}

	if err := m.store.Close(); err != nil {
		return trace.Wrap(err, "closing store")
	}
	return nil
}
