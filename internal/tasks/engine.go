// Package tasks implements the task execution engine (C4): a bounded
// FIFO queue, a fixed worker pool, per-host admission control, command
// policy enforcement, output capture with truncation, and cancellation.
//
// Grounded on spec.md §4.4; the scheduler/worker-pool shape follows the
// teacher's lib/srv session/worker goroutine conventions (no shared
// mutable maps reached into directly — the engine owns its admission
// state), replacing the original Python's thread-per-task +
// global-dict design per spec.md's REDESIGN FLAGS.
package tasks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/obslog"
)

var log = obslog.New(obslog.Component("tasks"))

// Store is the persistence contract the engine needs from C2.
type Store interface {
	GetTask(id string) (*model.Task, error)
	MarkTaskRunning(id string) error
	FinishTask(id string, status model.TaskStatus, exitCode *int, stdout, stderr *string) error
	CancelQueuedTask(id string) (bool, error)
	GetHost(id int64) (*model.Host, error)
}

// Runner executes one admitted command on a host and returns its
// outcome; the tasks package depends on this narrow interface rather
// than sshpool directly so it can be tested against a fake.
type Runner interface {
	Run(ctx context.Context, host *model.Host, command string, timeout time.Duration) (exitCode int, stdout, stderr string, err error)
}

// Policy decides whether a command is allowed to run.
type Policy interface {
	// Allowed returns ok=false and a human-readable reason when the
	// command is denied.
	Allowed(command string) (ok bool, reason string)
}

// EventSink receives lifecycle notifications for audit/webhook fan-out.
type EventSink interface {
	TaskCompleted(t *model.Task)
}

const (
	enqueueTimeout    = 5 * time.Second
	maxBackoff        = 5 * time.Second
	queuedCapacityDef = 10000
)

// Config configures the engine; zero values take spec.md defaults.
type Config struct {
	NumWorkers     int
	QueueCapacity  int
	PerHostCap     int
	OutputMaxBytes int
	DefaultTimeout time.Duration
	CommandMaxLen  int
}

func (c *Config) setDefaults() {
	if c.NumWorkers <= 0 {
		c.NumWorkers = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = queuedCapacityDef
	}
	if c.PerHostCap <= 0 {
		c.PerHostCap = 1
	}
	if c.OutputMaxBytes <= 0 {
		c.OutputMaxBytes = 64 * 1024
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.CommandMaxLen <= 0 {
		c.CommandMaxLen = 4096
	}
}

// Engine is the task execution engine (C4).
type Engine struct {
	cfg    Config
	store  Store
	runner Runner
	policy Policy
	sink   EventSink
	clock  clockwork.Clock

	queue chan string

	mu          sync.Mutex
	hostCounts  map[int64]int
	cancelled   map[string]chan struct{}

	wg       sync.WaitGroup
	shutdown chan struct{}

	depth int32
}

// New constructs an Engine but does not start its workers; call Run.
func New(cfg Config, store Store, runner Runner, policy Policy, sink EventSink, clock clockwork.Clock) *Engine {
	cfg.setDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		runner:     runner,
		policy:     policy,
		sink:       sink,
		clock:      clock,
		queue:      make(chan string, cfg.QueueCapacity),
		hostCounts: make(map[int64]int),
		cancelled:  make(map[string]chan struct{}),
		shutdown:   make(chan struct{}),
	}
}

// Run starts the fixed worker pool. Call Stop to drain and shut down.
func (e *Engine) Run() {
	for i := 0; i < e.cfg.NumWorkers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
}

// Stop signals workers to exit after their in-flight task completes and
// waits for them to drain.
func (e *Engine) Stop() {
	close(e.shutdown)
	e.wg.Wait()
}

// Enqueue admits a queued task ID into the bounded queue. It blocks up
// to 5s before rejecting, per spec.md §5's queue discipline. A rejected
// enqueue is recorded as a terminal failed task with a fixed stderr
// message.
func (e *Engine) Enqueue(taskID string) error {
	select {
	case e.queue <- taskID:
		return nil
	case <-time.After(enqueueTimeout):
		msg := "Task queue is full"
		if err := e.store.FinishTask(taskID, model.TaskFailed, intPtr(-1), nil, strPtr(msg)); err != nil {
			log.WithError(err).Error("failed to record queue-full rejection")
		}
		return trace.LimitExceeded(msg)
	}
}

// Cancel marks a task as cancelled. A queued task is cancelled
// directly; a running task's cancel flag is observed by its runner
// goroutine between SSH completion and status write.
func (e *Engine) Cancel(taskID string) (bool, error) {
	if ok, err := e.store.CancelQueuedTask(taskID); err != nil {
		return false, trace.Wrap(err)
	} else if ok {
		return true, nil
	}

	e.mu.Lock()
	ch, ok := e.cancelled[taskID]
	e.mu.Unlock()
	if !ok {
		return false, nil
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	return true, nil
}

// QueueDepth and RunningCount are the observable counters spec.md §4.4
// requires.
func (e *Engine) QueueDepth() int {
	return len(e.queue)
}

func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.hostCounts {
		n += c
	}
	return n
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	wlog := log.WithField("worker", id)
	for {
		select {
		case <-e.shutdown:
			return
		case taskID := <-e.queue:
			e.dispatch(taskID, wlog)
		}
	}
}

func (e *Engine) dispatch(taskID string, log *logrus.Entry) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		log.WithError(err).Error("task vanished before dispatch")
		return
	}
	if task.Status != model.TaskQueued {
		return // already cancelled or otherwise resolved
	}

	host, err := e.store.GetHost(task.HostRef)
	if err != nil {
		e.finish(task, model.TaskFailed, -1, "", "host not found")
		return
	}

	// Cooperative per-host admission backoff: re-queue with a sleep
	// that grows with contention rather than blocking the worker.
	contention := 0
	for {
		e.mu.Lock()
		count := e.hostCounts[host.ID]
		if count < e.cfg.PerHostCap {
			e.hostCounts[host.ID]++
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()
		contention++
		backoff := time.Duration(contention) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		select {
		case <-e.shutdown:
			return
		case <-e.clock.After(backoff):
		}
		// Re-check the task hasn't been cancelled while waiting.
		if t, err := e.store.GetTask(taskID); err == nil && t.Status != model.TaskQueued {
			return
		}
	}
	defer func() {
		e.mu.Lock()
		e.hostCounts[host.ID]--
		e.mu.Unlock()
	}()

	if ok, reason := e.policy.Allowed(task.Command); !ok {
		e.finish(task, model.TaskFailed, -1, "", "command denied by policy: "+reason)
		return
	}
	if len(task.Command) > e.cfg.CommandMaxLen {
		e.finish(task, model.TaskFailed, -1, "", "command exceeds maximum length")
		return
	}

	cancelCh := make(chan struct{})
	e.mu.Lock()
	e.cancelled[taskID] = cancelCh
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancelled, taskID)
		e.mu.Unlock()
	}()

	if err := e.store.MarkTaskRunning(taskID); err != nil {
		log.WithError(err).Error("failed to mark task running")
		return
	}

	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resultCh := make(chan runResult, 1)
	go func() {
		exitCode, stdout, stderr, err := e.runner.Run(ctx, host, task.Command, timeout)
		resultCh <- runResult{exitCode, stdout, stderr, err}
	}()

	var res runResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		res = <-resultCh // runner is expected to respect ctx and return promptly
	}

	// Cancellation wins over any exit code observed concurrently.
	select {
	case <-cancelCh:
		placeholderOut, placeholderErr := "", "Task cancelled"
		if task.StoreOutput {
			placeholderOut = "Task cancelled"
			placeholderErr = "Task cancelled by user"
		}
		e.finish(task, model.TaskCancelled, -1, placeholderOut, placeholderErr)
		return
	default:
	}

	if ctx.Err() == context.DeadlineExceeded {
		e.finish(task, model.TaskTimeout, -1, "", "command timed out")
		return
	}
	if res.err != nil {
		e.finish(task, model.TaskFailed, -1, "", res.err.Error())
		return
	}

	status := model.TaskSuccess
	if res.exitCode != 0 {
		status = model.TaskFailed
	}
	e.finish(task, status, res.exitCode, res.stdout, res.stderr)
}

type runResult struct {
	exitCode       int
	stdout, stderr string
	err            error
}

func (e *Engine) finish(task *model.Task, status model.TaskStatus, exitCode int, stdout, stderr string) {
	var outPtr, errPtr *string
	if task.StoreOutput {
		o := truncate(stdout, e.cfg.OutputMaxBytes)
		s := truncate(stderr, e.cfg.OutputMaxBytes)
		outPtr, errPtr = &o, &s
	}
	if err := e.store.FinishTask(task.ID, status, &exitCode, outPtr, errPtr); err != nil {
		log.WithError(err).Error("failed to persist task outcome")
		return
	}
	task.Status = status
	if e.sink != nil {
		e.sink.TaskCompleted(task)
	}
}

// truncate bounds s to maxBytes, appending a trailing marker if cut.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	var b strings.Builder
	b.WriteString(s[:maxBytes])
	b.WriteString("\n... [truncated]")
	return b.String()
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
