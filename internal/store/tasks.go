package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// CreateTask inserts a new task in the queued state.
func (s *Store) CreateTask(t *model.Task) error {
	t.CreatedAt = time.Now()
	_, err := s.db.Exec(`INSERT INTO tasks
		(id, host_ref, user_ref, command, status, timeout_seconds, store_output, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.HostRef, t.UserRef, t.Command, t.Status, t.TimeoutSeconds, t.StoreOutput, t.CreatedAt)
	return trace.Wrap(err)
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var exitCode *int
	var stdout, stderr *string
	var startedAt, finishedAt *time.Time
	if err := row.Scan(&t.ID, &t.HostRef, &t.UserRef, &t.Command, &t.Status,
		&exitCode, &stdout, &stderr, &t.TimeoutSeconds, &t.StoreOutput,
		&t.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	t.ExitCode, t.Stdout, t.Stderr = exitCode, stdout, stderr
	t.StartedAt, t.FinishedAt = startedAt, finishedAt
	return &t, nil
}

const taskColumns = `id, host_ref, user_ref, command, status, exit_code, stdout, stderr,
	timeout_seconds, store_output, created_at, started_at, finished_at`

// GetTask returns a task by ID.
func (s *Store) GetTask(id string) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if isNoRows(err) {
		return nil, trace.NotFound("task %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks by the obvious equality columns plus a
// time range, per spec.md §4.2.
type TaskFilter struct {
	HostRef *int64
	UserRef *int64
	Status  model.TaskStatus
	Since   *time.Time
	Until   *time.Time
}

// ListTasks returns a page of tasks ordered by created_at desc.
func (s *Store) ListTasks(f TaskFilter, p Page) ([]*model.Task, error) {
	p = NormalizePage(p)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if f.HostRef != nil {
		query += ` AND host_ref = ?`
		args = append(args, *f.HostRef)
	}
	if f.UserRef != nil {
		query += ` AND user_ref = ?`
		args = append(args, *f.UserRef)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, *f.Until)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, t)
	}
	return out, trace.Wrap(rows.Err())
}

// MarkTaskRunning transitions queued -> running.
func (s *Store) MarkTaskRunning(id string) error {
	now := time.Now()
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		model.TaskRunning, now, id, model.TaskQueued)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "task", id)
}

// FinishTask writes the terminal outcome of a task.
func (s *Store) FinishTask(id string, status model.TaskStatus, exitCode *int, stdout, stderr *string) error {
	now := time.Now()
	res, err := s.db.Exec(`UPDATE tasks SET status=?, exit_code=?, stdout=?, stderr=?, finished_at=? WHERE id=?`,
		status, exitCode, stdout, stderr, now, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "task", id)
}

// CancelQueuedTask directly writes a cancelled status for a task that
// never left the queue. Returns false (no error) if the task was no
// longer queued, so callers can fall back to flagging a running task.
func (s *Store) CancelQueuedTask(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
		model.TaskCancelled, time.Now(), id, model.TaskQueued)
	if err != nil {
		return false, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, trace.Wrap(err)
	}
	return n > 0, nil
}

// InterruptRunningTasks transitions every running task to interrupted;
// called once at startup by the lifecycle manager (C12) to recover from
// a crash, per spec.md §4.4 and §4.12.
func (s *Store) InterruptRunningTasks() (int64, error) {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, finished_at = ? WHERE status = ?`,
		model.TaskInterrupted, time.Now(), model.TaskRunning)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	return n, trace.Wrap(err)
}
