package events

import (
	"fmt"
	"time"

	"github.com/gravitational/fleetctl/internal/model"
)

// TaskSink adapts Bus to tasks.EventSink, turning a finished task into
// a task.completed audit event.
type TaskSink struct{ Bus *Bus }

func (s TaskSink) TaskCompleted(t *model.Task) {
	userRef := t.UserRef
	s.Bus.Emit(EventInput{
		EventType: "task.completed", UserRef: &userRef, TargetType: "task",
		TargetID: t.ID, Meta: map[string]any{"status": t.Status, "exit_code": t.ExitCode},
		Severity: model.SeverityInfo,
	})
}

// TerminalSink adapts Bus to terminal.EventSink.
type TerminalSink struct{ Bus *Bus }

func (s TerminalSink) TerminalOpened(sessionID string, hostRef, userRef int64) {
	s.Bus.Emit(EventInput{
		EventType: "terminal.opened", UserRef: &userRef, TargetType: "host",
		TargetID: fmt.Sprintf("%d", hostRef), Meta: map[string]any{"session_id": sessionID},
		Severity: model.SeverityInfo,
	})
}

func (s TerminalSink) TerminalClosed(sessionID string, hostRef, userRef int64, duration time.Duration, status model.TerminalStatus) {
	s.Bus.Emit(EventInput{
		EventType: "terminal.closed", UserRef: &userRef, TargetType: "host",
		TargetID: fmt.Sprintf("%d", hostRef),
		Meta: map[string]any{
			"session_id":      sessionID,
			"status":          status,
			"duration_millis": duration.Milliseconds(),
		},
		Severity: model.SeverityInfo,
	})
}

// StatsSink adapts Bus to stats.EventSink.
type StatsSink struct{ Bus *Bus }

func (s StatsSink) AlertRaised(a *model.Alert) {
	s.Bus.Emit(EventInput{
		EventType: "alert.raised", TargetType: "host", TargetID: fmt.Sprintf("%d", a.HostRef),
		Meta:     map[string]any{"metric": a.Metric, "value": a.Value, "threshold": a.Threshold},
		Severity: a.Severity,
	})
}
