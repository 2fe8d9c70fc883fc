package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

func TestTaskSinkTaskCompleted(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sink := TaskSink{Bus: New(store, nil)}

	exitCode := 0
	sink.TaskCompleted(&model.Task{ID: "task-1", UserRef: 5, Status: model.TaskSuccess, ExitCode: &exitCode})

	require.Len(t, store.audits, 1)
	require.Equal(t, "task.completed", store.audits[0].Action)
	require.Equal(t, "task", store.audits[0].TargetType)
	require.Equal(t, "task-1", store.audits[0].TargetID)
}

func TestTerminalSinkOpenedAndClosed(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sink := TerminalSink{Bus: New(store, nil)}

	sink.TerminalOpened("sess-1", 3, 9)
	sink.TerminalClosed("sess-1", 3, 9, 2*time.Second, model.TerminalClosed)

	require.Len(t, store.audits, 2)
	require.Equal(t, "terminal.opened", store.audits[0].Action)
	require.Equal(t, "3", store.audits[0].TargetID)
	require.Equal(t, "terminal.closed", store.audits[1].Action)
	require.Equal(t, int64(2000), store.audits[1].Meta["duration_millis"])
}

func TestStatsSinkAlertRaised(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sink := StatsSink{Bus: New(store, nil)}

	sink.AlertRaised(&model.Alert{HostRef: 4, Severity: model.SeverityCritical, Metric: "cpu", Value: 99, Threshold: 90})

	require.Len(t, store.audits, 1)
	require.Equal(t, "alert.raised", store.audits[0].Action)
	require.Equal(t, "4", store.audits[0].TargetID)
	require.Nil(t, store.audits[0].UserRef)
}
