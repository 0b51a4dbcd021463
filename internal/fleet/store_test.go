// ABOUTME: Tests for the in-memory fleet store: instances, tasks, alerts
// ABOUTME: Covers priority dequeue, cost monotonicity, and lifecycle edges

package fleet

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStore_AddAndGetInstance(t *testing.T) {
	s := newTestStore(t)

	inst := s.AddInstance("billing-agent", "runtime-1")
	require.NotEmpty(t, inst.InstanceID)
	assert.Equal(t, StatusSpawning, inst.Status)
	assert.Equal(t, "billing-agent", inst.RegistryID)
	assert.Equal(t, "runtime-1", inst.RuntimeAgentID)

	got, err := s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, inst.InstanceID, got.InstanceID)

	_, err = s.GetInstance("missing")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestStore_GetInstanceReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "runtime-1")

	got, err := s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	got.Status = StatusError

	again, err := s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusSpawning, again.Status)
}

func TestStore_ListInstancesFilters(t *testing.T) {
	s := newTestStore(t)
	a := s.AddInstance("billing-agent", "r1")
	s.AddInstance("research-agent", "r2")
	require.NoError(t, s.UpdateInstanceStatus(a.InstanceID, StatusIdle))

	assert.Len(t, s.ListInstances("", ""), 2)
	assert.Len(t, s.ListInstances("billing-agent", ""), 1)
	assert.Len(t, s.ListInstances("", StatusIdle), 1)
	assert.Empty(t, s.ListInstances("research-agent", StatusIdle))
}

func TestStore_StatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"spawning to idle", StatusSpawning, StatusIdle, true},
		{"idle to working", StatusIdle, StatusWorking, true},
		{"working to idle", StatusWorking, StatusIdle, true},
		{"working to error", StatusWorking, StatusError, true},
		{"error to retiring", StatusError, StatusRetiring, true},
		{"error to idle not auto-recovered", StatusError, StatusIdle, false},
		{"error to working", StatusError, StatusWorking, false},
		{"retiring is terminal", StatusRetiring, StatusIdle, false},
		{"spawning skips to working", StatusSpawning, StatusWorking, false},
		{"self transition", StatusIdle, StatusIdle, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStore_UpdateInstanceStatusRejectsInvalidEdge(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "r1")

	err := s.UpdateInstanceStatus(inst.InstanceID, StatusWorking)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.UpdateInstanceStatus(inst.InstanceID, StatusIdle))
	require.NoError(t, s.UpdateInstanceStatus(inst.InstanceID, StatusWorking))
}

func TestStore_UpdateInstanceTask(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "r1")
	require.NoError(t, s.UpdateInstanceStatus(inst.InstanceID, StatusIdle))

	require.NoError(t, s.UpdateInstanceTask(inst.InstanceID, "create invoice"))
	got, err := s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, got.Status)
	assert.Equal(t, "create invoice", got.CurrentTask)
	assert.Equal(t, 0, got.CycleCount)

	// Clearing the task returns the instance to idle and counts a cycle.
	require.NoError(t, s.UpdateInstanceTask(inst.InstanceID, ""))
	got, err = s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, got.Status)
	assert.Empty(t, got.CurrentTask)
	assert.Equal(t, 1, got.CycleCount)
}

func TestStore_UpdateInstanceCostMonotonic(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "r1")

	require.NoError(t, s.UpdateInstanceCost(inst.InstanceID, 100, 0.01))
	require.NoError(t, s.UpdateInstanceCost(inst.InstanceID, 50, 0.005))

	got, err := s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.TokensConsumed)
	assert.InDelta(t, 0.015, got.CostUSD, 1e-9)

	// Negative deltas are rejected and leave totals untouched.
	require.Error(t, s.UpdateInstanceCost(inst.InstanceID, -10, 0))
	require.Error(t, s.UpdateInstanceCost(inst.InstanceID, 0, -0.01))

	got, err = s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.TokensConsumed)
	assert.InDelta(t, 0.015, got.CostUSD, 1e-9)
}

func TestStore_HeartbeatMonotonic(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "r1")

	future := time.Now().Add(time.Minute)
	require.NoError(t, s.UpdateInstanceHeartbeat(inst.InstanceID, future))

	// An older timestamp is ignored.
	require.NoError(t, s.UpdateInstanceHeartbeat(inst.InstanceID, future.Add(-time.Hour)))

	got, err := s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.True(t, got.LastHeartbeat.Equal(future))
}

func TestStore_FindIdleInstancePrefersLongestIdle(t *testing.T) {
	s := newTestStore(t)

	a := s.AddInstance("billing-agent", "r1")
	b := s.AddInstance("billing-agent", "r2")
	require.NoError(t, s.UpdateInstanceStatus(a.InstanceID, StatusIdle))
	require.NoError(t, s.UpdateInstanceStatus(b.InstanceID, StatusIdle))

	// Only b heartbeats recently, so a has been idle longer.
	require.NoError(t, s.UpdateInstanceHeartbeat(b.InstanceID, time.Now().Add(time.Minute)))

	found := s.FindIdleInstance("billing-agent")
	require.NotNil(t, found)
	assert.Equal(t, a.InstanceID, found.InstanceID)

	assert.Nil(t, s.FindIdleInstance("research-agent"))
}

func TestStore_RemoveInstance(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "r1")

	require.NoError(t, s.RemoveInstance(inst.InstanceID))
	_, err := s.GetInstance(inst.InstanceID)
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	assert.ErrorIs(t, s.RemoveInstance(inst.InstanceID), ErrInstanceNotFound)
}

func TestStore_DequeuePriorityOrder(t *testing.T) {
	s := newTestStore(t)

	s.EnqueueTask("low task", "", PriorityLow, SourceUser)
	s.EnqueueTask("critical task", "", PriorityCritical, SourceUser)
	s.EnqueueTask("normal task", "", PriorityNormal, SourceUser)
	s.EnqueueTask("high task", "", PriorityHigh, SourceUser)

	var order []string
	for {
		task := s.DequeueTask()
		if task == nil {
			break
		}
		order = append(order, task.Description)
		assert.Equal(t, TaskRouted, task.Status)
	}

	assert.Equal(t, []string{"critical task", "high task", "normal task", "low task"}, order)
}

func TestStore_DequeueFIFOWithinBucket(t *testing.T) {
	s := newTestStore(t)

	first := s.EnqueueTask("first", "", PriorityNormal, SourceUser)
	second := s.EnqueueTask("second", "", PriorityNormal, SourceUser)

	got := s.DequeueTask()
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	got = s.DequeueTask()
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	assert.Nil(t, s.DequeueTask())
}

func TestStore_DequeueFlipsStatusOnce(t *testing.T) {
	s := newTestStore(t)
	task := s.EnqueueTask("only task", "", PriorityNormal, SourceUser)

	got := s.DequeueTask()
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)

	// The task left the queue atomically; no second dequeue sees it.
	assert.Nil(t, s.DequeueTask())

	stored, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskRouted, stored.Status)
}

func TestStore_AssignTask(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "r1")
	task := s.EnqueueTask("work", "", PriorityNormal, SourceUser)
	require.NotNil(t, s.DequeueTask())

	require.NoError(t, s.AssignTask(task.ID, inst.InstanceID))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, got.Status)
	assert.Equal(t, inst.InstanceID, got.AssignedInstanceID)
	assert.False(t, got.StartedAt.IsZero())

	assert.ErrorIs(t, s.AssignTask("missing", inst.InstanceID), ErrTaskNotFound)
	assert.ErrorIs(t, s.AssignTask(task.ID, "missing"), ErrInstanceNotFound)
}

func TestStore_CompleteAndFailTask(t *testing.T) {
	s := newTestStore(t)

	done := s.EnqueueTask("done", "", PriorityNormal, SourceUser)
	require.NotNil(t, s.DequeueTask())
	require.NoError(t, s.CompleteTask(done.ID, "all good"))
	got, err := s.GetTask(done.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, "all good", got.Result)
	assert.False(t, got.CompletedAt.IsZero())

	bad := s.EnqueueTask("bad", "", PriorityNormal, SourceUser)
	require.NotNil(t, s.DequeueTask())
	require.NoError(t, s.FailTask(bad.ID, "timeout"))
	got, err = s.GetTask(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, got.Status)
	assert.Equal(t, "timeout", got.Result)
}

func TestStore_FinishRequiresDispatchedTask(t *testing.T) {
	s := newTestStore(t)

	// A queued task never routed cannot finish; its queue entry must stay
	// eligible for dispatch.
	queued := s.EnqueueTask("still waiting", "", PriorityNormal, SourceUser)
	assert.ErrorIs(t, s.CompleteTask(queued.ID, "ok"), ErrInvalidTransition)
	assert.ErrorIs(t, s.FailTask(queued.ID, "oops"), ErrInvalidTransition)

	got, err := s.GetTask(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, got.Status)

	// The task is still dispatchable after the rejected finish.
	routed := s.DequeueTask()
	require.NotNil(t, routed)
	assert.Equal(t, queued.ID, routed.ID)
	require.NoError(t, s.CompleteTask(routed.ID, "ok"))

	// A terminal task cannot finish twice.
	assert.ErrorIs(t, s.FailTask(routed.ID, "too late"), ErrInvalidTransition)
	got, err = s.GetTask(routed.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
}

func TestStore_ListTasksOrderedBySubmission(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	s.EnqueueTask("one", "", PriorityNormal, SourceUser)
	s.EnqueueTask("two", "", PriorityHigh, SourceUser)
	s.EnqueueTask("three", "", PriorityLow, SourceUser)

	tasks := s.ListTasks("")
	require.Len(t, tasks, 3)
	assert.Equal(t, "one", tasks[0].Description)
	assert.Equal(t, "two", tasks[1].Description)
	assert.Equal(t, "three", tasks[2].Description)

	queued := s.ListTasks(TaskQueued)
	assert.Len(t, queued, 3)
	assert.Empty(t, s.ListTasks(TaskCompleted))
}

func TestStore_AcknowledgeAlertIdempotent(t *testing.T) {
	s := newTestStore(t)

	alert := s.AddAlert(SeverityWarning, "budget nearly exhausted", "inst-1")
	require.Len(t, s.UnacknowledgedAlerts(), 1)

	require.NoError(t, s.AcknowledgeAlert(alert.ID))
	assert.Empty(t, s.UnacknowledgedAlerts())

	// Acknowledging again succeeds and changes nothing.
	require.NoError(t, s.AcknowledgeAlert(alert.ID))
	assert.Empty(t, s.UnacknowledgedAlerts())
	assert.Len(t, s.ListAlerts(), 1)

	assert.ErrorIs(t, s.AcknowledgeAlert("missing"), ErrAlertNotFound)
}

func TestStore_EmitAlertAdapter(t *testing.T) {
	s := newTestStore(t)

	s.EmitAlert("info", "soft scope violation", "inst-1")

	alerts := s.ListAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityInfo, alerts[0].Severity)
	assert.Equal(t, "inst-1", alerts[0].InstanceID)
}

func TestStore_Metrics(t *testing.T) {
	s := newTestStore(t)
	s.SetRegisteredTypes(5)

	idle := s.AddInstance("billing-agent", "r1")
	require.NoError(t, s.UpdateInstanceStatus(idle.InstanceID, StatusIdle))

	working := s.AddInstance("research-agent", "r2")
	require.NoError(t, s.UpdateInstanceStatus(working.InstanceID, StatusIdle))
	require.NoError(t, s.UpdateInstanceTask(working.InstanceID, "research"))

	errored := s.AddInstance("ops-agent", "r3")
	require.NoError(t, s.UpdateInstanceStatus(errored.InstanceID, StatusIdle))
	require.NoError(t, s.UpdateInstanceStatus(errored.InstanceID, StatusError))

	done := s.EnqueueTask("done work", "", PriorityNormal, SourceUser)
	require.NotNil(t, s.DequeueTask())
	require.NoError(t, s.CompleteTask(done.ID, "ok"))
	s.EnqueueTask("queued work", "", PriorityNormal, SourceUser)

	require.NoError(t, s.UpdateInstanceCost(idle.InstanceID, 1000, 0.05))
	s.AddAlert(SeverityCritical, "instance stuck", errored.InstanceID)

	m := s.Metrics()
	assert.Equal(t, 5, m.RegisteredTypes)
	assert.Equal(t, 2, m.ActiveInstances)
	assert.Equal(t, 1, m.IdleInstances)
	assert.Equal(t, 1, m.ErroredInstances)
	assert.Equal(t, 1, m.TasksCompletedDay)
	assert.Equal(t, 1, m.QueuedTasks)
	assert.Equal(t, int64(1000), m.TokensConsumedDay)
	assert.InDelta(t, 0.05, m.CostUSDDay, 1e-9)
	assert.Equal(t, 1, m.UnackedAlerts)
	assert.False(t, m.ComputedAt.IsZero())
}

func TestStore_MetricsDailyRollover(t *testing.T) {
	s := newTestStore(t)
	inst := s.AddInstance("billing-agent", "r1")

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day1 }
	require.NoError(t, s.UpdateInstanceCost(inst.InstanceID, 500, 0.02))
	assert.Equal(t, int64(500), s.Metrics().TokensConsumedDay)

	// The next UTC day starts with fresh accumulators.
	s.now = func() time.Time { return day1.Add(2 * time.Hour) }
	m := s.Metrics()
	assert.Zero(t, m.TokensConsumedDay)
	assert.Zero(t, m.CostUSDDay)

	// Per-instance totals survive the rollover.
	got, err := s.GetInstance(inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.TokensConsumed)
}

type captureRecorder struct {
	taskEvents []string
	usage      []string
}

func (c *captureRecorder) RecordTaskEvent(taskID, event, detail string) {
	c.taskEvents = append(c.taskEvents, event)
}

func (c *captureRecorder) RecordUsage(instanceID string, tokens int64, costUSD float64) {
	c.usage = append(c.usage, instanceID)
}

func TestStore_RecorderReceivesEvents(t *testing.T) {
	s := newTestStore(t)
	rec := &captureRecorder{}
	s.SetRecorder(rec)

	inst := s.AddInstance("billing-agent", "r1")
	task := s.EnqueueTask("work", "", PriorityNormal, SourceUser)
	require.NotNil(t, s.DequeueTask())
	require.NoError(t, s.AssignTask(task.ID, inst.InstanceID))
	require.NoError(t, s.CompleteTask(task.ID, "ok"))
	require.NoError(t, s.UpdateInstanceCost(inst.InstanceID, 10, 0.001))

	assert.Equal(t, []string{"enqueued", "routed", "assigned", "completed"}, rec.taskEvents)
	assert.Equal(t, []string{inst.InstanceID}, rec.usage)
}

// readbackRecorder reads the recorded entity back from the store on every
// event. This only works when the store emits with its mutex released.
type readbackRecorder struct {
	store    *Store
	statuses []TaskStatus
}

func (r *readbackRecorder) RecordTaskEvent(taskID, event, detail string) {
	task, err := r.store.GetTask(taskID)
	if err != nil {
		return
	}
	r.statuses = append(r.statuses, task.Status)
}

func (r *readbackRecorder) RecordUsage(instanceID string, tokens int64, costUSD float64) {
	_, _ = r.store.GetInstance(instanceID)
}

func TestStore_RecorderMayCallBackIntoStore(t *testing.T) {
	s := newTestStore(t)
	rec := &readbackRecorder{store: s}
	s.SetRecorder(rec)

	inst := s.AddInstance("billing-agent", "r1")
	task := s.EnqueueTask("work", "", PriorityNormal, SourceUser)
	require.NotNil(t, s.DequeueTask())
	require.NoError(t, s.AssignTask(task.ID, inst.InstanceID))
	require.NoError(t, s.UpdateInstanceCost(inst.InstanceID, 10, 0.001))
	require.NoError(t, s.CompleteTask(task.ID, "ok"))

	// The recorder observed each lifecycle state as it was committed.
	assert.Equal(t, []TaskStatus{TaskQueued, TaskRouted, TaskInProgress, TaskCompleted}, rec.statuses)
}
