// ABOUTME: Derived fleet-wide metrics recomputed from live instances and tasks
// ABOUTME: Never authoritative; daily counters reset by date comparison

package fleet

import "time"

// Metrics is a point-in-time snapshot derived from the instance map and
// task list. It holds no state of its own and can always be recomputed.
type Metrics struct {
	RegisteredTypes    int           `json:"registered_types"`
	ActiveInstances    int           `json:"active_instances"`
	IdleInstances      int           `json:"idle_instances"`
	ErroredInstances   int           `json:"errored_instances"`
	TasksCompletedDay  int           `json:"tasks_completed_today"`
	TasksFailedDay     int           `json:"tasks_failed_today"`
	TokensConsumedDay  int64         `json:"tokens_consumed_today"`
	CostUSDDay         float64       `json:"cost_usd_today"`
	AvgTaskDuration    time.Duration `json:"avg_task_duration_ns"`
	QueuedTasks        int           `json:"queued_tasks"`
	UnackedAlerts      int           `json:"unacked_alerts"`
	ComputedAt         time.Time     `json:"computed_at"`
}

// sameDay reports whether two times fall on the same UTC calendar day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
