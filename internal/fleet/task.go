// ABOUTME: Task queue item types with priority and status enums
// ABOUTME: Invariant: assigned_instance_id is set iff the task left the queued state

package fleet

import "time"

// Priority orders tasks in the queue. Critical drains first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// priorityOrder lists dequeue precedence, strictest first.
var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskRouted     TaskStatus = "routed"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskSource identifies who submitted a task.
type TaskSource string

const (
	SourceUser     TaskSource = "user"
	SourceAgent    TaskSource = "agent"
	SourceWorkflow TaskSource = "workflow"
	SourceChannel  TaskSource = "channel"
	SourceSchedule TaskSource = "schedule"
)

// Task is one unit of queued work.
type Task struct {
	ID                 string     `json:"id"`
	Description        string     `json:"description"`
	Domain             string     `json:"domain,omitempty"` // routing hint, may be empty
	Priority           Priority   `json:"priority"`
	Status             TaskStatus `json:"status"`
	AssignedInstanceID string     `json:"assigned_instance_id,omitempty"`
	Source             TaskSource `json:"source"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	StartedAt          time.Time  `json:"started_at,omitzero"`
	CompletedAt        time.Time  `json:"completed_at,omitzero"`
	Result             string     `json:"result,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	return &c
}
