// ABOUTME: Authoritative in-memory state store for instances, tasks, and alerts
// ABOUTME: Every mutation is serialized behind one mutex; no partial update is observable

package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInstanceNotFound indicates the instance ID is not in the store.
var ErrInstanceNotFound = errors.New("instance not found")

// ErrTaskNotFound indicates the task ID is not in the store.
var ErrTaskNotFound = errors.New("task not found")

// ErrAlertNotFound indicates the alert ID is not in the store.
var ErrAlertNotFound = errors.New("alert not found")

// ErrInvalidTransition indicates a status change that does not follow a
// defined lifecycle edge.
var ErrInvalidTransition = errors.New("invalid status transition")

// Recorder receives fleet lifecycle events for durable logging. The store
// emits events after releasing its own lock, so a recorder may call back
// into the store. Failures are logged and do not affect store state.
type Recorder interface {
	RecordTaskEvent(taskID, event, detail string)
	RecordUsage(instanceID string, tokens int64, costUSD float64)
}

// nopRecorder is used when no durable ledger is attached.
type nopRecorder struct{}

func (nopRecorder) RecordTaskEvent(string, string, string) {}
func (nopRecorder) RecordUsage(string, int64, float64)     {}

// Store is the single source of truth for fleet runtime state. All other
// components read from it and write through it.
type Store struct {
	mu        sync.Mutex
	instances map[string]*Instance
	tasks     map[string]*Task
	queue     []string // task IDs in submission order, queued entries only
	alerts    []*Alert

	// Daily accumulators folded in by UpdateInstanceCost; reset when the
	// UTC date changes. Instance records remain the source of per-agent
	// totals, these survive instance retirement.
	dailyDate   time.Time
	dailyTokens int64
	dailyCost   float64

	registeredTypes int
	recorder        Recorder
	logger          *slog.Logger
	now             func() time.Time
}

// NewStore creates an empty fleet store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		instances: make(map[string]*Instance),
		tasks:     make(map[string]*Task),
		recorder:  nopRecorder{},
		logger:    logger,
		now:       time.Now,
	}
}

// SetRecorder attaches a durable event recorder. Must be called before the
// store is shared between goroutines.
func (s *Store) SetRecorder(r Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// SetRegisteredTypes records the catalog size for metrics reporting.
func (s *Store) SetRegisteredTypes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registeredTypes = n
}

// ---- instances ----

// AddInstance creates a new instance record in the spawning state and
// returns its generated instance ID.
func (s *Store) AddInstance(registryID, runtimeAgentID string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	inst := &Instance{
		InstanceID:     uuid.New().String(),
		RegistryID:     registryID,
		RuntimeAgentID: runtimeAgentID,
		Status:         StatusSpawning,
		SpawnedAt:      now,
		LastHeartbeat:  now,
	}
	s.instances[inst.InstanceID] = inst

	s.logger.Info("instance added",
		"instance_id", inst.InstanceID,
		"registry_id", registryID,
		"total_instances", len(s.instances),
	)
	return inst.clone()
}

// GetInstance returns a copy of the instance, or ErrInstanceNotFound.
func (s *Store) GetInstance(instanceID string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.clone(), nil
}

// ListInstances returns copies of all instances, optionally filtered by
// registry ID and/or status. Empty filter values match everything.
func (s *Store) ListInstances(registryID string, status Status) []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Instance
	for _, inst := range s.instances {
		if registryID != "" && inst.RegistryID != registryID {
			continue
		}
		if status != "" && inst.Status != status {
			continue
		}
		result = append(result, inst.clone())
	}
	return result
}

// FindIdleInstance returns the longest-idle instance of the given agent
// type, or nil when none is idle.
func (s *Store) FindIdleInstance(registryID string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Instance
	for _, inst := range s.instances {
		if inst.RegistryID != registryID || inst.Status != StatusIdle {
			continue
		}
		if best == nil || inst.LastHeartbeat.Before(best.LastHeartbeat) {
			best = inst
		}
	}
	if best == nil {
		return nil
	}
	return best.clone()
}

// UpdateInstanceStatus moves an instance along a lifecycle edge.
// Returns ErrInvalidTransition for undefined edges.
func (s *Store) UpdateInstanceStatus(instanceID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	if !CanTransition(inst.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inst.Status, status)
	}
	inst.Status = status

	s.logger.Debug("instance status updated", "instance_id", instanceID, "status", status)
	return nil
}

// UpdateInstanceTask attaches or clears the instance's current task
// description. A non-empty task forces the working status; an empty one
// forces idle and bumps the cycle count.
func (s *Store) UpdateInstanceTask(instanceID, task string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}

	inst.CurrentTask = task
	if task != "" {
		inst.Status = StatusWorking
	} else {
		inst.Status = StatusIdle
		inst.CycleCount++
	}
	return nil
}

// UpdateInstanceCost adds a usage delta to the instance and folds it into
// the fleet-wide daily totals. Deltas are additive; totals never decrease.
// Negative deltas are rejected to preserve monotonicity.
func (s *Store) UpdateInstanceCost(instanceID string, tokens int64, costUSD float64) error {
	if err := s.applyInstanceCost(instanceID, tokens, costUSD); err != nil {
		return err
	}
	// Emitted outside the lock so the recorder may read back from the store.
	s.recorder.RecordUsage(instanceID, tokens, costUSD)
	return nil
}

func (s *Store) applyInstanceCost(instanceID string, tokens int64, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	if tokens < 0 || costUSD < 0 {
		return fmt.Errorf("negative usage delta: tokens=%d cost=%f", tokens, costUSD)
	}

	inst.TokensConsumed += tokens
	inst.CostUSD += costUSD

	s.rollDailyLocked()
	s.dailyTokens += tokens
	s.dailyCost += costUSD
	return nil
}

// UpdateInstanceHeartbeat records a heartbeat. Idempotent and monotonic:
// a timestamp older than the stored one is ignored.
func (s *Store) UpdateInstanceHeartbeat(instanceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	if at.After(inst.LastHeartbeat) {
		inst.LastHeartbeat = at
	}
	return nil
}

// IncrementInstanceErrors bumps the error counter. It does not change the
// instance status; operators decide whether to retire.
func (s *Store) IncrementInstanceErrors(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	inst.ErrorCount++
	return nil
}

// RemoveInstance retires an instance, deleting its record entirely.
// Not reversible. In-flight work is not cancelled; the instance simply
// stops resolving for future routing and admission.
func (s *Store) RemoveInstance(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	delete(s.instances, instanceID)

	s.logger.Info("instance retired",
		"instance_id", instanceID,
		"registry_id", inst.RegistryID,
		"cost_usd", inst.CostUSD,
		"total_instances", len(s.instances),
	)
	return nil
}

// InstanceUsage reads the budget-relevant fields of an instance in one
// atomic snapshot. Implements the admission controller's InstanceReader.
func (s *Store) InstanceUsage(instanceID string) (tokens int64, costUSD float64, runtimeAgentID string, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return 0, 0, "", false
	}
	return inst.TokensConsumed, inst.CostUSD, inst.RuntimeAgentID, true
}

// ---- task queue ----

// EnqueueTask adds a task to the queue and returns a copy with its
// generated ID and submission timestamp filled in.
func (s *Store) EnqueueTask(description, domain string, priority Priority, source TaskSource) *Task {
	if priority == "" {
		priority = PriorityNormal
	}

	s.mu.Lock()
	task := &Task{
		ID:          uuid.New().String(),
		Description: description,
		Domain:      domain,
		Priority:    priority,
		Status:      TaskQueued,
		Source:      source,
		SubmittedAt: s.now().UTC(),
	}
	s.tasks[task.ID] = task
	s.queue = append(s.queue, task.ID)
	depth := len(s.queue)
	out := task.clone()
	s.mu.Unlock()

	s.recorder.RecordTaskEvent(out.ID, "enqueued", description)
	s.logger.Info("task enqueued",
		"task_id", out.ID,
		"priority", priority,
		"source", source,
		"queue_depth", depth,
	)
	return out
}

// DequeueTask removes and returns the highest-priority queued task,
// atomically flipping its status queued -> routed. Within a priority
// bucket, first submitted wins. Returns nil when the queue is empty.
// The flip happens under the store lock, so two racing callers can never
// receive the same task.
func (s *Store) DequeueTask() *Task {
	out := s.dequeueTask()
	if out != nil {
		s.recorder.RecordTaskEvent(out.ID, "routed", "")
	}
	return out
}

func (s *Store) dequeueTask() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prio := range priorityOrder {
		for i, id := range s.queue {
			task := s.tasks[id]
			if task == nil || task.Status != TaskQueued || task.Priority != prio {
				continue
			}
			task.Status = TaskRouted
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return task.clone()
		}
	}
	return nil
}

// GetTask returns a copy of the task, or ErrTaskNotFound.
func (s *Store) GetTask(taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.clone(), nil
}

// ListTasks returns copies of all tasks, optionally filtered by status,
// ordered by submission time.
func (s *Store) ListTasks(status TaskStatus) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Task
	for _, task := range s.tasks {
		if status != "" && task.Status != status {
			continue
		}
		result = append(result, task.clone())
	}
	sortTasksBySubmission(result)
	return result
}

// AssignTask binds a routed task to an instance and marks it in progress.
func (s *Store) AssignTask(taskID, instanceID string) error {
	if err := s.applyAssignTask(taskID, instanceID); err != nil {
		return err
	}
	s.recorder.RecordTaskEvent(taskID, "assigned", instanceID)
	return nil
}

func (s *Store) applyAssignTask(taskID, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if _, ok := s.instances[instanceID]; !ok {
		return ErrInstanceNotFound
	}
	task.AssignedInstanceID = instanceID
	task.Status = TaskInProgress
	task.StartedAt = s.now().UTC()
	return nil
}

// CompleteTask marks a task completed with its result.
func (s *Store) CompleteTask(taskID, result string) error {
	return s.finishTask(taskID, TaskCompleted, result)
}

// FailTask marks a task failed with a reason.
func (s *Store) FailTask(taskID, reason string) error {
	return s.finishTask(taskID, TaskFailed, reason)
}

func (s *Store) finishTask(taskID string, status TaskStatus, result string) error {
	if err := s.applyFinishTask(taskID, status, result); err != nil {
		return err
	}
	s.recorder.RecordTaskEvent(taskID, string(status), result)
	return nil
}

func (s *Store) applyFinishTask(taskID string, status TaskStatus, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	// Only dispatched work can finish. Completing a still-queued task would
	// leave its ID stranded in the queue slice.
	if task.Status != TaskRouted && task.Status != TaskInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, status)
	}
	task.Status = status
	task.Result = result
	task.CompletedAt = s.now().UTC()
	return nil
}

// ---- alerts ----

// AddAlert appends an alert to the log and returns a copy.
// Duplicate emissions are kept as-is; alerting is at-least-once.
func (s *Store) AddAlert(severity Severity, message, instanceID string) *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert := &Alert{
		ID:         uuid.New().String(),
		Severity:   severity,
		Message:    message,
		InstanceID: instanceID,
		Timestamp:  s.now().UTC(),
	}
	s.alerts = append(s.alerts, alert)

	s.logger.Warn("fleet alert",
		"alert_id", alert.ID,
		"severity", severity,
		"instance_id", instanceID,
		"message", message,
	)
	return alert.clone()
}

// EmitAlert adapts AddAlert to the admission controller's AlertSink
// interface, which speaks in plain strings to avoid a type dependency.
func (s *Store) EmitAlert(severity, message, instanceID string) {
	s.AddAlert(Severity(severity), message, instanceID)
}

// AcknowledgeAlert flips an alert to acknowledged. Acknowledging twice is
// a no-op; the flag never flips back.
func (s *Store) AcknowledgeAlert(alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.ID == alertID {
			a.Acknowledged = true
			return nil
		}
	}
	return ErrAlertNotFound
}

// UnacknowledgedAlerts returns copies of all alerts not yet acknowledged,
// oldest first.
func (s *Store) UnacknowledgedAlerts() []*Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Alert
	for _, a := range s.alerts {
		if !a.Acknowledged {
			result = append(result, a.clone())
		}
	}
	return result
}

// ListAlerts returns copies of every alert, oldest first.
func (s *Store) ListAlerts() []*Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Alert, len(s.alerts))
	for i, a := range s.alerts {
		result[i] = a.clone()
	}
	return result
}

// ---- metrics ----

// Metrics recomputes the fleet snapshot from live state. Counts come from
// the instance map and task list, never from stored counters, so the
// snapshot cannot drift from reality. Only the daily cost accumulators are
// carried, because retired instances leave the map.
func (s *Store) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.rollDailyLocked()

	m := Metrics{
		RegisteredTypes: s.registeredTypes,
		ComputedAt:      now,
	}

	for _, inst := range s.instances {
		switch inst.Status {
		case StatusIdle:
			m.IdleInstances++
			m.ActiveInstances++
		case StatusError:
			m.ErroredInstances++
		case StatusRetiring:
			// counted as neither active nor errored
		default:
			m.ActiveInstances++
		}
	}

	var totalDuration time.Duration
	var completedWithDuration int
	for _, task := range s.tasks {
		switch task.Status {
		case TaskQueued:
			m.QueuedTasks++
		case TaskCompleted:
			if sameDay(task.CompletedAt, now) {
				m.TasksCompletedDay++
			}
			if !task.StartedAt.IsZero() && task.CompletedAt.After(task.StartedAt) {
				totalDuration += task.CompletedAt.Sub(task.StartedAt)
				completedWithDuration++
			}
		case TaskFailed:
			if sameDay(task.CompletedAt, now) {
				m.TasksFailedDay++
			}
		}
	}
	if completedWithDuration > 0 {
		m.AvgTaskDuration = totalDuration / time.Duration(completedWithDuration)
	}

	for _, a := range s.alerts {
		if !a.Acknowledged {
			m.UnackedAlerts++
		}
	}

	m.TokensConsumedDay = s.dailyTokens
	m.CostUSDDay = s.dailyCost
	return m
}

// rollDailyLocked resets the daily accumulators when the UTC date changes.
// Caller must hold the store lock.
func (s *Store) rollDailyLocked() {
	today := s.now().UTC().Truncate(24 * time.Hour)
	if !s.dailyDate.Equal(today) {
		s.dailyDate = today
		s.dailyTokens = 0
		s.dailyCost = 0
	}
}

// sortTasksBySubmission orders tasks oldest first.
func sortTasksBySubmission(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].SubmittedAt.Before(tasks[j].SubmittedAt)
	})
}
