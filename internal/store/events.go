// ABOUTME: Task lifecycle events and usage samples persisted to the ledger
// ABOUTME: Implements the fleet store's Recorder interface, best-effort

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gladehq/fleetd/internal/fleet"
)

// Ensure Ledger satisfies the fleet store's recorder hook.
var _ fleet.Recorder = (*Ledger)(nil)

// TaskEvent is one persisted task lifecycle transition.
type TaskEvent struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Event     string    `json:"event"` // enqueued, routed, assigned, completed, failed
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageSample is one persisted token/cost delta.
type UsageSample struct {
	ID         string
	InstanceID string
	Tokens     int64
	CostUSD    float64
	Timestamp  time.Time
}

// UsageTotals aggregates usage samples over a window.
type UsageTotals struct {
	Tokens      int64
	CostUSD     float64
	SampleCount int
}

// RecordTaskEvent implements fleet.Recorder. The fleet store calls it
// synchronously under its own lock, so failures are swallowed into the
// log rather than propagated back into state mutation.
func (l *Ledger) RecordTaskEvent(taskID, event, detail string) {
	query := `INSERT INTO task_events (id, task_id, event, detail, ts) VALUES (?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(context.Background(), query,
		uuid.New().String(),
		taskID,
		event,
		nullString(detail),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		l.logger.Error("recording task event", "task_id", taskID, "event", event, "error", err)
	}
}

// RecordUsage implements fleet.Recorder.
func (l *Ledger) RecordUsage(instanceID string, tokens int64, costUSD float64) {
	query := `INSERT INTO usage_samples (id, instance_id, tokens, cost_usd, ts) VALUES (?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(context.Background(), query,
		uuid.New().String(),
		instanceID,
		tokens,
		costUSD,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		l.logger.Error("recording usage sample", "instance_id", instanceID, "error", err)
	}
}

// ListTaskEvents returns all events for a task, oldest first.
func (l *Ledger) ListTaskEvents(ctx context.Context, taskID string) ([]TaskEvent, error) {
	query := `
		SELECT id, task_id, event, detail, ts
		FROM task_events
		WHERE task_id = ?
		ORDER BY ts ASC
	`

	rows, err := l.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying task events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []TaskEvent
	for rows.Next() {
		var e TaskEvent
		var detail *string
		var tsStr string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Event, &detail, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning task event: %w", err)
		}
		if detail != nil {
			e.Detail = *detail
		}
		e.Timestamp, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task events: %w", err)
	}
	return events, nil
}

// InstanceUsageTotals aggregates usage samples for one instance since the
// given time. A nil since means all time.
func (l *Ledger) InstanceUsageTotals(ctx context.Context, instanceID string, since *time.Time) (*UsageTotals, error) {
	query := `
		SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(cost_usd), 0), COUNT(*)
		FROM usage_samples
		WHERE instance_id = ?
	`
	args := []any{instanceID}

	if since != nil {
		query += " AND ts >= ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}

	var totals UsageTotals
	err := l.db.QueryRowContext(ctx, query, args...).Scan(
		&totals.Tokens,
		&totals.CostUSD,
		&totals.SampleCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage totals: %w", err)
	}
	return &totals, nil
}
