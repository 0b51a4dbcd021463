// ABOUTME: Admission decision records for the durable ledger
// ABOUTME: Every verdict is appended so denials can be audited after the fact

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Decision is one admission verdict as persisted.
type Decision struct {
	ID          string
	InstanceID  string
	RegistryID  string
	ActionType  string
	ToolName    string
	ConnectorID string
	Allowed     bool
	Gate        string
	Reason      string
	EscalateTo  string
	Timestamp   time.Time
}

// DecisionFilter narrows ListDecisions. Zero values match everything.
type DecisionFilter struct {
	InstanceID string
	DeniedOnly bool
	Since      *time.Time
	Limit      int
}

// RecordDecision appends a verdict to the ledger. Generates ID and
// timestamp when unset.
func (l *Ledger) RecordDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO admission_decisions
			(id, instance_id, registry_id, action_type, tool_name, connector_id, allowed, gate, reason, escalate_to, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, query,
		d.ID,
		d.InstanceID,
		d.RegistryID,
		d.ActionType,
		nullString(d.ToolName),
		nullString(d.ConnectorID),
		boolToInt(d.Allowed),
		nullString(d.Gate),
		nullString(d.Reason),
		nullString(d.EscalateTo),
		d.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}

	l.logger.Debug("recorded admission decision",
		"id", d.ID,
		"instance_id", d.InstanceID,
		"allowed", d.Allowed,
		"gate", d.Gate,
	)
	return nil
}

// ListDecisions returns decisions matching the filter, newest first.
func (l *Ledger) ListDecisions(ctx context.Context, f DecisionFilter) ([]Decision, error) {
	query := `
		SELECT id, instance_id, registry_id, action_type, tool_name, connector_id, allowed, gate, reason, escalate_to, ts
		FROM admission_decisions
		WHERE 1=1
	`
	args := []any{}

	if f.InstanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, f.InstanceID)
	}
	if f.DeniedOnly {
		query += " AND allowed = 0"
	}
	if f.Since != nil {
		query += " AND ts >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}

	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, normalizeLimit(f.Limit))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decisions: %w", err)
	}

	if decisions == nil {
		decisions = []Decision{}
	}
	return decisions, nil
}

// scanDecision scans one row into a Decision.
func scanDecision(rows *sql.Rows) (Decision, error) {
	var d Decision
	var toolName, connectorID, gate, reason, escalateTo sql.NullString
	var allowed int
	var tsStr string

	if err := rows.Scan(
		&d.ID,
		&d.InstanceID,
		&d.RegistryID,
		&d.ActionType,
		&toolName,
		&connectorID,
		&allowed,
		&gate,
		&reason,
		&escalateTo,
		&tsStr,
	); err != nil {
		return d, fmt.Errorf("scanning decision: %w", err)
	}

	d.ToolName = toolName.String
	d.ConnectorID = connectorID.String
	d.Allowed = allowed != 0
	d.Gate = gate.String
	d.Reason = reason.String
	d.EscalateTo = escalateTo.String

	var err error
	d.Timestamp, err = time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return d, fmt.Errorf("parsing timestamp: %w", err)
	}
	return d, nil
}

// nullString converts empty strings to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
