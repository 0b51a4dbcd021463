// ABOUTME: Proposed action and verdict types for the admission pipeline
// ABOUTME: Verdicts are values, never errors; denial is normal control flow

package admission

// ActionType classifies what kind of thing an agent wants to do.
type ActionType string

const (
	ActionTool      ActionType = "tool"
	ActionConnector ActionType = "connector"
	ActionOther     ActionType = "other"
)

// Action is a single proposed operation awaiting an admission verdict.
type Action struct {
	Type        ActionType `json:"type"`
	ToolName    string     `json:"tool_name,omitempty"`
	ConnectorID string     `json:"connector_id,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Gate names the admission check that produced a verdict.
type Gate string

const (
	GateCapability Gate = "capability"
	GateScope      Gate = "scope"
	GateRisk       Gate = "risk"
	GateBudget     Gate = "budget"
	GateLedger     Gate = "ledger"
)

// Escalation names who can override a denial.
type Escalation string

const (
	EscalateNone  Escalation = ""
	EscalateUser  Escalation = "user"
	EscalateAdmin Escalation = "admin"
)

// Verdict is the outcome of evaluating an action. Gate is empty when the
// action is allowed. EscalateNone on a denial means no override path exists.
type Verdict struct {
	Allowed    bool       `json:"allowed"`
	Gate       Gate       `json:"gate,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	EscalateTo Escalation `json:"escalate_to,omitempty"`
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func deny(gate Gate, reason string, escalate Escalation) Verdict {
	return Verdict{Gate: gate, Reason: reason, EscalateTo: escalate}
}
