// ABOUTME: Ordered gate pipeline deciding whether a proposed action may run
// ABOUTME: First failing gate wins; missing entities degrade to gate-not-applicable

package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gladehq/fleetd/internal/registry"
)

// Per-action budget estimates used by the runtime ledger gate. Connector
// calls carry no token estimate because their cost is connection-shaped.
const (
	toolTokenEstimate     = 50
	toolCostEstimate      = 0.0001
	connectorCostEstimate = 0.001
)

// InstanceReader supplies the instance fields the budget gate needs.
// Satisfied by the fleet store.
type InstanceReader interface {
	InstanceUsage(instanceID string) (tokens int64, costUSD float64, runtimeAgentID string, found bool)
}

// AlertSink receives soft-violation and budget alerts. Satisfied by the
// fleet store; admission holds no reference to fleet types.
type AlertSink interface {
	EmitAlert(severity, message, instanceID string)
}

// BudgetLedger is the runtime worker's own budget authority, checked
// independently of the manifest budget.
type BudgetLedger interface {
	CheckBudget(ctx context.Context, runtimeAgentID string, estTokens int64, estCostUSD float64) (allowed bool, reason string)
}

// ContractStore resolves a runtime agent to its identity contract and
// checks actions against it. Lookup returning empty means no identity is
// registered and the contract gate is skipped.
type ContractStore interface {
	IdentityFor(runtimeAgentID string) string
	CheckContract(ctx context.Context, identityID string, action Action) (allowed bool, reason string)
}

// Controller runs the admission gates. It holds no mutable state of its
// own; every evaluation is a function of its inputs plus reads of the
// registry and fleet store.
type Controller struct {
	registry    *registry.Registry
	instances   InstanceReader
	alerts      AlertSink
	ledger      BudgetLedger   // optional
	contracts   ContractStore  // optional
	toolDomains map[string]string
	failClosed  bool
	logger      *slog.Logger
}

// Config carries the controller's collaborators. Ledger and Contracts may
// be nil; their gates are then skipped. ToolDomains nil means
// DefaultToolDomains.
type Config struct {
	Registry    *registry.Registry
	Instances   InstanceReader
	Alerts      AlertSink
	Ledger      BudgetLedger
	Contracts   ContractStore
	ToolDomains map[string]string
	// FailClosed denies actions from unregistered agent types at the
	// capability gate instead of the fail-open default.
	FailClosed bool
	Logger     *slog.Logger
}

// NewController creates an admission controller.
func NewController(cfg Config) *Controller {
	domains := cfg.ToolDomains
	if domains == nil {
		domains = DefaultToolDomains
	}
	return &Controller{
		registry:    cfg.Registry,
		instances:   cfg.Instances,
		alerts:      cfg.Alerts,
		ledger:      cfg.Ledger,
		contracts:   cfg.Contracts,
		toolDomains: domains,
		failClosed:  cfg.FailClosed,
		logger:      cfg.Logger,
	}
}

// Evaluate runs the gates in fixed order against a proposed action and
// returns the first denial, or an allow verdict when every gate passes.
// Gates never error on missing data: an absent manifest or instance makes
// the dependent gates not applicable rather than denying — except under
// fail-closed, and except the contract gate's explicit violation rule.
func (c *Controller) Evaluate(ctx context.Context, instanceID, registryID string, action Action) Verdict {
	manifest := c.registry.Get(registryID)

	if v := c.capabilityGate(manifest, registryID, action); !v.Allowed {
		return c.logVerdict(instanceID, action, v)
	}
	c.scopeGate(manifest, instanceID, action)

	if v := c.riskGate(manifest, action); !v.Allowed {
		return c.logVerdict(instanceID, action, v)
	}

	tokens, cost, runtimeAgentID, found := c.lookupInstance(instanceID)

	if found && manifest != nil {
		if v := c.budgetGate(manifest, instanceID, tokens, cost); !v.Allowed {
			return c.logVerdict(instanceID, action, v)
		}
	}

	if c.ledger != nil && runtimeAgentID != "" {
		if v := c.ledgerGate(ctx, runtimeAgentID, action); !v.Allowed {
			return c.logVerdict(instanceID, action, v)
		}
	}

	if c.contracts != nil && runtimeAgentID != "" {
		if v := c.contractGate(ctx, runtimeAgentID, action); !v.Allowed {
			return c.logVerdict(instanceID, action, v)
		}
	}

	return allow()
}

// capabilityGate checks tool/connector membership against the manifest.
// A missing manifest skips the gate unless the controller is fail-closed.
func (c *Controller) capabilityGate(manifest *registry.Manifest, registryID string, action Action) Verdict {
	if manifest == nil {
		if c.failClosed {
			return deny(GateCapability,
				fmt.Sprintf("agent type %q is not registered", registryID),
				EscalateAdmin)
		}
		return allow()
	}

	switch action.Type {
	case ActionTool:
		if !manifest.HasTool(action.ToolName) {
			return deny(GateCapability,
				fmt.Sprintf("tool %q is not in the %s capability set", action.ToolName, manifest.AgentTypeID),
				EscalateNone)
		}
	case ActionConnector:
		if !manifest.AllowsConnector(action.ConnectorID) {
			return deny(GateCapability,
				fmt.Sprintf("connector %q is not permitted for %s", action.ConnectorID, manifest.AgentTypeID),
				EscalateNone)
		}
	}
	return allow()
}

// scopeGate never blocks. When the tool's inferred domain falls outside
// the manifest's declared tags it emits an info alert and continues.
func (c *Controller) scopeGate(manifest *registry.Manifest, instanceID string, action Action) {
	if manifest == nil || len(manifest.Capabilities.Domains) == 0 || action.ToolName == "" {
		return
	}

	domain, ok := c.toolDomains[action.ToolName]
	if !ok || domain == CrossModule {
		return
	}

	for _, tag := range manifest.Capabilities.Domains {
		if tag == domain || tag == CrossModule {
			return
		}
	}

	c.alerts.EmitAlert("info",
		fmt.Sprintf("%s used tool %q outside its declared scope (%s)",
			manifest.AgentTypeID, action.ToolName, domain),
		instanceID)
}

// riskGate classifies the action and blocks critical outright. High-risk
// actions block only when the manifest requires approval for that action
// type.
func (c *Controller) riskGate(manifest *registry.Manifest, action Action) Verdict {
	switch ClassifyRisk(action) {
	case RiskCritical:
		return deny(GateRisk, "action is critical risk and requires administrator approval", EscalateAdmin)
	case RiskHigh:
		if manifest != nil && manifest.RequiresApprovalFor(string(action.Type)) {
			return deny(GateRisk,
				fmt.Sprintf("high-risk %s action requires approval", action.Type),
				EscalateUser)
		}
	}
	return allow()
}

// budgetGate blocks when the instance has reached either manifest ceiling.
// Crossing the cost ceiling also raises a warning alert; duplicates on
// re-evaluation are acceptable.
func (c *Controller) budgetGate(manifest *registry.Manifest, instanceID string, tokens int64, costUSD float64) Verdict {
	limits := manifest.Constraints
	if limits.MaxCostUSD > 0 && costUSD >= limits.MaxCostUSD {
		c.alerts.EmitAlert("warning",
			fmt.Sprintf("%s instance reached its $%.2f cost budget", manifest.AgentTypeID, limits.MaxCostUSD),
			instanceID)
		return deny(GateBudget,
			fmt.Sprintf("cost budget exceeded: $%.4f of $%.2f", costUSD, limits.MaxCostUSD),
			EscalateUser)
	}
	if limits.MaxTokens > 0 && tokens >= limits.MaxTokens {
		return deny(GateBudget,
			fmt.Sprintf("token budget exceeded: %d of %d", tokens, limits.MaxTokens),
			EscalateUser)
	}
	return allow()
}

// ledgerGate asks the runtime worker's own budget authority using fixed
// per-action estimates. Rejection reasons are surfaced verbatim.
func (c *Controller) ledgerGate(ctx context.Context, runtimeAgentID string, action Action) Verdict {
	var estTokens int64
	var estCost float64
	switch action.Type {
	case ActionConnector:
		estCost = connectorCostEstimate
	default:
		estTokens = toolTokenEstimate
		estCost = toolCostEstimate
	}

	allowed, reason := c.ledger.CheckBudget(ctx, runtimeAgentID, estTokens, estCost)
	if !allowed {
		return deny(GateLedger, reason, EscalateUser)
	}
	return allow()
}

// contractGate checks the action against the runtime worker's registered
// identity contract. A violation is non-negotiable: it reports the
// capability gate with no escalation path. Skipped when no identity exists.
func (c *Controller) contractGate(ctx context.Context, runtimeAgentID string, action Action) Verdict {
	identityID := c.contracts.IdentityFor(runtimeAgentID)
	if identityID == "" {
		return allow()
	}

	allowed, reason := c.contracts.CheckContract(ctx, identityID, action)
	if !allowed {
		return deny(GateCapability, reason, EscalateNone)
	}
	return allow()
}

// lookupInstance reads the budget-relevant instance fields. Absence makes
// the instance-budget gate not applicable.
func (c *Controller) lookupInstance(instanceID string) (tokens int64, costUSD float64, runtimeAgentID string, found bool) {
	if c.instances == nil || instanceID == "" {
		return 0, 0, "", false
	}
	return c.instances.InstanceUsage(instanceID)
}

func (c *Controller) logVerdict(instanceID string, action Action, v Verdict) Verdict {
	c.logger.Info("action denied",
		"instance_id", instanceID,
		"action_type", action.Type,
		"tool", action.ToolName,
		"gate", v.Gate,
		"reason", v.Reason,
		"escalate_to", v.EscalateTo,
	)
	return v
}
