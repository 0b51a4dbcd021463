// ABOUTME: Tests for the admission gate pipeline using mock collaborators
// ABOUTME: Covers gate ordering, fail-open/fail-closed, budgets, and contracts

package admission

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gladehq/fleetd/internal/registry"
)

type mockInstances struct {
	tokens  int64
	cost    float64
	runtime string
	found   bool
}

func (m *mockInstances) InstanceUsage(string) (int64, float64, string, bool) {
	return m.tokens, m.cost, m.runtime, m.found
}

type mockAlerts struct {
	severities []string
	messages   []string
}

func (m *mockAlerts) EmitAlert(severity, message, instanceID string) {
	m.severities = append(m.severities, severity)
	m.messages = append(m.messages, message)
}

type mockLedger struct {
	allowed bool
	reason  string

	gotTokens int64
	gotCost   float64
}

func (m *mockLedger) CheckBudget(_ context.Context, _ string, estTokens int64, estCostUSD float64) (bool, string) {
	m.gotTokens = estTokens
	m.gotCost = estCostUSD
	return m.allowed, m.reason
}

type mockContracts struct {
	identity string
	allowed  bool
	reason   string
}

func (m *mockContracts) IdentityFor(string) string { return m.identity }

func (m *mockContracts) CheckContract(context.Context, string, Action) (bool, string) {
	return m.allowed, m.reason
}

func testRegistry() *registry.Registry {
	r := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	registry.RegisterDefaults(r)
	return r
}

func testController(cfg Config) *Controller {
	if cfg.Registry == nil {
		cfg.Registry = testRegistry()
	}
	if cfg.Alerts == nil {
		cfg.Alerts = &mockAlerts{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewController(cfg)
}

func TestController_AllowsInCapabilitySet(t *testing.T) {
	c := testController(Config{})

	v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
		Action{Type: ActionTool, ToolName: "list_invoices"})
	if !v.Allowed {
		t.Fatalf("expected allow, got deny at gate %s: %s", v.Gate, v.Reason)
	}
	if v.Gate != "" {
		t.Errorf("allowed verdict should carry no gate, got %s", v.Gate)
	}
}

func TestController_CapabilityGate(t *testing.T) {
	t.Run("unknown tool denied without escalation", func(t *testing.T) {
		c := testController(Config{})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "launch_rocket"})
		if v.Allowed {
			t.Fatal("expected deny")
		}
		if v.Gate != GateCapability {
			t.Errorf("expected capability gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateNone {
			t.Errorf("expected no escalation, got %s", v.EscalateTo)
		}
	})

	t.Run("connector outside allow-list denied", func(t *testing.T) {
		c := testController(Config{})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionConnector, ConnectorID: "storage"})
		if v.Allowed {
			t.Fatal("expected deny")
		}
		if v.Gate != GateCapability {
			t.Errorf("expected capability gate, got %s", v.Gate)
		}
	})

	t.Run("empty connector set is unrestricted", func(t *testing.T) {
		c := testController(Config{})

		// research-agent declares no connectors.
		v := c.Evaluate(context.Background(), "inst-1", "research-agent",
			Action{Type: ActionConnector, ConnectorID: "anything"})
		if !v.Allowed {
			t.Fatalf("expected allow, got deny: %s", v.Reason)
		}
	})

	t.Run("unregistered type fails open by default", func(t *testing.T) {
		c := testController(Config{})

		v := c.Evaluate(context.Background(), "inst-1", "ghost-agent",
			Action{Type: ActionTool, ToolName: "read_document"})
		if !v.Allowed {
			t.Fatalf("expected fail-open allow, got deny: %s", v.Reason)
		}
	})

	t.Run("unregistered type denied under fail-closed", func(t *testing.T) {
		c := testController(Config{FailClosed: true})

		v := c.Evaluate(context.Background(), "inst-1", "ghost-agent",
			Action{Type: ActionTool, ToolName: "read_document"})
		if v.Allowed {
			t.Fatal("expected deny under fail-closed")
		}
		if v.Gate != GateCapability {
			t.Errorf("expected capability gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateAdmin {
			t.Errorf("expected admin escalation, got %s", v.EscalateTo)
		}
	})
}

func TestController_GateOrdering(t *testing.T) {
	// delete_records is both outside billing-agent's capability set and
	// critical risk. The capability gate runs first and wins.
	c := testController(Config{})

	v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
		Action{Type: ActionTool, ToolName: "delete_records"})
	if v.Allowed {
		t.Fatal("expected deny")
	}
	if v.Gate != GateCapability {
		t.Errorf("capability gate should fire before risk, got %s", v.Gate)
	}
}

func TestController_ScopeGateAlertsButAllows(t *testing.T) {
	alerts := &mockAlerts{}
	c := testController(Config{
		Alerts: alerts,
		// Pin send_notification to comms instead of its default
		// cross-module mapping so the scope check has teeth here.
		ToolDomains: map[string]string{"send_notification": "comms"},
	})

	// Billing-agent declares accounting/finance tags only. The action
	// still passes; risk is medium and its approval requirement covers
	// high risk alone.
	v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
		Action{Type: ActionTool, ToolName: "send_notification"})
	if !v.Allowed {
		t.Fatalf("scope violations must not block, got deny: %s", v.Reason)
	}
	if len(alerts.severities) != 1 || alerts.severities[0] != "info" {
		t.Errorf("expected one info alert, got %v", alerts.severities)
	}
}

func TestController_RiskGate(t *testing.T) {
	t.Run("critical denied regardless of approvals", func(t *testing.T) {
		c := testController(Config{})

		// archive tooling is in ops-agent's set; the payment description
		// makes it critical.
		v := c.Evaluate(context.Background(), "inst-1", "ops-agent",
			Action{Type: ActionTool, ToolName: "export_data", Description: "export payment history"})
		if v.Allowed {
			t.Fatal("expected deny")
		}
		if v.Gate != GateRisk {
			t.Errorf("expected risk gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateAdmin {
			t.Errorf("critical risk escalates to admin, got %s", v.EscalateTo)
		}
	})

	t.Run("high risk denied when approval required", func(t *testing.T) {
		c := testController(Config{})

		// billing-agent requires approval for tool actions.
		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "create_invoice"})
		if v.Allowed {
			t.Fatal("expected deny")
		}
		if v.Gate != GateRisk {
			t.Errorf("expected risk gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateUser {
			t.Errorf("high risk escalates to user, got %s", v.EscalateTo)
		}
	})

	t.Run("high risk allowed without approval requirement", func(t *testing.T) {
		reg := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
		reg.Register(&registry.Manifest{
			AgentTypeID: "trusted-billing",
			Domain:      registry.DomainAccounting,
			Capabilities: registry.Capabilities{
				Tools: []string{"create_invoice"},
			},
		})
		c := testController(Config{Registry: reg})

		v := c.Evaluate(context.Background(), "inst-1", "trusted-billing",
			Action{Type: ActionTool, ToolName: "create_invoice"})
		if !v.Allowed {
			t.Fatalf("expected allow, got deny at %s: %s", v.Gate, v.Reason)
		}
	})
}

func TestController_BudgetGate(t *testing.T) {
	t.Run("cost ceiling blocks and alerts", func(t *testing.T) {
		alerts := &mockAlerts{}
		c := testController(Config{
			Alerts:    alerts,
			Instances: &mockInstances{tokens: 1000, cost: 5.00, runtime: "rt-1", found: true},
		})

		// billing-agent's ceiling is $5.00; the instance is exactly at it.
		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if v.Allowed {
			t.Fatal("expected deny at budget")
		}
		if v.Gate != GateBudget {
			t.Errorf("expected budget gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateUser {
			t.Errorf("budget denial escalates to user, got %s", v.EscalateTo)
		}
		if len(alerts.severities) != 1 || alerts.severities[0] != "warning" {
			t.Errorf("expected one warning alert, got %v", alerts.severities)
		}
	})

	t.Run("token ceiling blocks", func(t *testing.T) {
		c := testController(Config{
			Instances: &mockInstances{tokens: 200_000, cost: 1.00, runtime: "rt-1", found: true},
		})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if v.Allowed {
			t.Fatal("expected deny at budget")
		}
		if v.Gate != GateBudget {
			t.Errorf("expected budget gate, got %s", v.Gate)
		}
	})

	t.Run("under budget passes", func(t *testing.T) {
		c := testController(Config{
			Instances: &mockInstances{tokens: 100, cost: 0.50, runtime: "rt-1", found: true},
		})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if !v.Allowed {
			t.Fatalf("expected allow, got deny at %s: %s", v.Gate, v.Reason)
		}
	})

	t.Run("unknown instance skips the gate", func(t *testing.T) {
		c := testController(Config{
			Instances: &mockInstances{found: false},
		})

		v := c.Evaluate(context.Background(), "ghost-inst", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if !v.Allowed {
			t.Fatalf("missing instance must not block, got deny: %s", v.Reason)
		}
	})
}

// A high-risk action from an instance that has also spent its whole budget
// can trip two gates; which one reports depends on the approval policy.
func TestController_RiskAndBudgetOrdering(t *testing.T) {
	t.Run("no approval requirement surfaces the budget denial", func(t *testing.T) {
		reg := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
		reg.Register(&registry.Manifest{
			AgentTypeID: "trusted-billing",
			Domain:      registry.DomainAccounting,
			Capabilities: registry.Capabilities{
				Tools: []string{"create_invoice"},
			},
			Constraints: registry.Constraints{
				MaxCostUSD: 5.00,
			},
		})
		c := testController(Config{
			Registry:  reg,
			Instances: &mockInstances{cost: 5.00, runtime: "rt-1", found: true},
		})

		v := c.Evaluate(context.Background(), "inst-1", "trusted-billing",
			Action{Type: ActionTool, ToolName: "create_invoice"})
		if v.Allowed {
			t.Fatal("expected deny at budget")
		}
		if v.Gate != GateBudget {
			t.Errorf("expected budget gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateUser {
			t.Errorf("budget denial escalates to user, got %s", v.EscalateTo)
		}
	})

	t.Run("approval requirement reports risk before budget", func(t *testing.T) {
		// billing-agent requires approval for high-risk tools and its cost
		// ceiling is $5.00; the instance is at the ceiling too.
		c := testController(Config{
			Instances: &mockInstances{cost: 5.00, runtime: "rt-1", found: true},
		})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "create_invoice"})
		if v.Allowed {
			t.Fatal("expected deny at risk")
		}
		if v.Gate != GateRisk {
			t.Errorf("expected risk gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateUser {
			t.Errorf("risk denial escalates to user, got %s", v.EscalateTo)
		}
	})
}

func TestController_LedgerGate(t *testing.T) {
	t.Run("rejection reason surfaces verbatim", func(t *testing.T) {
		ledger := &mockLedger{allowed: false, reason: "daily spend cap reached"}
		c := testController(Config{
			Instances: &mockInstances{runtime: "rt-1", found: true},
			Ledger:    ledger,
		})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if v.Allowed {
			t.Fatal("expected deny at ledger")
		}
		if v.Gate != GateLedger {
			t.Errorf("expected ledger gate, got %s", v.Gate)
		}
		if v.Reason != "daily spend cap reached" {
			t.Errorf("reason must pass through verbatim, got %q", v.Reason)
		}
	})

	t.Run("tool estimates", func(t *testing.T) {
		ledger := &mockLedger{allowed: true}
		c := testController(Config{
			Instances: &mockInstances{runtime: "rt-1", found: true},
			Ledger:    ledger,
		})

		c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if ledger.gotTokens != 50 {
			t.Errorf("tool token estimate: got %d, want 50", ledger.gotTokens)
		}
		if ledger.gotCost != 0.0001 {
			t.Errorf("tool cost estimate: got %f, want 0.0001", ledger.gotCost)
		}
	})

	t.Run("connector estimates", func(t *testing.T) {
		ledger := &mockLedger{allowed: true}
		c := testController(Config{
			Instances: &mockInstances{runtime: "rt-1", found: true},
			Ledger:    ledger,
		})

		c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionConnector, ConnectorID: "email"})
		if ledger.gotTokens != 0 {
			t.Errorf("connector token estimate: got %d, want 0", ledger.gotTokens)
		}
		if ledger.gotCost != 0.001 {
			t.Errorf("connector cost estimate: got %f, want 0.001", ledger.gotCost)
		}
	})

	t.Run("skipped without runtime identity", func(t *testing.T) {
		ledger := &mockLedger{allowed: false, reason: "should not be consulted"}
		c := testController(Config{
			Instances: &mockInstances{runtime: "", found: true},
			Ledger:    ledger,
		})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if !v.Allowed {
			t.Fatalf("expected allow, got deny: %s", v.Reason)
		}
	})
}

func TestController_ContractGate(t *testing.T) {
	t.Run("violation reports capability gate with no escalation", func(t *testing.T) {
		c := testController(Config{
			Instances: &mockInstances{runtime: "rt-1", found: true},
			Contracts: &mockContracts{identity: "id-1", allowed: false, reason: "tool outside contract"},
		})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if v.Allowed {
			t.Fatal("expected deny at contract")
		}
		if v.Gate != GateCapability {
			t.Errorf("contract violations report the capability gate, got %s", v.Gate)
		}
		if v.EscalateTo != EscalateNone {
			t.Errorf("contract violations have no override path, got %s", v.EscalateTo)
		}
	})

	t.Run("no registered identity skips the gate", func(t *testing.T) {
		c := testController(Config{
			Instances: &mockInstances{runtime: "rt-1", found: true},
			Contracts: &mockContracts{identity: "", allowed: false},
		})

		v := c.Evaluate(context.Background(), "inst-1", "billing-agent",
			Action{Type: ActionTool, ToolName: "list_invoices"})
		if !v.Allowed {
			t.Fatalf("expected allow, got deny: %s", v.Reason)
		}
	})
}
