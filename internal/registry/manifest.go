// ABOUTME: Capability manifest types describing what each agent type can do
// ABOUTME: Defines domains, cost tiers, latency profiles, and budget constraints

package registry

// Domain identifies the business area an agent type belongs to.
type Domain string

const (
	DomainAccounting Domain = "accounting"
	DomainResearch   Domain = "research"
	DomainScheduling Domain = "scheduling"
	DomainComms      Domain = "comms"
	DomainOperations Domain = "operations"
	DomainGeneral    Domain = "general"
)

// CostTier classifies how expensive an agent type is to run.
type CostTier string

const (
	CostCheap    CostTier = "cheap"
	CostStandard CostTier = "standard"
	CostPremium  CostTier = "premium"
)

// LatencyProfile classifies how quickly an agent type responds.
type LatencyProfile string

const (
	LatencyRealtime    LatencyProfile = "realtime"
	LatencyInteractive LatencyProfile = "interactive"
	LatencyBatch       LatencyProfile = "batch"
)

// Capabilities describes what an agent type is able to do.
// Connectors empty means unrestricted connector access.
type Capabilities struct {
	Tools       []string `yaml:"tools" json:"tools"`
	Connectors  []string `yaml:"connectors" json:"connectors,omitempty"`
	InputTypes  []string `yaml:"input_types" json:"input_types,omitempty"`
	OutputTypes []string `yaml:"output_types" json:"output_types,omitempty"`
	Domains     []string `yaml:"domains" json:"domains,omitempty"` // soft-scope tags, checked but never enforced
}

// Constraints holds the budget and approval limits for an agent type.
// A zero budget means unbounded.
type Constraints struct {
	CostTier         CostTier       `yaml:"cost_tier" json:"cost_tier"`
	LatencyProfile   LatencyProfile `yaml:"latency_profile" json:"latency_profile"`
	MaxCostUSD       float64        `yaml:"max_cost_usd" json:"max_cost_usd,omitempty"`
	MaxTokens        int64          `yaml:"max_tokens" json:"max_tokens,omitempty"`
	RequiresApproval []string       `yaml:"requires_approval" json:"requires_approval,omitempty"` // action types needing sign-off at high risk
}

// Manifest is the immutable capability descriptor for one agent type.
// Loaded once at startup and shared by reference; never mutated afterward.
type Manifest struct {
	AgentTypeID  string       `yaml:"agent_type_id" json:"agent_type_id"`
	DisplayName  string       `yaml:"display_name" json:"display_name"`
	Description  string       `yaml:"description" json:"description,omitempty"`
	Domain       Domain       `yaml:"domain" json:"domain"`
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
	Constraints  Constraints  `yaml:"constraints" json:"constraints"`
}

// HasTool reports whether the manifest's tool set contains name.
func (m *Manifest) HasTool(name string) bool {
	for _, t := range m.Capabilities.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// AllowsConnector reports whether the manifest permits the given connector.
// An empty connector set means unrestricted access.
func (m *Manifest) AllowsConnector(id string) bool {
	if len(m.Capabilities.Connectors) == 0 {
		return true
	}
	for _, c := range m.Capabilities.Connectors {
		if c == id {
			return true
		}
	}
	return false
}

// RequiresApprovalFor reports whether the given action type needs
// human sign-off when the action classifies as high risk.
func (m *Manifest) RequiresApprovalFor(actionType string) bool {
	for _, a := range m.Constraints.RequiresApproval {
		if a == actionType {
			return true
		}
	}
	return false
}
