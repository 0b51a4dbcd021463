// ABOUTME: Catalog loading for agent capability manifests from YAML files
// ABOUTME: Ships a built-in default catalog so the server runs unconfigured

package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk YAML shape of a manifest catalog file.
type Catalog struct {
	Agents []*Manifest `yaml:"agents"`
}

// LoadCatalog reads a YAML catalog file and registers every manifest it
// contains. Entries with a duplicate agent_type_id overwrite earlier ones
// (last write wins, matching Register semantics).
func LoadCatalog(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parsing catalog file: %w", err)
	}

	for i, m := range catalog.Agents {
		if m.AgentTypeID == "" {
			return fmt.Errorf("catalog entry %d: agent_type_id is required", i)
		}
		r.Register(m)
	}

	return nil
}

// RegisterDefaults registers the built-in agent catalog. Called when no
// catalog file is configured; a configured catalog may extend or overwrite
// these entries.
func RegisterDefaults(r *Registry) {
	for _, m := range defaultCatalog() {
		r.Register(m)
	}
}

// defaultCatalog returns fresh copies of the built-in manifests.
func defaultCatalog() []*Manifest {
	return []*Manifest{
		{
			AgentTypeID: "billing-agent",
			DisplayName: "Billing Agent",
			Description: "handles invoices, expenses, and payment records",
			Domain:      DomainAccounting,
			Capabilities: Capabilities{
				Tools:       []string{"create_invoice", "create_expense", "list_invoices", "send_notification"},
				Connectors:  []string{"ledger", "email"},
				InputTypes:  []string{"invoice", "expense", "receipt"},
				OutputTypes: []string{"invoice", "report"},
				Domains:     []string{"accounting", "finance"},
			},
			Constraints: Constraints{
				CostTier:         CostStandard,
				LatencyProfile:   LatencyInteractive,
				MaxCostUSD:       5.00,
				MaxTokens:        200_000,
				RequiresApproval: []string{"tool"},
			},
		},
		{
			AgentTypeID: "research-agent",
			DisplayName: "Research Agent",
			Description: "gathers information, summarizes documents, and answers questions",
			Domain:      DomainResearch,
			Capabilities: Capabilities{
				Tools:       []string{"web_search", "read_document", "summarize_text"},
				InputTypes:  []string{"question", "document", "url"},
				OutputTypes: []string{"summary", "report"},
				Domains:     []string{"research", "cross-module"},
			},
			Constraints: Constraints{
				CostTier:       CostCheap,
				LatencyProfile: LatencyBatch,
				MaxCostUSD:     2.00,
			},
		},
		{
			AgentTypeID: "scheduling-agent",
			DisplayName: "Scheduling Agent",
			Description: "books meetings, manages the calendar, and resolves conflicts",
			Domain:      DomainScheduling,
			Capabilities: Capabilities{
				Tools:       []string{"create_event", "cancel_booking", "list_events", "find_slot"},
				Connectors:  []string{"calendar"},
				InputTypes:  []string{"meeting", "booking", "calendar"},
				OutputTypes: []string{"event", "confirmation"},
				Domains:     []string{"scheduling"},
			},
			Constraints: Constraints{
				CostTier:         CostCheap,
				LatencyProfile:   LatencyRealtime,
				MaxCostUSD:       1.00,
				RequiresApproval: []string{"tool"},
			},
		},
		{
			AgentTypeID: "comms-agent",
			DisplayName: "Comms Agent",
			Description: "drafts messages, sends notifications, and manages outreach",
			Domain:      DomainComms,
			Capabilities: Capabilities{
				Tools:       []string{"draft_message", "send_notification", "translate_text"},
				Connectors:  []string{"email", "chat"},
				InputTypes:  []string{"message", "notification", "announcement"},
				OutputTypes: []string{"message"},
				Domains:     []string{"comms", "cross-module"},
			},
			Constraints: Constraints{
				CostTier:       CostCheap,
				LatencyProfile: LatencyRealtime,
				MaxCostUSD:     1.00,
			},
		},
		{
			AgentTypeID: "ops-agent",
			DisplayName: "Ops Agent",
			Description: "runs maintenance workflows and administrative cleanup",
			Domain:      DomainOperations,
			Capabilities: Capabilities{
				Tools:       []string{"archive_records", "export_data", "delete_records"},
				Connectors:  []string{"storage"},
				InputTypes:  []string{"workflow", "maintenance"},
				OutputTypes: []string{"report"},
				Domains:     []string{"operations"},
			},
			Constraints: Constraints{
				CostTier:         CostPremium,
				LatencyProfile:   LatencyBatch,
				MaxCostUSD:       10.00,
				MaxTokens:        500_000,
				RequiresApproval: []string{"tool", "connector"},
			},
		},
	}
}
