// ABOUTME: Static keyword-tier risk classifier for proposed actions
// ABOUTME: First matched tier wins; unmatched actions are low risk

package admission

import "strings"

// RiskLevel grades how dangerous an action looks.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskTiers lists the classification tiers in evaluation order. The first
// tier with a matching keyword wins, so a "delete" anywhere in the action
// outranks a "create_" prefix elsewhere.
var riskTiers = []struct {
	level    RiskLevel
	keywords []string
}{
	{RiskCritical, []string{"delete", "remove", "payment", "billing", "api_key"}},
	{RiskHigh, []string{"create_invoice", "create_expense", "create_tax_filing", "cancel_booking"}},
	{RiskMedium, []string{"create_", "add_", "send_notification"}},
}

// ClassifyRisk grades an action by substring-matching the concatenation of
// its type, tool, connector, and description against the ordered keyword
// tiers. Anything unmatched is low risk.
func ClassifyRisk(action Action) RiskLevel {
	haystack := strings.ToLower(strings.Join([]string{
		string(action.Type),
		action.ToolName,
		action.ConnectorID,
		action.Description,
	}, " "))

	for _, tier := range riskTiers {
		for _, kw := range tier.keywords {
			if strings.Contains(haystack, kw) {
				return tier.level
			}
		}
	}
	return RiskLow
}
