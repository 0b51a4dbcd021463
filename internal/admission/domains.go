// ABOUTME: Static tool-to-domain lookup table used by the scope gate
// ABOUTME: Configuration data, not behavior; cross-module tools match any scope

package admission

// CrossModule marks a tool domain that is never considered out of scope.
const CrossModule = "cross-module"

// DefaultToolDomains maps the built-in catalog's tools to their business
// domain. The scope gate consults this table; tools absent from it have no
// inferable domain and pass the scope check silently.
var DefaultToolDomains = map[string]string{
	"create_invoice":    "accounting",
	"create_expense":    "accounting",
	"create_tax_filing": "accounting",
	"list_invoices":     "accounting",
	"web_search":        "research",
	"read_document":     "research",
	"summarize_text":    "research",
	"create_event":      "scheduling",
	"cancel_booking":    "scheduling",
	"list_events":       "scheduling",
	"find_slot":         "scheduling",
	"draft_message":     "comms",
	"send_notification": CrossModule,
	"translate_text":    CrossModule,
	"archive_records":   "operations",
	"export_data":       "operations",
	"delete_records":    "operations",
}
