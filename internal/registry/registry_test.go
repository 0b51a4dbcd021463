// ABOUTME: Tests for manifest registration, lookup, and task matching
// ABOUTME: Covers overwrite semantics, catalog ordering, and score ranking

package registry

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func manifest(id string, domain Domain) *Manifest {
	return &Manifest{
		AgentTypeID: id,
		DisplayName: id,
		Domain:      domain,
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newTestRegistry(t)

	m := manifest("billing-agent", DomainAccounting)
	r.Register(m)

	got := r.Get("billing-agent")
	require.NotNil(t, got)
	assert.Equal(t, "billing-agent", got.AgentTypeID)
	assert.Equal(t, DomainAccounting, got.Domain)

	assert.Nil(t, r.Get("missing-agent"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterOverwrite(t *testing.T) {
	r := newTestRegistry(t)

	r.Register(manifest("a", DomainGeneral))
	r.Register(manifest("b", DomainGeneral))

	// Re-register "a" with a new display name.
	updated := manifest("a", DomainResearch)
	updated.DisplayName = "Updated"
	r.Register(updated)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "Updated", r.Get("a").DisplayName)

	// Catalog position is preserved: "a" still comes first.
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].AgentTypeID)
	assert.Equal(t, "b", all[1].AgentTypeID)
}

func TestRegistry_FindByDomain(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(manifest("a", DomainAccounting))
	r.Register(manifest("b", DomainResearch))
	r.Register(manifest("c", DomainAccounting))

	got := r.FindByDomain(DomainAccounting)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].AgentTypeID)
	assert.Equal(t, "c", got[1].AgentTypeID)

	assert.Empty(t, r.FindByDomain(DomainComms))
}

func TestRegistry_FindByCapability(t *testing.T) {
	r := newTestRegistry(t)

	a := manifest("a", DomainAccounting)
	a.Capabilities.Tools = []string{"create_invoice", "list_invoices"}
	b := manifest("b", DomainComms)
	b.Capabilities.Tools = []string{"send_notification"}
	r.Register(a)
	r.Register(b)

	got := r.FindByCapability("create_invoice")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].AgentTypeID)

	assert.Empty(t, r.FindByCapability("unknown_tool"))
}

func TestRegistry_MatchTask_RanksByOverlap(t *testing.T) {
	r := newTestRegistry(t)
	RegisterDefaults(r)

	matches := r.MatchTask("create an invoice for the March consulting work", "")
	require.NotEmpty(t, matches)
	// Tool name "create_invoice" matches as a phrase plus the "invoice"
	// input/output keywords, putting the billing agent first.
	assert.Equal(t, "billing-agent", matches[0].AgentTypeID)
}

func TestRegistry_MatchTask_DomainBoost(t *testing.T) {
	r := newTestRegistry(t)

	a := manifest("a", DomainResearch)
	a.Capabilities.Domains = []string{"report"}
	b := manifest("b", DomainAccounting)
	b.Capabilities.Domains = []string{"report"}
	r.Register(a)
	r.Register(b)

	// Without a domain hint both score equally and catalog order holds.
	matches := r.MatchTask("produce a report", "")
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].AgentTypeID)

	// The domain hint boosts the matching manifest past its peer.
	matches = r.MatchTask("produce a report", DomainAccounting)
	require.Len(t, matches, 2)
	assert.Equal(t, "b", matches[0].AgentTypeID)
}

func TestRegistry_MatchTask_DropsZeroScores(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(manifest("a", DomainGeneral))

	assert.Empty(t, r.MatchTask("completely unrelated text", ""))
}

func TestRegistry_MatchTask_Deterministic(t *testing.T) {
	r := newTestRegistry(t)
	RegisterDefaults(r)

	first := r.MatchTask("summarize this document and send a notification", "")
	for i := 0; i < 5; i++ {
		again := r.MatchTask("summarize this document and send a notification", "")
		require.Equal(t, len(first), len(again))
		for i := range first {
			assert.Equal(t, first[i].AgentTypeID, again[i].AgentTypeID)
		}
	}
}

func TestManifest_AllowsConnector(t *testing.T) {
	m := &Manifest{AgentTypeID: "a"}

	// Empty connector set means unrestricted access.
	assert.True(t, m.AllowsConnector("anything"))

	m.Capabilities.Connectors = []string{"email"}
	assert.True(t, m.AllowsConnector("email"))
	assert.False(t, m.AllowsConnector("storage"))
}

func TestManifest_RequiresApprovalFor(t *testing.T) {
	m := &Manifest{AgentTypeID: "a"}
	assert.False(t, m.RequiresApprovalFor("tool"))

	m.Constraints.RequiresApproval = []string{"tool"}
	assert.True(t, m.RequiresApprovalFor("tool"))
	assert.False(t, m.RequiresApprovalFor("connector"))
}
