// Package registry holds the static catalog of agent capability manifests.
//
// # Overview
//
// A Manifest describes one agent type: the tools and connectors it may use,
// the input/output types it understands, its cost and latency tier, and the
// budget ceilings and approval requirements the admission controller
// enforces. The catalog is loaded once at startup (from the built-in
// defaults, a YAML catalog file, or both) and never mutated afterward.
//
// # Lookup
//
// Manifests are looked up by agent type ID, filtered by domain or tool, or
// ranked against a free-text task description:
//
//	reg := registry.New(logger)
//	registry.RegisterDefaults(reg)
//
//	m := reg.Get("billing-agent")
//	candidates := reg.MatchTask("create an invoice for acme", "")
//
// MatchTask uses keyword overlap: +2 for each type/tag/name/description
// keyword found in the task text, +3 for each tool name (underscores read
// as spaces). Zero-scoring manifests are dropped and ties keep catalog
// order, so matching is deterministic for a fixed catalog.
package registry
