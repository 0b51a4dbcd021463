// Package router assigns queued tasks to agent types from the registry.
//
// RouteTask gathers candidates by keyword match (falling back to domain
// lookup, then the whole catalog), scores each for name/description/domain
// fit plus cost and latency bonuses, and prefers a candidate that already
// has an idle instance to reuse. A matched decision with an empty instance
// ID means the caller should spawn. RouteToMultiple applies the same
// scoring for fan-out without the idle preference, and DecomposeTask
// splits compound task text into independently routable fragments.
//
// Routing is deterministic: a fixed registry and task text always produce
// the same decision.
package router
