// ABOUTME: Scores registry candidates against queued tasks and picks a winner
// ABOUTME: Prefers reusing an idle instance of the best-fitting agent type

package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gladehq/fleetd/internal/fleet"
	"github.com/gladehq/fleetd/internal/registry"
)

// IdleFinder locates a reusable idle instance for an agent type.
// Satisfied by the fleet store.
type IdleFinder interface {
	FindIdleInstance(registryID string) *fleet.Instance
}

// Decision is the outcome of routing one task. An empty InstanceID on a
// match tells the caller to spawn a fresh instance.
type Decision struct {
	Matched     bool   `json:"matched"`
	AgentTypeID string `json:"agent_type_id,omitempty"`
	InstanceID  string `json:"instance_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Router assigns queued tasks to agent types. It holds no persistent
// state; every call is a function of the task, the registry, and a read
// of the fleet store.
type Router struct {
	registry *registry.Registry
	fleet    IdleFinder
	logger   *slog.Logger
}

// New creates a Router over the given registry and fleet reader.
func New(reg *registry.Registry, idle IdleFinder, logger *slog.Logger) *Router {
	return &Router{registry: reg, fleet: idle, logger: logger}
}

// RouteTask picks the best agent type for a task. Candidates come from
// keyword matching, then domain lookup, then the whole catalog; when even
// the catalog is empty the task is unroutable. A zero-scoring winner falls
// back to the first raw candidate: a domain match beats no match.
func (r *Router) RouteTask(task *fleet.Task) Decision {
	candidates := r.candidates(task)
	if len(candidates) == 0 {
		return Decision{Reason: "no agent types registered"}
	}

	type scored struct {
		manifest *registry.Manifest
		score    int
		idle     *fleet.Instance
	}

	ranked := make([]scored, len(candidates))
	for i, m := range candidates {
		ranked[i] = scored{
			manifest: m,
			score:    scoreCandidate(m, task),
			idle:     r.fleet.FindIdleInstance(m.AgentTypeID),
		}
	}

	// Idle-instance holders sort ahead of everything; score decides the
	// rest. Stable, so catalog/match order breaks remaining ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		if (ranked[i].idle != nil) != (ranked[j].idle != nil) {
			return ranked[i].idle != nil
		}
		return ranked[i].score > ranked[j].score
	})

	top := ranked[0]
	if top.score == 0 {
		fallback := candidates[0]
		return Decision{
			Matched:     true,
			AgentTypeID: fallback.AgentTypeID,
			Reason:      fmt.Sprintf("fallback match: %s", fallback.DisplayName),
		}
	}

	decision := Decision{
		Matched:     true,
		AgentTypeID: top.manifest.AgentTypeID,
		Reason:      fmt.Sprintf("scored %d for %s", top.score, top.manifest.DisplayName),
	}
	if top.idle != nil {
		decision.InstanceID = top.idle.InstanceID
		decision.Reason += " (reusing idle instance)"
	}

	r.logger.Debug("task routed",
		"task_id", task.ID,
		"agent_type", decision.AgentTypeID,
		"instance_id", decision.InstanceID,
		"score", top.score,
	)
	return decision
}

// RouteToMultiple returns up to count agent types for fan-out dispatch.
// Same scoring as RouteTask but without the idle-instance preference.
func (r *Router) RouteToMultiple(task *fleet.Task, count int) []Decision {
	candidates := r.candidates(task)
	if len(candidates) == 0 || count <= 0 {
		return nil
	}

	type scored struct {
		manifest *registry.Manifest
		score    int
	}
	ranked := make([]scored, len(candidates))
	for i, m := range candidates {
		ranked[i] = scored{manifest: m, score: scoreCandidate(m, task)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if count > len(ranked) {
		count = len(ranked)
	}
	decisions := make([]Decision, count)
	for i := 0; i < count; i++ {
		decisions[i] = Decision{
			Matched:     true,
			AgentTypeID: ranked[i].manifest.AgentTypeID,
			Reason:      fmt.Sprintf("fan-out rank %d, scored %d", i+1, ranked[i].score),
		}
	}
	return decisions
}

// candidates gathers manifests for a task: keyword match first, then the
// task's domain hint, then the full catalog.
func (r *Router) candidates(task *fleet.Task) []*registry.Manifest {
	if m := r.registry.MatchTask(task.Description, registry.Domain(task.Domain)); len(m) > 0 {
		return m
	}
	if task.Domain != "" {
		if m := r.registry.FindByDomain(registry.Domain(task.Domain)); len(m) > 0 {
			return m
		}
	}
	return r.registry.All()
}

// scoreCandidate rates how well one manifest fits a task.
func scoreCandidate(m *registry.Manifest, task *fleet.Task) int {
	text := strings.ToLower(task.Description)
	score := 0

	for _, word := range strings.Fields(strings.ToLower(m.DisplayName)) {
		if len(word) > 2 && strings.Contains(text, word) {
			score += 5
		}
	}
	for _, word := range strings.Fields(strings.ToLower(m.Description)) {
		if len(word) > 3 && strings.Contains(text, word) {
			score += 2
		}
	}
	if task.Domain != "" && registry.Domain(task.Domain) == m.Domain {
		score += 10
	}
	for _, kw := range m.Capabilities.InputTypes {
		if strings.Contains(text, strings.ToLower(kw)) {
			score += 3
		}
	}
	for _, kw := range m.Capabilities.Domains {
		if strings.Contains(text, strings.ToLower(kw)) {
			score += 2
		}
	}

	// Cheap/standard agents earn their bonus on routine work; fast agents
	// earn theirs on urgent work.
	tier := m.Constraints.CostTier
	if tier == registry.CostCheap || tier == registry.CostStandard {
		if task.Priority == fleet.PriorityNormal || task.Priority == fleet.PriorityLow {
			score += 3
		} else {
			score++
		}
	}
	profile := m.Constraints.LatencyProfile
	if profile == registry.LatencyRealtime || profile == registry.LatencyInteractive {
		if task.Priority == fleet.PriorityCritical || task.Priority == fleet.PriorityHigh {
			score += 3
		} else {
			score++
		}
	}

	return score
}
