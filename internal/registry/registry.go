// ABOUTME: Thread-safe catalog of agent capability manifests with lookup and matching
// ABOUTME: Supports domain/tool filtering and keyword-overlap task matching

package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry holds the agent-type catalog. Manifests are registered at
// startup and treated as immutable afterward; the registry itself is
// safe for concurrent readers.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
	order     []string // catalog order, used for stable tie-breaking
	logger    *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		manifests: make(map[string]*Manifest),
		logger:    logger,
	}
}

// Register inserts or overwrites a manifest by its agent type ID.
// Last write wins; re-registering keeps the original catalog position.
func (r *Registry) Register(m *Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.manifests[m.AgentTypeID]; !exists {
		r.order = append(r.order, m.AgentTypeID)
	}
	r.manifests[m.AgentTypeID] = m

	r.logger.Info("manifest registered",
		"agent_type", m.AgentTypeID,
		"domain", m.Domain,
		"tool_count", len(m.Capabilities.Tools),
		"total_types", len(r.manifests),
	)
}

// Get returns the manifest for the given agent type ID, or nil if absent.
func (r *Registry) Get(agentTypeID string) *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifests[agentTypeID]
}

// All returns every manifest in catalog order.
func (r *Registry) All() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inOrderLocked()
}

// Len returns the number of registered agent types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.manifests)
}

// FindByDomain returns all manifests declaring the given domain, in catalog order.
func (r *Registry) FindByDomain(domain Domain) []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Manifest
	for _, m := range r.inOrderLocked() {
		if m.Domain == domain {
			result = append(result, m)
		}
	}
	return result
}

// FindByCapability returns all manifests whose tool set contains toolName,
// in catalog order.
func (r *Registry) FindByCapability(toolName string) []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Manifest
	for _, m := range r.inOrderLocked() {
		if m.HasTool(toolName) {
			result = append(result, m)
		}
	}
	return result
}

// MatchTask ranks manifests against a free-text task description using
// keyword overlap. Keywords from input/output types, domain tags, display
// name, and description score +2 when found as a substring of the lowered
// task text; tool names (underscores replaced with spaces) score +3.
// Manifests scoring zero are dropped. Results sort by score descending
// with catalog order breaking ties. An optional domain narrows nothing;
// it only boosts via the candidate's own tags.
func (r *Registry) MatchTask(description string, domain Domain) []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	text := strings.ToLower(description)

	type scored struct {
		manifest *Manifest
		score    int
	}

	var candidates []scored
	for _, m := range r.inOrderLocked() {
		s := matchScore(m, text)
		if domain != "" && m.Domain == domain {
			s += 2
		}
		if s > 0 {
			candidates = append(candidates, scored{manifest: m, score: s})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	result := make([]*Manifest, len(candidates))
	for i, c := range candidates {
		result[i] = c.manifest
	}
	return result
}

// matchScore computes the keyword-overlap score of one manifest against
// lowercased task text.
func matchScore(m *Manifest, text string) int {
	score := 0

	keywords := make([]string, 0,
		len(m.Capabilities.InputTypes)+len(m.Capabilities.OutputTypes)+len(m.Capabilities.Domains)+2)
	keywords = append(keywords, m.Capabilities.InputTypes...)
	keywords = append(keywords, m.Capabilities.OutputTypes...)
	keywords = append(keywords, m.Capabilities.Domains...)
	keywords = append(keywords, m.DisplayName, m.Description)

	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			score += 2
		}
	}

	for _, tool := range m.Capabilities.Tools {
		phrase := strings.ReplaceAll(strings.ToLower(tool), "_", " ")
		if strings.Contains(text, phrase) {
			score += 3
		}
	}

	return score
}

// inOrderLocked returns manifests in catalog order. Caller must hold at
// least a read lock.
func (r *Registry) inOrderLocked() []*Manifest {
	result := make([]*Manifest, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.manifests[id])
	}
	return result
}
