// ABOUTME: Agent instance record and lifecycle state machine definitions
// ABOUTME: Declares the status enum and the legal transition edges

package fleet

import "time"

// Status is the lifecycle state of an agent instance.
type Status string

const (
	StatusSpawning        Status = "spawning"
	StatusIdle            Status = "idle"
	StatusWorking         Status = "working"
	StatusWaitingApproval Status = "waiting_approval"
	StatusError           Status = "error"
	StatusRetiring        Status = "retiring"
)

// transitions lists the legal status edges. Retiring is terminal: the
// record is removed rather than transitioned further, and error is left
// for an operator to retire explicitly.
var transitions = map[Status][]Status{
	StatusSpawning:        {StatusIdle, StatusError, StatusRetiring},
	StatusIdle:            {StatusWorking, StatusWaitingApproval, StatusError, StatusRetiring},
	StatusWorking:         {StatusIdle, StatusWaitingApproval, StatusError, StatusRetiring},
	StatusWaitingApproval: {StatusIdle, StatusWorking, StatusError, StatusRetiring},
	StatusError:           {StatusRetiring},
	StatusRetiring:        {},
}

// CanTransition reports whether moving from one status to another follows
// a defined edge. Self-transitions are allowed and treated as no-ops.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Instance is the store-owned record of one running agent.
// CostUSD and TokensConsumed only ever grow.
type Instance struct {
	InstanceID     string    `json:"instance_id"`
	RegistryID     string    `json:"registry_id"`
	RuntimeAgentID string    `json:"runtime_agent_id"`
	Status         Status    `json:"status"`
	CurrentTask    string    `json:"current_task,omitempty"`
	SpawnedAt      time.Time `json:"spawned_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	TokensConsumed int64     `json:"tokens_consumed"`
	CostUSD        float64   `json:"cost_usd"`
	CycleCount     int       `json:"cycle_count"`
	ErrorCount     int       `json:"error_count"`
}

// clone returns a copy so callers never hold a reference into the store.
func (i *Instance) clone() *Instance {
	c := *i
	return &c
}
