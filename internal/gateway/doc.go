// Package gateway assembles the fleetd control plane.
//
// # Overview
//
// The gateway owns and wires every major component: the capability
// registry, the in-memory fleet store, the admission controller, the task
// router, and the SQLite decision ledger. It exposes them over a single
// HTTP API and runs the two background loops that keep the fleet moving.
//
// # Background Loops
//
// The dispatch loop drains the task queue on a fixed interval: each
// queued task is routed to an agent type, placed on an idle instance (or
// a freshly spawned one), and marked in progress. The heartbeat loop
// watches for instances that have gone silent past the configured
// timeout and raises a warning alert, once per silence.
//
// # Admission
//
// EvaluateAction is the one entry point for "may this instance run this
// action". It resolves the instance's agent type, runs the gate pipeline,
// and records every verdict in the decision ledger, allowed or not.
//
// # Spawning
//
// Runtime workers are launched through the Spawner interface. The default
// implementation mints a placeholder runtime ID and performs no process
// management; deployments substitute a real launcher via SetSpawner.
package gateway
