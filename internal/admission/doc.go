// Package admission decides whether a proposed agent action may execute.
//
// # Overview
//
// The Controller runs a fixed sequence of gates against the capability
// registry and the fleet store. The first failing gate short-circuits
// evaluation and names itself in the verdict:
//
//  1. capability — tool/connector membership in the manifest
//  2. scope — soft domain check, alerts but never blocks
//  3. risk — keyword-tier classification; critical always blocks,
//     high blocks when the manifest requires approval
//  4. budget — manifest cost/token ceilings against instance totals
//  5. ledger — the runtime worker's own budget authority
//  6. contract — the worker's identity contract, no override path
//
// Denial is a normal outcome carried in the Verdict value, never an
// error. Missing entities (unregistered agent type, unknown instance)
// make the dependent gates not applicable rather than denying; the
// FailClosed config flag flips that default for unregistered types.
//
// # Collaborators
//
// The controller writes nothing itself except alerts, which go through
// the AlertSink interface so the package never references fleet types.
// BudgetLedger and ContractStore are optional external authorities; when
// nil, their gates are skipped.
package admission
