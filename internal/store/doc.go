// Package store persists the control plane's decision and usage history
// to SQLite. The ledger is an observer: the in-memory fleet store remains
// the single source of truth for runtime state, while every admission
// verdict, task lifecycle event, and cost sample lands here so the
// dashboard can answer "what happened" after the fact.
package store
