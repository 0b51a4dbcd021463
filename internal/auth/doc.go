// Package auth provides HS256 JWT verification and the HTTP middleware
// that guards the mutating dashboard endpoints. Read-only queries stay
// open; spawn/retire/submit require a bearer token minted with the same
// shared secret (see the fleetd token subcommand).
package auth
