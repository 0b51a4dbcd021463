// Package config handles configuration loading for fleetd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion, duration-string parsing, and sensible defaults. A missing
// file is not an error at the CLI level; fleetd serve falls back to
// Default(), which runs with the built-in catalog and no ledger.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8480"
//
//	database:
//	  path: "/var/lib/fleetd/ledger.db"   # empty disables the ledger
//
//	auth:
//	  jwt_secret: "${FLEETD_JWT_SECRET}"  # empty leaves the API open
//
//	catalog:
//	  path: "catalog.yaml"                # extends the built-in catalog
//	  skip_defaults: false
//
//	admission:
//	  fail_closed: false                  # deny unregistered agent types
//
//	fleet:
//	  heartbeat_timeout: "90s"
//	  dispatch_interval: "2s"
//	  max_fan_out: 3
//
//	logging:
//	  level: "info"                       # debug, info, warn, error
//	  format: "text"                      # text (colorized) or json
package config
