// Package version carries build and rule-set version identifiers.
package version

// Build information (set via ldflags).
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// EngineVersion identifies the evaluation engine; stamped on every
// transaction and alert for reproducibility.
const EngineVersion = "kite-1.0"

// RulesVersion identifies the shipped rule set as a whole. Individual
// rules additionally carry their own content hash.
const RulesVersion = "2025.08"
