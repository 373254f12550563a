package domain

import (
	"github.com/google/uuid"
)

// DefaultActor is recorded when the caller supplies no actor identity.
const DefaultActor = "system"

// RunContext carries the correlation id, actor and configuration
// fingerprint of one logical invocation. It is passed explicitly into
// every component that writes a transaction, alert or audit entry;
// nothing in this codebase reads process-wide state for these values.
type RunContext struct {
	CorrelationID string
	Actor         string
	ConfigHash    string
	RulesVersion  string
	EngineVersion string
}

// NewRunContext builds a RunContext, generating a correlation id when
// the caller supplies none and defaulting the actor to DefaultActor.
func NewRunContext(correlationID, actor, configHash, rulesVersion, engineVersion string) RunContext {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	if actor == "" {
		actor = DefaultActor
	}
	return RunContext{
		CorrelationID: correlationID,
		Actor:         actor,
		ConfigHash:    configHash,
		RulesVersion:  rulesVersion,
		EngineVersion: engineVersion,
	}
}
