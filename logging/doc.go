// Package logging provides a minimal logging interface and adapters for personas.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that delegators, agents and stores use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - PersonaLogger with component/session context and completion helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	d := delegation.NewAgentDelegator(coord, reg, func(o *delegation.AgentDelegatorOptions) {
//		o.Logger = logger.WithComponent("delegator")
//	})
package logging
