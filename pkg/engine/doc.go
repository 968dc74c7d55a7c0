// Package engine provides the shared types for the StackMend remediation
// engine: the classified error taxonomy used across the analyze/fix/deploy
// pipeline and the remote stack operation state machine observed by the
// deployment orchestrator.
package engine
