package ipc

import "cyberredd/internal/cerr"

// translateError maps known domain errors to their wire message, falling
// back to the generic "Internal error: ..." form for anything else, per
// spec §4.5.
func translateError(err error) string {
	switch err.(type) {
	case *cerr.EngagementNotFoundError,
		*cerr.InvalidStateTransition,
		*cerr.ResourceLimitError,
		*cerr.PreFlightCheckError,
		*cerr.PreFlightWarningError,
		*cerr.FileNotFoundError,
		*cerr.ScopeViolation,
		*cerr.CheckpointIntegrityError,
		*cerr.CheckpointScopeChangedError,
		*cerr.IncompatibleSchemaError:
		return err.Error()
	default:
		return "Internal error: " + err.Error()
	}
}
