package utils

import "errors"

// Error taxonomy shared by the workflow and HTTP layers.
// InvalidState and Forbidden are caller bugs or policy violations and are
// never retried. Conflict is safely retryable. UpstreamUnavailable aborts
// the whole transaction and is retryable once the provider recovers.
var (
	ErrorRecordNotFound      = errors.New("record not found")
	ErrorInvalidState        = errors.New("invalid state for this operation")
	ErrorForbidden           = errors.New("forbidden")
	ErrorConflict            = errors.New("conflict, retry the operation")
	ErrorUpstreamUnavailable = errors.New("snapshot provider unavailable")
	ErrorNothingToCount      = errors.New("nothing to count")
)
