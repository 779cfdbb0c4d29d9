package workflow

import "errors"

var (
	// ErrNotFound is returned when a referenced entity or binding does not exist
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification is returned when a request changed since it was read; retry with fresh state
	ErrConcurrentModification = errors.New("service request was modified concurrently")
	ErrImmutableLog           = errors.New("service request logs are append-only")
	ErrStationInUse           = errors.New("station is referenced by service requests")
	ErrPipelineInUse          = errors.New("pipeline is referenced by service requests")
	ErrInvalidTopology        = errors.New("invalid pipeline topology")
	ErrForbidden              = errors.New("forbidden")
)

// Validation reasons carried by a failed Result
var (
	ErrAtFinalStation          = errors.New("already at the final station")
	ErrNotAuthorized           = errors.New("not authorized")
	ErrStationNotInPipeline    = errors.New("station is not part of this pipeline")
	ErrAlreadyAtStation        = errors.New("already at this station")
	ErrPipelineAlreadyAssigned = errors.New("pipeline already assigned")
	ErrPipelineInactive        = errors.New("pipeline is not active")
	ErrInvalidPipeline         = errors.New("pipeline has no stations")
	ErrNoPipeline              = errors.New("no pipeline assigned")
	ErrNoPreviousStation       = errors.New("no previous station")
	ErrSendBackNotAllowed      = errors.New("send back not allowed")
	ErrDuplicateRequest        = errors.New("duplicate request")
	ErrEmptyComment            = errors.New("empty comment")
	ErrInvalidRequest          = errors.New("invalid request")
)

// Result is the outcome of a workflow operation that can be refused without an error
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  error  `json:"-"`
}

func succeeded(message string) Result {
	return Result{Success: true, Message: message}
}

func refused(reason error, message string) Result {
	return Result{Success: false, Message: message, Reason: reason}
}
