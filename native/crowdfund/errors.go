package crowdfund

import "errors"

// Error taxonomy surfaced by every engine operation. Handlers match these with
// errors.Is to choose RPC status codes; the wrapped detail carries the exact
// precondition that failed.
var (
	// ErrNotFound reports an unknown campaign id.
	ErrNotFound = errors.New("crowdfund: campaign not found")
	// ErrUnauthorized reports a caller that is neither the required manager
	// nor the platform owner for the attempted operation.
	ErrUnauthorized = errors.New("crowdfund: caller not authorized")
	// ErrInvalidState reports an operation attempted in the wrong lifecycle
	// phase (already ended, not yet ended, already withdrawn, still active).
	ErrInvalidState = errors.New("crowdfund: invalid campaign state")
	// ErrInvalidArgument reports malformed inputs: non-positive amounts, past
	// end times, fee above the ceiling, or the null principal.
	ErrInvalidArgument = errors.New("crowdfund: invalid argument")
	// ErrInsufficientAmount reports a deposit below the campaign minimum,
	// nothing to refund, or nothing to sweep.
	ErrInsufficientAmount = errors.New("crowdfund: insufficient amount")
	// ErrTransferFailure reports a value movement that could not be applied.
	// The whole operation rolls back; no partial state is ever persisted.
	ErrTransferFailure = errors.New("crowdfund: transfer failed")
)

var (
	errNilState   = errors.New("crowdfund engine: state not configured")
	errNilAdmin   = errors.New("crowdfund engine: admin record not initialised")
	errNilCall    = errors.New("crowdfund engine: call context required")
	errNilBatch   = errors.New("crowdfund engine: nil state batch")
	errNilAccount = errors.New("crowdfund engine: nil account")
)
