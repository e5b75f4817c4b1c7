package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Credential and vault errors
	ErrMissingCredentials      = fmt.Errorf("missing credentials")
	ErrTokenExpired            = fmt.Errorf("access token expired")
	ErrReauthorizationRequired = fmt.Errorf("reauthorization required")

	// Provider and capacity errors
	ErrRateLimited        = fmt.Errorf("rate limited by provider")
	ErrDailyQuotaExceeded = fmt.Errorf("daily request quota exceeded")
	ErrCircuitOpen        = fmt.Errorf("service unavailable: circuit open")
	ErrEntityNotFound     = fmt.Errorf("entity not found")
	ErrForbidden          = fmt.Errorf("operation forbidden")
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrUnknownProvider    = fmt.Errorf("unknown provider")

	// Batch store errors
	ErrBatchNotFound     = fmt.Errorf("batch not found")
	ErrDuplicateBatch    = fmt.Errorf("batch already exists for idempotency key")
	ErrBatchClaimed      = fmt.Errorf("batch already claimed by another executor")
	ErrNotRollbackable   = fmt.Errorf("batch cannot be rolled back")
	ErrInvalidTransition = fmt.Errorf("invalid status transition")
	ErrStaleUpdate       = fmt.Errorf("stale update: expected status did not match")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
