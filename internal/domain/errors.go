package domain

import "errors"

// Sentinel errors returned by the fund core. Callers match with errors.Is;
// the core wraps them with context using fmt.Errorf("%w: ...").
var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrNotFound                = errors.New("asset not found")
	ErrInvalidParameter        = errors.New("invalid parameter")
	ErrAlreadyInitialized      = errors.New("already initialized")
	ErrInsufficientHistory     = errors.New("insufficient history")
	ErrExternalDataUnavailable = errors.New("external data unavailable")
	ErrOperationsHalted        = errors.New("operations halted")

	// ErrPartialDataDegraded is non-fatal: it accompanies a result computed
	// from an incomplete data set.
	ErrPartialDataDegraded = errors.New("partial data degraded")

	ErrOverflow  = errors.New("arithmetic overflow")
	ErrUnderflow = errors.New("arithmetic underflow")

	// ErrPlanExceedsBound is clamped internally and never returned by the core.
	ErrPlanExceedsBound = errors.New("plan exceeds bound")
)
