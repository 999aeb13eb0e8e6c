package toolhost

import (
	"errors"

	"github.com/armatrix/toolhost/internal/engine"
)

// Sentinel errors returned by Host operations.
var (
	ErrSessionNotFound  = errors.New("toolhost: session not found")
	ErrSessionBusy      = errors.New("toolhost: session has a run in progress")
	ErrSessionSuspended = errors.New("toolhost: session is awaiting confirmation")
	ErrNotSuspended     = errors.New("toolhost: session has no pending confirmation")
	ErrNoClient         = errors.New("toolhost: no completion client configured")

	// ErrToolExecution wraps transport-level failures of a dispatched
	// tool call. Inside a run these become error results the model sees;
	// direct Invoke callers get the wrapped error.
	ErrToolExecution = errors.New("toolhost: tool execution failed")

	// ErrMaxIterations surfaces the loop's iteration cap.
	ErrMaxIterations = engine.ErrMaxIterations
	// ErrBudgetExhausted surfaces the loop's cost ceiling.
	ErrBudgetExhausted = engine.ErrBudgetExhausted
)
