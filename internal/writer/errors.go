package writer

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed, user-correctable input.
	ErrValidation = errors.New("validation failed")
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrGenerationFailed means the generation call exhausted its retries.
	// The task is left untouched, so the operation is safe to retry.
	ErrGenerationFailed = errors.New("llm generation failed")
	// ErrConflict means a concurrent transition won the conditional write.
	ErrConflict = errors.New("task was modified concurrently")
)

// InvalidStatusError reports a state-machine precondition violation, naming
// the actual and expected status so the caller can fix the request.
type InvalidStatusError struct {
	Actual   string
	Expected string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status: task is %q, expected %q", e.Actual, e.Expected)
}
