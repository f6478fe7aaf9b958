package planner

import "fmt"

// NormalizationError means the request could not be turned into a canonical
// form. The worker converts it into an explanatory assistant message instead
// of dropping the job.
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed: %s", e.Reason)
}

// GenerationError means the plan provider failed or returned output that
// could not be parsed into a valid trip plan. It is retryable.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
