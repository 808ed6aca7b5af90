package transcribe

import (
	"fmt"

	"transcript-pipeline/internal/domain"
	"transcript-pipeline/internal/media"
)

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      domain.JobStatus `json:"stage"`
	Kind       domain.ErrorKind `json:"kind"`
	Message    string           `json:"message"`
	CommandLog media.CommandLog `json:"commandLog"`
	Err        error            `json:"-"`
}

// Error formats pipeline failures for logs and observers, including the
// underlying cause.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.CommandLog.Command == "" {
		return msg
	}
	return fmt.Sprintf("%s (cmd=%s exit=%d)", msg, e.CommandLog.Command, e.CommandLog.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel of the error kind, so callers can test
// errors.Is(err, domain.ErrUpload) without knowing the stage.
func (e *PipelineError) Is(target error) bool {
	return e != nil && target == e.Kind.Sentinel()
}

func newStageError(stage domain.JobStatus, message string, log media.CommandLog, err error) *PipelineError {
	return &PipelineError{
		Stage:      stage,
		Kind:       domain.KindOf(err),
		Message:    message,
		CommandLog: log,
		Err:        err,
	}
}
