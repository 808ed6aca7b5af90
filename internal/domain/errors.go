package domain

import "errors"

// ErrorKind classifies a pipeline failure for observers.
type ErrorKind string

const (
	ErrorKindConversion    ErrorKind = "conversion"
	ErrorKindUpload        ErrorKind = "upload"
	ErrorKindJobSubmission ErrorKind = "job_submission"
	ErrorKindJobTimeout    ErrorKind = "job_timeout"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// Stage collaborators wrap one of these so the orchestrator can classify failures.
var (
	ErrConversion    = errors.New("conversion error")
	ErrUpload        = errors.New("upload error")
	ErrJobSubmission = errors.New("job submission error")
	ErrJobTimeout    = errors.New("job timeout error")
	ErrUnknown       = errors.New("unknown error")
)

// KindOf maps an error to its kind; unclassified errors are unknown.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConversion):
		return ErrorKindConversion
	case errors.Is(err, ErrUpload):
		return ErrorKindUpload
	case errors.Is(err, ErrJobSubmission):
		return ErrorKindJobSubmission
	case errors.Is(err, ErrJobTimeout):
		return ErrorKindJobTimeout
	default:
		return ErrorKindUnknown
	}
}

// Sentinel returns the sentinel error for a kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case ErrorKindConversion:
		return ErrConversion
	case ErrorKindUpload:
		return ErrUpload
	case ErrorKindJobSubmission:
		return ErrJobSubmission
	case ErrorKindJobTimeout:
		return ErrJobTimeout
	default:
		return ErrUnknown
	}
}
