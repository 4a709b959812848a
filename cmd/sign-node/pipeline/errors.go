package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a sign task failed
type ErrorKind string

const (
	ConfigError       ErrorKind = "config"
	DownloadError     ErrorKind = "download"
	VerificationError ErrorKind = "verification"
	SigningError      ErrorKind = "signing"
	AuditError        ErrorKind = "audit"
	UploadError       ErrorKind = "upload"
	// InternalError covers panics recovered inside a stage
	InternalError ErrorKind = "internal"
)

// StageError is the single error type stages hand back to the orchestrator
type StageError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *StageError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	}
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &StageError{Kind: k}) match on kind alone
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

func stageErr(kind ErrorKind, err error, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind carried by err, or InternalError
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return InternalError
}
