// Package errors provides the structured error taxonomy for the change
// workflow engine.
package errors

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code, used to map errors to CLI
// exit codes (see cli package) without string matching on Error().
type Code string

const (
	CodeEnvironment    Code = "ENVIRONMENT"
	CodeLaneMismatch   Code = "LANE_MISMATCH"
	CodeHandlerFatal   Code = "HANDLER_FATAL"
	CodeHandlerTimeout Code = "HANDLER_TIMEOUT"
	CodeQualityGate    Code = "QUALITY_GATE_FAIL"
	CodeArtifactConflict Code = "ARTIFACT_CONFLICT"
	CodeStatusCorrupt  Code = "STATUS_CORRUPT"
	CodeCanceled       Code = "CANCELED"
)

// ExitCode returns the CLI exit code associated with a Code, per spec.md §6.
func (c Code) ExitCode() int {
	switch c {
	case CodeEnvironment:
		return 10
	case CodeLaneMismatch:
		return 20
	case CodeQualityGate:
		return 30
	case CodeHandlerFatal, CodeHandlerTimeout:
		return 40
	case CodeStatusCorrupt:
		return 50
	case CodeArtifactConflict:
		return 60
	case CodeCanceled:
		return 130
	default:
		return 1
	}
}

// EnvironmentError is returned when a pre-flight check fails fatally.
type EnvironmentError struct {
	Check string
	Why   string
	Cause error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment check %q failed: %s", e.Check, e.Why)
}

func (e *EnvironmentError) Unwrap() error { return e.Cause }
func (e *EnvironmentError) Code() Code    { return CodeEnvironment }

// LaneMismatchError is returned when the router detects code files under a
// docs lane and the caller cannot be prompted.
type LaneMismatchError struct {
	ProposedLane    string
	CodeFilesFound  int
	DetectedFiles   []string
}

func (e *LaneMismatchError) Error() string {
	return fmt.Sprintf("lane_mismatch: detected %d code file(s) while lane=%s", e.CodeFilesFound, e.ProposedLane)
}

func (e *LaneMismatchError) Code() Code { return CodeLaneMismatch }

// HandlerErrorKind classifies how a stage handler or pre-step hook failed.
type HandlerErrorKind string

const (
	HandlerFatal       HandlerErrorKind = "fatal"
	HandlerRecoverable HandlerErrorKind = "recoverable"
	HandlerTimeout     HandlerErrorKind = "timeout"
)

// HandlerError wraps a stage handler failure with its kind.
type HandlerError struct {
	StageIndex int
	Kind       HandlerErrorKind
	Cause      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("stage %d handler error (%s): %v", e.StageIndex, e.Kind, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

func (e *HandlerError) Code() Code {
	if e.Kind == HandlerTimeout {
		return CodeHandlerTimeout
	}
	return CodeHandlerFatal
}

// QualityGateFailure is returned when aggregate_result = FAIL.
type QualityGateFailure struct {
	Reasons []string
}

func (e *QualityGateFailure) Error() string {
	return fmt.Sprintf("quality gate failed: %v", e.Reasons)
}

func (e *QualityGateFailure) Code() Code { return CodeQualityGate }

// ArtifactConflict is returned when a stage's writes would overwrite an
// artifact produced by an earlier stage in the same run, or when a
// manifest rehash at commit time detects drift.
type ArtifactConflict struct {
	Path         string
	ExpectedHash string
	ActualHash   string
}

func (e *ArtifactConflict) Error() string {
	return fmt.Sprintf("artifact conflict at %q: expected hash %s, found %s", e.Path, e.ExpectedHash, e.ActualHash)
}

func (e *ArtifactConflict) Code() Code { return CodeArtifactConflict }

// StatusCorruption is returned when status.json cannot be parsed or its
// schema_version has no registered migration.
type StatusCorruption struct {
	Path  string
	Cause error
}

func (e *StatusCorruption) Error() string {
	return fmt.Sprintf("status corruption at %q: %v", e.Path, e.Cause)
}

func (e *StatusCorruption) Unwrap() error { return e.Cause }
func (e *StatusCorruption) Code() Code    { return CodeStatusCorrupt }

// ErrCanceled is the sentinel returned when a workflow is paused by SIGINT
// or a deadline expires outside a single stage's own timeout accounting.
var ErrCanceled = errors.New("canceled")

// Coded is implemented by every error type in this package; the CLI uses it
// to derive the process exit code without type-switching on concrete types.
type Coded interface {
	error
	Code() Code
}

// CodeOf extracts the Code from err if it (or something it wraps)
// implements Coded, defaulting to CodeCanceled when err wraps ErrCanceled,
// or "" otherwise.
func CodeOf(err error) Code {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if errors.Is(err, ErrCanceled) {
		return CodeCanceled
	}
	return ""
}
