package consts

import (
	"errors"
	"fmt"
)

// Sentinels for the error kinds returned by the account store and the
// filter script pipeline. Typed errors below match them with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrCompile      = errors.New("filter script compilation failed")
	ErrExternalTool = errors.New("external tool could not be run")

	ErrDBUniqueViolation     = errors.New("unique violation")
	ErrDBForeignKeyViolation = errors.New("foreign key violation")
)

// ValidationError reports malformed or missing input. It is raised before
// anything touches the store or the filesystem.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Kind   string // "domain", "mailbox", "alias"
	Name   string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Name == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a uniqueness violation, or an operation blocked by
// dependent records. Count is the number of dependents when known.
type ConflictError struct {
	Kind   string
	Name   string
	Count  int
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Name)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// CompileError carries the compiler's output verbatim.
type CompileError struct {
	Output string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Output == "" && e.Err != nil {
		return fmt.Sprintf("failed to compile sieve script: %v", e.Err)
	}
	return "failed to compile sieve script: " + e.Output
}

func (e *CompileError) Is(target error) bool { return target == ErrCompile }

func (e *CompileError) Unwrap() error { return e.Err }

// ExternalToolError means the tool process could not be started at all,
// as opposed to running and failing.
type ExternalToolError struct {
	Tool string
	Err  error
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("cannot run %s: %v", e.Tool, e.Err)
}

func (e *ExternalToolError) Is(target error) bool { return target == ErrExternalTool }

func (e *ExternalToolError) Unwrap() error { return e.Err }
