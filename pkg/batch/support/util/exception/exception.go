// Package exception provides the error types shared by the orchestrator.
// Errors are classified as fatal (the run cannot continue) or entity scoped
// (only the owning entity pipeline is affected).
package exception

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// errorRegistry maps well-known error names to sentinel instances for errors.Is matching.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers a sentinel error under name.
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// IsErrorOfType reports whether err matches the sentinel registered under name.
func IsErrorOfType(err error, name string) bool {
	if err == nil {
		return false
	}
	registryMutex.RLock()
	target, ok := errorRegistry[name]
	registryMutex.RUnlock()
	return ok && errors.Is(err, target)
}

// Sentinel errors.
var (
	// ErrBatchNotFound is returned when a batch lookup finds no row.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrIllegalTransition is returned when a stage record would move backwards out of DONE.
	ErrIllegalTransition = errors.New("illegal stage status transition")
	// ErrUnknownStage is returned for a stage name outside the pipeline definition.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrInterrupted is returned when a run stops because its context was cancelled.
	ErrInterrupted = errors.New("run interrupted")
)

func init() {
	RegisterErrorType("BatchNotFound", ErrBatchNotFound)
	RegisterErrorType("IllegalTransition", ErrIllegalTransition)
	RegisterErrorType("UnknownStage", ErrUnknownStage)
	RegisterErrorType("Interrupted", ErrInterrupted)
}

// BatchError is the error type raised by orchestrator components.
type BatchError struct {
	// Module is the component or operation that raised the error (e.g., "SQLPipelineRepository.SetStageStatus").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// fatal marks errors that must terminate the run without completing the batch.
	fatal bool
}

// NewBatchError creates a new entity-scoped BatchError.
func NewBatchError(module, message string, originalErr error) *BatchError {
	return &BatchError{Module: module, Message: message, OriginalErr: originalErr}
}

// NewFatalError creates a BatchError that terminates the run.
func NewFatalError(module, message string, originalErr error) *BatchError {
	return &BatchError{Module: module, Message: message, OriginalErr: originalErr, fatal: true}
}

// NewBatchErrorf creates an entity-scoped BatchError from a format string.
// A trailing error argument is taken as the wrapped error.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, args...), originalErr)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsFatal reports whether the error must stop the whole run.
func (e *BatchError) IsFatal() bool {
	return e.fatal
}

// IsFatal reports whether any BatchError in err's chain is fatal.
func IsFatal(err error) bool {
	var be *BatchError
	for err != nil {
		if errors.As(err, &be) {
			if be.fatal {
				return true
			}
			err = be.OriginalErr
			continue
		}
		return false
	}
	return false
}

// Truncate shortens msg to at most max runes.
func Truncate(msg string, max int) string {
	msg = strings.TrimSpace(msg)
	if max <= 0 {
		return msg
	}
	r := []rune(msg)
	if len(r) <= max {
		return msg
	}
	return string(r[:max])
}
