// Package errors provides the structured error type used across the
// assembly pipeline and the problem collector that accumulates
// non-fatal interceptor failures for one item's assembly.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrorType represents different categories of assembly errors.
type ErrorType string

const (
	ErrorTypeResolution ErrorType = "resolution"
	ErrorTypeEvaluation ErrorType = "evaluation"
	ErrorTypeRewriting  ErrorType = "rewriting"
	ErrorTypeAssembly   ErrorType = "assembly"
	ErrorTypeRepository ErrorType = "repository"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// AssemblyError is a structured error with a machine-readable code and
// optional context.
type AssemblyError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]any
	ItemID      string
	Recoverable bool
}

// Error implements the error interface.
func (e *AssemblyError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.ItemID != "" {
		parts = append(parts, "item:"+e.ItemID)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *AssemblyError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *AssemblyError) Is(target error) bool {
	var t *AssemblyError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithContext adds context information to the error.
func (e *AssemblyError) WithContext(key string, value any) *AssemblyError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithItem attaches the offending item id.
func (e *AssemblyError) WithItem(itemID string) *AssemblyError {
	e.ItemID = itemID
	return e
}

// NewResolutionError creates a template/slot/item resolution error.
func NewResolutionError(code, message string) *AssemblyError {
	return &AssemblyError{
		Type:        ErrorTypeResolution,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewEvaluationError creates a binding evaluation error.
func NewEvaluationError(code, message string, cause error) *AssemblyError {
	return &AssemblyError{
		Type:        ErrorTypeEvaluation,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewRewritingError creates an inline-rewriting error.
func NewRewritingError(code, message string, cause error) *AssemblyError {
	return &AssemblyError{
		Type:        ErrorTypeRewriting,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewAssemblyError creates a general assembly error.
func NewAssemblyError(code, message string, cause error) *AssemblyError {
	return &AssemblyError{
		Type:        ErrorTypeAssembly,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewRepositoryError creates a repository access error.
func NewRepositoryError(code, message string, cause error) *AssemblyError {
	return &AssemblyError{
		Type:        ErrorTypeRepository,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *AssemblyError {
	return &AssemblyError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// IsRecoverable checks whether an error is recoverable.
func IsRecoverable(err error) bool {
	var ae *AssemblyError
	if errors.As(err, &ae) {
		return ae.Recoverable
	}
	return false
}

// Problem is one recorded failure that could not be reported through a
// return path, typically raised by a field interceptor during content
// loading.
type Problem struct {
	Description string
	Cause       error
	Timestamp   time.Time
}

// Error implements the error interface.
func (p Problem) Error() string {
	if p.Cause != nil {
		return fmt.Sprintf("%s: %v", p.Description, p.Cause)
	}
	return p.Description
}

// ProblemCollector accumulates problems for one item's assembly. It is
// carried on the AssemblyContext and read and cleared at the end of the
// item's assembly. The collector is safe for concurrent use, though a
// context is not expected to cross goroutines.
type ProblemCollector struct {
	mu       sync.RWMutex
	problems []Problem
}

// NewProblemCollector creates an empty collector.
func NewProblemCollector() *ProblemCollector {
	return &ProblemCollector{}
}

// Add records a problem.
func (pc *ProblemCollector) Add(description string, cause error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.problems = append(pc.problems, Problem{
		Description: description,
		Cause:       cause,
		Timestamp:   time.Now(),
	})
}

// Problems returns a copy of the recorded problems.
func (pc *ProblemCollector) Problems() []Problem {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	result := make([]Problem, len(pc.problems))
	copy(result, pc.problems)
	return result
}

// HasProblems reports whether anything has been recorded.
func (pc *ProblemCollector) HasProblems() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.problems) > 0
}

// Clear drops all recorded problems.
func (pc *ProblemCollector) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.problems = pc.problems[:0]
}
