package pipeline

import (
	"errors"
	"fmt"

	"github.com/gridflow/gridflow/pkg/extent"
)

// ErrorClass represents the classification of a pipeline failure.
type ErrorClass string

const (
	// ErrorClassTypeMismatch indicates RequestDataObject could not produce the
	// data type a consumer expects. Fatal to the branch.
	ErrorClassTypeMismatch ErrorClass = "type_mismatch"

	// ErrorClassInformation indicates a required information key is absent or
	// malformed. Update-extent and data phases of the branch do not run.
	ErrorClassInformation ErrorClass = "information"

	// ErrorClassExtentUnsatisfiable indicates a request for an extent or piece
	// that cannot be produced.
	ErrorClassExtentUnsatisfiable ErrorClass = "extent_unsatisfiable"

	// ErrorClassComputation indicates the algorithm's own RequestData failed.
	ErrorClassComputation ErrorClass = "computation"

	// ErrorClassTopology indicates an invalid connection or graph shape.
	ErrorClassTopology ErrorClass = "topology"

	// ErrorClassInternal indicates a broken executive invariant.
	ErrorClassInternal ErrorClass = "internal"
)

// Error is a classified pipeline failure with the node, phase and port it
// occurred on.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Node is the name of the executive the failure occurred in.
	Node string `json:"node,omitempty"`

	// Phase is the request being processed when the failure occurred.
	Phase RequestType `json:"phase,omitempty"`

	// Port is the port involved, or -1.
	Port int `json:"port"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Node != "" && e.Phase != "":
		msg += fmt.Sprintf(" (node=%s, phase=%s)", e.Node, e.Phase)
	case e.Node != "":
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

func newError(class ErrorClass, message string, err error) *Error {
	return &Error{Class: class, Message: message, Port: -1, Err: err}
}

// NewTypeMismatchError creates a new allocation/type-mismatch error.
func NewTypeMismatchError(message string, err error) *Error {
	return newError(ErrorClassTypeMismatch, message, err)
}

// NewInformationError creates a new information error.
func NewInformationError(message string, err error) *Error {
	return newError(ErrorClassInformation, message, err)
}

// NewExtentError creates a new extent-unsatisfiable error.
func NewExtentError(message string, err error) *Error {
	return newError(ErrorClassExtentUnsatisfiable, message, err)
}

// NewComputationError creates a new computation error.
func NewComputationError(message string, err error) *Error {
	return newError(ErrorClassComputation, message, err)
}

// NewTopologyError creates a new topology error.
func NewTopologyError(message string, err error) *Error {
	return newError(ErrorClassTopology, message, err)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *Error {
	return newError(ErrorClassInternal, message, err)
}

// WithNode adds node context to an error.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// WithPhase adds phase context to an error.
func (e *Error) WithPhase(phase RequestType) *Error {
	e.Phase = phase
	return e
}

// WithPort adds port context to an error.
func (e *Error) WithPort(port int) *Error {
	e.Port = port
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of a pipeline error, or "" for other errors.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsTypeMismatch returns true if the error is an allocation/type-mismatch error.
func IsTypeMismatch(err error) bool { return ClassOf(err) == ErrorClassTypeMismatch }

// IsInformation returns true if the error is an information error.
func IsInformation(err error) bool { return ClassOf(err) == ErrorClassInformation }

// IsExtentUnsatisfiable returns true if the error is an extent-unsatisfiable error.
func IsExtentUnsatisfiable(err error) bool {
	return ClassOf(err) == ErrorClassExtentUnsatisfiable
}

// IsComputation returns true if the error is a computation error.
func IsComputation(err error) bool { return ClassOf(err) == ErrorClassComputation }

// IsTopology returns true if the error is a topology error.
func IsTopology(err error) bool { return ClassOf(err) == ErrorClassTopology }

// classify turns any error returned by an algorithm into a pipeline error.
// Pipeline errors keep their class; invalid piece requests become extent
// errors; everything else gets the phase default.
func classify(err error, def ErrorClass, node string, phase RequestType) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Node == "" {
			e.Node = node
		}
		if e.Phase == "" {
			e.Phase = phase
		}
		return e
	}
	class := def
	code := ErrCodeAlgorithmFailed
	if errors.Is(err, extent.ErrInvalidPiece) {
		class = ErrorClassExtentUnsatisfiable
		code = ErrCodeBadPiece
	}
	return newError(class, fmt.Sprintf("%s failed", phase), err).
		WithNode(node).WithPhase(phase).WithCode(code)
}

// Common error codes.
const (
	ErrCodeMissingKey      = "MISSING_KEY"
	ErrCodeMalformedKey    = "MALFORMED_KEY"
	ErrCodeUnsupportedKind = "UNSUPPORTED_KIND"
	ErrCodeOutOfBounds     = "OUT_OF_BOUNDS"
	ErrCodeBadPiece        = "BAD_PIECE"
	ErrCodeCycle           = "CYCLE"
	ErrCodeUnknownPort     = "UNKNOWN_PORT"
	ErrCodePortConnected   = "PORT_CONNECTED"
	ErrCodeRequiredInput   = "REQUIRED_INPUT"
	ErrCodeAlgorithmFailed = "ALGORITHM_FAILED"
	ErrCodeNoData          = "NO_DATA"
	ErrCodeValidation      = "VALIDATION_ERROR"
)
