package errors

import (
	"fmt"
)

// ResolutionReason explains why a type reference could not be resolved.
type ResolutionReason int

const (
	// MalformedReference means the reference is not "<namespace>.<TypeName>".
	MalformedReference ResolutionReason = iota
	// NamespaceNotFound means no registered type lives under the namespace.
	NamespaceNotFound
	// TypeNotFound means the namespace exists but the type does not.
	TypeNotFound
	// KindMismatch means the type exists but is not of the requested kind.
	KindMismatch
	// NilInstance means the registered factory produced nothing.
	NilInstance
)

func (r ResolutionReason) String() string {
	switch r {
	case MalformedReference:
		return "malformed reference"
	case NamespaceNotFound:
		return "namespace not found"
	case TypeNotFound:
		return "type not found"
	case KindMismatch:
		return "kind mismatch"
	case NilInstance:
		return "factory returned nil"
	default:
		return "unknown"
	}
}

// ResolutionError is returned when a type reference cannot be turned into
// a concrete handler, sink, sensor or communicator.
type ResolutionError struct {
	TypeRef   string
	Namespace string
	Kind      string
	Reason    ResolutionReason
}

func (e *ResolutionError) Error() string {
	if e.Reason == KindMismatch {
		return fmt.Sprintf("resolve %q: %s (want %s)", e.TypeRef, e.Reason, e.Kind)
	}
	return fmt.Sprintf("resolve %q: %s", e.TypeRef, e.Reason)
}

// SinkCause identifies the failing step of a sink operation.
type SinkCause int

const (
	// SinkResolutionFailed means sink_class could not be resolved.
	SinkResolutionFailed SinkCause = iota
	// SinkConfigureFailed means the sink rejected its template.
	SinkConfigureFailed
	// SinkNotFound means no sink with the given id is managed.
	SinkNotFound
	// SinkCloseFailed means the sink returned an error while closing.
	SinkCloseFailed
)

func (c SinkCause) String() string {
	switch c {
	case SinkResolutionFailed:
		return "resolution failed"
	case SinkConfigureFailed:
		return "configure failed"
	case SinkNotFound:
		return "not found"
	case SinkCloseFailed:
		return "close failed"
	default:
		return "unknown"
	}
}

// SinkError reports a failed sink manager operation.
type SinkError struct {
	SinkID   string
	Template string
	Cause    SinkCause
	Err      error
}

func (e *SinkError) Error() string {
	subject := e.Template
	if e.SinkID != "" {
		subject = e.SinkID
	}
	if e.Err == nil {
		return fmt.Sprintf("sink %q: %s", subject, e.Cause)
	}
	return fmt.Sprintf("sink %q: %s: %v", subject, e.Cause, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ReactionCause identifies why a reaction operation failed.
type ReactionCause int

const (
	// HandlerResolutionFailed means the handler type could not be resolved.
	HandlerResolutionFailed ReactionCause = iota
	// SinkProvisioningFailed means at least one sink could not be created.
	SinkProvisioningFailed
	// InvalidState means the operation is not allowed in the current state.
	InvalidState
	// InvalidTemplate means the reaction template failed validation.
	InvalidTemplate
)

func (c ReactionCause) String() string {
	switch c {
	case HandlerResolutionFailed:
		return "handler resolution failed"
	case SinkProvisioningFailed:
		return "sink provisioning failed"
	case InvalidState:
		return "invalid state"
	case InvalidTemplate:
		return "invalid template"
	default:
		return "unknown"
	}
}

// ReactionError reports a failed reaction lifecycle operation.
type ReactionError struct {
	ReactionID string
	Cause      ReactionCause
	Err        error
}

func (e *ReactionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reaction %s: %s", e.ReactionID, e.Cause)
	}
	return fmt.Sprintf("reaction %s: %s: %v", e.ReactionID, e.Cause, e.Err)
}

func (e *ReactionError) Unwrap() error { return e.Err }

// SensorError reports a failed sensor or communicator operation.
type SensorError struct {
	SensorID string
	Op       string
	Err      error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor %s: %s: %v", e.SensorID, e.Op, e.Err)
}

func (e *SensorError) Unwrap() error { return e.Err }
