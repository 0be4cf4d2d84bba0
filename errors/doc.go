// Package errors provides the error vocabulary shared by every orchd package.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: timeouts, lost connections, rate limiting (retry recommended)
//   - Invalid: malformed input, bad templates, unknown ids, unresolvable types (do not retry)
//   - Fatal: corruption or exhaustion (stop processing)
//
// Wrap errors with component context using the "component.method: action failed"
// convention:
//
//	if err := s.writer.Flush(); err != nil {
//	    return errors.WrapTransient(err, "FileSink", "Accept", "flush buffer")
//	}
//
// # Runtime errors
//
// The runtime reports its own failures with typed errors that callers match
// with errors.As:
//
//	var re *errors.ResolutionError
//	if errors.As(err, &re) && re.Reason == errors.TypeNotFound {
//	    // the handler named in the template is not registered
//	}
//
// ResolutionError carries the failing type reference and a reason.
// SinkError, ReactionError and SensorError carry the entity id, a cause and
// the wrapped error, so the original resolution failure stays reachable
// through errors.As on the outer error.
//
// # Retry
//
// RetryConfig.ToRetryConfig adapts a classification-aware policy to the
// pkg/retry executor, retrying only transient errors.
package errors
