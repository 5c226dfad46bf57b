package state

import "fmt"

// PipelineNotFoundError means no state document exists for the given pipeline id.
type PipelineNotFoundError struct{ PipelineID string }

func (e *PipelineNotFoundError) Error() string {
	return fmt.Sprintf("state: pipeline not found: %s", e.PipelineID)
}

// StateFileNotFoundError means the backing file for a pipeline's state is absent.
type StateFileNotFoundError struct{ Path string }

func (e *StateFileNotFoundError) Error() string {
	return fmt.Sprintf("state: state file not found: %s", e.Path)
}

// LockAlreadyHeldError is returned by release when the caller does not own the lock.
type LockAlreadyHeldError struct{ WorkerID string }

func (e *LockAlreadyHeldError) Error() string {
	return fmt.Sprintf("state: lock already held by worker: %s", e.WorkerID)
}

// LockTimeoutError is returned when lock acquisition exceeds its deadline.
type LockTimeoutError struct{ TimeoutMS int64 }

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("state: lock acquisition timeout after %dms", e.TimeoutMS)
}

// VersionConflictError is a reserved error shape: see SPEC_FULL.md Open Question
// decisions. No code path in this module raises it yet.
type VersionConflictError struct{ Expected, Actual uint64 }

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("state: version conflict: expected %d, found %d", e.Expected, e.Actual)
}

// SerializationError wraps a marshal/unmarshal failure.
type SerializationError struct{ Details string }

func (e *SerializationError) Error() string {
	return fmt.Sprintf("state: serialization error: %s", e.Details)
}

// IOError wraps an underlying filesystem failure.
type IOError struct{ Details string }

func (e *IOError) Error() string { return fmt.Sprintf("state: io error: %s", e.Details) }

// BackendError is a catch-all for backend-internal failures not otherwise typed.
type BackendError struct{ Details string }

func (e *BackendError) Error() string { return fmt.Sprintf("state: backend error: %s", e.Details) }

// InvalidStateError means a state document failed self-validation.
type InvalidStateError struct{ Details string }

func (e *InvalidStateError) Error() string { return fmt.Sprintf("state: invalid state: %s", e.Details) }

// WorkerNotFoundError means no worker is recorded for an operation that expects one.
type WorkerNotFoundError struct{ WorkerID string }

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("state: worker not found: %s", e.WorkerID)
}

// StateCorruptedError means a state file could not be parsed or failed validation
// in a way that requires repair.
type StateCorruptedError struct{ Path, Reason string }

func (e *StateCorruptedError) Error() string {
	return fmt.Sprintf("state: state file corrupted: %s, reason: %s", e.Path, e.Reason)
}

// BackupFailedError wraps a failure while writing a backup.
type BackupFailedError struct{ Details string }

func (e *BackupFailedError) Error() string {
	return fmt.Sprintf("state: backup operation failed: %s", e.Details)
}

// RecoveryFailedError wraps a failure while restoring or repairing state.
type RecoveryFailedError struct{ Details string }

func (e *RecoveryFailedError) Error() string {
	return fmt.Sprintf("state: recovery operation failed: %s", e.Details)
}

// ValidationFailedError carries the full list of validation issues found.
type ValidationFailedError struct{ Issues []string }

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("state: state validation failed: %v", e.Issues)
}

// PermissionDeniedError means the process lacks rights to read or write a path.
type PermissionDeniedError struct{ Path string }

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("state: permission denied: %s", e.Path)
}

// InsufficientDiskSpaceError means a write could not be completed due to space.
type InsufficientDiskSpaceError struct{ RequiredBytes, AvailableBytes int64 }

func (e *InsufficientDiskSpaceError) Error() string {
	return fmt.Sprintf("state: disk space insufficient: %d bytes needed, %d available", e.RequiredBytes, e.AvailableBytes)
}

// MaxRetriesExceededError is a reserved error shape: see SPEC_FULL.md Open
// Question decisions. save_state's backoff loop currently returns the last
// underlying error directly rather than wrapping it in this type.
type MaxRetriesExceededError struct {
	MaxRetries int
	Operation  string
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("state: maximum retries exceeded: %d for operation: %s", e.MaxRetries, e.Operation)
}
