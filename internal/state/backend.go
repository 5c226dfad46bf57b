package state

import (
	"context"
	"fmt"
	"time"
)

// SerializationFormat selects the on-disk encoding for a file-backed state document.
type SerializationFormat string

const (
	FormatJSON SerializationFormat = "json"
	FormatYAML SerializationFormat = "yaml"
)

// BackendConfig selects and configures a Backend realization.
type BackendConfig struct {
	// Kind selects which realization New(Backend) constructs.
	Kind BackendKind

	// File-backend fields.
	BasePath      string
	Format        SerializationFormat
	AtomicWrites  bool
	LockTimeoutMS int64

	// Memory-backend fields.
	Persistent bool // informational only; no cross-process persistence
}

// BackendKind discriminates BackendConfig's realization.
type BackendKind string

const (
	BackendFile   BackendKind = "file"
	BackendMemory BackendKind = "memory"
)

// LockInfo describes a currently held (or just-acquired) advisory lock.
type LockInfo struct {
	PipelineID  string
	WorkerID    string
	LockedAt    time.Time
	ExpiresAt   *time.Time
	LockVersion uint64
}

// BackendHealth summarizes a backend's current operating health.
type BackendHealth struct {
	Healthy         bool
	CacheHitRate    float64
	AvgReadTimeMS   float64
	AvgWriteTimeMS  float64
	TotalReads      uint64
	TotalWrites     uint64
	Warnings        []string
}

// CleanupResult reports the outcome of an age-based cleanup sweep.
type CleanupResult struct {
	StatesRemoved      int
	ExpiredLocksCleared int
	BackupsRemoved     int
}

// ValidationResult is the outcome of validating a single pipeline's persisted state.
type ValidationResult struct {
	PipelineID        string
	Valid             bool
	CorruptionDetected bool
	Issues            []string
}

// BackupType distinguishes a backup taken explicitly from one taken defensively
// before a risky operation (restore, repair).
type BackupType string

const (
	BackupManual    BackupType = "manual"
	BackupDefensive BackupType = "defensive"
)

// BackupInfo describes one stored backup.
type BackupInfo struct {
	BackupID  string
	CreatedAt time.Time
	Type      BackupType
	Checksum  string
	SizeBytes int64
}

// BackupResult is the outcome of taking a backup.
type BackupResult struct {
	BackupID string
	Checksum string
}

// RepairResult is the outcome of an attempted repair.
type RepairResult struct {
	Success                 bool
	ManualInterventionRequired bool
	AppliedFixes            []string
	RestoredFromBackup      string
}

// BackendDiagnostics is the full diagnostic snapshot returned by GetDiagnostics.
type BackendDiagnostics struct {
	Health          BackendHealth
	CacheSize       int
	CacheMaxSize    int
	PipelineCount   int
}

// IntegrityReport is the result of sweeping every persisted state document.
type IntegrityReport struct {
	TotalChecked       int
	Corrupted          []string
	Missing            []string
	PermissionDenied   []string
	ChecksumMismatch   []string
	HealthScore        float64
}

// Lock is a scoped advisory lock returned by Backend.AcquireLock; the caller
// must release it (directly, or via Manager's RAII wrapper).
type Lock struct {
	Info LockInfo
}

// Backend is the abstract persistence and locking contract implemented by the
// file and in-memory realizations.
type Backend interface {
	Load(ctx context.Context, pipelineID string) (*PipelineState, error)
	Save(ctx context.Context, s *PipelineState) error
	Delete(ctx context.Context, pipelineID string) error
	List(ctx context.Context) ([]string, error)

	AcquireLock(ctx context.Context, pipelineID, workerID string, timeoutMS int64) (LockInfo, error)
	ReleaseLock(ctx context.Context, pipelineID, workerID string) error
	IsLocked(ctx context.Context, pipelineID string) (*LockInfo, error)
	ForceReleaseLock(ctx context.Context, pipelineID string) error

	HealthCheck(ctx context.Context) (BackendHealth, error)
	Cleanup(ctx context.Context, maxAgeHours int64) (CleanupResult, error)

	ValidateState(ctx context.Context, pipelineID string) (ValidationResult, error)
	BackupState(ctx context.Context, pipelineID string, kind BackupType) (BackupResult, error)
	ListBackups(ctx context.Context, pipelineID string) ([]BackupInfo, error)
	RestoreState(ctx context.Context, pipelineID, backupID string) error
	RepairState(ctx context.Context, pipelineID string) (RepairResult, error)
	GetDiagnostics(ctx context.Context) (BackendDiagnostics, error)
	VerifyIntegrity(ctx context.Context) (IntegrityReport, error)
}

// NewBackend constructs the Backend realization selected by cfg.Kind.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendFile, "":
		return NewFileBackend(cfg)
	default:
		return nil, fmt.Errorf("state: unknown backend kind %q", cfg.Kind)
	}
}
