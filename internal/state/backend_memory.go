package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend is the in-process realization of Backend: three maps (state,
// lock, backup) guarded by a single RWMutex. It mirrors the file backend's semantics
// (expiry self-healing, ownership enforcement) without touching disk; backups
// are simulated by cloning state, and RestoreState is unsupported since there
// is nothing durable to restore from across a process restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	states  map[string]*PipelineState
	locks   map[string]*LockRecord
	backups map[string][]memoryBackup

	reads, writes       uint64
	cacheHits, cacheMiss uint64
}

type memoryBackup struct {
	info  BackupInfo
	state *PipelineState
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states:  make(map[string]*PipelineState),
		locks:   make(map[string]*LockRecord),
		backups: make(map[string][]memoryBackup),
	}
}

func clonePipelineState(s *PipelineState) *PipelineState {
	cp := *s
	cp.StepStates = make(map[string]StepState, len(s.StepStates))
	for k, v := range s.StepStates {
		cp.StepStates[k] = v
	}
	cp.Errors = append([]ErrorRecord(nil), s.Errors...)
	cp.Metadata.Tags = make(map[string]string, len(s.Metadata.Tags))
	for k, v := range s.Metadata.Tags {
		cp.Metadata.Tags[k] = v
	}
	return &cp
}

func (b *MemoryBackend) Load(_ context.Context, pipelineID string) (*PipelineState, error) {
	b.mu.Lock()
	b.reads++
	s, ok := b.states[pipelineID]
	if ok {
		b.cacheHits++
	} else {
		b.cacheMiss++
	}
	b.mu.Unlock()

	if !ok {
		return nil, &PipelineNotFoundError{PipelineID: pipelineID}
	}
	return clonePipelineState(s), nil
}

func (b *MemoryBackend) Save(_ context.Context, s *PipelineState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	b.states[s.PipelineID] = clonePipelineState(s)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, pipelineID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, pipelineID)
	delete(b.locks, pipelineID)
	delete(b.backups, pipelineID)
	return nil
}

func (b *MemoryBackend) List(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.states))
	for id := range b.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *MemoryBackend) expireLocked(pipelineID string) {
	rec, ok := b.locks[pipelineID]
	if !ok {
		return
	}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(time.Now().UTC()) {
		delete(b.locks, pipelineID)
	}
}

func (b *MemoryBackend) AcquireLock(ctx context.Context, pipelineID, workerID string, timeoutMS int64) (LockInfo, error) {
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	probed := false

	for {
		b.mu.Lock()
		b.expireLocked(pipelineID)
		if _, held := b.locks[pipelineID]; !held {
			now := time.Now().UTC()
			var expiresAt *time.Time
			if timeoutMS > 0 {
				e := now.Add(30 * time.Minute)
				expiresAt = &e
			}
			rec := &LockRecord{PipelineID: pipelineID, WorkerID: workerID, LockedAt: now, ExpiresAt: expiresAt, LockVersion: 1}
			b.locks[pipelineID] = rec
			b.mu.Unlock()
			return LockInfo{PipelineID: rec.PipelineID, WorkerID: rec.WorkerID, LockedAt: rec.LockedAt, ExpiresAt: rec.ExpiresAt, LockVersion: rec.LockVersion}, nil
		}
		b.mu.Unlock()

		if probed && time.Now().After(deadline) {
			return LockInfo{}, &LockTimeoutError{TimeoutMS: timeoutMS}
		}
		probed = true

		select {
		case <-ctx.Done():
			return LockInfo{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return LockInfo{}, &LockTimeoutError{TimeoutMS: timeoutMS}
		}
	}
}

func (b *MemoryBackend) ReleaseLock(_ context.Context, pipelineID, workerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.locks[pipelineID]
	if !ok {
		return nil
	}
	if rec.WorkerID != workerID {
		return &LockAlreadyHeldError{WorkerID: rec.WorkerID}
	}
	delete(b.locks, pipelineID)
	return nil
}

func (b *MemoryBackend) IsLocked(_ context.Context, pipelineID string) (*LockInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked(pipelineID)
	rec, ok := b.locks[pipelineID]
	if !ok {
		return nil, nil
	}
	return &LockInfo{PipelineID: rec.PipelineID, WorkerID: rec.WorkerID, LockedAt: rec.LockedAt, ExpiresAt: rec.ExpiresAt, LockVersion: rec.LockVersion}, nil
}

func (b *MemoryBackend) ForceReleaseLock(_ context.Context, pipelineID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.locks, pipelineID)
	return nil
}

func (b *MemoryBackend) HealthCheck(_ context.Context) (BackendHealth, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := b.cacheHits + b.cacheMiss
	hitRate := 1.0
	if total > 0 {
		hitRate = float64(b.cacheHits) / float64(total)
	}
	return BackendHealth{Healthy: true, CacheHitRate: hitRate, TotalReads: b.reads, TotalWrites: b.writes}, nil
}

func (b *MemoryBackend) Cleanup(_ context.Context, maxAgeHours int64) (CleanupResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result CleanupResult
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	for id, s := range b.states {
		if s.LastHeartbeat.Before(cutoff) {
			delete(b.states, id)
			delete(b.locks, id)
			result.StatesRemoved++
		}
	}
	for id := range b.locks {
		b.expireLocked(id)
	}
	return result, nil
}

func (b *MemoryBackend) ValidateState(_ context.Context, pipelineID string) (ValidationResult, error) {
	b.mu.RLock()
	s, ok := b.states[pipelineID]
	b.mu.RUnlock()
	if !ok {
		return ValidationResult{PipelineID: pipelineID, Valid: false, CorruptionDetected: true, Issues: []string{"state not found"}}, nil
	}
	issues := s.Validate()
	return ValidationResult{PipelineID: pipelineID, Valid: len(issues) == 0, CorruptionDetected: len(issues) > 0, Issues: issues}, nil
}

func (b *MemoryBackend) BackupState(_ context.Context, pipelineID string, kind BackupType) (BackupResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[pipelineID]
	if !ok {
		return BackupResult{}, &PipelineNotFoundError{PipelineID: pipelineID}
	}
	id := fmt.Sprintf("backup_%s", time.Now().UTC().Format("20060102_150405.000"))
	b.backups[pipelineID] = append(b.backups[pipelineID], memoryBackup{
		info:  BackupInfo{BackupID: id, CreatedAt: time.Now().UTC(), Type: kind},
		state: clonePipelineState(s),
	})
	return BackupResult{BackupID: id}, nil
}

func (b *MemoryBackend) ListBackups(_ context.Context, pipelineID string) ([]BackupInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	backups := b.backups[pipelineID]
	out := make([]BackupInfo, len(backups))
	for i, bk := range backups {
		out[len(backups)-1-i] = bk.info // newest-first
	}
	return out, nil
}

func (b *MemoryBackend) RestoreState(context.Context, string, string) error {
	return &RecoveryFailedError{Details: "memory backend does not support restore across process restarts"}
}

func (b *MemoryBackend) RepairState(ctx context.Context, pipelineID string) (RepairResult, error) {
	b.mu.Lock()
	s, ok := b.states[pipelineID]
	b.mu.Unlock()
	if !ok {
		return RepairResult{Success: false, ManualInterventionRequired: true}, &PipelineNotFoundError{PipelineID: pipelineID}
	}

	if _, err := b.BackupState(ctx, pipelineID, BackupDefensive); err != nil {
		return RepairResult{}, &BackupFailedError{Details: err.Error()}
	}

	var fixes []string
	b.mu.Lock()
	if s.PipelineID == "" {
		s.PipelineID = pipelineID
		fixes = append(fixes, "filled empty pipeline_id")
	}
	if s.RunID == "" {
		s.RunID = "repaired_" + uuid.NewString()
		fixes = append(fixes, "filled empty run_id")
	}
	if s.Version == 0 {
		s.Version = 1
		fixes = append(fixes, "bumped version from 0 to 1")
	}
	now := time.Now().UTC()
	if s.StartedAt.After(now) {
		s.StartedAt = now.Add(-time.Hour)
		fixes = append(fixes, "clamped started_at to the past")
	}
	if s.LastHeartbeat.Before(s.StartedAt) {
		s.LastHeartbeat = s.StartedAt
		fixes = append(fixes, "corrected last_heartbeat")
	}
	b.states[pipelineID] = s
	b.mu.Unlock()

	return RepairResult{Success: true, ManualInterventionRequired: false, AppliedFixes: fixes}, nil
}

func (b *MemoryBackend) GetDiagnostics(ctx context.Context) (BackendDiagnostics, error) {
	health, _ := b.HealthCheck(ctx)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BackendDiagnostics{Health: health, PipelineCount: len(b.states)}, nil
}

func (b *MemoryBackend) VerifyIntegrity(_ context.Context) (IntegrityReport, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	report := IntegrityReport{TotalChecked: len(b.states)}
	for id, s := range b.states {
		if issues := s.Validate(); len(issues) > 0 {
			report.Corrupted = append(report.Corrupted, id)
		}
	}
	if report.TotalChecked == 0 {
		report.HealthScore = 1
	} else {
		report.HealthScore = 1 - float64(len(report.Corrupted))/float64(report.TotalChecked)
	}
	return report, nil
}
