package state

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ManagerConfig configures a Manager's retry, heartbeat, and housekeeping
// behavior. Field defaults mirror the engine's reference implementation.
type ManagerConfig struct {
	WorkerID              string
	DefaultLockTimeoutMS  int64
	HeartbeatIntervalMS   int64
	MaxRetries            int
	CleanupIntervalHours  int64
	MaxStateAgeHours      int64
}

// DefaultManagerConfig returns the documented defaults for a new Manager.
func DefaultManagerConfig(workerID string) ManagerConfig {
	return ManagerConfig{
		WorkerID:             workerID,
		DefaultLockTimeoutMS: 30000,
		HeartbeatIntervalMS:  5000,
		MaxRetries:           3,
		CleanupIntervalHours: 24,
		MaxStateAgeHours:     168,
	}
}

// Manager is the high-level façade over a Backend: initialization, retrying
// saves, scoped locks, heartbeats, and stale-pipeline housekeeping.
type Manager struct {
	backend Backend
	cfg     ManagerConfig
}

// NewManager wraps backend with the given configuration.
func NewManager(backend Backend, cfg ManagerConfig) *Manager {
	return &Manager{backend: backend, cfg: cfg}
}

// NewMemoryManager is a convenience constructor for tests and short-lived runs.
func NewMemoryManager(workerID string) *Manager {
	return NewManager(NewMemoryBackend(), DefaultManagerConfig(workerID))
}

func (m *Manager) Initialize(ctx context.Context, pipelineID, runID string) (*PipelineState, error) {
	s := New(pipelineID, runID)
	s.Metadata.StateBackend = string(backendKindOf(m.backend))
	if err := m.backend.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func backendKindOf(b Backend) BackendKind {
	if _, ok := b.(*FileBackend); ok {
		return BackendFile
	}
	return BackendMemory
}

func (m *Manager) Load(ctx context.Context, pipelineID string) (*PipelineState, error) {
	return m.backend.Load(ctx, pipelineID)
}

// Save persists s, retrying with exponential backoff (100ms * 2^attempt) up
// to MaxRetries times before surfacing the last error.
func (m *Manager) Save(ctx context.Context, s *PipelineState) error {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*math.Pow(2, float64(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := m.backend.Save(ctx, s); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// UpdateState loads the current state, applies fn, and saves the result
// without acquiring a lock.
func (m *Manager) UpdateState(ctx context.Context, pipelineID string, fn func(*PipelineState)) (*PipelineState, error) {
	s, err := m.backend.Load(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	fn(s)
	if err := m.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ManagedLock is the RAII-style scoped lock returned by AcquireLock: the
// caller must call Release (directly, or via defer) when done.
type ManagedLock struct {
	info       LockInfo
	pipelineID string
	workerID   string
	backend    Backend
	released   bool
	mu         sync.Mutex
}

// Release is idempotent; it surfaces the backend's error on the first call
// and is a no-op on subsequent calls.
func (l *ManagedLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	return l.backend.ReleaseLock(ctx, l.pipelineID, l.workerID)
}

func (l *ManagedLock) Info() LockInfo { return l.info }

// AcquireLock acquires a lock and returns a handle the caller must Release.
func (m *Manager) AcquireLock(ctx context.Context, pipelineID string) (*ManagedLock, error) {
	info, err := m.backend.AcquireLock(ctx, pipelineID, m.cfg.WorkerID, m.cfg.DefaultLockTimeoutMS)
	if err != nil {
		return nil, err
	}
	return &ManagedLock{info: info, pipelineID: pipelineID, workerID: m.cfg.WorkerID, backend: m.backend}, nil
}

// UpdateStateLocked acquires the pipeline's lock, loads, applies fn, saves,
// and always releases the lock before returning.
func (m *Manager) UpdateStateLocked(ctx context.Context, pipelineID string, fn func(*PipelineState)) (*PipelineState, error) {
	lock, err := m.AcquireLock(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)
	return m.UpdateState(ctx, pipelineID, fn)
}

func (m *Manager) Delete(ctx context.Context, pipelineID string) error {
	return m.backend.Delete(ctx, pipelineID)
}

func (m *Manager) ListPipelines(ctx context.Context) ([]string, error) {
	return m.backend.List(ctx)
}

func (m *Manager) IsLocked(ctx context.Context, pipelineID string) (*LockInfo, error) {
	return m.backend.IsLocked(ctx, pipelineID)
}

func (m *Manager) ForceReleaseLock(ctx context.Context, pipelineID string) error {
	return m.backend.ForceReleaseLock(ctx, pipelineID)
}

func (m *Manager) UpdateHeartbeat(ctx context.Context, pipelineID string) (*PipelineState, error) {
	return m.UpdateState(ctx, pipelineID, func(s *PipelineState) { s.UpdateHeartbeat() })
}

func (m *Manager) AddError(ctx context.Context, pipelineID string, e ErrorRecord) (*PipelineState, error) {
	return m.UpdateState(ctx, pipelineID, func(s *PipelineState) { s.AddError(e) })
}

func (m *Manager) UpdateStepState(ctx context.Context, pipelineID string, step StepState) (*PipelineState, error) {
	return m.UpdateState(ctx, pipelineID, func(s *PipelineState) {
		s.StepStates[step.StepID] = step
		s.IncrementVersion()
	})
}

func (m *Manager) GetStepState(ctx context.Context, pipelineID, stepID string) (*StepState, error) {
	s, err := m.backend.Load(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	st, ok := s.StepStates[stepID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Manager) UpdateProgress(ctx context.Context, pipelineID string, recordsProcessed, recordsFailed uint64) (*PipelineState, error) {
	return m.UpdateState(ctx, pipelineID, func(s *PipelineState) {
		s.RecordsProcessed += recordsProcessed
		s.RecordsFailed += recordsFailed
		s.IncrementVersion()
	})
}

// staleSweepWorkers bounds how many pipeline states FindStalePipelines loads
// concurrently while scanning a potentially large backend.
const staleSweepWorkers = 8

// FindStalePipelines returns the ids of running pipelines whose heartbeat has
// exceeded thresholdMS.
func (m *Manager) FindStalePipelines(ctx context.Context, thresholdMS int64) ([]string, error) {
	ids, err := m.backend.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		stale []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(staleSweepWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			s, err := m.backend.Load(gctx, id)
			if err != nil {
				return nil
			}
			if s.Status.Kind == PipelineRunning && s.IsStale(thresholdMS) {
				mu.Lock()
				stale = append(stale, id)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stale, nil
}

func (m *Manager) HealthCheck(ctx context.Context) (BackendHealth, error) {
	return m.backend.HealthCheck(ctx)
}

func (m *Manager) Cleanup(ctx context.Context) (CleanupResult, error) {
	return m.backend.Cleanup(ctx, m.cfg.MaxStateAgeHours)
}

// HeartbeatHandle controls a background goroutine that periodically calls
// UpdateHeartbeat for a pipeline until Stop is called.
type HeartbeatHandle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// StartHeartbeat launches a goroutine that heartbeats pipelineID every
// HeartbeatIntervalMS until the returned handle is stopped.
func (m *Manager) StartHeartbeat(ctx context.Context, pipelineID string) *HeartbeatHandle {
	hbCtx, cancel := context.WithCancel(ctx)
	h := &HeartbeatHandle{cancel: cancel, done: make(chan struct{})}
	h.running.Store(true)

	interval := time.Duration(m.cfg.HeartbeatIntervalMS) * time.Millisecond
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				h.running.Store(false)
				return
			case <-ticker.C:
				_, _ = m.UpdateHeartbeat(hbCtx, pipelineID)
			}
		}
	}()
	return h
}

func (h *HeartbeatHandle) Stop() {
	h.cancel()
	<-h.done
}

func (h *HeartbeatHandle) Running() bool { return h.running.Load() }
