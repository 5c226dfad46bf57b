package state

import "context"

// StateObserver receives notifications from an ObservableManager after the
// underlying backend operation has succeeded.
type StateObserver interface {
	OnStateChange(pipelineID string, s *PipelineState)
	OnError(pipelineID string, e ErrorRecord)
	OnLockAcquired(pipelineID string, info LockInfo)
	OnLockReleased(pipelineID string)
}

// ObservableManager decorates Manager, broadcasting to registered observers
// after each successful write made through its *Observed methods; writes
// through the embedded Manager's own methods do not notify. Observers are notified synchronously and in
// registration order; a panicking observer is not recovered from, matching
// the façade's fail-loud stance on programmer error.
type ObservableManager struct {
	*Manager
	observers []StateObserver
}

// NewObservableManager wraps m with observer support.
func NewObservableManager(m *Manager) *ObservableManager {
	return &ObservableManager{Manager: m}
}

// Subscribe registers an observer. Observers are never unregistered
// automatically; callers own their own lifetime.
func (o *ObservableManager) Subscribe(obs StateObserver) {
	o.observers = append(o.observers, obs)
}

func (o *ObservableManager) notifyStateChange(pipelineID string, s *PipelineState) {
	for _, obs := range o.observers {
		obs.OnStateChange(pipelineID, s)
	}
}

// SaveObserved saves s via the wrapped Manager and notifies observers on success.
func (o *ObservableManager) SaveObserved(ctx context.Context, s *PipelineState) error {
	if err := o.Manager.Save(ctx, s); err != nil {
		return err
	}
	o.notifyStateChange(s.PipelineID, s)
	return nil
}

// AddErrorObserved records e via the wrapped Manager and notifies observers
// of both the error and the resulting state change.
func (o *ObservableManager) AddErrorObserved(ctx context.Context, pipelineID string, e ErrorRecord) (*PipelineState, error) {
	s, err := o.Manager.AddError(ctx, pipelineID, e)
	if err != nil {
		return nil, err
	}
	for _, obs := range o.observers {
		obs.OnError(pipelineID, e)
	}
	o.notifyStateChange(pipelineID, s)
	return s, nil
}

// AcquireLockObserved acquires a lock via the wrapped Manager and notifies
// observers of the acquisition.
func (o *ObservableManager) AcquireLockObserved(ctx context.Context, pipelineID string) (*ManagedLock, error) {
	lock, err := o.Manager.AcquireLock(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	for _, obs := range o.observers {
		obs.OnLockAcquired(pipelineID, lock.Info())
	}
	return lock, nil
}

// ReleaseObserved releases lock and notifies observers of the release.
func (o *ObservableManager) ReleaseObserved(ctx context.Context, lock *ManagedLock) error {
	pipelineID := lock.pipelineID
	if err := lock.Release(ctx); err != nil {
		return err
	}
	for _, obs := range o.observers {
		obs.OnLockReleased(pipelineID)
	}
	return nil
}
