// Package scheduler implements the Scheduler component (spec.md §4.4):
// promoting tasks whose dependencies clear and dispatching READY tasks
// to polling workers under the Lock Manager's file-lease guard.
package scheduler

import (
	"context"
	"time"

	"github.com/maic-labs/mcs/internal/eventbus"
	"github.com/maic-labs/mcs/internal/lockmanager"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/logger"
)

type Scheduler struct {
	store store.Store
	locks lockmanager.LockManager
	bus   *eventbus.Bus
	log   *logger.Logger
}

// New builds a Scheduler. bus may be nil, in which case transitions are
// not published to the event log.
func New(st store.Store, locks lockmanager.LockManager, bus *eventbus.Bus) *Scheduler {
	return &Scheduler{store: st, locks: locks, bus: bus, log: logger.New("scheduler", "", "")}
}

// Dispatch claims the oldest READY task for role on behalf of workerID
// and secures its declared file leases. If a lease can't be granted, the
// claim is reverted and Dispatch reports no task available rather than
// surfacing the lock conflict to the poller — another poll will pick the
// task back up once the conflicting lease clears. A nil task with a nil
// error means no work is currently available for role.
func (s *Scheduler) Dispatch(ctx context.Context, role, workerID string) (*models.Task, error) {
	ctx = store.WithWorkerID(ctx, workerID)

	task, err := s.store.ClaimNextReady(ctx, role)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	if len(task.FileDeps) > 0 {
		if err := s.locks.Acquire(ctx, workerID, task.StepID, task.FileDeps); err != nil {
			s.log.WithError(err).Info("file lease unavailable, releasing claim back to READY")
			if releaseErr := s.store.ReleaseClaim(ctx, task.WorkflowID, task.StepID); releaseErr != nil {
				return nil, releaseErr
			}
			return nil, nil
		}
	}

	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.DomainEvent{
			WorkflowID: task.WorkflowID,
			TaskStepID: task.StepID,
			Kind:       eventbus.EventTaskClaimed,
			Payload:    map[string]string{"worker_id": workerID},
		})
	}

	return task, nil
}

// Promote advances every PENDING task in workflowID whose dependencies
// have all completed to READY.
func (s *Scheduler) Promote(ctx context.Context, workflowID string) ([]models.Task, error) {
	promoted, err := s.store.PromoteReady(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if s.bus != nil {
		for _, t := range promoted {
			s.bus.Publish(ctx, eventbus.DomainEvent{WorkflowID: workflowID, TaskStepID: t.StepID, Kind: eventbus.EventTaskReady})
		}
	}
	return promoted, nil
}

// SweepExpiredClaims reopens (or fails, past retry budget) any task whose
// claim has gone stale, per spec.md §4.5's retry policy. Callers run
// this on a periodic tick; it is not triggered by any request.
func (s *Scheduler) SweepExpiredClaims(ctx context.Context, claimTTL time.Duration) ([]models.Task, error) {
	cutoff := time.Now().UTC().Add(-claimTTL)
	return s.store.SweepExpiredClaims(ctx, cutoff)
}
