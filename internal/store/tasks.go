package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/models"
)

func (s *gormStore) ListTasksByWorkflow(ctx context.Context, workflowID string) ([]models.Task, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).Preload("Result").Where("workflow_id = ?", workflowID).Find(&tasks).Error; err != nil {
		return nil, apierr.Wrap(apierr.StoreUnavailable, "listing tasks", err)
	}
	return tasks, nil
}

func (s *gormStore) GetTask(ctx context.Context, workflowID, stepID string) (*models.Task, error) {
	var t models.Task
	err := s.db.WithContext(ctx).Preload("Result").
		Where("workflow_id = ? AND step_id = ?", workflowID, stepID).First(&t).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.New(apierr.NotFound, "task not found")
		}
		return nil, apierr.Wrap(apierr.StoreUnavailable, "loading task", err)
	}
	return &t, nil
}

// ClaimNextReady is the safety-critical primitive behind the worker poll
// endpoint (spec.md §5): it must hand each READY task to exactly one
// caller even under concurrent pollers. SELECT ... FOR UPDATE SKIP LOCKED
// lets concurrent claimants skip rows another transaction is already
// deciding on, instead of blocking behind them, so throughput degrades
// gracefully under contention instead of serializing on a single row.
func (s *gormStore) ClaimNextReady(ctx context.Context, role string) (*models.Task, error) {
	var claimed *models.Task

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Task
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("role = ? AND status = ?", role, models.TaskReady).
			Order("updated_at ASC, step_id ASC").
			Limit(1).
			First(&t).Error

		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "selecting claimable task", err)
		}

		now := time.Now().UTC()
		workerID := ctxWorkerID(ctx)
		updates := map[string]interface{}{
			"status":     models.TaskInProgress,
			"claimed_by": workerID,
			"claimed_at": now,
			"updated_at": now,
		}
		if err := tx.Model(&t).Updates(updates).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "claiming task", err)
		}

		t.Status = models.TaskInProgress
		t.ClaimedBy = &workerID
		t.ClaimedAt = &now
		claimed = &t
		return nil
	})

	return claimed, err
}

// ReleaseClaim reverts an IN_PROGRESS task back to READY without
// recording a result or incrementing its retry count, used when a
// downstream step (acquiring file leases) fails right after a successful
// claim and the task must go back up for grabs untouched.
func (s *gormStore) ReleaseClaim(ctx context.Context, workflowID, stepID string) error {
	err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("workflow_id = ? AND step_id = ? AND status = ?", workflowID, stepID, models.TaskInProgress).
		Updates(map[string]interface{}{
			"status":     models.TaskReady,
			"claimed_by": nil,
			"claimed_at": nil,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "releasing claim", err)
	}
	return nil
}

type ctxKey string

const workerIDCtxKey ctxKey = "worker_id"

// WithWorkerID attaches the claiming worker's identity to a context so
// ClaimNextReady can stamp it without widening its signature per-call;
// Scheduler.Dispatch sets this from the polling worker's worker_id.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDCtxKey, workerID)
}

func ctxWorkerID(ctx context.Context) string {
	if v, ok := ctx.Value(workerIDCtxKey).(string); ok {
		return v
	}
	return ""
}

// PromoteReady advances every PENDING task in workflowID whose
// dependencies are all COMPLETED to READY, in one transaction, and
// returns the tasks it promoted so the caller can emit events for them.
func (s *gormStore) PromoteReady(ctx context.Context, workflowID string) ([]models.Task, error) {
	var promoted []models.Task

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tasks []models.Task
		if err := tx.Where("workflow_id = ?", workflowID).Find(&tasks).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "loading tasks", err)
		}

		completed := make(map[string]bool, len(tasks))
		for _, t := range tasks {
			if t.Status == models.TaskCompleted {
				completed[t.StepID] = true
			}
		}

		now := time.Now().UTC()
		for i := range tasks {
			t := &tasks[i]
			if t.Status != models.TaskPending {
				continue
			}
			ready := true
			for _, dep := range t.Dependencies {
				if !completed[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			if err := tx.Model(t).Updates(map[string]interface{}{
				"status":     models.TaskReady,
				"updated_at": now,
			}).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "promoting task", err)
			}
			t.Status = models.TaskReady
			promoted = append(promoted, *t)
		}
		return nil
	})

	return promoted, err
}

// RecordResult persists a worker's report for (workflowID, stepID) after
// verifying the reporting workerID still matches the task's current
// claim — a stale or duplicate report from a worker whose claim already
// expired and was reassigned must not clobber the new claimant's work.
func (s *gormStore) RecordResult(ctx context.Context, workflowID, stepID, workerID string, result *models.Result, newStatus models.TaskStatus) (models.WorkflowStatus, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Task
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workflow_id = ? AND step_id = ?", workflowID, stepID).
			First(&t).Error
		if err == gorm.ErrRecordNotFound {
			return apierr.New(apierr.NotFound, "task not found")
		}
		if err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "loading task", err)
		}

		if t.Status != models.TaskInProgress || t.ClaimedBy == nil || *t.ClaimedBy != workerID {
			return apierr.New(apierr.Conflict, "report does not match current claim")
		}

		now := time.Now().UTC()

		if result != nil {
			result.TaskID = t.ID
			if err := tx.Where("task_step_id = ?", t.ID).Delete(&models.Result{}).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "clearing prior result", err)
			}
			if err := tx.Create(result).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "saving result", err)
			}
		}

		updates := map[string]interface{}{
			"status":     newStatus,
			"claimed_by": nil,
			"claimed_at": nil,
			"updated_at": now,
		}
		if err := tx.Model(&t).Updates(updates).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "updating task status", err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return s.CasUpdateStatuses(ctx, workflowID)
}

// RecordFailure handles a worker's failure report for (workflowID,
// stepID): it increments the task's retry count and either reopens it to
// READY for another attempt or, past MaxRetries, marks it FAILED —
// mirroring the claim-expiry retry policy in SweepExpiredClaims, since a
// reported failure and a silent timeout are the same recoverable event
// from the state machine's point of view.
func (s *gormStore) RecordFailure(ctx context.Context, workflowID, stepID, workerID, note string) (models.TaskStatus, models.WorkflowStatus, error) {
	var resultStatus models.TaskStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Task
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workflow_id = ? AND step_id = ?", workflowID, stepID).
			First(&t).Error
		if err == gorm.ErrRecordNotFound {
			return apierr.New(apierr.NotFound, "task not found")
		}
		if err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "loading task", err)
		}
		if t.Status != models.TaskInProgress || t.ClaimedBy == nil || *t.ClaimedBy != workerID {
			return apierr.New(apierr.Conflict, "report does not match current claim")
		}

		retry := t.RetryCount + 1
		if retry > t.MaxRetries {
			resultStatus = models.TaskFailed
		} else {
			resultStatus = models.TaskReady
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":      resultStatus,
			"claimed_by":  nil,
			"claimed_at":  nil,
			"retry_count": retry,
			"rework_note": note,
			"updated_at":  now,
		}
		if err := tx.Model(&t).Updates(updates).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "recording failure", err)
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}

	wfStatus, err := s.CasUpdateStatuses(ctx, workflowID)
	return resultStatus, wfStatus, err
}

// ResetTasksForRework reopens the steps an audit names, plus — when a
// directive's Cascade is not explicitly false — every task transitively
// dependent on that step, since downstream work may have consumed a
// since-invalidated result (spec.md §9 open question: cascade defaults
// to true).
func (s *gormStore) ResetTasksForRework(ctx context.Context, workflowID string, directives []models.ReworkDirective) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tasks []models.Task
		if err := tx.Where("workflow_id = ?", workflowID).Find(&tasks).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "loading tasks", err)
		}

		dependents := make(map[string][]string, len(tasks))
		byStep := make(map[string]*models.Task, len(tasks))
		for i := range tasks {
			t := &tasks[i]
			byStep[t.StepID] = t
			for _, dep := range t.Dependencies {
				dependents[dep] = append(dependents[dep], t.StepID)
			}
		}

		toReset := make(map[string]string)
		for _, d := range directives {
			if _, ok := byStep[d.StepID]; !ok {
				continue
			}
			cascade := d.Cascade == nil || *d.Cascade
			if cascade {
				collectDependents(d.StepID, dependents, toReset, d.Reason)
			} else {
				toReset[d.StepID] = d.Reason
			}
		}

		now := time.Now().UTC()
		for stepID, reason := range toReset {
			t := byStep[stepID]
			status := models.TaskPending
			if len(t.Dependencies) == 0 {
				status = models.TaskReady
			}
			if err := tx.Model(t).Updates(map[string]interface{}{
				"status":      status,
				"claimed_by":  nil,
				"claimed_at":  nil,
				"rework_note": reason,
				"updated_at":  now,
			}).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "resetting task for rework", err)
			}
			if err := tx.Where("task_step_id = ?", t.ID).Delete(&models.Result{}).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "clearing stale result", err)
			}
		}

		if len(toReset) > 0 {
			if err := tx.Model(&models.Workflow{}).Where("workflow_id = ?", workflowID).
				Update("rework_cycles", gorm.Expr("rework_cycles + 1")).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "incrementing rework cycles", err)
			}
		}

		return nil
	})
}

func collectDependents(stepID string, dependents map[string][]string, toReset map[string]string, reason string) {
	if _, ok := toReset[stepID]; ok {
		return
	}
	toReset[stepID] = reason
	for _, child := range dependents[stepID] {
		collectDependents(child, dependents, toReset, reason)
	}
}

// RenewClaim extends claimed_at to now for a task whose claim is still
// held by workerID, backing the worker heartbeat endpoint
// (SPEC_FULL.md §6.4) so a long-running task doesn't trip the claim TTL
// sweep while it's still making progress.
func (s *gormStore) RenewClaim(ctx context.Context, workflowID, stepID, workerID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("workflow_id = ? AND step_id = ? AND status = ? AND claimed_by = ?", workflowID, stepID, models.TaskInProgress, workerID).
		Updates(map[string]interface{}{"claimed_at": now, "updated_at": now})
	if res.Error != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "renewing claim", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierr.New(apierr.ClaimExpired, "no matching active claim to renew")
	}
	return nil
}

// SweepExpiredClaims reopens any IN_PROGRESS task last claimed before
// cutoff (the caller passes time.Now().Add(-claimTTL)), incrementing its
// retry count and failing it outright once MaxRetries is exhausted
// (spec.md §4.5's retry policy). Each returned task still carries the
// ClaimedBy it had before the sweep, so the caller can release that
// worker's file leases.
func (s *gormStore) SweepExpiredClaims(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	var affected []models.Task

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []models.Task
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND claimed_at < ?", models.TaskInProgress, cutoff).
			Find(&expired).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "finding expired claims", err)
		}

		now := time.Now().UTC()
		for i := range expired {
			t := &expired[i]
			retry := t.RetryCount + 1
			updates := map[string]interface{}{
				"claimed_by":  nil,
				"claimed_at":  nil,
				"retry_count": retry,
				"updated_at":  now,
			}
			if retry > t.MaxRetries {
				updates["status"] = models.TaskFailed
				t.Status = models.TaskFailed
			} else {
				updates["status"] = models.TaskReady
				t.Status = models.TaskReady
			}
			if err := tx.Model(&models.Task{}).Where("id = ?", t.ID).Updates(updates).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "sweeping expired claim", err)
			}
			t.RetryCount = retry
			affected = append(affected, *t)
		}
		return nil
	})

	return affected, err
}
