// Package resulthandler implements the Result Handler component
// (spec.md §4.6): absorbs a worker's report for one task, advances the
// state machine, and — once a workflow's every task has COMPLETED — hands
// the whole workflow to the Auditor and applies whatever it decides.
package resulthandler

import (
	"context"
	"fmt"
	"strings"

	"github.com/maic-labs/mcs/internal/auditor"
	"github.com/maic-labs/mcs/internal/eventbus"
	"github.com/maic-labs/mcs/internal/lockmanager"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/scheduler"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/logger"
)

type ResultHandler struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	locks     lockmanager.LockManager
	auditor   *auditor.Auditor
	bus       *eventbus.Bus
	log       *logger.Logger
}

// New builds a ResultHandler. bus may be nil, in which case transitions
// are not published to the event log.
func New(st store.Store, sched *scheduler.Scheduler, locks lockmanager.LockManager, aud *auditor.Auditor, bus *eventbus.Bus) *ResultHandler {
	return &ResultHandler{store: st, scheduler: sched, locks: locks, auditor: aud, bus: bus, log: logger.New("resulthandler", "", "")}
}

// Report is what a worker posts back for a claimed task.
type Report struct {
	WorkflowID string
	StepID     string
	WorkerID   string
	Success    bool
	Result     *models.Result
	Note       string
}

// Handle absorbs report, releases the task's file leases, promotes any
// newly-unblocked downstream tasks, and — if the workflow just reached
// COMPLETED — runs the audit and applies its verdict. A workflow that
// reaches FAILED is not audited. It
// returns the workflow as it stands once every synchronous step
// completes.
func (h *ResultHandler) Handle(ctx context.Context, report Report) (*models.Workflow, error) {
	var wfStatus models.WorkflowStatus
	var err error

	eventKind := eventbus.EventTaskFailed
	if report.Success {
		eventKind = eventbus.EventTaskCompleted
		wfStatus, err = h.store.RecordResult(ctx, report.WorkflowID, report.StepID, report.WorkerID, report.Result, models.TaskCompleted)
	} else {
		_, wfStatus, err = h.store.RecordFailure(ctx, report.WorkflowID, report.StepID, report.WorkerID, report.Note)
	}
	if err != nil {
		return nil, err
	}
	if h.bus != nil {
		h.bus.Publish(ctx, eventbus.DomainEvent{WorkflowID: report.WorkflowID, TaskStepID: report.StepID, Kind: eventKind})
	}

	if err := h.locks.Release(ctx, report.WorkerID, report.StepID); err != nil {
		h.log.WithError(err).Warn("failed to release file leases after report")
	}

	if _, err := h.scheduler.Promote(ctx, report.WorkflowID); err != nil {
		return nil, err
	}
	if wfStatus, err = h.store.CasUpdateStatuses(ctx, report.WorkflowID); err != nil {
		return nil, err
	}

	if wfStatus == models.WorkflowCompleted || wfStatus == models.WorkflowFailed {
		if h.bus != nil {
			kind := eventbus.EventWorkflowFailed
			if wfStatus == models.WorkflowCompleted {
				kind = eventbus.EventWorkflowCompleted
			}
			h.bus.Publish(ctx, eventbus.DomainEvent{WorkflowID: report.WorkflowID, Kind: kind})
		}
	}

	if wfStatus == models.WorkflowCompleted {
		if err := h.runAudit(ctx, report.WorkflowID); err != nil {
			return nil, err
		}
	}

	return h.store.GetWorkflow(ctx, report.WorkflowID)
}

// runAudit is deliberately outside the transaction RecordResult/
// RecordFailure runs in: an LLM call has no business holding a database
// row lock for however long the provider takes to respond. Its verdict
// is applied in its own follow-on transaction via ResetTasksForRework or
// SetWorkflowArtifact.
func (h *ResultHandler) runAudit(ctx context.Context, workflowID string) error {
	workflow, err := h.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	report, err := h.auditor.Audit(ctx, workflow, workflow.Tasks)
	if err != nil {
		return err
	}
	if h.bus != nil {
		h.bus.Publish(ctx, eventbus.DomainEvent{
			WorkflowID: workflowID,
			Kind:       eventbus.EventAuditRecorded,
			Payload:    map[string]string{"is_successful": fmt.Sprintf("%t", report.IsSuccessful)},
		})
	}

	if report.IsSuccessful {
		artifact := synthesizeArtifact(workflow.Tasks)
		if err := h.store.SetWorkflowArtifact(ctx, workflowID, artifact); err != nil {
			return err
		}
		return nil
	}

	if err := h.store.ResetTasksForRework(ctx, workflowID, report.ReworkDirectives); err != nil {
		return err
	}
	if h.bus != nil {
		for _, d := range report.ReworkDirectives {
			h.bus.Publish(ctx, eventbus.DomainEvent{WorkflowID: workflowID, TaskStepID: d.StepID, Kind: eventbus.EventTaskReset, Payload: map[string]string{"reason": d.Reason}})
		}
	}
	if _, err := h.scheduler.Promote(ctx, workflowID); err != nil {
		return err
	}
	_, err = h.store.CasUpdateStatuses(ctx, workflowID)
	return err
}

// synthesizeArtifact concatenates each task's final result in dependency
// order, so the workflow's artifact reads as a coherent narrative rather
// than an arbitrarily ordered dump.
func synthesizeArtifact(tasks []models.Task) string {
	order := topologicalOrder(tasks)

	var b strings.Builder
	for _, t := range order {
		if t.Result == nil {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", t.StepID, t.Result.FinalResult)
	}
	return strings.TrimSpace(b.String())
}

// topologicalOrder is Kahn's algorithm over the already-validated task
// graph; a cycle can't occur here since the Planner rejected one before
// persisting the workflow, so a best-effort fallback to input order is
// all the non-nil-result case needs if in-degree bookkeeping ever leaves
// tasks unresolved.
func topologicalOrder(tasks []models.Task) []models.Task {
	byStep := make(map[string]models.Task, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	forward := make(map[string][]string)

	for _, t := range tasks {
		byStep[t.StepID] = t
		if _, ok := inDegree[t.StepID]; !ok {
			inDegree[t.StepID] = 0
		}
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			inDegree[t.StepID]++
			forward[dep] = append(forward[dep], t.StepID)
		}
	}

	var queue []string
	for step, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, step)
		}
	}

	var ordered []models.Task
	seen := make(map[string]bool, len(tasks))
	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]
		if seen[step] {
			continue
		}
		seen[step] = true
		ordered = append(ordered, byStep[step])
		for _, dependent := range forward[step] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(tasks) {
		return tasks
	}
	return ordered
}
