package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/models"
)

// CreateWorkflow persists a project (if new), a workflow, and its full task
// set in one transaction, then marks every dependency-free task READY.
// The caller (Planner) is responsible for DAG validation; CreateWorkflow
// re-validates dependency closure as a last line of defense before commit.
func (s *gormStore) CreateWorkflow(ctx context.Context, project *models.Project, workflow *models.Workflow, tasks []models.Task) error {
	if err := validateDependencyClosure(tasks); err != nil {
		return apierr.Wrap(apierr.Validation, "invalid task graph", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if project != nil {
			if err := tx.Clauses().FirstOrCreate(project, models.Project{ID: project.ID}).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "upserting project", err)
			}
		}

		if err := tx.Create(workflow).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "creating workflow", err)
		}

		for i := range tasks {
			t := &tasks[i]
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			t.WorkflowID = workflow.ID
		}

		for _, t := range tasks {
			if len(t.Dependencies) == 0 {
				t.Status = models.TaskReady
			} else {
				t.Status = models.TaskPending
			}
			if err := tx.Create(&t).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "creating task", err)
			}
		}

		return nil
	})
}

// validateDependencyClosure rejects a task graph referencing a dependency
// step_id absent from the graph, and rejects duplicate step_ids.
func validateDependencyClosure(tasks []models.Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.StepID] {
			return fmt.Errorf("duplicate step_id %q", t.StepID)
		}
		seen[t.StepID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown step %q", t.StepID, dep)
			}
		}
	}
	return nil
}

func (s *gormStore) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var wf models.Workflow
	err := s.db.WithContext(ctx).Preload("Tasks").Preload("Tasks.Result").First(&wf, "workflow_id = ?", workflowID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.New(apierr.NotFound, "workflow not found")
		}
		return nil, apierr.Wrap(apierr.StoreUnavailable, "loading workflow", err)
	}
	return &wf, nil
}

func (s *gormStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var p models.Project
	err := s.db.WithContext(ctx).First(&p, "project_id = ?", projectID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierr.New(apierr.NotFound, "project not found")
		}
		return nil, apierr.Wrap(apierr.StoreUnavailable, "loading project", err)
	}
	return &p, nil
}

func (s *gormStore) ListWorkflowsByProject(ctx context.Context, projectID string) ([]models.Workflow, error) {
	var wfs []models.Workflow
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&wfs).Error; err != nil {
		return nil, apierr.Wrap(apierr.StoreUnavailable, "listing workflows", err)
	}
	return wfs, nil
}

func (s *gormStore) SaveAuditReport(ctx context.Context, report *models.AuditReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "saving audit report", err)
	}
	return nil
}

func (s *gormStore) CountAuditReports(ctx context.Context, workflowID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.AuditReport{}).Where("workflow_id = ?", workflowID).Count(&n).Error; err != nil {
		return 0, apierr.Wrap(apierr.StoreUnavailable, "counting audit reports", err)
	}
	return int(n), nil
}

// CasUpdateStatuses recomputes the Workflow's status from its tasks'
// statuses (spec.md §3: IN_PROGRESS while any task is not terminal,
// COMPLETED when all tasks are COMPLETED, FAILED when any task is FAILED
// and no PENDING/READY/IN_PROGRESS task remains), and cascades the
// result to the owning Project when one exists. The whole recompute runs
// in a transaction so a concurrent RecordResult cannot race it.
func (s *gormStore) CasUpdateStatuses(ctx context.Context, workflowID string) (models.WorkflowStatus, error) {
	var newStatus models.WorkflowStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wf models.Workflow
		if err := tx.Clauses().First(&wf, "workflow_id = ?", workflowID).Error; err != nil {
			return apierr.Wrap(apierr.NotFound, "workflow not found", err)
		}

		var tasks []models.Task
		if err := tx.Where("workflow_id = ?", workflowID).Find(&tasks).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "loading tasks", err)
		}

		newStatus = computeWorkflowStatus(tasks)
		if newStatus != wf.Status {
			if err := tx.Model(&wf).Update("status", newStatus).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "updating workflow status", err)
			}
		}

		if wf.ProjectID != nil {
			if err := cascadeProjectStatus(tx, *wf.ProjectID); err != nil {
				return err
			}
		}

		return nil
	})

	return newStatus, err
}

// SetWorkflowArtifact records the synthesized final output the Result
// Handler assembles once a workflow's audit finalizes it.
func (s *gormStore) SetWorkflowArtifact(ctx context.Context, workflowID, artifact string) error {
	err := s.db.WithContext(ctx).Model(&models.Workflow{}).
		Where("workflow_id = ?", workflowID).
		Update("artifact", artifact).Error
	if err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "setting workflow artifact", err)
	}
	return nil
}

func computeWorkflowStatus(tasks []models.Task) models.WorkflowStatus {
	if len(tasks) == 0 {
		return models.WorkflowCompleted
	}
	allCompleted := true
	anyFailed := false
	anyActive := false
	for _, t := range tasks {
		switch t.Status {
		case models.TaskCompleted:
		case models.TaskFailed:
			anyFailed = true
			allCompleted = false
		default:
			allCompleted = false
			anyActive = true
		}
	}
	switch {
	case allCompleted:
		return models.WorkflowCompleted
	case anyFailed && !anyActive:
		return models.WorkflowFailed
	default:
		return models.WorkflowInProgress
	}
}

func cascadeProjectStatus(tx *gorm.DB, projectID string) error {
	var wfs []models.Workflow
	if err := tx.Where("project_id = ?", projectID).Find(&wfs).Error; err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "loading project workflows", err)
	}

	allCompleted := true
	anyFailed := false
	anyActive := false
	for _, w := range wfs {
		switch w.Status {
		case models.WorkflowCompleted:
		case models.WorkflowFailed:
			anyFailed = true
			allCompleted = false
		default:
			allCompleted = false
			anyActive = true
		}
	}

	var status models.ProjectStatus
	switch {
	case allCompleted:
		status = models.ProjectCompleted
	case anyFailed && !anyActive:
		status = models.ProjectFailed
	case anyActive:
		status = models.ProjectInProgress
	default:
		status = models.ProjectPending
	}

	return tx.Model(&models.Project{}).Where("project_id = ?", projectID).Update("status", status).Error
}
