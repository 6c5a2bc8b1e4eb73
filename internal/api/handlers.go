// Package api implements the API Surface component (spec.md §4.7):
// the gin-based HTTP surface workers and clients use to submit requests,
// poll for work, and report results — grounded on the teacher's
// task_ingestion_service/api package (API struct wrapping a service,
// gin.H JSON error bodies, a RegisterRoutes function), generalized to
// the MCS request/poll/report surface.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/lockmanager"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/planner"
	"github.com/maic-labs/mcs/internal/resulthandler"
	"github.com/maic-labs/mcs/internal/scheduler"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/logger"
)

// API holds the components every handler needs.
type API struct {
	planner       *planner.Planner
	scheduler     *scheduler.Scheduler
	resultHandler *resulthandler.ResultHandler
	store         store.Store
	locks         lockmanager.LockManager
	cfg           *config.Config
	log           *logger.Logger
}

func New(p *planner.Planner, sched *scheduler.Scheduler, rh *resulthandler.ResultHandler, st store.Store, locks lockmanager.LockManager, cfg *config.Config) *API {
	return &API{planner: p, scheduler: sched, resultHandler: rh, store: st, locks: locks, cfg: cfg, log: logger.New("api", "", "")}
}

// writeError maps an apierr.Error (or any other error) to the response
// shape spec.md §6 specifies, using its Kind to pick the status code.
func writeError(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	c.JSON(apierr.HTTPStatus(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}

type submitTaskRequest struct {
	ProjectID   *string           `json:"project_id,omitempty"`
	UserRequest string            `json:"user_request" binding:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SubmitTask handles POST /v1/tasks: plans and persists a new workflow
// for the caller's request.
func (a *API) SubmitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflow, err := a.planner.Submit(c.Request.Context(), planner.SubmitRequest{
		ProjectID:   req.ProjectID,
		UserRequest: req.UserRequest,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, workflow)
}

// PollReady handles GET /v1/tasks/ready: a worker's pull for its next
// unit of work. No task available is a 204, not an error.
func (a *API) PollReady(c *gin.Context) {
	role := c.Query("role")
	workerID := c.Query("worker_id")
	if role == "" || workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role and worker_id query parameters are required"})
		return
	}
	if !a.cfg.HasRole(role) {
		writeError(c, apierr.New(apierr.Validation, fmt.Sprintf("role %q is not in the configured role set", role)))
		return
	}

	task, err := a.scheduler.Dispatch(c.Request.Context(), role, workerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if task == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, task)
}

type reportResultRequest struct {
	WorkflowID    string              `json:"workflow_id" binding:"required"`
	StepID        string              `json:"step_id" binding:"required"`
	WorkerID      string              `json:"worker_id" binding:"required"`
	Success       bool                `json:"success"`
	FinalResult   string              `json:"final_result"`
	Iterations    []models.RAIteration `json:"iterations,omitempty"`
	ExecutionTime float64             `json:"execution_time"`
	Note          string              `json:"note,omitempty"`
}

// ReportResult handles POST /v1/results: a worker's report for a task it
// was previously dispatched.
func (a *API) ReportResult(c *gin.Context) {
	var req reportResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var result *models.Result
	if req.Success {
		result = &models.Result{
			Iterations:    req.Iterations,
			FinalResult:   req.FinalResult,
			SourceWorker:  req.WorkerID,
			ExecutionTime: req.ExecutionTime,
		}
	}

	workflow, err := a.resultHandler.Handle(c.Request.Context(), resulthandler.Report{
		WorkflowID: req.WorkflowID,
		StepID:     req.StepID,
		WorkerID:   req.WorkerID,
		Success:    req.Success,
		Result:     result,
		Note:       req.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, workflow)
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}

// Heartbeat handles POST /v1/tasks/:workflow_id/:step_id/heartbeat
// (SPEC_FULL.md §6.4): a worker renews its claim so a long-running task
// survives the claim TTL sweep.
func (a *API) Heartbeat(c *gin.Context) {
	workflowID := c.Param("workflow_id")
	stepID := c.Param("step_id")

	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.store.RenewClaim(c.Request.Context(), workflowID, stepID, req.WorkerID); err != nil {
		writeError(c, err)
		return
	}

	if a.locks != nil {
		if err := a.locks.Renew(c.Request.Context(), req.WorkerID, stepID); err != nil {
			a.log.WithError(err).Warn("renewing file leases on heartbeat failed")
		}
	}

	c.Status(http.StatusNoContent)
}

// GetWorkflow handles GET /v1/workflows/:id (SPEC_FULL.md §6.1): the
// full task graph with every task's current state and result, used for
// admin inspection.
func (a *API) GetWorkflow(c *gin.Context) {
	workflow, err := a.store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

// GetWorkflowStatus handles GET /v1/workflows/:id/status: the lightweight
// polling surface spec.md §6 describes for a caller that only cares
// about the workflow's current status and artifact.
func (a *API) GetWorkflowStatus(c *gin.Context) {
	workflow, err := a.store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workflow_id": workflow.ID,
		"status":      workflow.Status,
		"artifact":    workflow.Artifact,
	})
}

// GetProject handles GET /v1/projects/:id (SPEC_FULL.md §6.2): a
// project's status plus every workflow submitted under it.
func (a *API) GetProject(c *gin.Context) {
	projectID := c.Param("id")

	project, err := a.store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		writeError(c, err)
		return
	}

	workflows, err := a.store.ListWorkflowsByProject(c.Request.Context(), projectID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project":   project,
		"workflows": workflows,
	})
}

// Health handles GET /health: a liveness probe that never touches the
// store.
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /health/readiness: a readiness probe that
// verifies the store is reachable.
func (a *API) Readiness(c *gin.Context) {
	if err := a.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
