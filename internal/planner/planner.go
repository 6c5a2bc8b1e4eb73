// Package planner implements the Planner component (spec.md §4.2): turns
// one user request into a validated task DAG, persisting a deliberately
// degraded single-task plan rather than rejecting the request outright
// when the LLM cannot produce a valid graph within its retry budget.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/eventbus"
	"github.com/maic-labs/mcs/internal/llmgateway"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/logger"
)

type Planner struct {
	gateway *llmgateway.Gateway
	store   store.Store
	bus     *eventbus.Bus
	cfg     *config.Config
	log     *logger.Logger
}

// New builds a Planner. bus may be nil, in which case workflow creation
// is not published to the event log.
func New(gateway *llmgateway.Gateway, st store.Store, bus *eventbus.Bus, cfg *config.Config) *Planner {
	return &Planner{gateway: gateway, store: st, bus: bus, cfg: cfg, log: logger.New("planner", "", "")}
}

// SubmitRequest is the input to Submit: one user request, optionally
// scoped to an existing project, with free-form metadata (spec.md §6's
// "priority" field lives here, advisory-only per the design ledger).
type SubmitRequest struct {
	ProjectID   *string
	UserRequest string
	Metadata    map[string]string
}

// Submit plans, validates, and persists a new Workflow for req, returning
// the created workflow with its tasks loaded.
func (p *Planner) Submit(ctx context.Context, req SubmitRequest) (*models.Workflow, error) {
	if strings.TrimSpace(req.UserRequest) == "" {
		return nil, apierr.New(apierr.Validation, "user_request must not be empty")
	}

	plan, fallbackReason := p.derivePlan(ctx, req.UserRequest)

	workflow := &models.Workflow{
		ID:          uuid.NewString(),
		Name:        workflowName(req.Metadata, req.UserRequest),
		UserRequest: req.UserRequest,
		ProjectID:   req.ProjectID,
		Status:      models.WorkflowPending,
		Metadata:    models.StringMap(req.Metadata),
	}

	tasks := make([]models.Task, 0, len(plan.Tasks))
	for _, pt := range plan.Tasks {
		t := models.Task{
			StepID:       pt.StepID,
			Description:  pt.Description,
			Role:         pt.Role,
			Dependencies: models.StringSlice(pt.Dependencies),
			FileDeps:     pt.FileDependencies,
			MaxRetries:   p.cfg.MaxRetries,
		}
		if fallbackReason != "" {
			t.FallbackReason = &fallbackReason
		}
		tasks = append(tasks, t)
	}

	var project *models.Project
	if req.ProjectID != nil {
		project = &models.Project{ID: *req.ProjectID, Status: models.ProjectPending}
	}

	if err := p.store.CreateWorkflow(ctx, project, workflow, tasks); err != nil {
		return nil, err
	}

	if p.bus != nil {
		p.bus.Publish(ctx, eventbus.DomainEvent{
			WorkflowID: workflow.ID,
			Kind:       eventbus.EventWorkflowPlanned,
			Payload:    map[string]string{"task_count": fmt.Sprintf("%d", len(tasks))},
		})
	}

	return p.store.GetWorkflow(ctx, workflow.ID)
}

// derivePlan asks the LLM Gateway for a task graph and validates it; on
// any validation failure it falls back to a single task covering the
// whole request, annotated with the reason the plan was rejected
// (SPEC_FULL.md §6.5).
func (p *Planner) derivePlan(ctx context.Context, userRequest string) (*models.TaskGraphPlan, string) {
	var plan models.TaskGraphPlan
	err := p.gateway.CompleteJSON(ctx, plannerSystemPrompt(p.cfg.Roles), plannerUserPrompt(userRequest), &plan)
	if err == nil {
		if verr := p.validatePlan(&plan); verr == nil {
			return &plan, ""
		} else {
			p.log.WithError(verr).Warn("planner LLM produced an invalid task graph, falling back")
			return fallbackPlan(userRequest), verr.Error()
		}
	}

	p.log.WithError(err).Warn("planner LLM gateway failed, falling back to single-task plan")
	return fallbackPlan(userRequest), err.Error()
}

func fallbackPlan(userRequest string) *models.TaskGraphPlan {
	return &models.TaskGraphPlan{
		Tasks: []models.PlannedTask{
			{
				StepID:      "step-1",
				Description: userRequest,
				Role:        "analyst",
			},
		},
	}
}

// validatePlan enforces spec.md §4.2's plan validity invariants: unique
// step_ids, a closed dependency set, no cycles, known roles, and known
// lock modes.
func (p *Planner) validatePlan(plan *models.TaskGraphPlan) error {
	if len(plan.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}

	seen := make(map[string]bool, len(plan.Tasks))
	edges := make(map[string][]string, len(plan.Tasks))
	stepIDs := make([]string, 0, len(plan.Tasks))

	for _, t := range plan.Tasks {
		if t.StepID == "" {
			return fmt.Errorf("task has empty step_id")
		}
		if seen[t.StepID] {
			return fmt.Errorf("duplicate step_id %q", t.StepID)
		}
		seen[t.StepID] = true
		stepIDs = append(stepIDs, t.StepID)
		edges[t.StepID] = t.Dependencies
	}

	for _, t := range plan.Tasks {
		if !p.cfg.HasRole(t.Role) {
			return fmt.Errorf("task %q declares unknown role %q", t.StepID, t.Role)
		}
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown step %q", t.StepID, dep)
			}
		}
		for path, mode := range t.FileDependencies {
			if !models.ValidLockMode(string(mode)) {
				return fmt.Errorf("task %q declares unknown lock mode %q for path %q", t.StepID, mode, path)
			}
		}
	}

	if _, err := validateDAG(stepIDs, edges); err != nil {
		return err
	}

	return nil
}

var nonWordRun = regexp.MustCompile(`[^a-z0-9]+`)

// workflowName derives a short slug either from explicit metadata or
// from the leading words of the request, used only for display.
func workflowName(metadata map[string]string, userRequest string) string {
	if name, ok := metadata["workflow_name"]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	lower := strings.ToLower(userRequest)
	slug := nonWordRun.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 60 {
		slug = slug[:60]
	}
	if slug == "" {
		return "workflow"
	}
	return slug
}

func plannerSystemPrompt(roles []string) string {
	return fmt.Sprintf(
		`You are the planning stage of a multi-agent coordination server. Decompose the user's request into a directed acyclic graph of tasks. Respond with ONLY a JSON object of the form {"tasks":[{"step_id":"string","description":"string","role":"one of %s","dependencies":["step_id",...],"file_dependencies":{"path":"read|write|exclusive"}}]}. step_id values must be unique. dependencies must only reference step_ids present in the same response. Do not introduce a cycle.`,
		strings.Join(roles, ", "),
	)
}

func plannerUserPrompt(userRequest string) string {
	return "Request:\n" + userRequest
}
