package planner

import (
	"testing"

	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/models"
)

func testPlanner() *Planner {
	cfg := config.Default()
	cfg.Roles = []string{"analyst", "writer"}
	return New(nil, nil, nil, cfg)
}

func TestValidatePlan_RejectsUnknownRole(t *testing.T) {
	p := testPlanner()
	plan := &models.TaskGraphPlan{Tasks: []models.PlannedTask{
		{StepID: "s1", Role: "plumber"},
	}}
	if err := p.validatePlan(plan); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestValidatePlan_RejectsUnknownDependency(t *testing.T) {
	p := testPlanner()
	plan := &models.TaskGraphPlan{Tasks: []models.PlannedTask{
		{StepID: "s1", Role: "analyst", Dependencies: []string{"s2"}},
	}}
	if err := p.validatePlan(plan); err == nil {
		t.Fatal("expected reference to unknown step to be rejected")
	}
}

func TestValidatePlan_RejectsDuplicateStepID(t *testing.T) {
	p := testPlanner()
	plan := &models.TaskGraphPlan{Tasks: []models.PlannedTask{
		{StepID: "s1", Role: "analyst"},
		{StepID: "s1", Role: "writer"},
	}}
	if err := p.validatePlan(plan); err == nil {
		t.Fatal("expected duplicate step_id to be rejected")
	}
}

func TestValidatePlan_RejectsUnknownLockMode(t *testing.T) {
	p := testPlanner()
	plan := &models.TaskGraphPlan{Tasks: []models.PlannedTask{
		{StepID: "s1", Role: "analyst", FileDependencies: models.FileDependencies{"f.txt": "append"}},
	}}
	if err := p.validatePlan(plan); err == nil {
		t.Fatal("expected unknown lock mode to be rejected")
	}
}

func TestValidatePlan_AcceptsValidGraph(t *testing.T) {
	p := testPlanner()
	plan := &models.TaskGraphPlan{Tasks: []models.PlannedTask{
		{StepID: "s1", Role: "analyst"},
		{StepID: "s2", Role: "writer", Dependencies: []string{"s1"}, FileDependencies: models.FileDependencies{"out.md": models.LockWrite}},
	}}
	if err := p.validatePlan(plan); err != nil {
		t.Fatalf("expected valid graph to pass, got: %v", err)
	}
}

func TestWorkflowName_UsesMetadataWhenPresent(t *testing.T) {
	name := workflowName(map[string]string{"workflow_name": "custom-name"}, "build a widget")
	if name != "custom-name" {
		t.Fatalf("expected metadata name to win, got %q", name)
	}
}

func TestWorkflowName_SlugifiesRequest(t *testing.T) {
	name := workflowName(nil, "Build Me A Widget!!")
	if name != "build-me-a-widget" {
		t.Fatalf("unexpected slug: %q", name)
	}
}

func TestFallbackPlan_SingleTask(t *testing.T) {
	plan := fallbackPlan("do the thing")
	if len(plan.Tasks) != 1 || plan.Tasks[0].Description != "do the thing" {
		t.Fatalf("unexpected fallback plan: %+v", plan)
	}
	if plan.Tasks[0].Role != "analyst" {
		t.Fatalf("expected fallback task to use a configured role, got %q", plan.Tasks[0].Role)
	}
}
