package auditor

import (
	"testing"

	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/models"
)

func testAuditor() *Auditor {
	cfg := config.Default()
	cfg.AuditConfidenceThreshold = 0.6
	return &Auditor{cfg: cfg}
}

func TestApplyVerdict_SuccessPassesThrough(t *testing.T) {
	a := testAuditor()
	workflow := &models.Workflow{ID: "wf-1"}
	verdict := &models.AuditVerdict{IsSuccessful: true, Feedback: "looks good", Confidence: 0.9}

	report := a.applyVerdict(workflow, verdict, map[string]bool{"s1": true})
	if !report.IsSuccessful {
		t.Fatal("expected a successful verdict to stay successful")
	}
	if len(report.ReworkDirectives) != 0 {
		t.Fatal("expected no rework directives on a successful verdict")
	}
}

func TestApplyVerdict_DropsUnknownStepDirectives(t *testing.T) {
	a := testAuditor()
	workflow := &models.Workflow{ID: "wf-1"}
	verdict := &models.AuditVerdict{
		IsSuccessful: false,
		Confidence:   0.9,
		ReworkDirectives: []models.ReworkDirective{
			{StepID: "known", Reason: "retry"},
			{StepID: "hallucinated", Reason: "retry"},
		},
	}

	report := a.applyVerdict(workflow, verdict, map[string]bool{"known": true})
	if report.IsSuccessful {
		t.Fatal("expected a failing verdict with one known directive to remain failing")
	}
	if len(report.ReworkDirectives) != 1 || report.ReworkDirectives[0].StepID != "known" {
		t.Fatalf("expected only the known directive to survive, got %+v", report.ReworkDirectives)
	}
}

func TestApplyVerdict_DegradesToSuccessWhenNoDirectivesSurvive(t *testing.T) {
	a := testAuditor()
	workflow := &models.Workflow{ID: "wf-1"}
	verdict := &models.AuditVerdict{
		IsSuccessful: false,
		Confidence:   0.9,
		ReworkDirectives: []models.ReworkDirective{
			{StepID: "hallucinated", Reason: "retry"},
		},
	}

	report := a.applyVerdict(workflow, verdict, map[string]bool{"known": true})
	if !report.IsSuccessful {
		t.Fatal("expected a failing verdict with zero actionable directives to degrade to success")
	}
	if !report.Degraded {
		t.Fatal("expected the degraded flag to be set")
	}
}

func TestApplyVerdict_LowConfidenceSuccessIsDowngraded(t *testing.T) {
	a := testAuditor()
	workflow := &models.Workflow{ID: "wf-1"}
	verdict := &models.AuditVerdict{IsSuccessful: true, Feedback: "looks fine", Confidence: 0.3}

	report := a.applyVerdict(workflow, verdict, map[string]bool{"s1": true, "s2": true})
	if report.IsSuccessful {
		t.Fatal("expected a low-confidence success verdict to be downgraded to failing")
	}
	if report.Degraded {
		t.Fatal("did not expect the degraded flag on a confidence downgrade that still has directives")
	}
	if len(report.ReworkDirectives) != 2 {
		t.Fatalf("expected every known step to be named for rework, got %+v", report.ReworkDirectives)
	}
}

func TestApplyVerdict_HighConfidenceSuccessIsNotDowngraded(t *testing.T) {
	a := testAuditor()
	workflow := &models.Workflow{ID: "wf-1"}
	verdict := &models.AuditVerdict{IsSuccessful: true, Feedback: "looks fine", Confidence: 0.8}

	report := a.applyVerdict(workflow, verdict, map[string]bool{"s1": true})
	if !report.IsSuccessful {
		t.Fatal("expected a confidence above threshold to stay successful")
	}
}

func TestApplyVerdict_FailingVerdictIgnoresConfidenceGate(t *testing.T) {
	a := testAuditor()
	workflow := &models.Workflow{ID: "wf-1"}
	verdict := &models.AuditVerdict{
		IsSuccessful: false,
		Confidence:   0.1,
		ReworkDirectives: []models.ReworkDirective{
			{StepID: "s1", Reason: "bad output"},
		},
	}

	report := a.applyVerdict(workflow, verdict, map[string]bool{"s1": true})
	if report.IsSuccessful {
		t.Fatal("expected an already-failing verdict to remain failing regardless of confidence")
	}
	if len(report.ReworkDirectives) != 1 || report.ReworkDirectives[0].StepID != "s1" {
		t.Fatalf("expected the original directive to survive untouched, got %+v", report.ReworkDirectives)
	}
}
