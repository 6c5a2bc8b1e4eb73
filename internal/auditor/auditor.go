// Package auditor implements the Auditor component (spec.md §4.6): an
// LLM-judged review of a completed workflow's results, deciding whether
// to finalize it or send named steps back for rework.
package auditor

import (
	"context"
	"fmt"
	"strings"

	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/llmgateway"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/logger"
)

type Auditor struct {
	gateway *llmgateway.Gateway
	store   store.Store
	cfg     *config.Config
	log     *logger.Logger
}

func New(gateway *llmgateway.Gateway, st store.Store, cfg *config.Config) *Auditor {
	return &Auditor{gateway: gateway, store: st, cfg: cfg, log: logger.New("auditor", "", "")}
}

// Audit judges workflow's completed tasks and returns the AuditReport it
// persisted. It never returns an error for an LLM failure: per spec.md
// §9's AuditFailure policy, an auditor that cannot reach a verdict
// defaults to accepting the workflow as successful, flagged Degraded so
// operators can find it in the log.
func (a *Auditor) Audit(ctx context.Context, workflow *models.Workflow, tasks []models.Task) (*models.AuditReport, error) {
	log := logger.New("auditor", workflow.ID, "")

	stepIDs := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		stepIDs[t.StepID] = true
	}

	var verdict models.AuditVerdict
	err := a.gateway.CompleteJSON(ctx, auditSystemPrompt(), auditUserPrompt(workflow, tasks), &verdict)

	var report *models.AuditReport
	if err != nil {
		log.WithError(err).Warn("audit gateway exhausted retries, defaulting to success")
		report = &models.AuditReport{
			WorkflowID:   workflow.ID,
			IsSuccessful: true,
			Feedback:     "audit could not be completed: " + err.Error(),
			Confidence:   a.cfg.AuditConfidenceThreshold,
			Degraded:     true,
		}
	} else {
		report = a.applyVerdict(workflow, &verdict, stepIDs)
	}

	cycles, countErr := a.store.CountAuditReports(ctx, workflow.ID)
	if countErr == nil && !report.IsSuccessful && cycles >= a.cfg.MaxReworkCycles {
		log.Info("max rework cycles reached, forcing finalization")
		report.IsSuccessful = true
		report.Degraded = true
		report.ReworkDirectives = nil
		report.Feedback = fmt.Sprintf("%s (forced finalization after %d rework cycles)", report.Feedback, cycles)
	}

	if err := a.store.SaveAuditReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// applyVerdict converts a raw AuditVerdict into a persistable AuditReport,
// dropping any rework directive naming a step_id outside this workflow's
// graph (the LLM can hallucinate a step name). A failing verdict whose
// directives all get dropped this way has nothing actionable left to send
// back for rework, so it degrades to success rather than looping forever.
//
// A verdict that claims success but falls below the configured confidence
// threshold is downgraded to failing (spec.md §4.7): a low-confidence
// "success" must not finalize the workflow.
func (a *Auditor) applyVerdict(workflow *models.Workflow, verdict *models.AuditVerdict, stepIDs map[string]bool) *models.AuditReport {
	isSuccessful := verdict.IsSuccessful
	feedback := verdict.Feedback
	lowConfidence := isSuccessful && verdict.Confidence < a.cfg.AuditConfidenceThreshold

	if lowConfidence {
		isSuccessful = false
		if !strings.Contains(strings.ToLower(feedback), "low confidence") {
			feedback = fmt.Sprintf("%s (low confidence: %.2f below threshold %.2f)", feedback, verdict.Confidence, a.cfg.AuditConfidenceThreshold)
		}
	}

	report := &models.AuditReport{
		WorkflowID:   workflow.ID,
		IsSuccessful: isSuccessful,
		Feedback:     feedback,
		Confidence:   verdict.Confidence,
	}

	if isSuccessful {
		return report
	}

	directives := make([]models.ReworkDirective, 0, len(verdict.ReworkDirectives))
	for _, d := range verdict.ReworkDirectives {
		if stepIDs[d.StepID] {
			directives = append(directives, d)
		}
	}

	// A verdict downgraded for low confidence carries no rework directives
	// of its own (the LLM believed it was reporting a success) — without
	// something to act on, the workflow must still go back for rework
	// rather than finalize, so every step is named.
	if len(directives) == 0 && lowConfidence {
		for stepID := range stepIDs {
			directives = append(directives, models.ReworkDirective{StepID: stepID, Reason: feedback})
		}
	}

	if len(directives) == 0 {
		report.IsSuccessful = true
		report.Degraded = true
		report.Feedback = report.Feedback + " (no actionable rework directives named a known step; finalizing)"
		return report
	}

	report.ReworkDirectives = directives
	return report
}

func auditSystemPrompt() string {
	return `You are the audit stage of a multi-agent coordination server. Given a workflow's original request and the results each of its steps produced, decide whether the workflow satisfies the request. Respond with ONLY a JSON object of the form {"is_successful":bool,"feedback":"string","rework_directives":[{"step_id":"string","reason":"string","cascade":bool}],"confidence":number between 0 and 1}. Only include rework_directives when is_successful is false, and only name step_ids that appear below.`
}

func auditUserPrompt(workflow *models.Workflow, tasks []models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request:\n%s\n\nStep results:\n", workflow.UserRequest)
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s (%s): ", t.StepID, t.Status)
		if t.Result != nil {
			fmt.Fprintf(&b, "%s\n", t.Result.FinalResult)
		} else {
			b.WriteString("(no result)\n")
		}
	}
	return b.String()
}
