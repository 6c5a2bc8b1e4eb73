package resulthandler

import (
	"strings"
	"testing"

	"github.com/maic-labs/mcs/internal/models"
)

func task(stepID string, deps []string, result string) models.Task {
	t := models.Task{StepID: stepID, Dependencies: deps}
	if result != "" {
		t.Result = &models.Result{FinalResult: result}
	}
	return t
}

func TestTopologicalOrder_RespectsDependencies(t *testing.T) {
	tasks := []models.Task{
		task("c", []string{"a", "b"}, "c-result"),
		task("a", nil, "a-result"),
		task("b", []string{"a"}, "b-result"),
	}
	order := topologicalOrder(tasks)
	if len(order) != 3 {
		t.Fatalf("expected 3 tasks in order, got %d", len(order))
	}
	pos := make(map[string]int, 3)
	for i, tk := range order {
		pos[tk.StepID] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("expected order a,b,c; got %v", order)
	}
}

func TestTopologicalOrder_FallsBackOnUnresolvedGraph(t *testing.T) {
	tasks := []models.Task{
		task("x", []string{"y"}, ""),
		task("y", []string{"x"}, ""),
	}
	order := topologicalOrder(tasks)
	if len(order) != 2 {
		t.Fatalf("expected fallback to return every task, got %d", len(order))
	}
}

func TestSynthesizeArtifact_ConcatenatesInOrder(t *testing.T) {
	tasks := []models.Task{
		task("b", []string{"a"}, "second"),
		task("a", nil, "first"),
	}
	artifact := synthesizeArtifact(tasks)
	if !strings.Contains(artifact, "## a") || !strings.Contains(artifact, "## b") {
		t.Fatalf("expected both step headers in artifact, got: %s", artifact)
	}
	if strings.Index(artifact, "## a") > strings.Index(artifact, "## b") {
		t.Fatalf("expected step a before step b in artifact, got: %s", artifact)
	}
}

func TestSynthesizeArtifact_SkipsTasksWithoutResult(t *testing.T) {
	tasks := []models.Task{
		task("a", nil, ""),
		task("b", []string{"a"}, "only result"),
	}
	artifact := synthesizeArtifact(tasks)
	if strings.Contains(artifact, "## a") {
		t.Fatalf("expected task without a result to be skipped, got: %s", artifact)
	}
	if !strings.Contains(artifact, "only result") {
		t.Fatalf("expected task b's result present, got: %s", artifact)
	}
}
