package planner

import "testing"

func TestValidateDAG_Acyclic(t *testing.T) {
	edges := map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a", "b"},
	}
	order, err := validateDAG([]string{"a", "b", "c"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("expected topological order a,b,c; got %v", order)
	}
}

func TestValidateDAG_DetectsCycle(t *testing.T) {
	edges := map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}
	_, err := validateDAG([]string{"a", "b", "c"}, edges)
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
}

func TestValidateDAG_SelfReferenceIsCycle(t *testing.T) {
	edges := map[string][]string{"a": {"a"}}
	_, err := validateDAG([]string{"a"}, edges)
	if err == nil {
		t.Fatal("expected self-reference to be reported as a cycle")
	}
}

func TestValidateDAG_EmptyGraph(t *testing.T) {
	order, err := validateDAG(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Fatalf("expected nil order for empty graph, got %v", order)
	}
}
