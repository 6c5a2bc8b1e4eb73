package planner

import (
	"fmt"
	"strings"
)

// validateDAG runs Kahn's algorithm over stepIDs with edges[step] = the
// steps it depends on, returning a valid execution order or an error
// naming a cycle — adapted from the maestro example pack's
// internal/plan.ValidateTaskDAG, generalized from phase/task blocked_by
// edges to this server's task dependency edges.
func validateDAG(stepIDs []string, edges map[string][]string) ([]string, error) {
	if len(stepIDs) == 0 {
		return nil, nil
	}

	nodeSet := make(map[string]bool, len(stepIDs))
	for _, n := range stepIDs {
		nodeSet[n] = true
	}

	inDegree := make(map[string]int, len(stepIDs))
	forward := make(map[string][]string)
	for _, n := range stepIDs {
		inDegree[n] = 0
	}

	for node, deps := range edges {
		for _, dep := range deps {
			if !nodeSet[dep] {
				continue
			}
			inDegree[node]++
			forward[dep] = append(forward[dep], node)
		}
	}

	var queue []string
	for _, n := range stepIDs {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range forward[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) == len(stepIDs) {
		return sorted, nil
	}

	cyclePath := findCyclePath(stepIDs, edges, inDegree)
	return nil, fmt.Errorf("circular dependency detected: %s", strings.Join(cyclePath, " -> "))
}

func findCyclePath(stepIDs []string, edges map[string][]string, inDegree map[string]int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int)
	parent := make(map[string]string)
	var cyclePath []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		for _, dep := range edges[node] {
			if color[dep] == gray {
				cyclePath = []string{dep}
				current := node
				for current != dep {
					cyclePath = append(cyclePath, current)
					current = parent[current]
				}
				cyclePath = append(cyclePath, dep)
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true
			}
			if color[dep] == white {
				parent[dep] = node
				if dfs(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for _, n := range stepIDs {
		if inDegree[n] > 0 && color[n] == white {
			if dfs(n) {
				return cyclePath
			}
		}
	}

	return []string{"(cycle detected)"}
}
