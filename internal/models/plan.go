package models

// PlannedTask is one element of the array the Planner LLM schema must
// produce (spec.md §6 "Planner LLM schema").
type PlannedTask struct {
	StepID          string           `json:"step_id"`
	Description     string           `json:"description"`
	Role            string           `json:"role"`
	Dependencies    []string         `json:"dependencies"`
	FileDependencies FileDependencies `json:"file_dependencies,omitempty"`
}

// TaskGraphPlan is the full schema-validated output of a planning prompt.
type TaskGraphPlan struct {
	Tasks []PlannedTask `json:"tasks"`
}
