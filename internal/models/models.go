// Package models defines the MCS persisted entities: Project, Workflow,
// Task, Result, AuditReport, FileLock, and the supplemented EventLogEntry.
// These are GORM models; JSON tags describe the wire format used by the
// API surface (spec.md §6), which is intentionally not identical to the
// storage column names.
package models

import "time"

// Project is spec.md §3's optional grouping above a Workflow.
type Project struct {
	ID        string        `gorm:"primaryKey;column:project_id" json:"project_id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

func (Project) TableName() string { return "projects" }

// StringMap is a small map[string]string persisted as JSON, used for
// Workflow.Metadata and similar free-form fields. GORM's serializer tag
// handles the marshal/unmarshal at the driver boundary.
type StringMap map[string]string

// FileDependencies maps a declared path (literal or glob) to the access
// mode a task requires on it.
type FileDependencies map[string]LockMode

// Workflow is spec.md §3's TaskGraph: one user request, one DAG of tasks.
type Workflow struct {
	ID          string         `gorm:"primaryKey;column:workflow_id" json:"workflow_id"`
	Name        string         `json:"name"`
	UserRequest string         `json:"user_request"`
	ProjectID   *string        `json:"project_id,omitempty"`
	Status      WorkflowStatus `json:"status"`
	Metadata    StringMap      `gorm:"serializer:json" json:"metadata,omitempty"`
	Artifact    string         `gorm:"type:text" json:"artifact,omitempty"`
	ReworkCycles int           `json:"rework_cycles"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Tasks []Task `gorm:"foreignKey:WorkflowID" json:"tasks,omitempty"`
}

func (Workflow) TableName() string { return "workflows" }

// Task is spec.md §3's TaskStep: a single node in a Workflow's DAG.
type Task struct {
	// StepID is unique within a workflow, not globally; WorkflowID+StepID
	// is the natural key, but a synthetic primary key keeps GORM's default
	// associations simple.
	ID           string           `gorm:"primaryKey;column:id" json:"-"`
	WorkflowID   string           `gorm:"column:workflow_id;index:idx_workflow_status_role_updated,priority:1" json:"workflow_id"`
	StepID       string           `gorm:"column:step_id" json:"step_id"`
	Description  string           `json:"description"`
	Role         string           `gorm:"index:idx_workflow_status_role_updated,priority:3" json:"role"`
	Dependencies StringSlice      `gorm:"serializer:json" json:"dependencies"`
	FileDeps     FileDependencies `gorm:"serializer:json;column:file_dependencies" json:"file_dependencies,omitempty"`
	Status       TaskStatus       `gorm:"index:idx_workflow_status_role_updated,priority:2" json:"status"`
	ClaimedBy    *string          `json:"claimed_by,omitempty"`
	ClaimedAt    *time.Time       `json:"claimed_at,omitempty"`
	RetryCount   int              `json:"retry_count"`
	MaxRetries   int              `json:"max_retries"`
	ReworkNote   *string          `json:"rework_note,omitempty"`
	FallbackReason *string        `json:"fallback_reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `gorm:"index:idx_workflow_status_role_updated,priority:4" json:"updated_at"`

	Result *Result `gorm:"foreignKey:TaskID" json:"result,omitempty"`
}

func (Task) TableName() string { return "tasks" }

// StringSlice is a []string persisted as JSON.
type StringSlice []string

// RAIteration is one thought/action/observation record produced during a
// worker's reasoning-acting loop (spec.md GLOSSARY).
type RAIteration struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Result is at most one successful result per task (plus its RA history).
type Result struct {
	ID            string        `gorm:"primaryKey" json:"-"`
	TaskID        string        `gorm:"column:task_step_id;uniqueIndex" json:"task_step_id"`
	Iterations    []RAIteration `gorm:"serializer:json" json:"iterations,omitempty"`
	FinalResult   string        `gorm:"type:text" json:"final_result"`
	SourceWorker  string        `json:"source_worker"`
	ExecutionTime float64       `json:"execution_time"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (Result) TableName() string { return "results" }

// ReworkDirective names one step to reset and the audit's reason why.
type ReworkDirective struct {
	StepID   string `json:"step_id"`
	Reason   string `json:"reason"`
	Cascade  *bool  `json:"cascade,omitempty"`
}

// AuditReport is one per completion attempt (append-only, never mutated).
type AuditReport struct {
	ID               string            `gorm:"primaryKey" json:"-"`
	WorkflowID       string            `gorm:"column:workflow_id;index" json:"workflow_id"`
	IsSuccessful     bool              `json:"is_successful"`
	Feedback         string            `gorm:"type:text" json:"feedback"`
	ReworkDirectives []ReworkDirective `gorm:"serializer:json" json:"rework_directives,omitempty"`
	Confidence       float64           `json:"confidence"`
	Degraded         bool              `json:"degraded"` // true when AuditFailure policy substituted a default verdict
	CreatedAt        time.Time         `json:"created_at"`
}

func (AuditReport) TableName() string { return "audit_reports" }

// FileLock is an active lease row (spec.md §3/§4.3).
type FileLock struct {
	ID           string    `gorm:"primaryKey" json:"-"`
	Path         string    `gorm:"column:path;index:idx_filelock_path" json:"path"`
	HolderWorker string    `gorm:"column:holder_worker_id" json:"holder_worker_id"`
	TaskStepID   string    `json:"task_step_id"`
	Mode         LockMode  `json:"mode"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (FileLock) TableName() string { return "file_locks" }

// EventLogEntry is the supplemented append-only domain event record
// (SPEC_FULL.md §6.3), populated by the Event Bus subscriber.
type EventLogEntry struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	WorkflowID string    `gorm:"index" json:"workflow_id"`
	TaskStepID string    `json:"task_step_id,omitempty"`
	Kind       string    `json:"kind"`
	Payload    StringMap `gorm:"serializer:json" json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (EventLogEntry) TableName() string { return "event_log" }
