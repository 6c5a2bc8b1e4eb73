package models

// ProjectStatus and WorkflowStatus share the same closed set per spec.md §3.
type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "PENDING"
	ProjectInProgress ProjectStatus = "IN_PROGRESS"
	ProjectCompleted  ProjectStatus = "COMPLETED"
	ProjectFailed     ProjectStatus = "FAILED"
)

type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "PENDING"
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowFailed     WorkflowStatus = "FAILED"
)

// TaskStatus is the state-machine enumeration from spec.md §4.5.
type TaskStatus string

const (
	TaskPending     TaskStatus = "PENDING"
	TaskReady       TaskStatus = "READY"
	TaskInProgress  TaskStatus = "IN_PROGRESS"
	TaskCompleted   TaskStatus = "COMPLETED"
	TaskFailed      TaskStatus = "FAILED"
)

// LockMode is one of the three file-access modes a task may declare.
type LockMode string

const (
	LockRead      LockMode = "read"
	LockWrite     LockMode = "write"
	LockExclusive LockMode = "exclusive"
)

// ValidLockMode reports whether m is one of the recognized modes.
func ValidLockMode(m string) bool {
	switch LockMode(m) {
	case LockRead, LockWrite, LockExclusive:
		return true
	}
	return false
}

// Compatible implements the §4.3 compatibility matrix: whether a
// requester in mode `want` may be granted a lease on a path already held
// by a holder in mode `have`.
func Compatible(have, want LockMode) bool {
	return have == LockRead && want == LockRead
}
