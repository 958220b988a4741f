// Package models provides the core domain models of the execution core: responses, state
// execution instances, coordination records and workflow definitions.
package models

// ExecutionStatus is the lifecycle status of a state execution or a workflow execution.
type ExecutionStatus string

const (
	StatusNew     ExecutionStatus = "NEW"
	StatusRunning ExecutionStatus = "RUNNING"
	// StatusWaiting is only ever set by the orchestrator on a suspended instance.
	StatusWaiting ExecutionStatus = "WAITING"
	StatusSuccess ExecutionStatus = "SUCCESS"
	StatusFailed  ExecutionStatus = "FAILED"
	StatusError   ExecutionStatus = "ERROR"
	StatusAborted ExecutionStatus = "ABORTED"
)

// IsTerminal reports whether no further transition is possible out of the status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusError, StatusAborted:
		return true
	default:
		return false
	}
}

// IsHealthy reports whether the status represents a branch that has not failed.
func (s ExecutionStatus) IsHealthy() bool {
	switch s {
	case StatusNew, StatusRunning, StatusWaiting, StatusSuccess:
		return true
	default:
		return false
	}
}

// Severity orders non-success terminal statuses; higher is worse.
func (s ExecutionStatus) Severity() int {
	switch s {
	case StatusError:
		return 3
	case StatusFailed:
		return 2
	case StatusAborted:
		return 1
	default:
		return 0
	}
}

func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusNew, StatusRunning, StatusWaiting, StatusSuccess, StatusFailed, StatusError, StatusAborted:
		return true
	default:
		return false
	}
}
