package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyDefinition = errors.New("workflow definition has no states")
	ErrUnknownState    = errors.New("unknown state")
	ErrDuplicateState  = errors.New("duplicate state name")
)

// StateSpec declares one state of a workflow graph.
type StateSpec struct {
	Name            string             `json:"name"                       yaml:"name"                       validate:"required"`
	Type            string             `json:"type"                       yaml:"type"                       validate:"required"`
	Config          map[string]any     `json:"config,omitempty"           yaml:"config,omitempty"`
	Next            string             `json:"next,omitempty"             yaml:"next,omitempty"`
	OnFailure       string             `json:"on_failure,omitempty"       yaml:"on_failure,omitempty"`
	Skip            bool               `json:"skip,omitempty"             yaml:"skip,omitempty"`
	RequiredElement ContextElementType `json:"required_element,omitempty" yaml:"required_element,omitempty"`
	TimeoutMillis   int64              `json:"timeout_millis,omitempty"   yaml:"timeout_millis,omitempty"`
}

// WorkflowDefinition is a graph of states linked by Next and OnFailure transitions.
type WorkflowDefinition struct {
	Name   string      `json:"name"   yaml:"name"   validate:"required"`
	Start  string      `json:"start"  yaml:"start"  validate:"required"`
	States []StateSpec `json:"states" yaml:"states" validate:"required,min=1,dive"`
}

func (d *WorkflowDefinition) State(name string) (StateSpec, bool) {
	for _, spec := range d.States {
		if spec.Name == name {
			return spec, true
		}
	}

	return StateSpec{}, false
}

// CountStates returns how many declared states match.
func (d *WorkflowDefinition) CountStates(match func(StateSpec) bool) int {
	count := 0

	for _, spec := range d.States {
		if match(spec) {
			count++
		}
	}

	return count
}

// RemainingPath returns the states reached through Next transitions after the named state.
func (d *WorkflowDefinition) RemainingPath(from string) []StateSpec {
	var path []StateSpec

	seen := map[string]bool{from: true}

	current, ok := d.State(from)
	for ok && current.Next != "" && !seen[current.Next] {
		seen[current.Next] = true

		current, ok = d.State(current.Next)
		if ok {
			path = append(path, current)
		}
	}

	return path
}

// Reachable returns the names of the states reachable from the named state, itself
// included, through both Next and OnFailure transitions.
func (d *WorkflowDefinition) Reachable(from string) map[string]bool {
	reached := make(map[string]bool)
	queue := []string{from}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		spec, ok := d.State(name)
		if !ok || reached[name] {
			continue
		}

		reached[name] = true

		queue = append(queue, spec.Next, spec.OnFailure)
	}

	return reached
}

// Validate checks the graph references.
func (d *WorkflowDefinition) Validate() error {
	if len(d.States) == 0 {
		return ErrEmptyDefinition
	}

	names := make(map[string]bool, len(d.States))
	for _, spec := range d.States {
		if names[spec.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateState, spec.Name)
		}

		names[spec.Name] = true
	}

	if !names[d.Start] {
		return fmt.Errorf("%w: start state %s", ErrUnknownState, d.Start)
	}

	for _, spec := range d.States {
		for _, target := range []string{spec.Next, spec.OnFailure} {
			if target != "" && !names[target] {
				return fmt.Errorf("%w: %s referenced by %s", ErrUnknownState, target, spec.Name)
			}
		}
	}

	return nil
}

// WorkflowExecution is one run of a WorkflowDefinition.
type WorkflowExecution struct {
	ID                  string             `json:"id"`
	AppID               string             `json:"app_id"`
	PipelineExecutionID string             `json:"pipeline_execution_id,omitempty"`
	Definition          WorkflowDefinition `json:"definition"`
	Elements            []ContextElement   `json:"elements,omitempty"`
	Status              ExecutionStatus    `json:"status"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	EndedAt             *time.Time         `json:"ended_at,omitempty"`
	Version             int64              `json:"version"`
}
