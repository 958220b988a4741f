package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// StateExecutionInstance is one running occurrence of a state.
type StateExecutionInstance struct {
	ID                 string           `json:"id"`
	ExecutionID        string           `json:"execution_id"`
	StateName          string           `json:"state_name"`
	StateType          string           `json:"state_type"`
	Status             ExecutionStatus  `json:"status"`
	ParentInstanceID   string           `json:"parent_instance_id,omitempty"`
	PrevInstanceID     string           `json:"prev_instance_id,omitempty"`
	NotifyID           string           `json:"notify_id,omitempty"`
	BranchIndex        int              `json:"branch_index"`
	ContextElement     *ContextElement  `json:"context_element,omitempty"`
	Elements           []ContextElement `json:"elements,omitempty"`
	StateExecutionData json.RawMessage  `json:"state_execution_data,omitempty"`
	CorrelationIDs     []string         `json:"correlation_ids,omitempty"`
	WaitID             string           `json:"wait_id,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	TimeoutMillis      int64            `json:"timeout_millis"`
	CreatedAt          time.Time        `json:"created_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	EndedAt            *time.Time       `json:"ended_at,omitempty"`
	Version            int64            `json:"version"`
}

// IsBranchRoot reports whether the instance ends its chain by notifying a parent.
func (i *StateExecutionInstance) IsBranchRoot() bool {
	return i.NotifyID != ""
}

// NewInstance creates the instance that runs stateName right after prev (nil for the first state).
func NewInstance(executionID string, spec StateSpec, prev *StateExecutionInstance) *StateExecutionInstance {
	instance := &StateExecutionInstance{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StateName:   spec.Name,
		StateType:   spec.Type,
		Status:      StatusNew,
		CreatedAt:   time.Now().UTC(),
	}

	if prev != nil {
		// the chain keeps the branch identity of its first instance
		instance.PrevInstanceID = prev.ID
		instance.ParentInstanceID = prev.ParentInstanceID
		instance.NotifyID = prev.NotifyID
		instance.BranchIndex = prev.BranchIndex
		instance.ContextElement = prev.ContextElement
		instance.Elements = append([]ContextElement(nil), prev.Elements...)
	}

	return instance
}

var ErrIncompleteChild = errors.New("child instance requires execution id, state name and parent id")

// ChildInstanceBuilder constructs a fork child from an explicit description of what the
// child inherits; nothing else is carried over from the parent.
type ChildInstanceBuilder struct {
	executionID string
	parentID    string
	stateName   string
	stateType   string
	notifyID    string
	branchIndex int
	element     *ContextElement
	elements    []ContextElement
}

func NewChildInstanceBuilder(parent *StateExecutionInstance) *ChildInstanceBuilder {
	return &ChildInstanceBuilder{
		executionID: parent.ExecutionID,
		parentID:    parent.ID,
		elements:    append([]ContextElement(nil), parent.Elements...),
	}
}

func (b *ChildInstanceBuilder) State(name, stateType string) *ChildInstanceBuilder {
	b.stateName = name
	b.stateType = stateType

	return b
}

func (b *ChildInstanceBuilder) NotifyID(id string) *ChildInstanceBuilder {
	b.notifyID = id

	return b
}

func (b *ChildInstanceBuilder) Branch(index int) *ChildInstanceBuilder {
	b.branchIndex = index

	return b
}

func (b *ChildInstanceBuilder) Element(element ContextElement) *ChildInstanceBuilder {
	b.element = &element

	return b
}

// Elements appends elements published to the child before it starts.
func (b *ChildInstanceBuilder) Elements(elements ...ContextElement) *ChildInstanceBuilder {
	b.elements = append(b.elements, elements...)

	return b
}

func (b *ChildInstanceBuilder) Build() (*StateExecutionInstance, error) {
	if b.executionID == "" || b.stateName == "" || b.parentID == "" {
		return nil, ErrIncompleteChild
	}

	notifyID := b.notifyID
	if notifyID == "" {
		notifyID = uuid.New().String()
	}

	elements := b.elements
	if b.element != nil {
		elements = append(elements, *b.element)
	}

	return &StateExecutionInstance{
		ID:               uuid.New().String(),
		ExecutionID:      b.executionID,
		StateName:        b.stateName,
		StateType:        b.stateType,
		Status:           StatusNew,
		ParentInstanceID: b.parentID,
		NotifyID:         notifyID,
		BranchIndex:      b.branchIndex,
		ContextElement:   b.element,
		Elements:         elements,
		CreatedAt:        time.Now().UTC(),
	}, nil
}
