package models

// ContextElementType scopes a ContextElement on the execution context stack.
type ContextElementType string

const (
	ElementStandard      ContextElementType = "STANDARD"
	ElementParam         ContextElementType = "PARAM"
	ElementPhase         ContextElementType = "PHASE"
	ElementInstance      ContextElementType = "INSTANCE"
	ElementPipelineStage ContextElementType = "PIPELINE_STAGE"
	ElementFork          ContextElementType = "FORK"
)

// ContextElement is a typed piece of data published into the execution context.
type ContextElement struct {
	Type ContextElementType `json:"type"           validate:"required"`
	UUID string             `json:"uuid"           validate:"required"`
	Name string             `json:"name,omitempty"`
	Data map[string]any     `json:"data,omitempty"`
}

// ExecutionContext is the read-only view of a running instance handed to a state.
type ExecutionContext struct {
	AppID                    string                  `json:"app_id"`
	WorkflowExecutionID      string                  `json:"workflow_execution_id"`
	PipelineExecutionID      string                  `json:"pipeline_execution_id,omitempty"`
	StateExecutionInstanceID string                  `json:"state_execution_instance_id"`
	Elements                 []ContextElement        `json:"elements,omitempty"`
	Workflow                 *WorkflowDefinition     `json:"-"`
	Instance                 *StateExecutionInstance `json:"-"`
}

// Element returns the innermost element of the given type.
func (c *ExecutionContext) Element(elementType ContextElementType) (ContextElement, bool) {
	for i := len(c.Elements) - 1; i >= 0; i-- {
		if c.Elements[i].Type == elementType {
			return c.Elements[i], true
		}
	}

	return ContextElement{}, false
}

// ExecutionFamilyID groups every workflow execution run on behalf of the same pipeline.
func (c *ExecutionContext) ExecutionFamilyID() string {
	if c.PipelineExecutionID != "" {
		return c.PipelineExecutionID
	}

	return c.WorkflowExecutionID
}

func (c *ExecutionContext) PipelineStageElementID() string {
	element, ok := c.Element(ElementPipelineStage)
	if !ok {
		return ""
	}

	return element.UUID
}
