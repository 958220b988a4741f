package web

import (
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

// CreateExecutionRequest starts a workflow execution. ExecutionID makes the request
// idempotent; one is generated when empty.
type CreateExecutionRequest struct {
	ExecutionID         string                    `json:"execution_id,omitempty"`
	AppID               string                    `json:"app_id"                          validate:"required"`
	PipelineExecutionID string                    `json:"pipeline_execution_id,omitempty"`
	Definition          models.WorkflowDefinition `json:"definition"`
	Elements            []models.ContextElement   `json:"elements,omitempty"              validate:"dive"`
}

type AbortExecutionRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=512"`
}

// NotifyRequest delivers a collaborator result for a correlation id.
type NotifyRequest struct {
	Status       models.ExecutionStatus `json:"status"                  validate:"required,oneof=SUCCESS FAILED ERROR ABORTED RUNNING"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Data         map[string]any         `json:"data,omitempty"`
}

type AcceptedResponse struct {
	ExecutionID   string `json:"execution_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Status        string `json:"status"`
}

type ExecutionResponse struct {
	*models.WorkflowExecution

	Instances []InstanceResponse `json:"instances"`
}

// InstanceResponse leaves out the opaque state execution data.
type InstanceResponse struct {
	ID               string                 `json:"id"`
	StateName        string                 `json:"state_name"`
	StateType        string                 `json:"state_type"`
	Status           models.ExecutionStatus `json:"status"`
	ParentInstanceID string                 `json:"parent_instance_id,omitempty"`
	BranchIndex      int                    `json:"branch_index"`
	CorrelationIDs   []string               `json:"correlation_ids,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ExpiresAt        *time.Time             `json:"expires_at,omitempty"`
	EndedAt          *time.Time             `json:"ended_at,omitempty"`
}

func TransformInstanceResponse(instance *models.StateExecutionInstance) InstanceResponse {
	response := InstanceResponse{
		ID:               instance.ID,
		StateName:        instance.StateName,
		StateType:        instance.StateType,
		Status:           instance.Status,
		ParentInstanceID: instance.ParentInstanceID,
		BranchIndex:      instance.BranchIndex,
		CorrelationIDs:   instance.CorrelationIDs,
		ErrorMessage:     instance.ErrorMessage,
		ExpiresAt:        instance.ExpiresAt,
		EndedAt:          instance.EndedAt,
	}

	return response
}

type ConstraintResponse struct {
	*models.ResourceConstraint

	ActivePermits int                `json:"active_permits"`
	Consumers     []*models.Consumer `json:"consumers"`
}
