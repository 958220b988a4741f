package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrAsyncWithoutCorrelation = errors.New("async response requires at least one correlation id")
	ErrSyncNotTerminal         = errors.New("sync response requires a terminal status")
)

// ResponseData is what a collaborator delivers for a correlation id.
type ResponseData struct {
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Data         map[string]any  `json:"data,omitempty"`
}

// ExecutionResponse is the envelope a state returns from Execute and HandleAsyncResponse.
type ExecutionResponse struct {
	Status             ExecutionStatus           `json:"status"`
	Async              bool                      `json:"async"`
	CorrelationIDs     []string                  `json:"correlation_ids,omitempty"`
	StateExecutionData json.RawMessage           `json:"state_execution_data,omitempty"`
	ContextElements    []ContextElement          `json:"context_elements,omitempty"`
	NotifyElements     []ContextElement          `json:"notify_elements,omitempty"`
	ErrorMessage       string                    `json:"error_message,omitempty"`
	SpawnInstances     []*StateExecutionInstance `json:"spawn_instances,omitempty"`
}

// NewSyncResponse returns a terminal, synchronous response.
func NewSyncResponse(status ExecutionStatus) *ExecutionResponse {
	return &ExecutionResponse{Status: status}
}

// NewAsyncResponse returns a RUNNING response waiting on the given correlation ids.
func NewAsyncResponse(correlationIDs ...string) *ExecutionResponse {
	return &ExecutionResponse{
		Status:         StatusRunning,
		Async:          true,
		CorrelationIDs: correlationIDs,
	}
}

// NewErrorResponse converts an error raised by a state into a terminal ERROR response.
func NewErrorResponse(err error) *ExecutionResponse {
	return &ExecutionResponse{
		Status:       StatusError,
		ErrorMessage: err.Error(),
	}
}

func (r *ExecutionResponse) WithMessage(message string) *ExecutionResponse {
	r.ErrorMessage = message

	return r
}

// WithData marshals v as the opaque state execution data.
func (r *ExecutionResponse) WithData(v any) (*ExecutionResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state execution data: %w", err)
	}

	r.StateExecutionData = data

	return r, nil
}

func (r *ExecutionResponse) WithContextElements(elements ...ContextElement) *ExecutionResponse {
	r.ContextElements = append(r.ContextElements, elements...)

	return r
}

func (r *ExecutionResponse) WithNotifyElements(elements ...ContextElement) *ExecutionResponse {
	r.NotifyElements = append(r.NotifyElements, elements...)

	return r
}

// Validate enforces the envelope invariants.
func (r *ExecutionResponse) Validate() error {
	if r.Async {
		if len(r.CorrelationIDs) == 0 {
			return ErrAsyncWithoutCorrelation
		}

		return nil
	}

	if !r.Status.IsTerminal() {
		return fmt.Errorf("%w: got %s", ErrSyncNotTerminal, r.Status)
	}

	return nil
}
