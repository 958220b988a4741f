// Package delegate provides the generic state handing one task to an external collaborator
// and waiting for its result.
package delegate

import (
	"context"
	"fmt"
	"time"

	queue "github.com/dukex/stagehand/pkg/delegate"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/template"
)

const Type = "DELEGATE"

const DefaultTimeout = time.Hour

type Config struct {
	TaskType   string         `json:"task_type"            validate:"required"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type executionData struct {
	TaskID        string `json:"task_id"`
	CorrelationID string `json:"correlation_id"`
}

type State struct {
	states.Base

	config Config
	deps   *states.Dependencies
}

func New(spec models.StateSpec, deps *states.Dependencies) (*State, error) {
	var config Config

	err := states.DecodeConfig(spec.Config, &config)
	if err != nil {
		return nil, err
	}

	return &State{
		Base:   states.NewBase(spec, DefaultTimeout),
		config: config,
		deps:   deps,
	}, nil
}

func (s *State) ValidateFields() map[string]string {
	return states.FieldErrors(s.deps.Validate, s.config)
}

func (s *State) Execute(ctx context.Context, ec *models.ExecutionContext) (*models.ExecutionResponse, error) {
	task, err := Dispatch(ctx, s.deps.Tasks, s.config.TaskType, s.config.Parameters, ec)
	if err != nil {
		return nil, err
	}

	return models.NewAsyncResponse(task.CorrelationID).
		WithData(executionData{TaskID: task.ID, CorrelationID: task.CorrelationID})
}

func (s *State) HandleAsyncResponse(
	_ context.Context, ec *models.ExecutionContext, results map[string]models.ResponseData,
) (*models.ExecutionResponse, error) {
	var data executionData

	err := states.DecodeExecutionData(ec, &data)
	if err != nil {
		return nil, err
	}

	result, ok := results[data.CorrelationID]
	if !ok {
		return models.NewSyncResponse(models.StatusError).WithMessage("delegate task resolved without a result"), nil
	}

	status := result.Status
	if !status.IsTerminal() {
		status = models.StatusFailed
	}

	response := models.NewSyncResponse(status).WithMessage(result.ErrorMessage)
	if len(result.Data) > 0 {
		response = response.WithNotifyElements(models.ContextElement{
			Type: models.ElementStandard,
			UUID: data.TaskID,
			Name: s.Name(),
			Data: result.Data,
		})
	}

	return response, nil
}

// HandleAbortEvent has nothing to release; the orchestrator cancels the wait.
func (s *State) HandleAbortEvent(context.Context, *models.ExecutionContext) error {
	return nil
}

// Dispatch renders the parameters and queues one task for the instance behind ec.
func Dispatch(
	ctx context.Context, tasks queue.TaskQueue, taskType string, parameters map[string]any, ec *models.ExecutionContext,
) (*models.DelegateTask, error) {
	rendered, err := template.RenderParameters(parameters, ec)
	if err != nil {
		return nil, &models.DelegateTaskFailure{TaskType: taskType, Err: fmt.Errorf("failed to render parameters: %w", err)}
	}

	task := queue.NewTask(taskType, ec, rendered)

	err = tasks.Enqueue(ctx, task)
	if err != nil {
		return nil, &models.DelegateTaskFailure{TaskType: taskType, Err: err}
	}

	return task, nil
}
