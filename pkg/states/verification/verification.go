// Package verification provides the template for states that watch a deployment through an
// external collaborator for a fixed duration.
//
// Each round dispatches one check task. A terminal result ends the state with that status;
// a non-terminal one means the check is still healthy, so the state dispatches the next
// round until the duration elapsed and then succeeds.
package verification

import (
	"context"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/states/delegate"
)

const Type = "VERIFICATION"

// DefaultTimeout is added to the verification duration.
const DefaultTimeout = time.Hour

type Config struct {
	TaskType       string         `json:"task_type"            validate:"required"`
	DurationMillis int64          `json:"duration_millis"      validate:"gt=0"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

type executionData struct {
	TaskID        string    `json:"task_id"`
	CorrelationID string    `json:"correlation_id"`
	Round         int       `json:"round"`
	StartedAt     time.Time `json:"started_at"`
	Deadline      time.Time `json:"deadline"`
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

	defaultTimeout := DefaultTimeout + time.Duration(config.DurationMillis)*time.Millisecond

	return &State{
		Base:   states.NewBase(spec, defaultTimeout),
		config: config,
		deps:   deps,
	}, nil
}

func (s *State) ValidateFields() map[string]string {
	fields := states.FieldErrors(s.deps.Validate, s.config)

	if s.config.DurationMillis > 0 && s.TimeoutMillis() <= s.config.DurationMillis {
		if fields == nil {
			fields = make(map[string]string)
		}

		fields["duration_millis"] = "must be shorter than the state timeout"
	}

	return fields
}

func (s *State) Execute(ctx context.Context, ec *models.ExecutionContext) (*models.ExecutionResponse, error) {
	now := s.deps.Now()

	return s.dispatch(ctx, ec, executionData{
		StartedAt: now,
		Deadline:  now.Add(time.Duration(s.config.DurationMillis) * time.Millisecond),
	})
}

func (s *State) HandleAsyncResponse(
	ctx context.Context, ec *models.ExecutionContext, results map[string]models.ResponseData,
) (*models.ExecutionResponse, error) {
	var data executionData

	err := states.DecodeExecutionData(ec, &data)
	if err != nil {
		return nil, err
	}

	result, ok := results[data.CorrelationID]
	if !ok {
		return models.NewSyncResponse(models.StatusError).WithMessage("verification resolved without a result"), nil
	}

	if result.Status.IsTerminal() {
		return models.NewSyncResponse(result.Status).WithMessage(result.ErrorMessage), nil
	}

	if !s.deps.Now().Before(data.Deadline) {
		s.deps.Logger.InfoContext(ctx, "Verification period elapsed",
			"state", s.Name(),
			"instance_id", ec.StateExecutionInstanceID,
			"rounds", data.Round,
		)

		return models.NewSyncResponse(models.StatusSuccess), nil
	}

	return s.dispatch(ctx, ec, data)
}

// HandleAbortEvent has nothing to release; the orchestrator cancels the wait.
func (s *State) HandleAbortEvent(context.Context, *models.ExecutionContext) error {
	return nil
}

func (s *State) dispatch(ctx context.Context, ec *models.ExecutionContext, data executionData) (*models.ExecutionResponse, error) {
	task, err := delegate.Dispatch(ctx, s.deps.Tasks, s.config.TaskType, s.config.Parameters, ec)
	if err != nil {
		return nil, err
	}

	data.TaskID = task.ID
	data.CorrelationID = task.CorrelationID
	data.Round++

	return models.NewAsyncResponse(task.CorrelationID).WithData(data)
}
