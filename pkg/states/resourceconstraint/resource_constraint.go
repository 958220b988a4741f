// Package resourceconstraint provides the state that holds permits on a shared resource for
// the lifetime of its workflow execution.
package resourceconstraint

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
)

const Type = "RESOURCE_CONSTRAINT"

const DefaultTimeout = 4 * time.Hour

type Config struct {
	ConstraintID string              `json:"constraint_id" validate:"required"`
	Capacity     int                 `json:"capacity"      validate:"gt=0"`
	Permits      int                 `json:"permits"       validate:"gt=0"`
	HoldingScope models.HoldingScope `json:"holding_scope" validate:"oneof=WORKFLOW"`
}

type State struct {
	states.Base

	config Config
	deps   *states.Dependencies
}

func New(spec models.StateSpec, deps *states.Dependencies) (*State, error) {
	config := Config{Permits: 1, HoldingScope: models.HoldingScopeWorkflow}

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
	fields := states.FieldErrors(s.deps.Validate, s.config)

	if s.config.Capacity > 0 && s.config.Permits > s.config.Capacity {
		if fields == nil {
			fields = make(map[string]string)
		}

		fields["permits"] = fmt.Sprintf("must not exceed capacity %d", s.config.Capacity)
	}

	return fields
}

func (s *State) Execute(ctx context.Context, ec *models.ExecutionContext) (*models.ExecutionResponse, error) {
	_, err := s.deps.Constraints.EnsureConstraint(ctx, s.config.ConstraintID, s.config.Capacity)
	if err != nil {
		return nil, err
	}

	state, err := s.deps.Constraints.Register(ctx, models.ConsumerRequest{
		ConstraintID:      s.config.ConstraintID,
		ConsumerID:        ec.StateExecutionInstanceID,
		Permits:           s.config.Permits,
		ReleaseEntityID:   ec.WorkflowExecutionID,
		ReleaseEntityType: s.config.HoldingScope,
	})
	if err != nil {
		return nil, err
	}

	if state == models.ConsumerActive {
		return models.NewSyncResponse(models.StatusSuccess), nil
	}

	return models.NewAsyncResponse(ec.StateExecutionInstanceID), nil
}

func (s *State) HandleAsyncResponse(
	_ context.Context, ec *models.ExecutionContext, results map[string]models.ResponseData,
) (*models.ExecutionResponse, error) {
	result, ok := results[ec.StateExecutionInstanceID]
	if !ok || !result.Status.IsTerminal() {
		return models.NewSyncResponse(models.StatusError).WithMessage("resource constraint resolved without a result"), nil
	}

	return models.NewSyncResponse(result.Status).WithMessage(result.ErrorMessage), nil
}

// HandleAbortEvent gives the consumer's place back, admitting whoever waits behind it.
func (s *State) HandleAbortEvent(ctx context.Context, ec *models.ExecutionContext) error {
	return s.deps.Constraints.Deregister(ctx, s.config.ConstraintID, ec.StateExecutionInstanceID)
}
