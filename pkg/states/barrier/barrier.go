// Package barrier provides the state that aligns parallel branches at a named rendezvous.
package barrier

import (
	"context"
	"time"

	barriers "github.com/dukex/stagehand/pkg/barrier"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
)

const Type = "BARRIER"

const DefaultTimeout = 4 * time.Hour

type Config struct {
	Identifier string `json:"identifier"         validate:"required"`
	// Expected overrides the participant count derived from the definition.
	Expected int `json:"expected,omitempty" validate:"omitempty,gt=0"`
}

type executionData struct {
	BarrierID string `json:"barrier_id"`
}

type State struct {
	states.Base

	config Config
	deps   *states.Dependencies
}

var (
	_ states.Skipper              = (*State)(nil)
	_ states.BranchFailureHandler = (*State)(nil)
)

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
	barrier, err := s.arrive(ctx, ec, barriers.Arrival{InstanceID: ec.StateExecutionInstanceID, Healthy: true, Wait: true})
	if err != nil {
		return nil, err
	}

	switch barrier.State {
	case models.BarrierDown:
		return models.NewSyncResponse(models.StatusSuccess), nil
	case models.BarrierEndure:
		return models.NewSyncResponse(models.StatusFailed).WithMessage(models.EndureMessage), nil
	default:
		return models.NewAsyncResponse(barriers.CorrelationID(barrier.ID, ec.StateExecutionInstanceID)).
			WithData(executionData{BarrierID: barrier.ID})
	}
}

func (s *State) HandleAsyncResponse(
	_ context.Context, ec *models.ExecutionContext, results map[string]models.ResponseData,
) (*models.ExecutionResponse, error) {
	var data executionData

	err := states.DecodeExecutionData(ec, &data)
	if err != nil {
		return nil, err
	}

	result, ok := results[barriers.CorrelationID(data.BarrierID, ec.StateExecutionInstanceID)]
	if !ok {
		return models.NewSyncResponse(models.StatusError).WithMessage("barrier resolved without a result"), nil
	}

	status := result.Status
	if !status.IsTerminal() {
		status = models.StatusFailed
	}

	return models.NewSyncResponse(status).WithMessage(result.ErrorMessage), nil
}

// HandleAbortEvent keeps the arrival: a counted participant is never revoked.
func (s *State) HandleAbortEvent(context.Context, *models.ExecutionContext) error {
	return nil
}

// HandleSkip counts a skipped path as arrived without parking it.
func (s *State) HandleSkip(ctx context.Context, ec *models.ExecutionContext) error {
	_, err := s.arrive(ctx, ec, barriers.Arrival{InstanceID: ec.StateExecutionInstanceID, Healthy: true})

	return err
}

// OnBranchFailure makes the barrier endure because its branch will never reach it.
func (s *State) OnBranchFailure(ctx context.Context, ec *models.ExecutionContext) error {
	_, err := s.arrive(ctx, ec, barriers.Arrival{InstanceID: ec.StateExecutionInstanceID})

	return err
}

func (s *State) arrive(ctx context.Context, ec *models.ExecutionContext, arrival barriers.Arrival) (*models.BarrierInstance, error) {
	key := models.BarrierKey{
		AppID:                  ec.AppID,
		PipelineStageElementID: ec.PipelineStageElementID(),
		ExecutionFamilyID:      ec.ExecutionFamilyID(),
		Identifier:             s.config.Identifier,
	}

	barrier, err := s.deps.Barriers.FindOrCreate(ctx, key, s.expected(ec))
	if err != nil {
		return nil, err
	}

	return s.deps.Barriers.Update(ctx, barrier.ID, arrival)
}

func (s *State) expected(ec *models.ExecutionContext) int {
	if s.config.Expected > 0 {
		return s.config.Expected
	}

	if ec.Workflow == nil {
		return 1
	}

	count := ec.Workflow.CountStates(func(spec models.StateSpec) bool {
		return spec.Type == Type && spec.Config["identifier"] == s.config.Identifier
	})

	return max(count, 1)
}
