// Package fork provides the state that runs several branches in parallel and joins them.
package fork

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
)

const Type = "FORK"

// DefaultTimeout is long because the fork outlives every branch it spawns.
const DefaultTimeout = 24 * time.Hour

type Branch struct {
	State string `json:"state" validate:"required"`
	// Element is published into the branch context, e.g. the host a branch deploys to.
	Element *models.ContextElement `json:"element,omitempty"`
}

type Config struct {
	Branches []Branch `json:"branches" validate:"required,min=1,dive"`
}

type branchRef struct {
	Index      int    `json:"index"`
	State      string `json:"state"`
	InstanceID string `json:"instance_id"`
	NotifyID   string `json:"notify_id"`
}

type executionData struct {
	Branches []branchRef `json:"branches"`
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

// Execute spawns one child per branch and waits on every child's notify id.
func (s *State) Execute(ctx context.Context, ec *models.ExecutionContext) (*models.ExecutionResponse, error) {
	if ec.Instance == nil || ec.Workflow == nil {
		return nil, &models.InvalidRequestError{StateName: s.Name(), Message: "fork requires its instance and workflow"}
	}

	children := make([]*models.StateExecutionInstance, 0, len(s.config.Branches))
	data := executionData{Branches: make([]branchRef, 0, len(s.config.Branches))}
	notifyIDs := make([]string, 0, len(s.config.Branches))

	for i, branch := range s.config.Branches {
		spec, ok := ec.Workflow.State(branch.State)
		if !ok {
			return nil, &models.InvalidRequestError{
				StateName: s.Name(),
				Message:   fmt.Sprintf("branch %d starts at unknown state %s", i, branch.State),
			}
		}

		builder := models.NewChildInstanceBuilder(ec.Instance).
			State(spec.Name, spec.Type).
			Branch(i).
			Element(models.ContextElement{
				Type: models.ElementFork,
				UUID: ec.Instance.ID,
				Name: s.Name(),
				Data: map[string]any{"branch_index": i},
			})

		if branch.Element != nil {
			builder = builder.Elements(*branch.Element)
		}

		child, err := builder.Build()
		if err != nil {
			return nil, err
		}

		children = append(children, child)
		notifyIDs = append(notifyIDs, child.NotifyID)
		data.Branches = append(data.Branches, branchRef{
			Index:      i,
			State:      spec.Name,
			InstanceID: child.ID,
			NotifyID:   child.NotifyID,
		})
	}

	response, err := models.NewAsyncResponse(notifyIDs...).WithData(data)
	if err != nil {
		return nil, err
	}

	response.SpawnInstances = children

	s.deps.Logger.InfoContext(ctx, "Forking branches", "state", s.Name(), "instance_id", ec.Instance.ID, "branches", len(children))

	return response, nil
}

// HandleAsyncResponse succeeds when every branch succeeded; otherwise it reports the most
// severe branch status, the lowest branch index winning ties.
func (s *State) HandleAsyncResponse(
	_ context.Context, ec *models.ExecutionContext, results map[string]models.ResponseData,
) (*models.ExecutionResponse, error) {
	var data executionData

	err := states.DecodeExecutionData(ec, &data)
	if err != nil {
		return nil, err
	}

	sort.Slice(data.Branches, func(i, j int) bool { return data.Branches[i].Index < data.Branches[j].Index })

	var (
		worst      *branchRef
		worstData  models.ResponseData
		notifyData []models.ContextElement
	)

	for i := range data.Branches {
		branch := &data.Branches[i]

		result, ok := results[branch.NotifyID]
		if !ok {
			result = models.ResponseData{Status: models.StatusError, ErrorMessage: "branch reported no result"}
		}

		if result.Status == models.StatusSuccess {
			notifyData = append(notifyData, models.ContextElement{
				Type: models.ElementFork,
				UUID: branch.InstanceID,
				Name: branch.State,
				Data: result.Data,
			})

			continue
		}

		if worst == nil || rank(result.Status) > rank(worstData.Status) {
			worst, worstData = branch, result
		}
	}

	if worst == nil {
		return models.NewSyncResponse(models.StatusSuccess).WithNotifyElements(notifyData...), nil
	}

	status := worstData.Status
	if !status.IsTerminal() {
		status = models.StatusFailed
	}

	message := "branch " + strconv.Itoa(worst.Index) + " (" + worst.State + ") finished " + string(worstData.Status)
	if worstData.ErrorMessage != "" {
		message += ": " + worstData.ErrorMessage
	}

	return models.NewSyncResponse(status).WithMessage(message), nil
}

// HandleAbortEvent has nothing to release; the children are aborted with the execution.
func (s *State) HandleAbortEvent(context.Context, *models.ExecutionContext) error {
	return nil
}

// rank orders non-success statuses: ERROR > FAILED > ABORTED > anything else.
func rank(status models.ExecutionStatus) int {
	return status.Severity() + 1
}
