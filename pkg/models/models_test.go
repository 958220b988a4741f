package models_test

import (
	"errors"
	"testing"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeline() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Name:  "release",
		Start: "build",
		States: []models.StateSpec{
			{Name: "build", Type: "DELEGATE", Next: "deploy", OnFailure: "rollback"},
			{Name: "deploy", Type: "DELEGATE", Next: "verify"},
			{Name: "verify", Type: "VERIFICATION"},
			{Name: "rollback", Type: "DELEGATE"},
		},
	}
}

func TestWorkflowDefinition_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*models.WorkflowDefinition)
		wantErr error
	}{
		{name: "valid", mutate: func(*models.WorkflowDefinition) {}},
		{
			name:    "no states",
			mutate:  func(d *models.WorkflowDefinition) { d.States = nil },
			wantErr: models.ErrEmptyDefinition,
		},
		{
			name: "duplicate state",
			mutate: func(d *models.WorkflowDefinition) {
				d.States = append(d.States, models.StateSpec{Name: "build", Type: "DELEGATE"})
			},
			wantErr: models.ErrDuplicateState,
		},
		{
			name:    "unknown start",
			mutate:  func(d *models.WorkflowDefinition) { d.Start = "package" },
			wantErr: models.ErrUnknownState,
		},
		{
			name:    "unknown failure transition",
			mutate:  func(d *models.WorkflowDefinition) { d.States[1].OnFailure = "page-oncall" },
			wantErr: models.ErrUnknownState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			definition := pipeline()
			tt.mutate(&definition)

			err := definition.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWorkflowDefinition_StructValidation(t *testing.T) {
	t.Parallel()

	validate := validator.New(validator.WithRequiredStructEnabled())

	definition := pipeline()
	require.NoError(t, validate.Struct(definition))

	definition.States[0].Type = ""

	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, validate.Struct(definition), &validationErrors)
	assert.Equal(t, "required", validationErrors[0].Tag())
}

func TestWorkflowDefinition_RemainingPath(t *testing.T) {
	t.Parallel()

	definition := pipeline()

	path := definition.RemainingPath("build")
	require.Len(t, path, 2)
	assert.Equal(t, "deploy", path[0].Name)
	assert.Equal(t, "verify", path[1].Name)

	assert.Empty(t, definition.RemainingPath("verify"))

	delegates := definition.CountStates(func(spec models.StateSpec) bool { return spec.Type == "DELEGATE" })
	assert.Equal(t, 3, delegates)
}

func TestWorkflowDefinition_Reachable(t *testing.T) {
	t.Parallel()

	definition := pipeline()

	assert.Equal(t, map[string]bool{"build": true, "deploy": true, "verify": true, "rollback": true}, definition.Reachable("build"))
	assert.Equal(t, map[string]bool{"deploy": true, "verify": true}, definition.Reachable("deploy"))
	assert.Equal(t, map[string]bool{"rollback": true}, definition.Reachable("rollback"))
	assert.Empty(t, definition.Reachable("missing"))
}

func TestExecutionResponse_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, models.NewSyncResponse(models.StatusSuccess).Validate())
	assert.NoError(t, models.NewAsyncResponse("c1", "c2").Validate())

	assert.ErrorIs(t, models.NewAsyncResponse().Validate(), models.ErrAsyncWithoutCorrelation)
	assert.ErrorIs(t, models.NewSyncResponse(models.StatusWaiting).Validate(), models.ErrSyncNotTerminal)

	response := models.NewErrorResponse(errors.New("boom"))
	assert.Equal(t, models.StatusError, response.Status)
	assert.Equal(t, "boom", response.ErrorMessage)
}

func TestExecutionStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []models.ExecutionStatus{models.StatusSuccess, models.StatusFailed, models.StatusError, models.StatusAborted} {
		assert.True(t, status.IsTerminal(), status)
	}

	for _, status := range []models.ExecutionStatus{models.StatusNew, models.StatusRunning, models.StatusWaiting} {
		assert.False(t, status.IsTerminal(), status)
		assert.True(t, status.IsHealthy(), status)
	}

	assert.Greater(t, models.StatusError.Severity(), models.StatusFailed.Severity())
	assert.Greater(t, models.StatusFailed.Severity(), models.StatusAborted.Severity())
	assert.False(t, models.ExecutionStatus("PAUSED").Valid())
}

func TestExecutionContext_ElementReturnsInnermost(t *testing.T) {
	t.Parallel()

	ec := &models.ExecutionContext{
		WorkflowExecutionID: "exec-1",
		Elements: []models.ContextElement{
			{Type: models.ElementPhase, UUID: "outer"},
			{Type: models.ElementPipelineStage, UUID: "stage-1"},
			{Type: models.ElementPhase, UUID: "inner"},
		},
	}

	element, ok := ec.Element(models.ElementPhase)
	require.True(t, ok)
	assert.Equal(t, "inner", element.UUID)

	_, ok = ec.Element(models.ElementFork)
	assert.False(t, ok)

	assert.Equal(t, "stage-1", ec.PipelineStageElementID())
	assert.Equal(t, "exec-1", ec.ExecutionFamilyID())

	ec.PipelineExecutionID = "pipeline-9"
	assert.Equal(t, "pipeline-9", ec.ExecutionFamilyID())
}

func TestChildInstanceBuilder(t *testing.T) {
	t.Parallel()

	parent := &models.StateExecutionInstance{
		ID:          "parent",
		ExecutionID: "exec-1",
		Elements:    []models.ContextElement{{Type: models.ElementStandard, UUID: "app"}},
	}

	_, err := models.NewChildInstanceBuilder(parent).Build()
	require.ErrorIs(t, err, models.ErrIncompleteChild)

	child, err := models.NewChildInstanceBuilder(parent).
		State("deploy", "DELEGATE").
		Branch(2).
		Element(models.ContextElement{Type: models.ElementFork, UUID: "eu-west"}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "parent", child.ParentInstanceID)
	assert.Equal(t, 2, child.BranchIndex)
	assert.NotEmpty(t, child.NotifyID)
	assert.Equal(t, models.StatusNew, child.Status)
	require.Len(t, child.Elements, 2)
	assert.Equal(t, "eu-west", child.Elements[1].UUID)

	next := models.NewInstance("exec-1", models.StateSpec{Name: "verify", Type: "VERIFICATION"}, child)
	assert.Equal(t, child.NotifyID, next.NotifyID)
	assert.Equal(t, child.ID, next.PrevInstanceID)
	assert.True(t, next.IsBranchRoot())
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	validation := &models.ValidationError{StateName: "gate", Fields: map[string]string{"b": "bad", "a": "missing"}}
	assert.True(t, models.IsValidationError(validation))
	assert.Equal(t, "invalid configuration for state gate: a: missing; b: bad", validation.Error())

	constraintErr := &models.ConstraintError{Op: "register", ConstraintID: "env", Err: errors.New("down")}
	assert.True(t, models.IsConstraintError(constraintErr))
	assert.EqualError(t, errors.Unwrap(constraintErr), "down")

	assert.True(t, models.IsTimeout(&models.TimeoutError{InstanceID: "i"}))
	assert.True(t, models.IsInvalidRequest(&models.InvalidRequestError{StateName: "s"}))
	assert.ErrorIs(t, &models.AbortedByUser{ExecutionID: "e"}, models.ErrAbortedByUser)
	assert.ErrorIs(t, &models.DelegateTaskFailure{TaskType: "deploy", Err: errors.New("x")}, models.ErrDelegateTask)
}
