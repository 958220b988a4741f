package states_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoConfig struct {
	Message string `json:"message" validate:"required"`
	Repeat  int    `json:"repeat"  validate:"omitempty,lte=3"`
}

type echoState struct {
	states.Base

	config echoConfig
	deps   *states.Dependencies
}

func (s *echoState) Execute(context.Context, *models.ExecutionContext) (*models.ExecutionResponse, error) {
	return models.NewSyncResponse(models.StatusSuccess), nil
}

func (s *echoState) HandleAsyncResponse(
	context.Context, *models.ExecutionContext, map[string]models.ResponseData,
) (*models.ExecutionResponse, error) {
	return models.NewSyncResponse(models.StatusSuccess), nil
}

func (s *echoState) HandleAbortEvent(context.Context, *models.ExecutionContext) error {
	return nil
}

func (s *echoState) ValidateFields() map[string]string {
	return states.FieldErrors(s.deps.Validate, s.config)
}

type echoFactory struct{}

func (f *echoFactory) Type() string                  { return "ECHO" }
func (f *echoFactory) Description() string           { return "echoes" }
func (f *echoFactory) DefaultTimeout() time.Duration { return time.Minute }

func (f *echoFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
			"repeat":  map[string]any{"type": "integer"},
		},
	}
}

func (f *echoFactory) Create(spec models.StateSpec, deps *states.Dependencies) (states.State, error) {
	var config echoConfig

	err := states.DecodeConfig(spec.Config, &config)
	if err != nil {
		return nil, err
	}

	return &echoState{Base: states.NewBase(spec, f.DefaultTimeout()), config: config, deps: deps}, nil
}

func newRegistry() *states.Registry {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	registry := states.NewRegistry(logger, &states.Dependencies{Logger: logger, Validate: states.NewValidator()})
	registry.Register(&echoFactory{})

	return registry
}

func TestRegistry_Create(t *testing.T) {
	t.Parallel()

	registry := newRegistry()

	tests := []struct {
		name      string
		spec      models.StateSpec
		wantErr   error
		wantField string
	}{
		{
			name: "valid",
			spec: models.StateSpec{Name: "say", Type: "ECHO", Config: map[string]any{"message": "hi"}},
		},
		{
			name:    "unknown type",
			spec:    models.StateSpec{Name: "say", Type: "SHOUT"},
			wantErr: states.ErrUnknownStateType,
		},
		{
			name:      "schema violation",
			spec:      models.StateSpec{Name: "say", Type: "ECHO", Config: map[string]any{"message": 42}},
			wantErr:   models.ErrValidation,
			wantField: "message",
		},
		{
			name:      "field validation",
			spec:      models.StateSpec{Name: "say", Type: "ECHO", Config: map[string]any{"message": "hi", "repeat": 9}},
			wantErr:   models.ErrValidation,
			wantField: "repeat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state, err := registry.Create(tt.spec)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "say", state.Name())
				assert.Equal(t, time.Minute.Milliseconds(), state.TimeoutMillis())

				return
			}

			require.ErrorIs(t, err, tt.wantErr)

			if tt.wantField != "" {
				validationErr, ok := err.(*models.ValidationError)
				require.True(t, ok)
				assert.Contains(t, validationErr.Fields, tt.wantField)
			}
		})
	}
}

func TestRegistry_DeclaredTimeoutWins(t *testing.T) {
	t.Parallel()

	state, err := newRegistry().Create(models.StateSpec{
		Name: "say", Type: "ECHO", TimeoutMillis: 500, Config: map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), state.TimeoutMillis())
}

func TestRegistry_ValidateDefinition(t *testing.T) {
	t.Parallel()

	registry := newRegistry()

	valid := &models.WorkflowDefinition{
		Name:  "greet",
		Start: "a",
		States: []models.StateSpec{
			{Name: "a", Type: "ECHO", Config: map[string]any{"message": "hi"}, Next: "b"},
			{Name: "b", Type: "ECHO", Config: map[string]any{"message": "bye"}},
		},
	}
	require.NoError(t, registry.ValidateDefinition(valid))

	broken := &models.WorkflowDefinition{
		Name:   "greet",
		Start:  "a",
		States: []models.StateSpec{{Name: "a", Type: "ECHO", Next: "missing", Config: map[string]any{"message": "hi"}}},
	}
	require.ErrorIs(t, registry.ValidateDefinition(broken), models.ErrUnknownState)
}

func TestRegistry_LoadPluginsWithoutDirectory(t *testing.T) {
	t.Parallel()

	registry := newRegistry()

	require.NoError(t, registry.LoadPlugins(t.TempDir()))
	assert.Equal(t, []string{"ECHO"}, registry.Types())
}
