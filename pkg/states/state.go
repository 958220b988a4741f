// Package states defines the contract every workflow state implements and the registry that
// builds states from their declarations.
//
// A state returns either a terminal synchronous response or an asynchronous one naming the
// correlation ids it waits on. The orchestrator suspends the instance and calls
// HandleAsyncResponse once every id was notified; no goroutine blocks while waiting.
package states

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stagehand/pkg/barrier"
	"github.com/dukex/stagehand/pkg/constraint"
	"github.com/dukex/stagehand/pkg/delegate"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/go-playground/validator/v10"
)

type State interface {
	Name() string
	Type() string
	Execute(ctx context.Context, ec *models.ExecutionContext) (*models.ExecutionResponse, error)
	HandleAsyncResponse(
		ctx context.Context, ec *models.ExecutionContext, results map[string]models.ResponseData,
	) (*models.ExecutionResponse, error)
	// HandleAbortEvent releases coordination resources; calling it twice is harmless.
	HandleAbortEvent(ctx context.Context, ec *models.ExecutionContext) error
	TimeoutMillis() int64
	// ValidateFields returns field -> message for every malformed configuration field.
	ValidateFields() map[string]string
}

// Skipper is implemented by states that must account for a path skipping them.
type Skipper interface {
	HandleSkip(ctx context.Context, ec *models.ExecutionContext) error
}

// BranchFailureHandler is implemented by states that must learn a branch failed before
// reaching them.
type BranchFailureHandler interface {
	OnBranchFailure(ctx context.Context, ec *models.ExecutionContext) error
}

// Dependencies is what a factory may hand to the states it creates.
type Dependencies struct {
	Logger      *slog.Logger
	Barriers    *barrier.Coordinator
	Constraints *constraint.Coordinator
	Tasks       delegate.TaskQueue
	Validate    *validator.Validate
	Clock       func() time.Time
}

func (d *Dependencies) Now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}

	return d.Clock()
}

type Factory interface {
	Type() string
	Description() string
	// Schema is the JSON schema of StateSpec.Config; nil accepts any configuration.
	Schema() map[string]any
	DefaultTimeout() time.Duration
	Create(spec models.StateSpec, deps *Dependencies) (State, error)
}

// Base carries the identity every state shares.
type Base struct {
	name          string
	stateType     string
	timeoutMillis int64
}

// NewBase resolves the timeout: the declared one, or the factory default.
func NewBase(spec models.StateSpec, defaultTimeout time.Duration) Base {
	timeout := spec.TimeoutMillis
	if timeout <= 0 {
		timeout = defaultTimeout.Milliseconds()
	}

	return Base{name: spec.Name, stateType: spec.Type, timeoutMillis: timeout}
}

func (b Base) Name() string { return b.name }

func (b Base) Type() string { return b.stateType }

func (b Base) TimeoutMillis() int64 { return b.timeoutMillis }

// DecodeConfig converts a declaration's config map into the state's typed settings.
func DecodeConfig(config map[string]any, target any) error {
	if config == nil {
		config = map[string]any{}
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	return nil
}

// FieldErrors runs struct validation and flattens the result into field -> message.
func FieldErrors(validate *validator.Validate, v any) map[string]string {
	if validate == nil {
		return nil
	}

	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	fields := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		fields["config"] = err.Error()

		return fields
	}

	for _, fieldErr := range validationErrors {
		fields[fieldErr.Field()] = fmt.Sprintf("failed on the '%s' rule", fieldErr.Tag())
	}

	return fields
}

// RequireElement fails with InvalidRequestError when ec lacks the element type.
func RequireElement(state State, ec *models.ExecutionContext, elementType models.ContextElementType) (models.ContextElement, error) {
	element, ok := ec.Element(elementType)
	if !ok {
		return models.ContextElement{}, &models.InvalidRequestError{
			StateName: state.Name(),
			Message:   fmt.Sprintf("required context element %s is missing", elementType),
		}
	}

	return element, nil
}

// DecodeExecutionData reads what the state stored with its last async response.
func DecodeExecutionData(ec *models.ExecutionContext, target any) error {
	if ec.Instance == nil || len(ec.Instance.StateExecutionData) == 0 {
		return nil
	}

	err := json.Unmarshal(ec.Instance.StateExecutionData, target)
	if err != nil {
		return fmt.Errorf("failed to decode state execution data: %w", err)
	}

	return nil
}
