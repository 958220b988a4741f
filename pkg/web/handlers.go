// Package web provides the HTTP surface of stagehand: starting and aborting executions,
// delivering notify results and inspecting coordination records.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/stagehand/pkg/eventbus"
	"github.com/dukex/stagehand/pkg/events"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const (
	statusRequested = "REQUESTED"
	statusAccepted  = "ACCEPTED"
)

// APIHandlers only reads stores; every command is published for the workers to apply.
type APIHandlers struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
	apiID       string
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		publisher:   publisher,
		validator:   validator,
		logger:      logger.With("module", "web"),
		apiID:       "api-" + uuid.New().String(),
	}
}

func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	var req CreateExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := req.Definition.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if req.ExecutionID == "" {
		req.ExecutionID = uuid.New().String()
	}

	err := h.publisher.Publish(c.Context(), req.ExecutionID, events.ExecutionRequested{
		BaseEvent:           events.NewBaseEvent(events.ExecutionRequestedEvent, h.apiID),
		ExecutionID:         req.ExecutionID,
		AppID:               req.AppID,
		PipelineExecutionID: req.PipelineExecutionID,
		Definition:          req.Definition,
		Elements:            req.Elements,
	})
	if err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Execution requested",
		"execution_id", req.ExecutionID,
		"workflow_name", req.Definition.Name,
	)

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{
		ExecutionID: req.ExecutionID,
		Status:      statusRequested,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.persistence.ExecutionRepository().ExecutionByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	instances, err := h.persistence.InstanceRepository().InstancesByExecution(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	response := ExecutionResponse{
		WorkflowExecution: execution,
		Instances:         make([]InstanceResponse, 0, len(instances)),
	}

	for _, instance := range instances {
		response.Instances = append(response.Instances, TransformInstanceResponse(instance))
	}

	return c.JSON(response)
}

// AbortExecution answers 200 with the execution when it already ended; aborting it is a no-op.
func (h *APIHandlers) AbortExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req AbortExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	execution, err := h.persistence.ExecutionRepository().ExecutionByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if execution.Status.IsTerminal() {
		return c.JSON(execution)
	}

	err = h.publisher.Publish(c.Context(), id, events.ExecutionAbortRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionAbortRequestedEvent, h.apiID),
		ExecutionID: id,
		Reason:      req.Reason,
	})
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{ExecutionID: id, Status: statusAccepted})
}

func (h *APIHandlers) Notify(c fiber.Ctx) error {
	correlationID := c.Params("correlationId")
	if correlationID == "" {
		return badRequest(c, "Correlation ID is required")
	}

	var req NotifyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.publisher.Publish(c.Context(), correlationID, events.NotifyReceived{
		BaseEvent:     events.NewBaseEvent(events.NotifyReceivedEvent, h.apiID),
		CorrelationID: correlationID,
		Data: models.ResponseData{
			Status:       req.Status,
			ErrorMessage: req.ErrorMessage,
			Data:         req.Data,
		},
	})
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{CorrelationID: correlationID, Status: statusAccepted})
}

func (h *APIHandlers) GetConstraint(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Constraint ID is required")
	}

	repository := h.persistence.ConstraintRepository()

	constraint, err := repository.ConstraintByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	consumers, err := repository.Consumers(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	response := ConstraintResponse{
		ResourceConstraint: constraint,
		Consumers:          consumers,
	}

	for _, consumer := range consumers {
		if consumer.State == models.ConsumerActive {
			response.ActivePermits += consumer.Permits
		}
	}

	if response.Consumers == nil {
		response.Consumers = []*models.Consumer{}
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetBarrier(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Barrier ID is required")
	}

	barrier, err := h.persistence.BarrierRepository().BarrierByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(barrier)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Stagehand API is healthy"
	httpStatus := http.StatusOK
	repositoryCheck := "ok"

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "Stagehand API is unhealthy"
		httpStatus = http.StatusInternalServerError
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
