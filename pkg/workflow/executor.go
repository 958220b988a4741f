// Package workflow runs workflow executions: it walks the state graph, suspends instances on
// asynchronous responses and resumes them when the notify engine fires their wait group.
//
// Every instance status change is a compare-and-swap on the stored status. The resume, abort
// and timeout paths race freely; whichever moves the instance first wins and the others
// become no-ops.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/stagehand/pkg/constraint"
	"github.com/dukex/stagehand/pkg/eventbus"
	"github.com/dukex/stagehand/pkg/events"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/notify"
	"github.com/dukex/stagehand/pkg/otelhelper"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/states"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ResumeCallback is the notify callback kind that resumes a suspended instance.
const ResumeCallback = "resume"

const (
	DefaultMaxRetries = 10
	skippedMessage    = "skipped"
)

var errRaced = errors.New("instance changed concurrently")

type Options struct {
	WorkerID string
	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
	Clock  func() time.Time
	// CacheTTL bounds how long execution definitions stay cached.
	CacheTTL time.Duration
	// MaxRetries bounds compare-and-swap retries on one instance.
	MaxRetries uint64
	// Metrics defaults to instruments on the global MeterProvider.
	Metrics *otelhelper.Metrics
}

type StartRequest struct {
	// ExecutionID is generated when empty. Starting an id that already exists is a no-op.
	ExecutionID         string
	AppID               string
	PipelineExecutionID string
	Definition          models.WorkflowDefinition
	Elements            []models.ContextElement
}

type Executor struct {
	repository  *Repository
	registry    *states.Registry
	engine      *notify.Engine
	constraints *constraint.Coordinator
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	metrics     *otelhelper.Metrics
	logger      *slog.Logger
	workerID    string
	clock       func() time.Time
	maxRetries  uint64

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewExecutor wires the executor and registers it as the engine's resume handler. publisher
// may be nil, in which case lifecycle events are not published.
func NewExecutor(
	persistence persistence.Persistence,
	registry *states.Registry,
	engine *notify.Engine,
	constraints *constraint.Coordinator,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	options Options,
) *Executor {
	if options.Tracer == nil {
		options.Tracer = noop.NewTracerProvider().Tracer("stagehand")
	}

	if options.Clock == nil {
		options.Clock = func() time.Time { return time.Now().UTC() }
	}

	if options.MaxRetries == 0 {
		options.MaxRetries = DefaultMaxRetries
	}

	if options.Metrics == nil {
		options.Metrics = otelhelper.NewMetrics()
	}

	e := &Executor{
		repository:  NewRepository(persistence, options.CacheTTL),
		registry:    registry,
		engine:      engine,
		constraints: constraints,
		publisher:   publisher,
		tracer:      options.Tracer,
		metrics:     options.Metrics,
		logger:      logger.With("module", "workflow_executor", "worker_id", options.WorkerID),
		workerID:    options.WorkerID,
		clock:       options.Clock,
		maxRetries:  options.MaxRetries,
		running:     make(map[string]context.CancelFunc),
	}

	engine.Handle(ResumeCallback, e.Resume)

	return e
}

func (e *Executor) Repository() *Repository {
	return e.repository
}

// Start validates the definition, stores a new execution and runs it until every path is
// suspended or finished.
func (e *Executor) Start(ctx context.Context, request StartRequest) (*models.WorkflowExecution, error) {
	if request.ExecutionID != "" {
		existing, err := e.repository.FetchByID(ctx, request.ExecutionID)
		if err == nil {
			e.logger.InfoContext(ctx, "Execution already started", "execution_id", existing.ID)

			return existing, nil
		}

		if !persistence.IsExecutionNotFound(err) {
			return nil, err
		}
	}

	err := e.registry.ValidateDefinition(&request.Definition)
	if err != nil {
		return nil, err
	}

	execution := &models.WorkflowExecution{
		ID:                  request.ExecutionID,
		AppID:               request.AppID,
		PipelineExecutionID: request.PipelineExecutionID,
		Definition:          request.Definition,
		Elements:            request.Elements,
	}

	err = e.repository.Create(ctx, execution)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Starting workflow execution",
		"execution_id", execution.ID,
		"workflow", execution.Definition.Name,
		"app_id", execution.AppID,
	)

	spec, _ := execution.Definition.State(execution.Definition.Start)

	first := models.NewInstance(execution.ID, spec, nil)
	first.Elements = append(first.Elements, request.Elements...)

	err = e.repository.SaveInstance(ctx, first)
	if err != nil {
		return execution, fmt.Errorf("failed to save first instance: %w", err)
	}

	err = e.run(ctx, execution, first)
	if err != nil {
		return execution, err
	}

	current, err := e.repository.FetchByID(ctx, execution.ID)
	if err != nil {
		return execution, nil //nolint:nilerr // the run itself succeeded
	}

	return current, nil
}

// Resume is the notify handler of suspended instances. Results for an instance that is no
// longer WAITING are discarded.
func (e *Executor) Resume(ctx context.Context, callback models.NotifyCallback, results map[string]models.ResponseData) error {
	// a resume fired from inside another state's call outlives that call
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("execution_id", callback.ExecutionID, "instance_id", callback.InstanceID)

	execution, err := e.repository.Definition(ctx, callback.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", callback.ExecutionID, err)
	}

	instance, won, err := e.claim(ctx, callback.InstanceID, []models.ExecutionStatus{models.StatusWaiting},
		func(instance *models.StateExecutionInstance) {
			instance.Status = models.StatusRunning
			instance.WaitID = ""
		})
	if err != nil {
		return err
	}

	if !won {
		logger.InfoContext(ctx, "Discarding results for an instance that is no longer waiting")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "state.resume", e.attributes(execution, instance)...)
	defer span.End()

	spec, state, err := e.state(execution, instance.StateName)

	var response *models.ExecutionResponse

	if err != nil {
		response = models.NewErrorResponse(err)
	} else {
		stateCtx, done := e.track(ctx, instance)
		response, err = state.HandleAsyncResponse(stateCtx, e.executionContext(execution, instance), results)
		done()

		response = normalize(response, err)
	}

	otelhelper.RecordResponse(span, response)
	e.metrics.RecordState(ctx, instance.StateType, response)

	next, err := e.apply(ctx, execution, instance, spec, response)
	if err != nil {
		return err
	}

	return e.run(ctx, execution, next...)
}

// Abort moves every unfinished instance of the execution to ABORTED, releases what their
// states hold and finishes the execution. Aborting a finished execution is a no-op.
func (e *Executor) Abort(ctx context.Context, executionID, reason string) error {
	execution, err := e.repository.FetchByID(ctx, executionID)
	if err != nil {
		return err
	}

	logger := e.logger.With("execution_id", executionID)

	if execution.Status.IsTerminal() {
		logger.InfoContext(ctx, "Ignoring abort of a finished execution", "status", execution.Status)

		return nil
	}

	aborted := &models.AbortedByUser{ExecutionID: executionID, Reason: reason}

	var errs []error

	err = e.abortUnfinished(ctx, execution, aborted.Error())
	if err != nil {
		errs = append(errs, err)
	}

	err = e.finish(ctx, execution, models.StatusAborted, aborted.Error())
	if err != nil {
		errs = append(errs, err)
	}

	// a transition racing the first pass may have saved instances after it listed them;
	// anything saved from here on finds the execution terminal when it steps
	err = e.abortUnfinished(ctx, execution, aborted.Error())
	if err != nil {
		errs = append(errs, err)
	}

	err = e.constraints.Release(ctx, executionID)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to release constraint consumers: %w", err))
	}

	logger.InfoContext(ctx, "Execution aborted", "reason", reason)

	return errors.Join(errs...)
}

func (e *Executor) abortUnfinished(ctx context.Context, execution *models.WorkflowExecution, message string) error {
	instances, err := e.repository.Instances(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to list instances of %s: %w", execution.ID, err)
	}

	var errs []error

	for _, instance := range instances {
		if instance.Status.IsTerminal() {
			continue
		}

		err := e.abortInstance(ctx, execution, instance.ID, message)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Expire fails a WAITING instance past its deadline. It releases the instance like an abort
// does, then follows the instance's failure transition.
func (e *Executor) Expire(ctx context.Context, instanceID string) error {
	var timeout *models.TimeoutError

	instance, won, err := e.claim(ctx, instanceID, []models.ExecutionStatus{models.StatusWaiting},
		func(instance *models.StateExecutionInstance) {
			timeout = &models.TimeoutError{
				InstanceID: instance.ID,
				Timeout:    time.Duration(instance.TimeoutMillis) * time.Millisecond,
			}
			instance.Status = models.StatusRunning
		})
	if err != nil {
		return err
	}

	if !won {
		return nil
	}

	execution, err := e.repository.Definition(ctx, instance.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", instance.ExecutionID, err)
	}

	e.logger.WarnContext(ctx, "State execution timed out",
		"execution_id", execution.ID,
		"instance_id", instance.ID,
		"state", instance.StateName,
	)

	e.releaseInstance(ctx, execution, instance)

	err = e.abortDescendants(ctx, execution, instance.ID, timeout.Error())
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to abort descendants of expired instance", "instance_id", instance.ID, "error", err)
	}

	spec, _ := execution.Definition.State(instance.StateName)

	response := models.NewSyncResponse(models.StatusFailed).WithMessage(timeout.Error())

	next, err := e.complete(ctx, execution, instance, spec, response, models.StatusRunning)
	if err != nil {
		return err
	}

	return e.run(ctx, execution, next...)
}

func (e *Executor) run(ctx context.Context, execution *models.WorkflowExecution, queue ...*models.StateExecutionInstance) error {
	var errs []error

	for len(queue) > 0 {
		instance := queue[0]
		queue = queue[1:]

		next, err := e.step(ctx, execution, instance)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		queue = append(queue, next...)
	}

	return errors.Join(errs...)
}

// step executes one stored NEW instance and returns the instances to run after it.
func (e *Executor) step(
	ctx context.Context, execution *models.WorkflowExecution, instance *models.StateExecutionInstance,
) ([]*models.StateExecutionInstance, error) {
	spec, state, stateErr := e.state(execution, instance.StateName)

	now := e.clock()
	instance.Status = models.StatusRunning
	instance.StartedAt = &now

	if state != nil {
		instance.TimeoutMillis = state.TimeoutMillis()
	}

	won, err := e.repository.Transition(ctx, instance, models.StatusNew)
	if err != nil {
		return nil, err
	}

	if !won {
		e.logger.DebugContext(ctx, "Instance already left NEW", "instance_id", instance.ID)

		return nil, nil
	}

	// the cached execution may predate an abort that missed this instance
	current, err := e.repository.FetchByID(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", execution.ID, err)
	}

	if current.Status.IsTerminal() {
		return nil, e.cancelStep(ctx, execution, instance, current)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "state.execute", e.attributes(execution, instance)...)
	defer span.End()

	var response *models.ExecutionResponse

	if stateErr != nil {
		response = models.NewErrorResponse(stateErr)
	} else {
		response = e.execute(ctx, execution, instance, spec, state)
	}

	otelhelper.RecordResponse(span, response)
	e.metrics.RecordState(ctx, instance.StateType, response)

	return e.apply(ctx, execution, instance, spec, response)
}

// cancelStep aborts an instance that started after its execution finished.
func (e *Executor) cancelStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	instance *models.StateExecutionInstance,
	current *models.WorkflowExecution,
) error {
	now := e.clock()
	instance.Status = models.StatusAborted
	instance.ErrorMessage = fmt.Sprintf("execution already %s", current.Status)
	instance.EndedAt = &now

	won, err := e.repository.Transition(ctx, instance, models.StatusRunning)
	if err != nil || !won {
		return err
	}

	e.logger.InfoContext(ctx, "Skipping state of a finished execution",
		"execution_id", execution.ID,
		"instance_id", instance.ID,
		"state", instance.StateName,
		"execution_status", current.Status,
	)

	path := execution.Definition.RemainingPath(instance.StateName)

	spec, ok := execution.Definition.State(instance.StateName)
	if ok {
		path = append([]models.StateSpec{spec}, path...)
	}

	e.failBarriers(ctx, execution, instance, path)
	e.publishStateCompleted(ctx, instance, nil)

	return nil
}

func (e *Executor) execute(
	ctx context.Context,
	execution *models.WorkflowExecution,
	instance *models.StateExecutionInstance,
	spec models.StateSpec,
	state states.State,
) *models.ExecutionResponse {
	ec := e.executionContext(execution, instance)

	if spec.Skip {
		if skipper, ok := state.(states.Skipper); ok {
			err := skipper.HandleSkip(ctx, ec)
			if err != nil {
				return models.NewErrorResponse(err)
			}
		}

		return models.NewSyncResponse(models.StatusSuccess).WithMessage(skippedMessage)
	}

	if spec.RequiredElement != "" {
		_, err := states.RequireElement(state, ec, spec.RequiredElement)
		if err != nil {
			return models.NewErrorResponse(err)
		}
	}

	stateCtx, done := e.track(ctx, instance)
	defer done()

	response, err := state.Execute(stateCtx, ec)

	return normalize(response, err)
}

func (e *Executor) apply(
	ctx context.Context,
	execution *models.WorkflowExecution,
	instance *models.StateExecutionInstance,
	spec models.StateSpec,
	response *models.ExecutionResponse,
) ([]*models.StateExecutionInstance, error) {
	if response.Async {
		return e.suspend(ctx, execution, instance, spec, response)
	}

	return e.complete(ctx, execution, instance, spec, response, models.StatusRunning)
}

// suspend parks a RUNNING instance on the response's correlation ids and returns the
// instances it spawned.
func (e *Executor) suspend(
	ctx context.Context,
	execution *models.WorkflowExecution,
	instance *models.StateExecutionInstance,
	spec models.StateSpec,
	response *models.ExecutionResponse,
) ([]*models.StateExecutionInstance, error) {
	// a state re-arming its wait keeps the deadline of its first round
	if instance.ExpiresAt == nil {
		expiresAt := e.clock().Add(time.Duration(instance.TimeoutMillis) * time.Millisecond)
		instance.ExpiresAt = &expiresAt
	}

	instance.Status = models.StatusWaiting
	instance.CorrelationIDs = response.CorrelationIDs
	instance.StateExecutionData = response.StateExecutionData
	instance.Elements = append(instance.Elements, response.ContextElements...)

	won, err := e.repository.Transition(ctx, instance, models.StatusRunning)
	if err != nil {
		return nil, err
	}

	if !won {
		e.releaseAborted(ctx, execution, instance)
		e.discard(ctx, response.SpawnInstances, "parent instance aborted")

		return nil, nil
	}

	for _, child := range response.SpawnInstances {
		err := e.repository.SaveInstance(ctx, child)
		if err != nil {
			return nil, fmt.Errorf("failed to save spawned instance %s: %w", child.ID, err)
		}
	}

	callback := models.NotifyCallback{Kind: ResumeCallback, ExecutionID: execution.ID, InstanceID: instance.ID}

	waitID, err := e.engine.WaitForAll(ctx, callback, instance.CorrelationIDs...)
	if err != nil {
		if waitID == "" {
			e.discard(ctx, response.SpawnInstances, err.Error())

			return e.complete(ctx, execution, instance, spec, models.NewErrorResponse(err), models.StatusWaiting)
		}

		// the group fired while registering and its handler failed
		e.logger.ErrorContext(ctx, "Wait group failed on registration", "instance_id", instance.ID, "error", err)
	}

	instance.WaitID = waitID

	// losing here means the wait already fired and the instance moved on
	_, err = e.repository.Transition(ctx, instance, models.StatusWaiting)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to record wait id", "instance_id", instance.ID, "error", err)
	}

	e.logger.DebugContext(ctx, "Instance suspended",
		"instance_id", instance.ID,
		"state", instance.StateName,
		"correlation_ids", instance.CorrelationIDs,
		"spawned", len(response.SpawnInstances),
	)

	return response.SpawnInstances, nil
}

// complete stores the terminal status of an instance and follows its transition.
func (e *Executor) complete(
	ctx context.Context,
	execution *models.WorkflowExecution,
	instance *models.StateExecutionInstance,
	spec models.StateSpec,
	response *models.ExecutionResponse,
	from models.ExecutionStatus,
) ([]*models.StateExecutionInstance, error) {
	now := e.clock()

	instance.Status = response.Status
	instance.ErrorMessage = response.ErrorMessage
	instance.EndedAt = &now
	instance.ExpiresAt = nil
	instance.Elements = append(instance.Elements, response.ContextElements...)

	won, err := e.repository.Transition(ctx, instance, from)
	if err != nil {
		return nil, err
	}

	if !won {
		if from == models.StatusRunning {
			e.releaseAborted(ctx, execution, instance)
		}

		return nil, nil
	}

	e.logger.InfoContext(ctx, "State completed",
		"execution_id", execution.ID,
		"instance_id", instance.ID,
		"state", instance.StateName,
		"status", instance.Status,
	)

	e.publishStateCompleted(ctx, instance, response.NotifyElements)

	target := spec.Next
	if instance.Status != models.StatusSuccess {
		target = spec.OnFailure
	}

	if instance.Status != models.StatusSuccess && target != "" {
		// barriers on the Next path that the failure route never reaches
		reachable := execution.Definition.Reachable(target)

		var skipped []models.StateSpec

		for _, state := range execution.Definition.RemainingPath(instance.StateName) {
			if !reachable[state.Name] {
				skipped = append(skipped, state)
			}
		}

		e.failBarriers(ctx, execution, instance, skipped)
	}

	if target != "" {
		nextSpec, ok := execution.Definition.State(target)
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownState, target)
		}

		next := models.NewInstance(execution.ID, nextSpec, instance)

		err := e.repository.SaveInstance(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("failed to save instance for %s: %w", target, err)
		}

		return []*models.StateExecutionInstance{next}, nil
	}

	if instance.Status != models.StatusSuccess {
		e.failBarriers(ctx, execution, instance, execution.Definition.RemainingPath(instance.StateName))
	}

	return nil, e.endBranch(ctx, execution, instance, response)
}

// endBranch reports a finished chain to the fork that spawned it, or finishes the execution
// when the chain is the root.
func (e *Executor) endBranch(
	ctx context.Context,
	execution *models.WorkflowExecution,
	instance *models.StateExecutionInstance,
	response *models.ExecutionResponse,
) error {
	if !instance.IsBranchRoot() {
		return e.finish(ctx, execution, instance.Status, instance.ErrorMessage)
	}

	err := e.engine.Notify(ctx, instance.NotifyID, models.ResponseData{
		Status:       instance.Status,
		ErrorMessage: instance.ErrorMessage,
		Data:         elementData(response.NotifyElements),
	})
	if err != nil {
		return fmt.Errorf("failed to notify parent of branch %s: %w", instance.NotifyID, err)
	}

	return nil
}

// finish moves the execution to its final status and releases every WORKFLOW scoped
// constraint consumer it holds.
func (e *Executor) finish(ctx context.Context, execution *models.WorkflowExecution, status models.ExecutionStatus, message string) error {
	won, err := e.repository.Finish(ctx, execution.ID, status, message)
	if err != nil || !won {
		return err
	}

	err = e.constraints.Release(ctx, execution.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to release constraint consumers", "execution_id", execution.ID, "error", err)
	}

	e.logger.InfoContext(ctx, "Execution finished", "execution_id", execution.ID, "status", status)

	duration := e.clock().Sub(execution.CreatedAt)
	e.metrics.RecordExecution(ctx, status, duration)

	event := events.ExecutionCompleted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionCompletedEvent, e.workerID),
		ExecutionID:  execution.ID,
		Status:       status,
		ErrorMessage: message,
		Duration:     duration,
	}
	e.publish(ctx, execution.ID, event)

	return nil
}

func (e *Executor) abortInstance(ctx context.Context, execution *models.WorkflowExecution, instanceID, message string) error {
	e.cancel(instanceID)

	var previous models.ExecutionStatus

	instance, won, err := e.claim(ctx, instanceID,
		[]models.ExecutionStatus{models.StatusNew, models.StatusRunning, models.StatusWaiting},
		func(instance *models.StateExecutionInstance) {
			now := e.clock()
			previous = instance.Status
			instance.Status = models.StatusAborted
			instance.ErrorMessage = message
			instance.EndedAt = &now
			instance.ExpiresAt = nil
		})
	if err != nil || !won {
		return err
	}

	path := execution.Definition.RemainingPath(instance.StateName)

	if previous == models.StatusNew {
		// the chain never reached its own state either
		spec, ok := execution.Definition.State(instance.StateName)
		if ok {
			path = append([]models.StateSpec{spec}, path...)
		}
	} else {
		e.releaseInstance(ctx, execution, instance)
	}

	e.failBarriers(ctx, execution, instance, path)
	e.publishStateCompleted(ctx, instance, nil)

	return nil
}

// abortDescendants aborts every unfinished instance spawned, directly or not, by parentID.
func (e *Executor) abortDescendants(ctx context.Context, execution *models.WorkflowExecution, parentID, message string) error {
	instances, err := e.repository.Instances(ctx, execution.ID)
	if err != nil {
		return err
	}

	children := make(map[string][]*models.StateExecutionInstance)
	for _, instance := range instances {
		children[instance.ParentInstanceID] = append(children[instance.ParentInstanceID], instance)
	}

	var errs []error

	queue := []string{parentID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, child := range children[id] {
			queue = append(queue, child.ID)

			if child.Status.IsTerminal() {
				continue
			}

			err := e.abortInstance(ctx, execution, child.ID, message)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// releaseInstance lets the instance's state give back what it holds and drops its wait.
func (e *Executor) releaseInstance(ctx context.Context, execution *models.WorkflowExecution, instance *models.StateExecutionInstance) {
	logger := e.logger.With("instance_id", instance.ID, "state", instance.StateName)

	_, state, err := e.state(execution, instance.StateName)
	if err == nil {
		err = state.HandleAbortEvent(ctx, e.executionContext(execution, instance))
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to release state resources", "error", err)
	}

	err = e.engine.Cancel(ctx, instance.WaitID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to cancel wait", "wait_id", instance.WaitID, "error", err)
	}
}

// releaseAborted undoes what a state acquired while an abort moved its instance out of
// RUNNING, such as a constraint consumer registered after the execution's release.
func (e *Executor) releaseAborted(ctx context.Context, execution *models.WorkflowExecution, instance *models.StateExecutionInstance) {
	e.logger.InfoContext(ctx, "Instance aborted while its state ran", "instance_id", instance.ID, "state", instance.StateName)

	e.releaseInstance(ctx, execution, instance)
}

// failBarriers tells the barriers a failed chain will never reach that it failed.
func (e *Executor) failBarriers(
	ctx context.Context, execution *models.WorkflowExecution, instance *models.StateExecutionInstance, path []models.StateSpec,
) {
	for _, spec := range path {
		state, err := e.registry.Create(spec)
		if err != nil {
			continue
		}

		handler, ok := state.(states.BranchFailureHandler)
		if !ok {
			continue
		}

		ec := e.executionContext(execution, instance)
		ec.StateExecutionInstanceID = instance.ID + ":" + spec.Name

		err = handler.OnBranchFailure(ctx, ec)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to report branch failure", "state", spec.Name, "instance_id", instance.ID, "error", err)
		}
	}
}

// discard aborts spawned instances that will never run.
func (e *Executor) discard(ctx context.Context, instances []*models.StateExecutionInstance, message string) {
	for _, instance := range instances {
		now := e.clock()
		instance.Status = models.StatusAborted
		instance.ErrorMessage = message
		instance.EndedAt = &now

		_, err := e.repository.Transition(ctx, instance, models.StatusNew)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to discard spawned instance", "instance_id", instance.ID, "error", err)
		}
	}
}

// claim reloads the instance and applies mutate while its status is one of from, retrying
// lost compare-and-swaps. It reports false when the instance left from.
func (e *Executor) claim(
	ctx context.Context,
	instanceID string,
	from []models.ExecutionStatus,
	mutate func(instance *models.StateExecutionInstance),
) (*models.StateExecutionInstance, bool, error) {
	var claimed *models.StateExecutionInstance

	operation := func() error {
		claimed = nil

		instance, err := e.repository.Instance(ctx, instanceID)
		if err != nil {
			return backoff.Permanent(err)
		}

		if !slices.Contains(from, instance.Status) {
			return nil
		}

		mutate(instance)

		won, err := e.repository.Transition(ctx, instance, from...)
		if err != nil {
			return backoff.Permanent(err)
		}

		if !won {
			return errRaced
		}

		claimed = instance

		return nil
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = 5 * time.Millisecond
	exponential.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(exponential, e.maxRetries), ctx))
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim instance %s: %w", instanceID, err)
	}

	return claimed, claimed != nil, nil
}

func (e *Executor) state(execution *models.WorkflowExecution, name string) (models.StateSpec, states.State, error) {
	spec, ok := execution.Definition.State(name)
	if !ok {
		return spec, nil, fmt.Errorf("%w: %s", models.ErrUnknownState, name)
	}

	state, err := e.registry.Create(spec)
	if err != nil {
		return spec, nil, err
	}

	return spec, state, nil
}

func (e *Executor) executionContext(execution *models.WorkflowExecution, instance *models.StateExecutionInstance) *models.ExecutionContext {
	return &models.ExecutionContext{
		AppID:                    execution.AppID,
		WorkflowExecutionID:      execution.ID,
		PipelineExecutionID:      execution.PipelineExecutionID,
		StateExecutionInstanceID: instance.ID,
		Elements:                 instance.Elements,
		Workflow:                 &execution.Definition,
		Instance:                 instance,
	}
}

// track registers the cancel func of a state call so Abort can interrupt it.
func (e *Executor) track(ctx context.Context, instance *models.StateExecutionInstance) (context.Context, func()) {
	stateCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.running[instance.ID] = cancel
	e.mu.Unlock()

	return stateCtx, func() {
		e.mu.Lock()
		delete(e.running, instance.ID)
		e.mu.Unlock()

		cancel()
	}
}

func (e *Executor) cancel(instanceID string) {
	e.mu.Lock()
	cancel, ok := e.running[instanceID]
	e.mu.Unlock()

	if ok {
		cancel()
	}
}

func (e *Executor) publishStateCompleted(ctx context.Context, instance *models.StateExecutionInstance, notifyElements []models.ContextElement) {
	event := events.StateCompleted{
		BaseEvent:      events.NewBaseEvent(events.StateCompletedEvent, e.workerID),
		ExecutionID:    instance.ExecutionID,
		InstanceID:     instance.ID,
		StateName:      instance.StateName,
		StateType:      instance.StateType,
		Status:         instance.Status,
		ErrorMessage:   instance.ErrorMessage,
		NotifyElements: notifyElements,
	}
	e.publish(ctx, instance.ExecutionID, event)
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Executor) attributes(execution *models.WorkflowExecution, instance *models.StateExecutionInstance) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otelhelper.WorkflowNameKey, execution.Definition.Name),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.StateNameKey, instance.StateName),
		attribute.String(otelhelper.StateTypeKey, instance.StateType),
		attribute.String(otelhelper.WorkerIDKey, e.workerID),
	}
}

// normalize turns a state's error, or a malformed response, into a terminal ERROR.
func normalize(response *models.ExecutionResponse, err error) *models.ExecutionResponse {
	if err != nil {
		return models.NewErrorResponse(err)
	}

	if response == nil {
		return models.NewSyncResponse(models.StatusError).WithMessage("state returned no response")
	}

	err = response.Validate()
	if err != nil {
		return models.NewErrorResponse(err)
	}

	return response
}

// elementData flattens notify elements into the data delivered to a parent fork.
func elementData(elements []models.ContextElement) map[string]any {
	if len(elements) == 0 {
		return nil
	}

	data := make(map[string]any, len(elements))

	for _, element := range elements {
		key := element.Name
		if key == "" {
			key = element.UUID
		}

		data[key] = element.Data
	}

	return data
}
