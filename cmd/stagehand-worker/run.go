package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/otelhelper"
	"github.com/dukex/stagehand/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

var ErrExecutionUnsuccessful = errors.New("execution did not succeed")

const pollInterval = 200 * time.Millisecond

func RunCommand() *cli.Command {
	flags := append(workerFlags(),
		&cli.StringFlag{
			Name:     "definition",
			Aliases:  []string{"f"},
			Usage:    "Workflow definition file (yaml or json)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "app-id",
			Usage: "Application the execution belongs to",
			Value: "local",
		},
		&cli.StringFlag{
			Name:  "pipeline-execution-id",
			Usage: "Pipeline execution the workflow runs for",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for the execution to finish",
			Value: 10 * time.Minute,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Execute one workflow definition file and wait for its outcome",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			definition, err := config.LoadDefinition(command.String("definition"))
			if err != nil {
				return err
			}

			runtime, worker, logger, err := setup(ctx, command)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}

				err = otelhelper.Shutdown(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
				}
			}()

			err = NewWorkerManager(worker.ID, runtime, logger).Subscribe(ctx)
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
			defer cancel()

			execution, err := runDefinition(runCtx, runtime, workflow.StartRequest{
				AppID:               command.String("app-id"),
				PipelineExecutionID: command.String("pipeline-execution-id"),
				Definition:          *definition,
			})
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Execution finished",
				"execution_id", execution.ID,
				"status", execution.Status,
				"error_message", execution.ErrorMessage,
			)

			if execution.Status != models.StatusSuccess {
				return fmt.Errorf("%w: %s", ErrExecutionUnsuccessful, execution.Status)
			}

			return nil
		},
	}
}

// runDefinition starts the execution and polls it until it reaches a terminal status.
func runDefinition(ctx context.Context, runtime *cmd.Runtime, request workflow.StartRequest) (*models.WorkflowExecution, error) {
	execution, err := runtime.Executor.Start(ctx, request)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !execution.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return execution, fmt.Errorf("waiting for execution %s: %w", execution.ID, ctx.Err())
		case <-ticker.C:
		}

		execution, err = runtime.Persistence.ExecutionRepository().ExecutionByID(ctx, execution.ID)
		if err != nil {
			return nil, err
		}
	}

	return execution, nil
}
