package main

import (
	"context"

	"github.com/dukex/stagehand/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

func StartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Consume execution commands and notifications from the event bus",
		Flags: workerFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
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

			return NewWorkerManager(worker.ID, runtime, logger).Start(ctx)
		},
	}
}
