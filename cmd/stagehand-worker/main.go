package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "stagehand-worker",
		EnableShellCompletion: true,
		Usage:                 "Run workflow executions and coordinate their states",
		Commands: []*cli.Command{
			StartCommand(),
			RunCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
