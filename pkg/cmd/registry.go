// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/states/barrier"
	"github.com/dukex/stagehand/pkg/states/delegate"
	"github.com/dukex/stagehand/pkg/states/fork"
	"github.com/dukex/stagehand/pkg/states/resourceconstraint"
	"github.com/dukex/stagehand/pkg/states/verification"
)

func registerNativeStates(reg *states.Registry) {
	reg.Register(barrier.NewFactory())
	reg.Register(delegate.NewFactory())
	reg.Register(fork.NewFactory())
	reg.Register(resourceconstraint.NewFactory())
	reg.Register(verification.NewFactory())
}

// NewRegistry registers the native states and the plugins found under pluginsPath/states.
// A missing plugins directory is not an error.
func NewRegistry(log *slog.Logger, deps *states.Dependencies, pluginsPath string) (*states.Registry, error) {
	reg := states.NewRegistry(log, deps)

	registerNativeStates(reg)

	if pluginsPath == "" {
		return reg, nil
	}

	_, err := os.Stat(pluginsPath + "/states")
	if errors.Is(err, fs.ErrNotExist) {
		return reg, nil
	}

	err = reg.LoadPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load state plugins: %w", err)
	}

	return reg, nil
}
