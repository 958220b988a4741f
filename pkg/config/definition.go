package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/stagehand/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrUnknownDefinitionFormat = errors.New("unknown workflow definition format")

// LoadDefinition reads a workflow definition from a .json, .yaml or .yml file.
func LoadDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", path, err)
	}

	return ParseDefinition(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

func ParseDefinition(data []byte, format string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	switch strings.ToLower(format) {
	case "json":
		err := json.Unmarshal(data, &definition)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON definition: %w", err)
		}
	case "yaml", "yml":
		err := yaml.Unmarshal(data, &definition)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinitionFormat, format)
	}

	err := definition.Validate()
	if err != nil {
		return nil, err
	}

	return &definition, nil
}
