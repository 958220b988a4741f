// Package template renders delegate task parameters against the execution context.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

// RenderWithContext renders input against the execution context. Elements are exposed by
// type, innermost first: {{ .elements.INSTANCE.name }}.
func RenderWithContext(input string, ec *models.ExecutionContext) (any, error) {
	return Render(input, contextData(ec))
}

// RenderParameters renders every templated string of params, descending into nested maps
// and lists. Values without a template action are returned unchanged.
func RenderParameters(params map[string]any, ec *models.ExecutionContext) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}

	data := contextData(ec)

	rendered, err := renderValue(params, data)
	if err != nil {
		return nil, err
	}

	return rendered.(map[string]any), nil
}

func renderValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

func contextData(ec *models.ExecutionContext) map[string]any {
	elements := make(map[string]any)

	for _, element := range ec.Elements {
		elements[string(element.Type)] = map[string]any{
			"uuid": element.UUID,
			"name": element.Name,
			"data": element.Data,
		}
	}

	return map[string]any{
		"app_id":   ec.AppID,
		"elements": elements,
		"env":      environment(),
		"execution": map[string]any{
			"id":                    ec.WorkflowExecutionID,
			"pipeline_execution_id": ec.PipelineExecutionID,
			"instance_id":           ec.StateExecutionInstanceID,
		},
	}
}

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(n int) int {
		if n <= 0 {
			return 0
		}

		var b [1]byte

		_, err := rand.Read(b[:])
		if err != nil {
			return 0
		}

		return int(b[0]) % n
	},
}

// Render executes input against data and converts the output to a JSON value, number or
// bool when it parses as one.
func Render(input string, data any) (any, error) {
	tmpl, err := template.New("parameter").Funcs(funcs).Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", input, err)
	}

	var out strings.Builder

	err = tmpl.Execute(&out, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template %q: %w", input, err)
	}

	return coerce(strings.TrimSpace(out.String()))
}

func coerce(text string) (any, error) {
	object := strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")
	list := strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")

	if object || list {
		var value any

		err := json.Unmarshal([]byte(text), &value)
		if err != nil {
			return nil, fmt.Errorf("rendered value is not valid JSON: %w", err)
		}

		return value, nil
	}

	if number, err := strconv.ParseFloat(text, 64); err == nil {
		return number, nil
	}

	if flag, err := strconv.ParseBool(text); err == nil {
		return flag, nil
	}

	return text, nil
}

func environment() map[string]any {
	env := make(map[string]any)

	for _, pair := range os.Environ() {
		key, value, ok := strings.Cut(pair, "=")
		if ok {
			env[key] = value
		}
	}

	return env
}
