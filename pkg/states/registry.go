package states

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// PluginSymbol is the exported symbol a state plugin must provide, of type Factory.
const PluginSymbol = "State"

var (
	ErrUnknownStateType = errors.New("state type not registered")
	ErrInvalidPlugin    = errors.New("plugin does not export a state factory")
)

type Registry struct {
	logger    *slog.Logger
	deps      *Dependencies
	factories map[string]Factory
}

func NewRegistry(logger *slog.Logger, deps *Dependencies) *Registry {
	return &Registry{
		logger:    logger,
		deps:      deps,
		factories: make(map[string]Factory),
	}
}

// NewValidator returns a validator reporting fields by their json name.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}

		return name
	})

	return validate
}

func (r *Registry) Register(factory Factory) {
	r.factories[factory.Type()] = factory
}

func (r *Registry) Factory(stateType string) (Factory, bool) {
	factory, ok := r.factories[stateType]

	return factory, ok
}

// Types lists the registered state types in lexical order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for stateType := range r.factories {
		types = append(types, stateType)
	}

	sort.Strings(types)

	return types
}

func (r *Registry) DefaultTimeout(stateType string) time.Duration {
	factory, ok := r.factories[stateType]
	if !ok {
		return 0
	}

	return factory.DefaultTimeout()
}

// Create builds the state declared by spec. Schema and field errors surface as a
// models.ValidationError before anything runs.
func (r *Registry) Create(spec models.StateSpec) (State, error) {
	factory, ok := r.factories[spec.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStateType, spec.Type)
	}

	fields, err := validateSchema(factory.Schema(), spec.Config)
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		return nil, &models.ValidationError{StateName: spec.Name, Fields: fields}
	}

	state, err := factory.Create(spec, r.deps)
	if err != nil {
		return nil, err
	}

	fields = state.ValidateFields()
	if len(fields) > 0 {
		return nil, &models.ValidationError{StateName: spec.Name, Fields: fields}
	}

	return state, nil
}

// ValidateDefinition builds every state of the definition once, reporting the first failure.
func (r *Registry) ValidateDefinition(definition *models.WorkflowDefinition) error {
	err := definition.Validate()
	if err != nil {
		return err
	}

	for _, spec := range definition.States {
		_, err := r.Create(spec)
		if err != nil {
			return err
		}
	}

	return nil
}

func validateSchema(schema map[string]any, config map[string]any) (map[string]string, error) {
	if schema == nil {
		return nil, nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return nil, fmt.Errorf("failed to validate config schema: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	fields := make(map[string]string, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		fields[resultErr.Field()] = resultErr.Description()
	}

	return fields, nil
}

// LoadPlugins opens every *.so under pluginsPath/states and registers its state factory.
func (r *Registry) LoadPlugins(pluginsPath string) error {
	rootPath := pluginsPath + "/states"

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return err
	}

	l := r.logger.With(slog.String("path", rootPath))
	l.Info("Loading state plugins", "count", len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		symbol, err := plg.Lookup(PluginSymbol)
		if err != nil {
			return fmt.Errorf("failed to lookup %s in %s: %w", PluginSymbol, p, err)
		}

		factory, ok := symbol.(Factory)
		if !ok {
			if pointer, isPointer := symbol.(*Factory); isPointer {
				factory, ok = *pointer, true
			}
		}

		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidPlugin, p)
		}

		r.Register(factory)

		l.Info("Loaded state plugin", slog.String("plugin", p), slog.String("type", factory.Type()))
	}

	return nil
}
