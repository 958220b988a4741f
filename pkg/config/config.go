// Package config gathers the runtime settings of the stagehand binaries.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ProviderGoChannel = "gochannel"
	ProviderKafka     = "kafka"

	// MemoryDatabaseURL selects the in-process persistence.
	MemoryDatabaseURL = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Stores locates the persistence backends. Correlation records go to Redis when RedisURL is
// set, otherwise to the primary database.
type Stores struct {
	DatabaseURL string `validate:"required"`
	RedisURL    string `validate:"omitempty,url"`
	RedisPrefix string
}

type Bus struct {
	Provider      string   `validate:"required,oneof=gochannel kafka"`
	KafkaBrokers  []string `validate:"required_if=Provider kafka,dive,hostname_port"`
	ConsumerGroup string   `validate:"required_if=Provider kafka"`
}

type Worker struct {
	Stores
	Bus

	ID          string `validate:"required"`
	PluginsPath string

	SweepSchedule  string        `validate:"required"`
	SweepBatchSize int           `validate:"gt=0"`
	ResponseMaxAge time.Duration `validate:"gt=0"`
	SweepWorkers   int           `validate:"gt=0"`
	ExpireRate     float64       `validate:"gte=0"`

	BarrierRetries int           `validate:"gt=0"`
	CacheTTL       time.Duration `validate:"gt=0"`

	LockTTL         time.Duration `validate:"gt=0"`
	LockWaitTimeout time.Duration `validate:"gt=0"`
}

type API struct {
	Stores
	Bus

	Port int `validate:"min=1,max=65535"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (w *Worker) Validate() error {
	return check(w)
}

func (a *API) Validate() error {
	return check(a)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, "; "))
}

// SplitList splits a comma separated flag value, dropping empty items.
func SplitList(value string) []string {
	var items []string

	for item := range strings.SplitSeq(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}
