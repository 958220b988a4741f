// Package memory provides an in-process persistence implementation with the same
// compare-and-swap semantics as the SQL store. It backs tests and single-process runs.
package memory

import (
	"context"
	"encoding/json"

	"github.com/dukex/stagehand/pkg/persistence"
)

var _ persistence.Persistence = (*Persistence)(nil)

type Persistence struct {
	executions   *ExecutionRepository
	instances    *InstanceRepository
	barriers     *BarrierRepository
	constraints  *ConstraintRepository
	correlations *CorrelationRepository
}

func NewPersistence() *Persistence {
	return &Persistence{
		executions:   NewExecutionRepository(),
		instances:    NewInstanceRepository(),
		barriers:     NewBarrierRepository(),
		constraints:  NewConstraintRepository(),
		correlations: NewCorrelationRepository(),
	}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return p.instances
}

func (p *Persistence) BarrierRepository() persistence.BarrierRepository {
	return p.barriers
}

func (p *Persistence) ConstraintRepository() persistence.ConstraintRepository {
	return p.constraints
}

func (p *Persistence) CorrelationRepository() persistence.CorrelationRepository {
	return p.correlations
}

func (p *Persistence) HealthCheck(context.Context) error {
	return nil
}

func (p *Persistence) Close(context.Context) error {
	return nil
}

// deepCopy isolates stored records from callers.
func deepCopy[T any](src *T) *T {
	data, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}

	var dst T

	err = json.Unmarshal(data, &dst)
	if err != nil {
		panic(err)
	}

	return &dst
}
