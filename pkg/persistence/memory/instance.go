package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

type InstanceRepository struct {
	mu        sync.RWMutex
	instances map[string]*models.StateExecutionInstance
}

func NewInstanceRepository() *InstanceRepository {
	return &InstanceRepository{instances: make(map[string]*models.StateExecutionInstance)}
}

func (r *InstanceRepository) SaveInstance(_ context.Context, instance *models.StateExecutionInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[instance.ID] = deepCopy(instance)

	return nil
}

func (r *InstanceRepository) InstanceByID(_ context.Context, id string) (*models.StateExecutionInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, persistence.NewRecordError("Get", "instance", id, persistence.ErrInstanceNotFound)
	}

	return deepCopy(instance), nil
}

func (r *InstanceRepository) InstancesByExecution(_ context.Context, executionID string) ([]*models.StateExecutionInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instances []*models.StateExecutionInstance

	for _, instance := range r.instances {
		if instance.ExecutionID == executionID {
			instances = append(instances, deepCopy(instance))
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

func (r *InstanceRepository) UpdateInstance(
	_ context.Context, instance *models.StateExecutionInstance, from ...models.ExecutionStatus,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.instances[instance.ID]
	if !ok {
		return persistence.NewRecordError("Update", "instance", instance.ID, persistence.ErrInstanceNotFound)
	}

	if stored.Version != instance.Version || (len(from) > 0 && !slices.Contains(from, stored.Status)) {
		return persistence.NewRecordError("Update", "instance", instance.ID, persistence.ErrConcurrentUpdate)
	}

	instance.Version++
	r.instances[instance.ID] = deepCopy(instance)

	return nil
}

func (r *InstanceRepository) ExpiredInstances(_ context.Context, now time.Time, limit int) ([]*models.StateExecutionInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []*models.StateExecutionInstance

	for _, instance := range r.instances {
		if instance.Status == models.StatusWaiting && instance.ExpiresAt != nil && instance.ExpiresAt.Before(now) {
			expired = append(expired, deepCopy(instance))
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(*expired[j].ExpiresAt)
	})

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	return expired, nil
}
