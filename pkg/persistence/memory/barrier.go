package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

type BarrierRepository struct {
	mu       sync.Mutex
	barriers map[string]*models.BarrierInstance
	byKey    map[string]string
}

func NewBarrierRepository() *BarrierRepository {
	return &BarrierRepository{
		barriers: make(map[string]*models.BarrierInstance),
		byKey:    make(map[string]string),
	}
}

func (r *BarrierRepository) FindOrCreateBarrier(_ context.Context, barrier *models.BarrierInstance) (*models.BarrierInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[barrier.Key.String()]; ok {
		return deepCopy(r.barriers[id]), nil
	}

	r.barriers[barrier.ID] = deepCopy(barrier)
	r.byKey[barrier.Key.String()] = barrier.ID

	return deepCopy(barrier), nil
}

func (r *BarrierRepository) BarrierByID(_ context.Context, id string) (*models.BarrierInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	barrier, ok := r.barriers[id]
	if !ok {
		return nil, persistence.NewRecordError("Get", "barrier", id, persistence.ErrBarrierNotFound)
	}

	return deepCopy(barrier), nil
}

func (r *BarrierRepository) UpdateBarrier(_ context.Context, barrier *models.BarrierInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.barriers[barrier.ID]
	if !ok {
		return persistence.NewRecordError("Update", "barrier", barrier.ID, persistence.ErrBarrierNotFound)
	}

	if stored.Version != barrier.Version {
		return persistence.NewRecordError("Update", "barrier", barrier.ID, persistence.ErrConcurrentUpdate)
	}

	barrier.Version++
	barrier.UpdatedAt = time.Now().UTC()
	r.barriers[barrier.ID] = deepCopy(barrier)

	return nil
}
