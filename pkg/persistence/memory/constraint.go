package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

type ConstraintRepository struct {
	mu          sync.Mutex
	constraints map[string]*models.ResourceConstraint
	consumers   map[string]map[string]*models.Consumer
}

func NewConstraintRepository() *ConstraintRepository {
	return &ConstraintRepository{
		constraints: make(map[string]*models.ResourceConstraint),
		consumers:   make(map[string]map[string]*models.Consumer),
	}
}

func (r *ConstraintRepository) EnsureConstraint(_ context.Context, id string, capacity int) (*models.ResourceConstraint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	constraint, ok := r.constraints[id]
	if !ok {
		constraint = &models.ResourceConstraint{
			ID:        id,
			Capacity:  capacity,
			Strategy:  models.StrategyFIFO,
			CreatedAt: time.Now().UTC(),
		}
		r.constraints[id] = constraint
	}

	return deepCopy(constraint), nil
}

func (r *ConstraintRepository) ConstraintByID(_ context.Context, id string) (*models.ResourceConstraint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	constraint, ok := r.constraints[id]
	if !ok {
		return nil, persistence.NewRecordError("Get", "constraint", id, persistence.ErrConstraintNotFound)
	}

	return deepCopy(constraint), nil
}

func (r *ConstraintRepository) NextOrder(_ context.Context, constraintID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	constraint, ok := r.constraints[constraintID]
	if !ok {
		return 0, persistence.NewRecordError("NextOrder", "constraint", constraintID, persistence.ErrConstraintNotFound)
	}

	constraint.NextOrder++

	return constraint.NextOrder, nil
}

func (r *ConstraintRepository) Consumers(_ context.Context, constraintID string) ([]*models.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	consumers := make([]*models.Consumer, 0, len(r.consumers[constraintID]))
	for _, consumer := range r.consumers[constraintID] {
		consumers = append(consumers, deepCopy(consumer))
	}

	sortByOrder(consumers)

	return consumers, nil
}

func (r *ConstraintRepository) ConsumersByReleaseEntity(_ context.Context, releaseEntityID string) ([]*models.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var consumers []*models.Consumer

	for _, byID := range r.consumers {
		for _, consumer := range byID {
			if consumer.ReleaseEntityID == releaseEntityID {
				consumers = append(consumers, deepCopy(consumer))
			}
		}
	}

	sortByOrder(consumers)

	return consumers, nil
}

func (r *ConstraintRepository) SaveConsumer(_ context.Context, consumer *models.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.constraints[consumer.ConstraintID]; !ok {
		return persistence.NewRecordError("SaveConsumer", "constraint", consumer.ConstraintID, persistence.ErrConstraintNotFound)
	}

	byID, ok := r.consumers[consumer.ConstraintID]
	if !ok {
		byID = make(map[string]*models.Consumer)
		r.consumers[consumer.ConstraintID] = byID
	}

	byID[consumer.ConsumerID] = deepCopy(consumer)

	return nil
}

func (r *ConstraintRepository) DeleteConsumer(_ context.Context, constraintID, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.consumers[constraintID], consumerID)

	return nil
}

func sortByOrder(consumers []*models.Consumer) {
	sort.Slice(consumers, func(i, j int) bool {
		if consumers[i].ConstraintID != consumers[j].ConstraintID {
			return consumers[i].ConstraintID < consumers[j].ConstraintID
		}

		return consumers[i].Order < consumers[j].Order
	})
}
