package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

type response struct {
	data       models.ResponseData
	receivedAt time.Time
	consumed   bool
}

type CorrelationRepository struct {
	mu        sync.Mutex
	waits     map[string]*models.WaitGroup
	responses map[string]*response
}

func NewCorrelationRepository() *CorrelationRepository {
	return &CorrelationRepository{
		waits:     make(map[string]*models.WaitGroup),
		responses: make(map[string]*response),
	}
}

func (r *CorrelationRepository) SaveWait(_ context.Context, wait *models.WaitGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.waits[wait.ID] = deepCopy(wait)

	return nil
}

func (r *CorrelationRepository) WaitsFor(_ context.Context, correlationID string) ([]*models.WaitGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var waits []*models.WaitGroup

	for _, wait := range r.waits {
		if slices.Contains(wait.CorrelationIDs, correlationID) {
			waits = append(waits, deepCopy(wait))
		}
	}

	return waits, nil
}

func (r *CorrelationRepository) DeleteWait(_ context.Context, waitID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.waits, waitID)

	return nil
}

func (r *CorrelationRepository) SaveResponse(_ context.Context, correlationID string, data models.ResponseData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.responses[correlationID]; ok {
		return persistence.NewRecordError("SaveResponse", "correlation", correlationID, persistence.ErrAlreadyNotified)
	}

	r.responses[correlationID] = &response{
		data:       *deepCopy(&data),
		receivedAt: time.Now().UTC(),
	}

	return nil
}

func (r *CorrelationRepository) PendingResponses(_ context.Context, ids []string) (map[string]models.ResponseData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make(map[string]models.ResponseData, len(ids))

	for _, id := range ids {
		if resp, ok := r.responses[id]; ok && !resp.consumed {
			results[id] = resp.data
		}
	}

	return results, nil
}

func (r *CorrelationRepository) ClaimWait(_ context.Context, waitID string) (bool, map[string]models.ResponseData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wait, ok := r.waits[waitID]
	if !ok {
		return false, nil, nil
	}

	results := make(map[string]models.ResponseData, len(wait.CorrelationIDs))

	for _, id := range wait.CorrelationIDs {
		resp, ok := r.responses[id]
		if !ok || resp.consumed {
			return false, nil, nil
		}

		results[id] = resp.data
	}

	for _, id := range wait.CorrelationIDs {
		r.responses[id].consumed = true
	}

	delete(r.waits, waitID)

	return true, results, nil
}

func (r *CorrelationRepository) RestoreWait(_ context.Context, wait *models.WaitGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.waits[wait.ID] = deepCopy(wait)

	for _, id := range wait.CorrelationIDs {
		if resp, ok := r.responses[id]; ok {
			resp.consumed = false
		}
	}

	return nil
}

func (r *CorrelationRepository) CleanupExpiredResponses(_ context.Context, maxAge time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)

	for id, resp := range r.responses {
		if resp.receivedAt.Before(cutoff) {
			delete(r.responses, id)
		}
	}

	return nil
}
