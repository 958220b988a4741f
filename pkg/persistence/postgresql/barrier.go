package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
)

const barrierColumns = `id, key, expected, arrived, state, participants, version, created_at, updated_at`

// BarrierRepository handles barrier persistence operations.
type BarrierRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewBarrierRepository(db *sql.DB, logger *slog.Logger) *BarrierRepository {
	return &BarrierRepository{db: db, logger: logger}
}

// FindOrCreateBarrier relies on the unique barrier_key so concurrent callers converge on one row.
func (r *BarrierRepository) FindOrCreateBarrier(
	ctx context.Context, barrier *models.BarrierInstance,
) (*models.BarrierInstance, error) {
	key, err := marshalJSON(barrier.Key)
	if err != nil {
		return nil, err
	}

	participants, err := marshalJSON(barrier.Participants)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if barrier.CreatedAt.IsZero() {
		barrier.CreatedAt = now
	}

	query := `
		INSERT INTO barrier_instances (
			id, barrier_key, key, expected, arrived, state, participants, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (barrier_key) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		barrier.ID, barrier.Key.String(), key, barrier.Expected, barrier.Arrived, string(barrier.State),
		participants, barrier.Version, barrier.CreatedAt, now,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create barrier", "barrier_key", barrier.Key.String(), "error", err)

		return nil, fmt.Errorf("failed to create barrier: %w", err)
	}

	stored, err := scanBarrier(r.db.QueryRowContext(ctx,
		`SELECT `+barrierColumns+` FROM barrier_instances WHERE barrier_key = $1`, barrier.Key.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to get barrier by key: %w", err)
	}

	return stored, nil
}

func (r *BarrierRepository) BarrierByID(ctx context.Context, id string) (*models.BarrierInstance, error) {
	barrier, err := scanBarrier(r.db.QueryRowContext(ctx,
		`SELECT `+barrierColumns+` FROM barrier_instances WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("Get", "barrier", id, persistence.ErrBarrierNotFound)
		}

		return nil, fmt.Errorf("failed to get barrier: %w", err)
	}

	return barrier, nil
}

func (r *BarrierRepository) UpdateBarrier(ctx context.Context, barrier *models.BarrierInstance) error {
	participants, err := marshalJSON(barrier.Participants)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	query := `
		UPDATE barrier_instances
		SET arrived = $2, state = $3, participants = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		barrier.ID, barrier.Arrived, string(barrier.State), participants, now, barrier.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update barrier: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		_, err = r.BarrierByID(ctx, barrier.ID)
		if err != nil {
			return persistence.NewRecordError("Update", "barrier", barrier.ID, err)
		}

		return persistence.NewRecordError("Update", "barrier", barrier.ID, persistence.ErrConcurrentUpdate)
	}

	barrier.Version++
	barrier.UpdatedAt = now

	return nil
}

func scanBarrier(row scanner) (*models.BarrierInstance, error) {
	var (
		barrier      models.BarrierInstance
		key          []byte
		state        string
		participants []byte
	)

	err := row.Scan(
		&barrier.ID, &key, &barrier.Expected, &barrier.Arrived, &state, &participants,
		&barrier.Version, &barrier.CreatedAt, &barrier.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	barrier.State = models.BarrierState(state)

	err = unmarshalJSON(key, &barrier.Key)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(participants, &barrier.Participants)
	if err != nil {
		return nil, err
	}

	return &barrier, nil
}
