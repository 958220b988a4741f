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
	"github.com/lib/pq"
)

const (
	consumerColumns = `
		constraint_id, consumer_id, permits, consumer_order, state,
		release_entity_id, release_entity_type, created_at
	`

	foreignKeyViolation = "23503"
)

// ConstraintRepository handles resource constraint and consumer persistence operations.
type ConstraintRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewConstraintRepository(db *sql.DB, logger *slog.Logger) *ConstraintRepository {
	return &ConstraintRepository{db: db, logger: logger}
}

// EnsureConstraint keeps the capacity of an existing constraint.
func (r *ConstraintRepository) EnsureConstraint(
	ctx context.Context, id string, capacity int,
) (*models.ResourceConstraint, error) {
	query := `
		INSERT INTO resource_constraints (id, capacity, strategy, next_order, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, id, capacity, models.StrategyFIFO, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create constraint", "constraint_id", id, "error", err)

		return nil, fmt.Errorf("failed to create constraint: %w", err)
	}

	return r.ConstraintByID(ctx, id)
}

func (r *ConstraintRepository) ConstraintByID(ctx context.Context, id string) (*models.ResourceConstraint, error) {
	query := `
		SELECT id, capacity, strategy, next_order, created_at
		FROM resource_constraints
		WHERE id = $1
	`

	var constraint models.ResourceConstraint

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&constraint.ID, &constraint.Capacity, &constraint.Strategy, &constraint.NextOrder, &constraint.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("Get", "constraint", id, persistence.ErrConstraintNotFound)
		}

		return nil, fmt.Errorf("failed to get constraint: %w", err)
	}

	return &constraint, nil
}

func (r *ConstraintRepository) NextOrder(ctx context.Context, constraintID string) (int64, error) {
	query := `
		UPDATE resource_constraints
		SET next_order = next_order + 1
		WHERE id = $1
		RETURNING next_order
	`

	var order int64

	err := r.db.QueryRowContext(ctx, query, constraintID).Scan(&order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, persistence.NewRecordError("NextOrder", "constraint", constraintID, persistence.ErrConstraintNotFound)
		}

		return 0, fmt.Errorf("failed to increment constraint order: %w", err)
	}

	return order, nil
}

func (r *ConstraintRepository) Consumers(ctx context.Context, constraintID string) ([]*models.Consumer, error) {
	query := `
		SELECT ` + consumerColumns + `
		FROM constraint_consumers
		WHERE constraint_id = $1
		ORDER BY consumer_order ASC
	`

	return r.query(ctx, query, constraintID)
}

func (r *ConstraintRepository) ConsumersByReleaseEntity(
	ctx context.Context, releaseEntityID string,
) ([]*models.Consumer, error) {
	query := `
		SELECT ` + consumerColumns + `
		FROM constraint_consumers
		WHERE release_entity_id = $1
		ORDER BY constraint_id ASC, consumer_order ASC
	`

	return r.query(ctx, query, releaseEntityID)
}

func (r *ConstraintRepository) SaveConsumer(ctx context.Context, consumer *models.Consumer) error {
	query := `
		INSERT INTO constraint_consumers (` + consumerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (constraint_id, consumer_id) DO UPDATE SET
			permits = EXCLUDED.permits,
			consumer_order = EXCLUDED.consumer_order,
			state = EXCLUDED.state,
			release_entity_id = EXCLUDED.release_entity_id,
			release_entity_type = EXCLUDED.release_entity_type
	`

	createdAt := consumer.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		consumer.ConstraintID, consumer.ConsumerID, consumer.Permits, consumer.Order, string(consumer.State),
		consumer.ReleaseEntityID, string(consumer.ReleaseEntityType), createdAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return persistence.NewRecordError("SaveConsumer", "constraint", consumer.ConstraintID,
				persistence.ErrConstraintNotFound)
		}

		return fmt.Errorf("failed to save consumer: %w", err)
	}

	return nil
}

func (r *ConstraintRepository) DeleteConsumer(ctx context.Context, constraintID, consumerID string) error {
	query := `DELETE FROM constraint_consumers WHERE constraint_id = $1 AND consumer_id = $2`

	_, err := r.db.ExecContext(ctx, query, constraintID, consumerID)
	if err != nil {
		return fmt.Errorf("failed to delete consumer: %w", err)
	}

	return nil
}

func (r *ConstraintRepository) query(ctx context.Context, query string, args ...any) ([]*models.Consumer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumers: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var consumers []*models.Consumer

	for rows.Next() {
		var (
			consumer          models.Consumer
			state             string
			releaseEntityType string
		)

		err := rows.Scan(
			&consumer.ConstraintID, &consumer.ConsumerID, &consumer.Permits, &consumer.Order, &state,
			&consumer.ReleaseEntityID, &releaseEntityType, &consumer.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consumer: %w", err)
		}

		consumer.State = models.ConsumerState(state)
		consumer.ReleaseEntityType = models.HoldingScope(releaseEntityType)
		consumers = append(consumers, &consumer)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate consumers: %w", err)
	}

	return consumers, nil
}
