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

const instanceColumns = `
	id, execution_id, state_name, state_type, status, parent_instance_id, prev_instance_id,
	notify_id, branch_index, context_element, elements, state_execution_data, correlation_ids,
	wait_id, error_message, timeout_millis, created_at, started_at, expires_at, ended_at, version
`

// InstanceRepository handles state execution instance persistence operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// SaveInstance inserts or replaces an instance without checking its version.
func (r *InstanceRepository) SaveInstance(ctx context.Context, instance *models.StateExecutionInstance) error {
	args, err := instanceArgs(instance)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO state_execution_instances (` + instanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context_element = EXCLUDED.context_element,
			elements = EXCLUDED.elements,
			state_execution_data = EXCLUDED.state_execution_data,
			correlation_ids = EXCLUDED.correlation_ids,
			wait_id = EXCLUDED.wait_id,
			error_message = EXCLUDED.error_message,
			timeout_millis = EXCLUDED.timeout_millis,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at,
			ended_at = EXCLUDED.ended_at,
			version = EXCLUDED.version
	`

	_, err = r.db.ExecContext(ctx, query, append(args, instance.Version)...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save instance", "instance_id", instance.ID, "error", err)

		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) InstanceByID(ctx context.Context, id string) (*models.StateExecutionInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM state_execution_instances WHERE id = $1`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("Get", "instance", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) InstancesByExecution(
	ctx context.Context, executionID string,
) ([]*models.StateExecutionInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM state_execution_instances
		WHERE execution_id = $1
		ORDER BY created_at ASC, id ASC
	`

	return r.query(ctx, query, executionID)
}

// UpdateInstance writes the mutable columns when both the version and the status still match.
func (r *InstanceRepository) UpdateInstance(
	ctx context.Context, instance *models.StateExecutionInstance, from ...models.ExecutionStatus,
) error {
	args, err := instanceArgs(instance)
	if err != nil {
		return err
	}

	query := `
		UPDATE state_execution_instances
		SET status = $2,
			context_element = $3,
			elements = $4,
			state_execution_data = $5,
			correlation_ids = $6,
			wait_id = $7,
			error_message = $8,
			timeout_millis = $9,
			started_at = $10,
			expires_at = $11,
			ended_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $13 AND ($14::text[] IS NULL OR status = ANY($14::text[]))
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ID, args[4], args[9], args[10], args[11], args[12], args[13], args[14], args[15],
		args[17], args[18], args[19], instance.Version, pq.Array(statusArray(from)),
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		_, err = r.InstanceByID(ctx, instance.ID)
		if err != nil {
			return persistence.NewRecordError("Update", "instance", instance.ID, err)
		}

		return persistence.NewRecordError("Update", "instance", instance.ID, persistence.ErrConcurrentUpdate)
	}

	instance.Version++

	return nil
}

// ExpiredInstances uses the partial index on WAITING instances. limit <= 0 lists all.
func (r *InstanceRepository) ExpiredInstances(
	ctx context.Context, now time.Time, limit int,
) ([]*models.StateExecutionInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM state_execution_instances
		WHERE status = 'WAITING' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	return r.query(ctx, query, now, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
}

func (r *InstanceRepository) query(ctx context.Context, query string, args ...any) ([]*models.StateExecutionInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var instances []*models.StateExecutionInstance

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}

	return instances, nil
}

// instanceArgs returns the first 20 positional arguments, in instanceColumns order.
func instanceArgs(instance *models.StateExecutionInstance) ([]any, error) {
	var (
		contextElement []byte
		err            error
	)

	if instance.ContextElement != nil {
		contextElement, err = marshalJSON(instance.ContextElement)
		if err != nil {
			return nil, err
		}
	}

	elements, err := marshalJSON(instance.Elements)
	if err != nil {
		return nil, err
	}

	var data []byte
	if len(instance.StateExecutionData) > 0 {
		data = instance.StateExecutionData
	}

	return []any{
		instance.ID,
		instance.ExecutionID,
		instance.StateName,
		instance.StateType,
		string(instance.Status),
		nullString(instance.ParentInstanceID),
		nullString(instance.PrevInstanceID),
		nullString(instance.NotifyID),
		instance.BranchIndex,
		contextElement,
		elements,
		data,
		pq.Array(instance.CorrelationIDs),
		nullString(instance.WaitID),
		nullString(instance.ErrorMessage),
		instance.TimeoutMillis,
		instance.CreatedAt,
		instance.StartedAt,
		instance.ExpiresAt,
		instance.EndedAt,
	}, nil
}

func scanInstance(row scanner) (*models.StateExecutionInstance, error) {
	var (
		instance         models.StateExecutionInstance
		status           string
		parentInstanceID sql.NullString
		prevInstanceID   sql.NullString
		notifyID         sql.NullString
		contextElement   []byte
		elements         []byte
		data             []byte
		correlationIDs   pq.StringArray
		waitID           sql.NullString
		errorMessage     sql.NullString
	)

	err := row.Scan(
		&instance.ID, &instance.ExecutionID, &instance.StateName, &instance.StateType, &status,
		&parentInstanceID, &prevInstanceID, &notifyID, &instance.BranchIndex, &contextElement,
		&elements, &data, &correlationIDs, &waitID, &errorMessage, &instance.TimeoutMillis,
		&instance.CreatedAt, &instance.StartedAt, &instance.ExpiresAt, &instance.EndedAt, &instance.Version,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.ExecutionStatus(status)
	instance.ParentInstanceID = parentInstanceID.String
	instance.PrevInstanceID = prevInstanceID.String
	instance.NotifyID = notifyID.String
	instance.WaitID = waitID.String
	instance.ErrorMessage = errorMessage.String

	if len(correlationIDs) > 0 {
		instance.CorrelationIDs = correlationIDs
	}

	if len(data) > 0 {
		instance.StateExecutionData = data
	}

	if len(contextElement) > 0 {
		instance.ContextElement = &models.ContextElement{}

		err = unmarshalJSON(contextElement, instance.ContextElement)
		if err != nil {
			return nil, err
		}
	}

	err = unmarshalJSON(elements, &instance.Elements)
	if err != nil {
		return nil, err
	}

	return &instance, nil
}
