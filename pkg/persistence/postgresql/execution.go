package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/lib/pq"
)

// ExecutionRepository handles workflow execution persistence operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// SaveExecution inserts or replaces an execution.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	definition, err := marshalJSON(execution.Definition)
	if err != nil {
		return err
	}

	elements, err := marshalJSON(execution.Elements)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions (
			id, app_id, pipeline_execution_id, definition, elements, status,
			error_message, created_at, ended_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			definition = EXCLUDED.definition,
			elements = EXCLUDED.elements,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			ended_at = EXCLUDED.ended_at,
			version = EXCLUDED.version
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.AppID, nullString(execution.PipelineExecutionID), definition, elements,
		string(execution.Status), nullString(execution.ErrorMessage), execution.CreatedAt, execution.EndedAt,
		execution.Version,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save execution", "execution_id", execution.ID, "error", err)

		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT id, app_id, pipeline_execution_id, definition, elements, status,
			error_message, created_at, ended_at, version
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRecordError("Get", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// UpdateExecutionStatus compares and swaps the status in a single statement. ended_at is set
// when the target status is terminal.
func (r *ExecutionRepository) UpdateExecutionStatus(
	ctx context.Context, id string, from []models.ExecutionStatus, to models.ExecutionStatus, message string,
) error {
	query := `
		UPDATE workflow_executions
		SET status = $2,
			error_message = $3,
			ended_at = CASE WHEN $4 THEN NOW() ELSE ended_at END,
			version = version + 1
		WHERE id = $1 AND ($5::text[] IS NULL OR status = ANY($5::text[]))
	`

	result, err := r.db.ExecContext(ctx, query,
		id, string(to), nullString(message), to.IsTerminal(), pq.Array(statusArray(from)),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return nil
	}

	_, err = r.ExecutionByID(ctx, id)
	if err != nil {
		return persistence.NewRecordError("UpdateStatus", "execution", id, err)
	}

	return persistence.NewRecordError("UpdateStatus", "execution", id, persistence.ErrConcurrentUpdate)
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution           models.WorkflowExecution
		pipelineExecutionID sql.NullString
		errorMessage        sql.NullString
		status              string
		definition          []byte
		elements            []byte
	)

	err := row.Scan(
		&execution.ID, &execution.AppID, &pipelineExecutionID, &definition, &elements, &status,
		&errorMessage, &execution.CreatedAt, &execution.EndedAt, &execution.Version,
	)
	if err != nil {
		return nil, err
	}

	execution.PipelineExecutionID = pipelineExecutionID.String
	execution.ErrorMessage = errorMessage.String
	execution.Status = models.ExecutionStatus(status)

	err = unmarshalJSON(definition, &execution.Definition)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(elements, &execution.Elements)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}
