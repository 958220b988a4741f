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

// CorrelationRepository stores wait groups and buffered notify responses.
type CorrelationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCorrelationRepository(db *sql.DB, logger *slog.Logger) *CorrelationRepository {
	return &CorrelationRepository{db: db, logger: logger}
}

func (r *CorrelationRepository) SaveWait(ctx context.Context, wait *models.WaitGroup) error {
	callback, err := marshalJSON(wait.Callback)
	if err != nil {
		return err
	}

	createdAt := wait.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO wait_groups (id, correlation_ids, callback, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err = r.db.ExecContext(ctx, query, wait.ID, pq.Array(wait.CorrelationIDs), callback, createdAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save wait group", "wait_id", wait.ID, "error", err)

		return fmt.Errorf("failed to save wait group: %w", err)
	}

	return nil
}

// WaitsFor uses the GIN index on correlation_ids.
func (r *CorrelationRepository) WaitsFor(ctx context.Context, correlationID string) ([]*models.WaitGroup, error) {
	query := `
		SELECT id, correlation_ids, callback, created_at
		FROM wait_groups
		WHERE correlation_ids @> ARRAY[$1::text]
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wait groups: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var waits []*models.WaitGroup

	for rows.Next() {
		var (
			wait     models.WaitGroup
			ids      pq.StringArray
			callback []byte
		)

		err := rows.Scan(&wait.ID, &ids, &callback, &wait.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wait group: %w", err)
		}

		wait.CorrelationIDs = ids

		err = unmarshalJSON(callback, &wait.Callback)
		if err != nil {
			return nil, err
		}

		waits = append(waits, &wait)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate wait groups: %w", err)
	}

	return waits, nil
}

func (r *CorrelationRepository) DeleteWait(ctx context.Context, waitID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM wait_groups WHERE id = $1`, waitID)
	if err != nil {
		return fmt.Errorf("failed to delete wait group: %w", err)
	}

	return nil
}

// SaveResponse keeps the first response per correlation id, consumed or not.
func (r *CorrelationRepository) SaveResponse(ctx context.Context, correlationID string, data models.ResponseData) error {
	payload, err := marshalJSON(data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notify_responses (correlation_id, data, consumed, received_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (correlation_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, correlationID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save notify response: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewRecordError("SaveResponse", "correlation", correlationID, persistence.ErrAlreadyNotified)
	}

	return nil
}

func (r *CorrelationRepository) PendingResponses(
	ctx context.Context, ids []string,
) (map[string]models.ResponseData, error) {
	query := `
		SELECT correlation_id, data
		FROM notify_responses
		WHERE correlation_id = ANY($1::text[]) AND NOT consumed
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query notify responses: %w", err)
	}

	return scanResponses(rows)
}

// ClaimWait deletes the wait and consumes its responses in one transaction. The DELETE row
// lock serializes concurrent claimers; a missing response rolls the deletion back.
func (r *CorrelationRepository) ClaimWait(
	ctx context.Context, waitID string,
) (bool, map[string]models.ResponseData, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var ids pq.StringArray

	err = tx.QueryRowContext(ctx,
		`DELETE FROM wait_groups WHERE id = $1 RETURNING correlation_ids`, waitID,
	).Scan(&ids)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, nil
		}

		return false, nil, fmt.Errorf("failed to delete wait group: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE notify_responses
		SET consumed = TRUE
		WHERE correlation_id = ANY($1::text[]) AND NOT consumed
		RETURNING correlation_id, data
	`, ids)
	if err != nil {
		return false, nil, fmt.Errorf("failed to consume notify responses: %w", err)
	}

	results, err := scanResponses(rows)
	if err != nil {
		return false, nil, err
	}

	for _, id := range ids {
		if _, ok := results[id]; !ok {
			return false, nil, nil
		}
	}

	err = tx.Commit()
	if err != nil {
		return false, nil, fmt.Errorf("failed to commit wait claim: %w", err)
	}

	return true, results, nil
}

func (r *CorrelationRepository) RestoreWait(ctx context.Context, wait *models.WaitGroup) error {
	callback, err := marshalJSON(wait.Callback)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wait_groups (id, correlation_ids, callback, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, wait.ID, pq.Array(wait.CorrelationIDs), callback, wait.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to restore wait group: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE notify_responses SET consumed = FALSE WHERE correlation_id = ANY($1::text[])`,
		pq.Array(wait.CorrelationIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to release notify responses: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit wait restore: %w", err)
	}

	return nil
}

// CleanupExpiredResponses also purges consumed responses, which only guard against duplicates.
func (r *CorrelationRepository) CleanupExpiredResponses(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)

	result, err := r.db.ExecContext(ctx, `DELETE FROM notify_responses WHERE received_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired notify responses: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected > 0 {
		r.logger.InfoContext(ctx, "Purged expired notify responses", "count", rowsAffected)
	}

	return nil
}

func scanResponses(rows *sql.Rows) (map[string]models.ResponseData, error) {
	defer func() {
		_ = rows.Close()
	}()

	results := make(map[string]models.ResponseData)

	for rows.Next() {
		var (
			correlationID string
			payload       []byte
			data          models.ResponseData
		)

		err := rows.Scan(&correlationID, &payload)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notify response: %w", err)
		}

		err = unmarshalJSON(payload, &data)
		if err != nil {
			return nil, err
		}

		results[correlationID] = data
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate notify responses: %w", err)
	}

	return results, nil
}
