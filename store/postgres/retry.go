package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/retry"
)

// CreateRetry persists a new retry entry.
func (s *Store) CreateRetry(ctx context.Context, e *retry.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gatekit_retries (
			id, item_type, payload, source_id, status, attempts, max_attempts,
			next_retry_at, last_error, error_type, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID.String(), e.ItemType, e.Payload, sourceIDParam(e.SourceID),
		string(e.Status), e.Attempts, e.MaxAttempts,
		e.NextRetryAt, e.LastError, e.ErrorType, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: create retry: %w", err)
	}
	return nil
}

// GetRetry retrieves a retry entry by ID.
func (s *Store) GetRetry(ctx context.Context, retryID id.RetryID) (*retry.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, item_type, payload, source_id, status, attempts, max_attempts,
			next_retry_at, last_error, error_type, created_at, updated_at
		FROM gatekit_retries
		WHERE id = $1`,
		retryID.String(),
	)

	e, err := scanRetry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekit.ErrRetryNotFound
		}
		return nil, fmt.Errorf("gatekit/postgres: get retry: %w", err)
	}
	return e, nil
}

// UpdateRetryIf persists changes only when the stored status still equals
// from. Workers racing to claim the same due entry resolve here: exactly
// one conditional UPDATE matches, the rest see ErrStaleState.
func (s *Store) UpdateRetryIf(ctx context.Context, e *retry.Entry, from retry.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekit_retries SET
			item_type = $3, payload = $4, source_id = $5, status = $6,
			attempts = $7, max_attempts = $8, next_retry_at = $9,
			last_error = $10, error_type = $11, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		e.ID.String(), string(from),
		e.ItemType, e.Payload, sourceIDParam(e.SourceID), string(e.Status),
		e.Attempts, e.MaxAttempts, e.NextRetryAt,
		e.LastError, e.ErrorType,
	)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: update retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM gatekit_retries WHERE id = $1)`,
			e.ID.String(),
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("gatekit/postgres: update retry check: %w", checkErr)
		}
		if !exists {
			return gatekit.ErrRetryNotFound
		}
		return gatekit.ErrStaleState
	}
	return nil
}

// ListDueRetries returns pending entries due at or before now, soonest
// first.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*retry.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, item_type, payload, source_id, status, attempts, max_attempts,
			next_retry_at, last_error, error_type, created_at, updated_at
		FROM gatekit_retries
		WHERE status = 'pending'
		  AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("gatekit/postgres: list due retries: %w", err)
	}
	defer rows.Close()

	return collectRetries(rows)
}

// ListRetriesByStatus returns entries in the given status, newest-first.
func (s *Store) ListRetriesByStatus(ctx context.Context, status retry.Status, opts retry.ListOpts) ([]*retry.Entry, error) {
	query := `
		SELECT
			id, item_type, payload, source_id, status, attempts, max_attempts,
			next_retry_at, last_error, error_type, created_at, updated_at
		FROM gatekit_retries
		WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.ItemType != "" {
		query += fmt.Sprintf(" AND item_type = $%d", argIdx)
		args = append(args, opts.ItemType)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gatekit/postgres: list retries by status: %w", err)
	}
	defer rows.Close()

	return collectRetries(rows)
}

// CountRetries returns the number of entries in the given status. An
// empty status counts everything.
func (s *Store) CountRetries(ctx context.Context, status retry.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM gatekit_retries`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("gatekit/postgres: count retries: %w", err)
	}
	return count, nil
}

// sourceIDParam maps a nil source ID to SQL NULL.
func sourceIDParam(sourceID id.ID) any {
	if sourceID.IsNil() {
		return nil
	}
	return sourceID.String()
}

// scanRetry scans a single retry entry row.
func scanRetry(row pgx.Row) (*retry.Entry, error) {
	var (
		e         retry.Entry
		idStr     string
		sourceStr *string
		statusStr string
	)
	err := row.Scan(
		&idStr, &e.ItemType, &e.Payload, &sourceStr, &statusStr,
		&e.Attempts, &e.MaxAttempts, &e.NextRetryAt,
		&e.LastError, &e.ErrorType, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = retry.Status(statusStr)

	parsedID, parseErr := id.ParseRetryID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekit/postgres: parse retry id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	if sourceStr != nil && *sourceStr != "" {
		parsedSource, sourceErr := id.Parse(*sourceStr)
		if sourceErr == nil {
			e.SourceID = parsedSource
		}
	}

	return &e, nil
}

// collectRetries collects all retry entries from query rows.
func collectRetries(rows pgx.Rows) ([]*retry.Entry, error) {
	var entries []*retry.Entry
	for rows.Next() {
		e, err := scanRetry(rows)
		if err != nil {
			return nil, fmt.Errorf("gatekit/postgres: scan retry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekit/postgres: iterate retry rows: %w", err)
	}
	return entries, nil
}
