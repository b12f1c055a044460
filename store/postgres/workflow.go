package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/workflow"
)

// CreateInstance persists a new workflow instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gatekit_workflows (
			id, mode, status, trigger_ref, error_message, error_count,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inst.ID.String(), string(inst.Mode), string(inst.Status),
		inst.TriggerRef, inst.ErrorMessage, inst.ErrorCount,
		inst.StartedAt, inst.CompletedAt, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return gatekit.ErrInstanceAlreadyExists
		}
		return fmt.Errorf("gatekit/postgres: create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, mode, status, trigger_ref, error_message, error_count,
			started_at, completed_at, created_at, updated_at
		FROM gatekit_workflows
		WHERE id = $1`,
		instanceID.String(),
	)

	inst, err := scanInstance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gatekit.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("gatekit/postgres: get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstanceIf persists changes only when the stored status still
// equals from. The conditional WHERE clause is the compare-and-swap; a
// zero row count with an existing row means another writer won.
func (s *Store) UpdateInstanceIf(ctx context.Context, inst *workflow.Instance, from workflow.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gatekit_workflows SET
			mode = $3, status = $4, trigger_ref = $5,
			error_message = $6, error_count = $7,
			started_at = $8, completed_at = $9, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		inst.ID.String(), string(from),
		string(inst.Mode), string(inst.Status), inst.TriggerRef,
		inst.ErrorMessage, inst.ErrorCount,
		inst.StartedAt, inst.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("gatekit/postgres: update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM gatekit_workflows WHERE id = $1)`,
			inst.ID.String(),
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("gatekit/postgres: update instance check: %w", checkErr)
		}
		if !exists {
			return gatekit.ErrInstanceNotFound
		}
		return gatekit.ErrStaleState
	}
	return nil
}

// ListInstancesByStatus returns instances in the given status, newest-first.
func (s *Store) ListInstancesByStatus(ctx context.Context, status workflow.Status, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	query := `
		SELECT
			id, mode, status, trigger_ref, error_message, error_count,
			started_at, completed_at, created_at, updated_at
		FROM gatekit_workflows
		WHERE status = $1
		ORDER BY created_at DESC`
	args := []any{string(status)}
	argIdx := 2

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
		return nil, fmt.Errorf("gatekit/postgres: list instances by status: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// FindFailedRetryable returns non-aborted FAILED instances still under
// the error budget, newest-first.
func (s *Store) FindFailedRetryable(ctx context.Context, maxErrors, limit int) ([]*workflow.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, mode, status, trigger_ref, error_message, error_count,
			started_at, completed_at, created_at, updated_at
		FROM gatekit_workflows
		WHERE status = 'failed'
		  AND completed_at IS NULL
		  AND error_count < $1
		ORDER BY created_at DESC
		LIMIT $2`,
		maxErrors, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("gatekit/postgres: find failed retryable: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// FindStuckInstances returns PROCESSING instances started before cutoff,
// oldest-first.
func (s *Store) FindStuckInstances(ctx context.Context, cutoff time.Time, limit int) ([]*workflow.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, mode, status, trigger_ref, error_message, error_count,
			started_at, completed_at, created_at, updated_at
		FROM gatekit_workflows
		WHERE status = 'processing'
		  AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("gatekit/postgres: find stuck instances: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// scanInstance scans a single workflow instance row.
func scanInstance(row pgx.Row) (*workflow.Instance, error) {
	var (
		inst    workflow.Instance
		idStr   string
		modeStr string
		statStr string
	)
	err := row.Scan(
		&idStr, &modeStr, &statStr, &inst.TriggerRef,
		&inst.ErrorMessage, &inst.ErrorCount,
		&inst.StartedAt, &inst.CompletedAt,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Mode = workflow.Mode(modeStr)
	inst.Status = workflow.Status(statStr)

	parsedID, parseErr := id.ParseInstanceID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gatekit/postgres: parse instance id %q: %w", idStr, parseErr)
	}
	inst.ID = parsedID

	return &inst, nil
}

// collectInstances collects all instances from query rows.
func collectInstances(rows pgx.Rows) ([]*workflow.Instance, error) {
	var instances []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("gatekit/postgres: scan instance row: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gatekit/postgres: iterate instance rows: %w", err)
	}
	return instances, nil
}
