package gatekit

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("gatekit: no store configured")
	ErrStoreClosed     = errors.New("gatekit: store closed")
	ErrMigrationFailed = errors.New("gatekit: migration failed")

	// Not found errors.
	ErrInstanceNotFound  = errors.New("gatekit: workflow instance not found")
	ErrRetryNotFound     = errors.New("gatekit: retry entry not found")
	ErrRuleNotFound      = errors.New("gatekit: approval rule not found")
	ErrRecipientNotFound = errors.New("gatekit: approved recipient not found")
	ErrWorkerNotFound    = errors.New("gatekit: worker not found")

	// Conflict errors.
	ErrInstanceAlreadyExists = errors.New("gatekit: workflow instance already exists")
	ErrDuplicateRule         = errors.New("gatekit: duplicate approval rule")

	// State errors.
	ErrStaleState      = errors.New("gatekit: state changed concurrently")
	ErrNotRetryable    = errors.New("gatekit: retry entry is not retryable")
	ErrNotDeadLettered = errors.New("gatekit: retry entry is not dead-lettered")
)
