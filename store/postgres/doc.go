// Package postgres implements the store using pgx/v5 with raw SQL.
// Conditional updates ride on `UPDATE ... WHERE status = $from` so
// optimistic concurrency needs no extra round trip, recipient counters
// are bumped with atomic in-place increments, and schema migrations are
// embedded SQL files applied in filename order.
package postgres
