// Package observability provides a Gatekit extension that records
// lifecycle metrics through OpenTelemetry. Register it to track workflow
// creations, completions and failures, retry scheduling and exhaustion,
// evaluation decisions, and sweep recoveries without touching any
// subsystem code.
package observability
