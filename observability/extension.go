package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/oramind/gatekit/approval"
	"github.com/oramind/gatekit/ext"
	"github.com/oramind/gatekit/retry"
	"github.com/oramind/gatekit/workflow"
)

// meterName is the instrumentation scope name for gatekit metrics.
const meterName = "github.com/oramind/gatekit"

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.WorkflowCreated      = (*MetricsExtension)(nil)
	_ ext.WorkflowTransitioned = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted    = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed       = (*MetricsExtension)(nil)
	_ ext.RetryScheduled       = (*MetricsExtension)(nil)
	_ ext.RetrySucceeded       = (*MetricsExtension)(nil)
	_ ext.RetryExhausted       = (*MetricsExtension)(nil)
	_ ext.DecisionRecorded     = (*MetricsExtension)(nil)
	_ ext.SweepCompleted       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OTel.
// Register it as a Gatekit extension to automatically track workflow
// throughput, failure rates, retry churn, decision outcomes, and sweep
// recoveries.
//
// Instruments:
//   - gatekit.workflow.created / completed / failed (Int64Counter)
//   - gatekit.workflow.duration (Float64Histogram, seconds)
//   - gatekit.retry.scheduled / succeeded / exhausted (Int64Counter)
//   - gatekit.decisions (Int64Counter, attribute: outcome)
//   - gatekit.sweep.recovered / retried (Int64Counter)
type MetricsExtension struct {
	workflowCreated   metric.Int64Counter
	workflowCompleted metric.Int64Counter
	workflowFailed    metric.Int64Counter
	workflowDuration  metric.Float64Histogram
	retryScheduled    metric.Int64Counter
	retrySucceeded    metric.Int64Counter
	retryExhausted    metric.Int64Counter
	decisions         metric.Int64Counter
	sweepRecovered    metric.Int64Counter
	sweepRetried      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops,
// so registering the extension is always safe.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the OTel API returns noop instruments, so individual
	// creation errors are ignored rather than failing registration.
	m := &MetricsExtension{}
	m.workflowCreated, _ = meter.Int64Counter("gatekit.workflow.created",
		metric.WithDescription("Workflow instances created"))
	m.workflowCompleted, _ = meter.Int64Counter("gatekit.workflow.completed",
		metric.WithDescription("Workflow instances completed"))
	m.workflowFailed, _ = meter.Int64Counter("gatekit.workflow.failed",
		metric.WithDescription("Workflow error transitions"))
	m.workflowDuration, _ = meter.Float64Histogram("gatekit.workflow.duration",
		metric.WithDescription("Workflow time from trigger to completion in seconds"),
		metric.WithUnit("s"))
	m.retryScheduled, _ = meter.Int64Counter("gatekit.retry.scheduled",
		metric.WithDescription("Retry entries scheduled or rescheduled"))
	m.retrySucceeded, _ = meter.Int64Counter("gatekit.retry.succeeded",
		metric.WithDescription("Retry entries that eventually succeeded"))
	m.retryExhausted, _ = meter.Int64Counter("gatekit.retry.exhausted",
		metric.WithDescription("Retry entries dead-lettered after exhausting attempts"))
	m.decisions, _ = meter.Int64Counter("gatekit.decisions",
		metric.WithDescription("Evaluation decisions recorded"))
	m.sweepRecovered, _ = meter.Int64Counter("gatekit.sweep.recovered",
		metric.WithDescription("Stuck instances recovered by sweep"))
	m.sweepRetried, _ = meter.Int64Counter("gatekit.sweep.retried",
		metric.WithDescription("Failed instances re-driven by sweep"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowCreated implements ext.WorkflowCreated.
func (m *MetricsExtension) OnWorkflowCreated(ctx context.Context, inst *workflow.Instance) error {
	m.workflowCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(inst.Mode)),
	))
	return nil
}

// OnWorkflowTransitioned implements ext.WorkflowTransitioned.
func (m *MetricsExtension) OnWorkflowTransitioned(_ context.Context, _ *workflow.Instance, _ workflow.Event) error {
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	attrs := metric.WithAttributes(attribute.String("mode", string(inst.Mode)))
	m.workflowCompleted.Add(ctx, 1, attrs)
	m.workflowDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, _ string) error {
	m.workflowFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(inst.Mode)),
	))
	return nil
}

// ── Retry lifecycle hooks ───────────────────────────

// OnRetryScheduled implements ext.RetryScheduled.
func (m *MetricsExtension) OnRetryScheduled(ctx context.Context, e *retry.Entry) error {
	m.retryScheduled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("item_type", e.ItemType),
	))
	return nil
}

// OnRetrySucceeded implements ext.RetrySucceeded.
func (m *MetricsExtension) OnRetrySucceeded(ctx context.Context, e *retry.Entry) error {
	m.retrySucceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("item_type", e.ItemType),
	))
	return nil
}

// OnRetryExhausted implements ext.RetryExhausted.
func (m *MetricsExtension) OnRetryExhausted(ctx context.Context, e *retry.Entry) error {
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("item_type", e.ItemType),
	))
	return nil
}

// ── Approval and sweep hooks ────────────────────────

// OnDecisionRecorded implements ext.DecisionRecorded.
func (m *MetricsExtension) OnDecisionRecorded(ctx context.Context, d *approval.Decision) error {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(d.Outcome)),
	))
	return nil
}

// OnSweepCompleted implements ext.SweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(ctx context.Context, recovered, retried int) error {
	m.sweepRecovered.Add(ctx, int64(recovered))
	m.sweepRetried.Add(ctx, int64(retried))
	return nil
}
