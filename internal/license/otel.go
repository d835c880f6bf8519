package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the activation subsystem's OpenTelemetry instruments.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	TrialIncrements   metric.Int64Counter
	TrialLimitRejects metric.Int64Counter

	OfflineFallbacks metric.Int64Counter
	TemporaryGrants  metric.Int64Counter

	QueueReconcileRuns    metric.Int64Counter
	QueueEntriesConfirmed metric.Int64Counter
	QueueEntriesRejected  metric.Int64Counter
}

// NewMetrics registers the subsystem's instruments on meter. A nil meter
// yields nil metrics, which every recording helper tolerates; tests and
// tooling run without an exporter that way.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	m := &Metrics{}
	var err error

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.TrialIncrements, err = meter.Int64Counter(
		"trial_transaction_increments_total",
		metric.WithDescription("Total number of recorded transactions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trial increments counter: %w", err)
	}

	m.TrialLimitRejects, err = meter.Int64Counter(
		"trial_limit_rejections_total",
		metric.WithDescription("Total number of transactions rejected at the trial limit"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trial limit rejections counter: %w", err)
	}

	m.OfflineFallbacks, err = meter.Int64Counter(
		"license_offline_fallbacks_total",
		metric.WithDescription("Total number of activations that fell back to offline validation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create offline fallbacks counter: %w", err)
	}

	m.TemporaryGrants, err = meter.Int64Counter(
		"license_temporary_grants_total",
		metric.WithDescription("Total number of temporary grace-period grants"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary grants counter: %w", err)
	}

	m.QueueReconcileRuns, err = meter.Int64Counter(
		"validation_queue_reconcile_runs_total",
		metric.WithDescription("Total number of validation queue reconciliation runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile runs counter: %w", err)
	}

	m.QueueEntriesConfirmed, err = meter.Int64Counter(
		"validation_queue_confirmed_total",
		metric.WithDescription("Total number of queue entries confirmed by the license server"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create confirmed entries counter: %w", err)
	}

	m.QueueEntriesRejected, err = meter.Int64Counter(
		"validation_queue_rejected_total",
		metric.WithDescription("Total number of queue entries rejected by the license server"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rejected entries counter: %w", err)
	}

	return m, nil
}

// RecordActivation records one activation attempt and its outcome.
func (m *Metrics) RecordActivation(ctx context.Context, start time.Time, outcome string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ActivationAttempts.Add(ctx, 1, attrs)
	m.ActivationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.ActivationFailures.Add(ctx, 1, attrs)
		return
	}
	m.ActivationSuccess.Add(ctx, 1, attrs)
}

// RecordIncrement records one transaction increment attempt.
func (m *Metrics) RecordIncrement(ctx context.Context, rejected bool) {
	if m == nil {
		return
	}
	if rejected {
		m.TrialLimitRejects.Add(ctx, 1)
		return
	}
	m.TrialIncrements.Add(ctx, 1)
}

// RecordOfflineFallback records a fallback to offline validation and whether
// it produced a temporary grant.
func (m *Metrics) RecordOfflineFallback(ctx context.Context, temporary bool) {
	if m == nil {
		return
	}
	m.OfflineFallbacks.Add(ctx, 1)
	if temporary {
		m.TemporaryGrants.Add(ctx, 1)
	}
}

// RecordReconcile records one reconciliation run's confirmed and rejected
// entry counts.
func (m *Metrics) RecordReconcile(ctx context.Context, confirmed, rejected int64) {
	if m == nil {
		return
	}
	m.QueueReconcileRuns.Add(ctx, 1)
	if confirmed > 0 {
		m.QueueEntriesConfirmed.Add(ctx, confirmed)
	}
	if rejected > 0 {
		m.QueueEntriesRejected.Add(ctx, rejected)
	}
}
