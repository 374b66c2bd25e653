package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "astra"

// Metrics holds all engine metric instruments.
type Metrics struct {
	RunsStarted      metric.Int64Counter
	RunsCompleted    metric.Int64Counter
	RunsFailed       metric.Int64Counter
	TasksExecuted    metric.Int64Counter
	TaskRetries      metric.Int64Counter
	PendingApprovals metric.Int64UpDownCounter
	TaskDuration     metric.Float64Histogram
	RunDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("astra.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("astra.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("astra.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.TasksExecuted, err = meter.Int64Counter("astra.tasks.executed",
		metric.WithDescription("Number of task attempts executed"))
	if err != nil {
		return nil, err
	}

	m.TaskRetries, err = meter.Int64Counter("astra.tasks.retries",
		metric.WithDescription("Number of task retries"))
	if err != nil {
		return nil, err
	}

	m.PendingApprovals, err = meter.Int64UpDownCounter("astra.approvals.pending",
		metric.WithDescription("Approvals currently awaiting a decision"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("astra.task.duration_seconds",
		metric.WithDescription("Task attempt duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("astra.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
