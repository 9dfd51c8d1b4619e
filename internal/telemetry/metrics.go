package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const orchestratorScopeName = "github.com/beadforge/forge/orchestrator"

// BuildMetrics records orchestrator outcomes. The zero value is not usable;
// build one with NewBuildMetrics. A nil *BuildMetrics is a no-op.
type BuildMetrics struct {
	completed   metric.Int64Counter
	failed      metric.Int64Counter
	attempts    metric.Int64Counter
	escalations metric.Int64Counter
	phaseDur    metric.Float64Histogram
}

// NewBuildMetrics creates the orchestrator instruments on the global meter.
func NewBuildMetrics() *BuildMetrics {
	return newBuildMetrics(Meter(orchestratorScopeName))
}

func newBuildMetrics(m metric.Meter) *BuildMetrics {
	completed, _ := m.Int64Counter("forge.items.completed",
		metric.WithDescription("Work items closed after an approved review"),
	)
	failed, _ := m.Int64Counter("forge.items.failed",
		metric.WithDescription("Failed attempts by reason"),
	)
	attempts, _ := m.Int64Counter("forge.attempts",
		metric.WithDescription("Coding attempts started"),
	)
	escalations, _ := m.Int64Counter("forge.escalations",
		metric.WithDescription("Items escalated after exhausting retries"),
	)
	phaseDur, _ := m.Float64Histogram("forge.phase.duration",
		metric.WithDescription("Duration of a build phase in seconds"),
		metric.WithUnit("s"),
	)
	return &BuildMetrics{
		completed:   completed,
		failed:      failed,
		attempts:    attempts,
		escalations: escalations,
		phaseDur:    phaseDur,
	}
}

func (b *BuildMetrics) Completed(ctx context.Context, projectID string) {
	if b == nil {
		return
	}
	b.completed.Add(ctx, 1, metric.WithAttributes(projectAttr(projectID)))
}

func (b *BuildMetrics) Failed(ctx context.Context, projectID, reason string) {
	if b == nil {
		return
	}
	b.failed.Add(ctx, 1, metric.WithAttributes(projectAttr(projectID), attribute.String("reason", reason)))
}

func (b *BuildMetrics) Attempt(ctx context.Context, projectID string) {
	if b == nil {
		return
	}
	b.attempts.Add(ctx, 1, metric.WithAttributes(projectAttr(projectID)))
}

func (b *BuildMetrics) Escalated(ctx context.Context, projectID string) {
	if b == nil {
		return
	}
	b.escalations.Add(ctx, 1, metric.WithAttributes(projectAttr(projectID)))
}

// Phase records how long a phase ran, tagged with its outcome.
func (b *BuildMetrics) Phase(ctx context.Context, projectID, phase, outcome string, d time.Duration) {
	if b == nil {
		return
	}
	b.phaseDur.Record(ctx, d.Seconds(), metric.WithAttributes(
		projectAttr(projectID),
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	))
}
