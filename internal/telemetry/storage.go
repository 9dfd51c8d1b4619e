package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

const storageScopeName = "github.com/beadforge/forge/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in forge.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner     storage.Storage
	tracer    trace.Tracer
	ops       metric.Int64Counter
	dur       metric.Float64Histogram
	errs      metric.Int64Counter
	itemGauge metric.Int64Gauge
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	return newInstrumentedStorage(s, Meter(storageScopeName), Tracer(storageScopeName))
}

func newInstrumentedStorage(s storage.Storage, m metric.Meter, t trace.Tracer) *InstrumentedStorage {
	ops, _ := m.Int64Counter("forge.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("forge.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("forge.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	itemGauge, _ := m.Int64Gauge("forge.item.count",
		metric.WithDescription("Current number of work items by status (snapshot from GetStatistics)"),
	)
	return &InstrumentedStorage{
		inner:     s,
		tracer:    t,
		ops:       ops,
		dur:       dur,
		errs:      errs,
		itemGauge: itemGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func projectAttr(projectID string) attribute.KeyValue {
	return attribute.String("forge.project", projectID)
}

func itemAttr(id string) attribute.KeyValue {
	return attribute.String("forge.item.id", id)
}

func (s *InstrumentedStorage) CreateItem(ctx context.Context, item *types.WorkItem, opts storage.CreateOptions) (*types.WorkItem, error) {
	attrs := []attribute.KeyValue{projectAttr(item.ProjectID), attribute.String("forge.parent.id", opts.ParentID)}
	ctx, span, t := s.op(ctx, "CreateItem", attrs...)
	created, err := s.inner.CreateItem(ctx, item, opts)
	s.done(ctx, span, t, err, attrs...)
	return created, err
}

func (s *InstrumentedStorage) CreateItemWithRetry(ctx context.Context, item *types.WorkItem, opts storage.CreateOptions, retry storage.RetryOptions) (*storage.CreateResult, error) {
	attrs := []attribute.KeyValue{projectAttr(item.ProjectID), attribute.String("forge.parent.id", opts.ParentID)}
	ctx, span, t := s.op(ctx, "CreateItemWithRetry", attrs...)
	res, err := s.inner.CreateItemWithRetry(ctx, item, opts, retry)
	if res != nil {
		span.SetAttributes(attribute.Bool("forge.standalone", res.Standalone))
	}
	s.done(ctx, span, t, err, attrs...)
	return res, err
}

func (s *InstrumentedStorage) GetItem(ctx context.Context, projectID, id string) (*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "GetItem", projectAttr(projectID), itemAttr(id))
	item, err := s.inner.GetItem(ctx, projectID, id)
	s.done(ctx, span, t, err)
	return item, err
}

func (s *InstrumentedStorage) ListItems(ctx context.Context, projectID string, filter types.ItemFilter) ([]*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "ListItems", projectAttr(projectID))
	items, err := s.inner.ListItems(ctx, projectID, filter)
	span.SetAttributes(attribute.Int("forge.result.count", len(items)))
	s.done(ctx, span, t, err)
	return items, err
}

func (s *InstrumentedStorage) UpdateItem(ctx context.Context, projectID, id string, update storage.ItemUpdate) (*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "UpdateItem", projectAttr(projectID), itemAttr(id))
	item, err := s.inner.UpdateItem(ctx, projectID, id, update)
	s.done(ctx, span, t, err)
	return item, err
}

func (s *InstrumentedStorage) CloseItem(ctx context.Context, projectID, id, reason string) (*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "CloseItem", projectAttr(projectID), itemAttr(id))
	item, err := s.inner.CloseItem(ctx, projectID, id, reason)
	s.done(ctx, span, t, err)
	return item, err
}

func (s *InstrumentedStorage) ReopenItem(ctx context.Context, projectID, id string) (*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "ReopenItem", projectAttr(projectID), itemAttr(id))
	item, err := s.inner.ReopenItem(ctx, projectID, id)
	s.done(ctx, span, t, err)
	return item, err
}

func (s *InstrumentedStorage) AddDependency(ctx context.Context, dep *types.Dependency) error {
	attrs := []attribute.KeyValue{
		attribute.String("forge.dep.from", dep.FromID),
		attribute.String("forge.dep.to", dep.ToID),
		attribute.String("forge.dep.type", string(dep.Type)),
	}
	ctx, span, t := s.op(ctx, "AddDependency", attrs...)
	err := s.inner.AddDependency(ctx, dep)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) RemoveDependency(ctx context.Context, fromID, toID string) error {
	ctx, span, t := s.op(ctx, "RemoveDependency",
		attribute.String("forge.dep.from", fromID),
		attribute.String("forge.dep.to", toID),
	)
	err := s.inner.RemoveDependency(ctx, fromID, toID)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStorage) GetDependencies(ctx context.Context, id string) ([]*types.Dependency, error) {
	ctx, span, t := s.op(ctx, "GetDependencies", itemAttr(id))
	deps, err := s.inner.GetDependencies(ctx, id)
	s.done(ctx, span, t, err)
	return deps, err
}

func (s *InstrumentedStorage) GetChildren(ctx context.Context, projectID, parentID string) ([]*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "GetChildren", projectAttr(projectID), itemAttr(parentID))
	items, err := s.inner.GetChildren(ctx, projectID, parentID)
	s.done(ctx, span, t, err)
	return items, err
}

func (s *InstrumentedStorage) GetReadyWork(ctx context.Context, projectID string) ([]*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "GetReadyWork", projectAttr(projectID))
	items, err := s.inner.GetReadyWork(ctx, projectID)
	span.SetAttributes(attribute.Int("forge.result.count", len(items)))
	s.done(ctx, span, t, err)
	return items, err
}

func (s *InstrumentedStorage) GetBlockedItems(ctx context.Context, projectID string) ([]*types.BlockedItem, error) {
	ctx, span, t := s.op(ctx, "GetBlockedItems", projectAttr(projectID))
	items, err := s.inner.GetBlockedItems(ctx, projectID)
	span.SetAttributes(attribute.Int("forge.result.count", len(items)))
	s.done(ctx, span, t, err)
	return items, err
}

func (s *InstrumentedStorage) AreAllBlockersClosed(ctx context.Context, id string) (bool, error) {
	ctx, span, t := s.op(ctx, "AreAllBlockersClosed", itemAttr(id))
	ok, err := s.inner.AreAllBlockersClosed(ctx, id)
	s.done(ctx, span, t, err)
	return ok, err
}

func (s *InstrumentedStorage) GetBlockers(ctx context.Context, id string) ([]string, error) {
	ctx, span, t := s.op(ctx, "GetBlockers", itemAttr(id))
	ids, err := s.inner.GetBlockers(ctx, id)
	s.done(ctx, span, t, err)
	return ids, err
}

func (s *InstrumentedStorage) DeleteItems(ctx context.Context, ids []string) (int, error) {
	ctx, span, t := s.op(ctx, "DeleteItems", attribute.Int("forge.request.count", len(ids)))
	n, err := s.inner.DeleteItems(ctx, ids)
	span.SetAttributes(attribute.Int("forge.result.count", n))
	s.done(ctx, span, t, err)
	return n, err
}

func (s *InstrumentedStorage) DeleteProject(ctx context.Context, projectID string) (int, error) {
	ctx, span, t := s.op(ctx, "DeleteProject", projectAttr(projectID))
	n, err := s.inner.DeleteProject(ctx, projectID)
	span.SetAttributes(attribute.Int("forge.result.count", n))
	s.done(ctx, span, t, err)
	return n, err
}

func (s *InstrumentedStorage) GetStatistics(ctx context.Context, projectID string) (*types.Statistics, error) {
	ctx, span, t := s.op(ctx, "GetStatistics", projectAttr(projectID))
	stats, err := s.inner.GetStatistics(ctx, projectID)
	if err == nil && stats != nil {
		p := projectAttr(projectID)
		for status, n := range map[string]int{
			"open":        stats.OpenItems,
			"in_progress": stats.InProgressItems,
			"blocked":     stats.BlockedItems,
			"closed":      stats.ClosedItems,
			"ready":       stats.ReadyItems,
		} {
			s.itemGauge.Record(ctx, int64(n), metric.WithAttributes(p, attribute.String("status", status)))
		}
	}
	s.done(ctx, span, t, err)
	return stats, err
}

func (s *InstrumentedStorage) Flush(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Flush")
	err := s.inner.Flush(ctx)
	s.done(ctx, span, t, err)
	return err
}

// Close is not traced: it runs after the tracer provider may be gone.
func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

// Unwrap returns the underlying storage.
func (s *InstrumentedStorage) Unwrap() storage.Storage {
	return s.inner
}
