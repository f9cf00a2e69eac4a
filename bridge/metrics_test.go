package bridge

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wippyai/vbridge/descriptor"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation is %T, want Sum[int64]", data)
	}
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Handles(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := newTestRegistry(t, WithMeterProvider(mp))
	ctx := context.Background()

	ref := wrapBox(t, r, newBox(1, 1))
	items := getRef(t, r, ref, "items")
	items.Release()

	_, _ = r.Get(ctx, ref.ID(), "nope")

	got := collect(t, reader)
	if n := sum(t, got["vbridge.handles.created"]); n != 2 {
		t.Errorf("handles.created = %d, want 2", n)
	}
	if n := sum(t, got["vbridge.handles.released"]); n != 1 {
		t.Errorf("handles.released = %d, want 1", n)
	}
	if n := sum(t, got["vbridge.handles.live"]); n != 1 {
		t.Errorf("handles.live = %d, want 1", n)
	}

	errs, ok := got["vbridge.dispatch.errors"].(metricdata.Sum[int64])
	if !ok || len(errs.DataPoints) != 1 {
		t.Fatalf("dispatch.errors = %#v", got["vbridge.dispatch.errors"])
	}
	kind, _ := errs.DataPoints[0].Attributes.Value(attribute.Key("kind"))
	if kind.AsString() != "unknown_field" {
		t.Errorf("dispatch.errors kind = %q", kind.AsString())
	}
}

type blob struct{ size int64 }

func (b *blob) ExternalSize() int64 { return b.size }

func TestRegistry_Pressure(t *testing.T) {
	var reported []int64
	r := newTestRegistry(t, WithPressure(150, func(total int64) {
		reported = append(reported, total)
	}))

	a, err := r.Wrap("box", &blob{size: 100}, OwnedShared)
	if err != nil {
		t.Fatal(err)
	}
	if len(reported) != 0 {
		t.Fatalf("pressure reported below threshold: %v", reported)
	}

	if _, err := r.Wrap("box", &blob{size: 100}, OwnedShared); err != nil {
		t.Fatal(err)
	}
	if len(reported) != 1 || reported[0] != 200 {
		t.Fatalf("reported = %v, want [200]", reported)
	}
	if r.ExternalBytes() != 200 {
		t.Fatalf("ExternalBytes() = %d", r.ExternalBytes())
	}

	a.Release()
	if r.ExternalBytes() != 100 {
		t.Fatalf("ExternalBytes() after release = %d", r.ExternalBytes())
	}
}

func TestRegistry_RegisterType(t *testing.T) {
	r := New()
	defer r.Close()

	tables := boxTables(t)
	if err := r.RegisterType("box", tables[0]); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterType("box", tables[0]); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := r.RegisterType("other", tables[1]); err == nil {
		t.Error("tag/table mismatch should fail")
	}
	if err := r.RegisterType("x", nil); err == nil {
		t.Error("nil table should fail")
	}
	if err := tables[0].Register("late", func(descriptor.Context, any) (any, error) { return nil, nil }, nil); err == nil {
		t.Error("registered tables are sealed")
	}
	if _, ok := r.Table("box"); !ok {
		t.Error("Table(box) missing")
	}
}

func TestRegistry_Close(t *testing.T) {
	r := New()
	for _, tbl := range boxTables(t) {
		must(t, r.RegisterType(tbl.Tag(), tbl))
	}

	dropped := 0
	s := NewShared(newBox(1, 1)).OnDrop(func(any) { dropped++ })
	ref, err := r.Wrap("box", s, OwnedShared)
	if err != nil {
		t.Fatal(err)
	}
	s.Release()
	getRef(t, r, ref, "items")

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d after Close, want 1", dropped)
	}
	if _, err := r.Wrap("box", newBox(1), OwnedShared); err == nil {
		t.Error("Wrap after Close should fail")
	}
	// Finalizers running after Close are harmless.
	if ref.Release() {
		t.Error("Release after Close should report nothing released")
	}
}
