package bridge

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wippyai/vbridge/errors"
)

const instrumentationName = "github.com/wippyai/vbridge/bridge"

type metrics struct {
	created  metric.Int64Counter
	released metric.Int64Counter
	errs     metric.Int64Counter
	live     metric.Int64UpDownCounter
	external metric.Int64UpDownCounter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	var meter metric.Meter
	if mp != nil {
		meter = mp.Meter(instrumentationName)
	} else {
		meter = otel.Meter(instrumentationName)
	}

	m := &metrics{}
	var err error

	m.created, err = meter.Int64Counter("vbridge.handles.created",
		metric.WithDescription("Handles allocated in the cell table"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return nil, err
	}

	m.released, err = meter.Int64Counter("vbridge.handles.released",
		metric.WithDescription("Handles released by their runtime"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return nil, err
	}

	m.errs, err = meter.Int64Counter("vbridge.dispatch.errors",
		metric.WithDescription("Dispatched calls that failed, by error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.live, err = meter.Int64UpDownCounter("vbridge.handles.live",
		metric.WithDescription("Handles currently held by runtimes"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return nil, err
	}

	m.external, err = meter.Int64UpDownCounter("vbridge.external.bytes",
		metric.WithDescription("Host memory retained by owned roots"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) handleCreated(tag string, mode Mode) {
	attrs := metric.WithAttributes(
		attribute.String("type", tag),
		attribute.String("mode", mode.String()),
	)
	m.created.Add(context.Background(), 1, attrs)
	m.live.Add(context.Background(), 1, attrs)
}

func (m *metrics) handleReleased(tag string, mode Mode) {
	attrs := metric.WithAttributes(
		attribute.String("type", tag),
		attribute.String("mode", mode.String()),
	)
	m.released.Add(context.Background(), 1, attrs)
	m.live.Add(context.Background(), -1, attrs)
}

func (m *metrics) dispatchFailed(ctx context.Context, op string, err error) {
	kind := errors.KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	m.errs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", string(kind)),
	))
}

func (m *metrics) externalDelta(delta int64) {
	m.external.Add(context.Background(), delta)
}
