// Package adapter provides adapters for memblock integration with external systems.
package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/memblock/pkg/memblock"
)

// OTelAllocator wraps an Allocator and records its activity with
// OpenTelemetry instruments.
type OTelAllocator struct {
	inner    memblock.Allocator
	attrs    metric.MeasurementOption
	allocs   metric.Int64Counter
	frees    metric.Int64Counter
	failures metric.Int64Counter
	bytes    metric.Int64UpDownCounter
}

var _ memblock.Allocator = (*OTelAllocator)(nil)

// NewOTelAllocator instruments inner with meter, tagging every measurement
// with allocator=name.
func NewOTelAllocator(inner memblock.Allocator, meter metric.Meter, name string) (*OTelAllocator, error) {
	a := &OTelAllocator{
		inner: inner,
		attrs: metric.WithAttributes(attribute.String("allocator", name)),
	}
	var err error
	if a.allocs, err = meter.Int64Counter("memblock.allocations",
		metric.WithDescription("Backing allocations.")); err != nil {
		return nil, fmt.Errorf("create allocations instrument: %w", err)
	}
	if a.frees, err = meter.Int64Counter("memblock.frees",
		metric.WithDescription("Backing frees.")); err != nil {
		return nil, fmt.Errorf("create frees instrument: %w", err)
	}
	if a.failures, err = meter.Int64Counter("memblock.allocation_errors",
		metric.WithDescription("Failed allocations and frees.")); err != nil {
		return nil, fmt.Errorf("create allocation_errors instrument: %w", err)
	}
	if a.bytes, err = meter.Int64UpDownCounter("memblock.allocated_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes currently allocated.")); err != nil {
		return nil, fmt.Errorf("create allocated_bytes instrument: %w", err)
	}
	return a, nil
}

func (o *OTelAllocator) Allocate(n int) ([]byte, error) {
	ctx := context.Background()
	b, err := o.inner.Allocate(n)
	if err != nil {
		o.failures.Add(ctx, 1, o.attrs)
		return nil, err
	}
	o.allocs.Add(ctx, 1, o.attrs)
	o.bytes.Add(ctx, int64(len(b)), o.attrs)
	return b, nil
}

func (o *OTelAllocator) Free(b []byte) error {
	ctx := context.Background()
	if err := o.inner.Free(b); err != nil {
		o.failures.Add(ctx, 1, o.attrs)
		return err
	}
	o.frees.Add(ctx, 1, o.attrs)
	o.bytes.Add(ctx, -int64(len(b)), o.attrs)
	return nil
}
