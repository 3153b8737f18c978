// Package adapter provides adapters for memblock integration with external systems.
package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/memblock/pkg/memblock"
)

// PrometheusAllocator wraps an Allocator and exports its activity as
// Prometheus metrics, labelled with the allocator name.
type PrometheusAllocator struct {
	inner       memblock.Allocator
	allocations prometheus.Counter
	frees       prometheus.Counter
	failures    prometheus.Counter
	bytes       prometheus.Gauge
}

var _ memblock.Allocator = (*PrometheusAllocator)(nil)

var (
	allocationsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memblock",
		Name:      "allocations_total",
		Help:      "Total number of backing allocations.",
	}, []string{"allocator"})
	freesVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memblock",
		Name:      "frees_total",
		Help:      "Total number of backing frees.",
	}, []string{"allocator"})
	failuresVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memblock",
		Name:      "allocation_errors_total",
		Help:      "Total number of failed allocations and frees.",
	}, []string{"allocator"})
	bytesVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "memblock",
		Name:      "allocated_bytes",
		Help:      "Bytes currently allocated.",
	}, []string{"allocator"})
)

// RegisterMetrics registers the allocator collectors with reg. It returns
// the first registration error other than AlreadyRegisteredError.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{allocationsVec, freesVec, failuresVec, bytesVec} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// NewPrometheusAllocator instruments inner under name. Call RegisterMetrics
// once to expose the series.
func NewPrometheusAllocator(inner memblock.Allocator, name string) *PrometheusAllocator {
	return &PrometheusAllocator{
		inner:       inner,
		allocations: allocationsVec.WithLabelValues(name),
		frees:       freesVec.WithLabelValues(name),
		failures:    failuresVec.WithLabelValues(name),
		bytes:       bytesVec.WithLabelValues(name),
	}
}

func (p *PrometheusAllocator) Allocate(n int) ([]byte, error) {
	b, err := p.inner.Allocate(n)
	if err != nil {
		p.failures.Inc()
		return nil, err
	}
	p.allocations.Inc()
	p.bytes.Add(float64(len(b)))
	return b, nil
}

func (p *PrometheusAllocator) Free(b []byte) error {
	if err := p.inner.Free(b); err != nil {
		p.failures.Inc()
		return err
	}
	p.frees.Inc()
	p.bytes.Sub(float64(len(b)))
	return nil
}
