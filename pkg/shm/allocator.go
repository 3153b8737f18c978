package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/memblock/internal/logging"
	internalshm "github.com/srediag/memblock/internal/shm"
	"github.com/srediag/memblock/pkg/memblock"
)

const instrumentationName = "github.com/srediag/memblock/pkg/shm"

var (
	// ErrNoSpace is returned when Dir cannot hold a new segment.
	ErrNoSpace = errors.New("shared memory has not enough space left")
	// ErrUnknownSegment is returned by Free for storage this allocator did not map.
	ErrUnknownSegment = errors.New("not a segment of this allocator")
	// ErrClosed is returned by Allocate after Close.
	ErrClosed = errors.New("shm allocator closed")

	logger = logging.New("shm", os.Stderr)
)

// Allocator creates one shared memory segment per allocation.
// It is safe for concurrent use.
type Allocator struct {
	cfg      Config
	seq      atomic.Uint64
	closed   atomic.Bool
	segments cmap.ConcurrentMap[string, *internalshm.MappedRegion]
	tracer   trace.Tracer
	mapped   metric.Int64UpDownCounter
	created  metric.Int64Counter
}

var _ memblock.Allocator = (*Allocator)(nil)

// NewAllocator returns an allocator for cfg.
func NewAllocator(cfg Config) (*Allocator, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	meter := cfg.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	mapped, err := meter.Int64UpDownCounter("shm.mapped_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes currently mapped in shared memory segments."))
	if err != nil {
		return nil, fmt.Errorf("create mapped_bytes instrument: %w", err)
	}
	created, err := meter.Int64Counter("shm.segments_created",
		metric.WithDescription("Shared memory segments created."))
	if err != nil {
		return nil, fmt.Errorf("create segments_created instrument: %w", err)
	}
	return &Allocator{
		cfg:      cfg,
		segments: cmap.New[*internalshm.MappedRegion](),
		tracer:   tracer,
		mapped:   mapped,
		created:  created,
	}, nil
}

// Allocate implements memblock.Allocator.
func (a *Allocator) Allocate(n int) ([]byte, error) {
	return a.AllocateContext(context.Background(), n)
}

// AllocateContext creates, sizes and maps a new segment of n bytes.
func (a *Allocator) AllocateContext(ctx context.Context, n int) (_ []byte, err error) {
	ctx, span := a.tracer.Start(ctx, "shm.Allocate", trace.WithAttributes(attribute.Int("shm.size", n)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if a.closed.Load() {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, fmt.Errorf("allocate %d bytes: %w", n, memblock.ErrInvalidSize)
	}
	if err := a.checkSpace(ctx, uint64(n)); err != nil {
		return nil, err
	}

	var region *internalshm.MappedRegion
	op := func() error {
		r, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
			Path:      a.nextPath(),
			Size:      n,
			Create:    true,
			Exclusive: true,
			Mode:      a.cfg.Mode,
		})
		if err != nil {
			if isTransient(err) {
				logger.Debugf("shm allocator: retrying segment creation: %v", err)
				return err
			}
			return backoff.Permanent(err)
		}
		region = r
		return nil
	}
	if err := backoff.Retry(op, a.retryPolicy(ctx)); err != nil {
		return nil, err
	}

	key := addrKey(region.Addr)
	a.segments.Set(key, region)
	a.mapped.Add(ctx, int64(n))
	a.created.Add(ctx, 1)
	// Close may have swept the registry while the segment was being created.
	if a.closed.Load() {
		if r, ok := a.segments.Pop(key); ok {
			if err := a.release(ctx, r); err != nil {
				return nil, errors.Join(ErrClosed, err)
			}
		}
		return nil, ErrClosed
	}
	span.SetAttributes(attribute.String("shm.path", region.Path))
	logger.Infof("shm allocator: created segment %s (%d bytes)", region.Path, n)
	return region.Addr, nil
}

// Free implements memblock.Allocator. The segment is unmapped and unlinked.
func (a *Allocator) Free(b []byte) error {
	return a.FreeContext(context.Background(), b)
}

// FreeContext unmaps and unlinks the segment b came from.
func (a *Allocator) FreeContext(ctx context.Context, b []byte) (err error) {
	if len(b) == 0 {
		return nil
	}
	ctx, span := a.tracer.Start(ctx, "shm.Free")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	region, ok := a.segments.Pop(addrKey(b))
	if !ok {
		return ErrUnknownSegment
	}
	return a.release(ctx, region)
}

func (a *Allocator) release(ctx context.Context, region *internalshm.MappedRegion) error {
	size := len(region.Addr)
	path := region.Path
	if err := internalshm.UnmapRegion(ctx, region, internalshm.UnmapOptions{Unlink: true}); err != nil {
		logger.Warnf("shm allocator: release %s failed: %v", path, err)
		return err
	}
	a.mapped.Add(ctx, -int64(size))
	logger.Infof("shm allocator: removed segment %s", path)
	return nil
}

// Segments returns the paths of the live segments, sorted.
func (a *Allocator) Segments() []string {
	paths := make([]string, 0, a.segments.Count())
	for item := range a.segments.IterBuffered() {
		paths = append(paths, item.Val.Path)
	}
	sort.Strings(paths)
	return paths
}

// Close frees every live segment. Allocate fails with ErrClosed afterwards.
func (a *Allocator) Close() error {
	a.closed.Store(true)
	ctx := context.Background()
	var errs []error
	for _, key := range a.segments.Keys() {
		region, ok := a.segments.Pop(key)
		if !ok {
			continue
		}
		if err := a.release(ctx, region); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Allocator) nextPath() string {
	name := a.cfg.Prefix + "-" + strconv.Itoa(os.Getpid()) + "-" + strconv.FormatUint(a.seq.Add(1), 10)
	return filepath.Join(a.cfg.Dir, name)
}

// checkSpace rejects an allocation that would leave less than MinFree bytes
// in Dir.
func (a *Allocator) checkSpace(ctx context.Context, need uint64) error {
	usage, err := disk.UsageWithContext(ctx, a.cfg.Dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", a.cfg.Dir, err)
	}
	if usage.Free < need || usage.Free-need < a.cfg.MinFree {
		return fmt.Errorf("%w: dir %s free %d, need %d + %d reserved",
			ErrNoSpace, a.cfg.Dir, usage.Free, need, a.cfg.MinFree)
	}
	return nil
}

func (a *Allocator) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond
	eb.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, a.cfg.MaxRetries), ctx)
}

func isTransient(err error) bool {
	return errors.Is(err, os.ErrExist) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR)
}

func addrKey(b []byte) string {
	return strconv.FormatUint(uint64(uintptr(unsafe.Pointer(&b[0]))), 16)
}
