package observe

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DropCounter accumulates drop events on an atomic so realtime audio
// callbacks never touch the metrics pipeline directly. The callback calls
// Count, which neither blocks nor allocates; a flusher goroutine moves the
// accumulated total into the OTel counter.
type DropCounter struct {
	pending atomic.Int64
	counter metric.Int64Counter
}

// NewDropCounter wraps counter in a hot-path-safe accumulator.
func NewDropCounter(counter metric.Int64Counter) *DropCounter {
	return &DropCounter{counter: counter}
}

// Count records one dropped chunk. Safe to call from a device callback.
func (d *DropCounter) Count() {
	d.pending.Add(1)
}

// Flush moves the accumulated count into the underlying counter.
func (d *DropCounter) Flush(ctx context.Context) {
	if n := d.pending.Swap(0); n > 0 {
		d.counter.Add(ctx, n)
	}
}

// FlushEvery flushes on the given interval until ctx is cancelled, then
// performs one final flush so no drops are lost on shutdown.
func (d *DropCounter) FlushEvery(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			d.Flush(ctx)
		case <-ctx.Done():
			d.Flush(context.WithoutCancel(ctx))
			return
		}
	}
}
