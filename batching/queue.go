package batching

import (
	"context"

	"go.uber.org/atomic"
)

// workQueue abstracts the per-worker append/flush queue (§4.7). A positive capacity
// yields a plain bounded channel, whose send blocks the caller when full (backpressure);
// capacity <= 0 yields an unbounded queue backed by a forwarding goroutine, so push never
// blocks the caller on queue depth.
type workQueue struct {
	out     <-chan workerItem
	in      chan<- workerItem
	bounded bool
	ch      chan workerItem // set only when bounded, so len() can read it directly
	depth   atomic.Int64    // maintained only by the unbounded goroutine
}

func newWorkQueue(capacity int) *workQueue {
	if capacity > 0 {
		ch := make(chan workerItem, capacity)
		return &workQueue{in: ch, out: ch, bounded: true, ch: ch}
	}
	return newUnboundedQueue()
}

// push enqueues item, blocking only while a bounded queue is full, or until ctx is done.
func (q *workQueue) push(ctx context.Context, item workerItem) error {
	select {
	case q.in <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *workQueue) len() int64 {
	if q.bounded {
		return int64(len(q.ch))
	}
	return q.depth.Load()
}

// newUnboundedQueue implements the classic Go "infinite channel" idiom: an internal
// goroutine holds overflow in a growable slice and forwards to out as the consumer
// drains, so sends on in never block on queue depth.
func newUnboundedQueue() *workQueue {
	in := make(chan workerItem)
	out := make(chan workerItem)
	q := &workQueue{in: in, out: out}

	go func() {
		defer close(out)
		var buf []workerItem
		for {
			if len(buf) == 0 {
				item, ok := <-in
				if !ok {
					return
				}
				buf = append(buf, item)
				q.depth.Inc()
				continue
			}

			select {
			case item, ok := <-in:
				if !ok {
					for _, it := range buf {
						out <- it
						q.depth.Dec()
					}
					return
				}
				buf = append(buf, item)
				q.depth.Inc()
			case out <- buf[0]:
				buf = buf[1:]
				q.depth.Dec()
			}
		}
	}()

	return q
}

func (q *workQueue) close() {
	close(q.in)
}
