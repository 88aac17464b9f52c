// Package mixengine implements the per-relay, per-direction batch
// queue: threshold-mix accumulation, a should-flush trigger, and a
// shuffle-on-flush that randomizes emission order.
package mixengine

import (
	"math/rand"
	"sync"
	"time"

	"github.com/obscura-relay/relay/pkg/sphinx"
)

// Strategy fixes the batch-size/time thresholds for one direction.
type Strategy struct {
	BatchSize int
	MaxDelay  time.Duration
	MinDelay  time.Duration
}

// DefaultStrategy matches the mixnet policy's defaults.
func DefaultStrategy() Strategy {
	return Strategy{
		BatchSize: 10,
		MaxDelay:  30 * time.Second,
		MinDelay:  100 * time.Millisecond,
	}
}

// QueuedPacket pairs a packet with the next hop it is bound for.
type QueuedPacket struct {
	NextHop [32]byte
	Packet  *sphinx.Packet
}

// Batch is the ordered arrival queue of packets awaiting a flush,
// owned by exactly one relay direction and mutated only under its own
// lock (single-writer discipline).
type Batch struct {
	strategy   Strategy
	mu         sync.Mutex
	queue      []QueuedPacket
	batchStart time.Time
	started    bool
}

// NewBatch creates an empty batch under the given strategy.
func NewBatch(strategy Strategy) *Batch {
	return &Batch{strategy: strategy}
}

// Enqueue appends a packet, starting the batch timer if this is the
// first arrival since the last flush.
func (b *Batch) Enqueue(pkt QueuedPacket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.batchStart = time.Now()
		b.started = true
	}
	b.queue = append(b.queue, pkt)
}

// ShouldFlush is true iff the batch has reached BatchSize, or the
// batch has been open at least MaxDelay.
func (b *Batch) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldFlushLocked()
}

func (b *Batch) shouldFlushLocked() bool {
	if len(b.queue) >= b.strategy.BatchSize {
		return true
	}
	if b.started && time.Since(b.batchStart) >= b.strategy.MaxDelay {
		return true
	}
	return false
}

// Len reports the current batch size (the one non-monotonic runtime
// statistic the relay exposes).
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush atomically swaps out the queue, shuffles it uniformly at
// random, and clears the batch timer. Each returned packet must be
// scheduled for emission after an independently sampled delay
// (pkg/temporal) no smaller than MinDelay.
func (b *Batch) Flush() []QueuedPacket {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.queue
	b.queue = nil
	b.started = false

	rand.Shuffle(len(drained), func(i, j int) {
		drained[i], drained[j] = drained[j], drained[i]
	})

	return drained
}

// MinDelay exposes the strategy's floor for the caller's delay sampler.
func (b *Batch) MinDelay() time.Duration {
	return b.strategy.MinDelay
}
