package mixengine

import (
	"testing"
	"time"

	"github.com/obscura-relay/relay/pkg/sphinx"
)

func dummyPacket() QueuedPacket {
	return QueuedPacket{Packet: &sphinx.Packet{}}
}

// TestFlushBySize covers the mix-flush scenario: batch_size=10,
// max_delay=30s. Enqueue 10 packets rapidly; ShouldFlush becomes true,
// and Flush returns exactly 10 packets and clears the batch. The
// permutation itself is checked by TestFlushPermutesOrder.
func TestFlushBySize(t *testing.T) {
	batch := NewBatch(Strategy{BatchSize: 10, MaxDelay: 30 * time.Second, MinDelay: 100 * time.Millisecond})

	for i := 0; i < 10; i++ {
		batch.Enqueue(dummyPacket())
	}

	if !batch.ShouldFlush() {
		t.Fatal("ShouldFlush should be true once batch_size is reached")
	}

	drained := batch.Flush()
	if len(drained) != 10 {
		t.Fatalf("Flush returned %d packets, want 10", len(drained))
	}
	if batch.Len() != 0 {
		t.Fatalf("batch not cleared after flush, Len=%d", batch.Len())
	}
}

func TestShouldFlushNotYetReached(t *testing.T) {
	batch := NewBatch(Strategy{BatchSize: 10, MaxDelay: 30 * time.Second, MinDelay: 0})
	for i := 0; i < 5; i++ {
		batch.Enqueue(dummyPacket())
	}
	if batch.ShouldFlush() {
		t.Fatal("ShouldFlush should be false below batch_size and before max_delay")
	}
}

func TestShouldFlushByMaxDelay(t *testing.T) {
	batch := NewBatch(Strategy{BatchSize: 1000, MaxDelay: 10 * time.Millisecond, MinDelay: 0})
	batch.Enqueue(dummyPacket())

	time.Sleep(20 * time.Millisecond)
	if !batch.ShouldFlush() {
		t.Fatal("ShouldFlush should trip once max_delay has elapsed")
	}
}

func TestFlushClearsBatchStart(t *testing.T) {
	batch := NewBatch(Strategy{BatchSize: 1000, MaxDelay: 10 * time.Millisecond, MinDelay: 0})
	batch.Enqueue(dummyPacket())
	time.Sleep(20 * time.Millisecond)
	batch.Flush()

	if batch.ShouldFlush() {
		t.Fatal("ShouldFlush should be false immediately after a flush with an empty queue")
	}
}

func TestFlushPermutesOrder(t *testing.T) {
	batch := NewBatch(Strategy{BatchSize: 1000, MaxDelay: time.Hour, MinDelay: 0})
	for i := 0; i < 64; i++ {
		var pkt sphinx.Packet
		pkt.EphemeralKey[0] = byte(i)
		batch.Enqueue(QueuedPacket{Packet: &pkt})
	}

	drained := batch.Flush()
	inOrder := true
	for i, qp := range drained {
		if qp.Packet.EphemeralKey[0] != byte(i) {
			inOrder = false
			break
		}
	}
	if inOrder {
		t.Fatal("flush returned packets in original insertion order with overwhelming improbability")
	}
}
