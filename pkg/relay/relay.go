// Package relay ties the packet layer, directory, mix engine, temporal
// scrambling, and dead-drop store into one relay node runtime: the
// inbound dispatch loop, maintenance loop, and statistics a relay
// process needs to run standalone.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/obscura-relay/relay/pkg/cryptokit"
	"github.com/obscura-relay/relay/pkg/deaddrop"
	"github.com/obscura-relay/relay/pkg/directory"
	"github.com/obscura-relay/relay/pkg/mixengine"
	"github.com/obscura-relay/relay/pkg/mtls"
	"github.com/obscura-relay/relay/pkg/sphinx"
	"github.com/obscura-relay/relay/pkg/temporal"
)

// deadDropOpcodePrefix is the ASCII marker identifying a delivered
// payload as a dead-drop store request rather than terminal content.
const deadDropOpcodePrefix = "DEADROP_STORE:"

const (
	opcodePrefixLen = len(deadDropOpcodePrefix)
	opcodeDropEnd   = opcodePrefixLen + 32
	opcodeTokenEnd  = opcodeDropEnd + 32
)

// Stats are the relay's monotonic counters, surfaced over /metrics. The
// one non-monotonic gauge (current batch size) is not part of Stats; it
// is read through BatchSize.
type Stats struct {
	Received  uint64
	Forwarded uint64
	Delivered uint64
	Stored    uint64
	Rejected  uint64
}

// Sink receives terminal (non-dead-drop) delivered payloads. A relay
// without a registered sink silently discards them — this repo has no
// end-user client, only the relay-side delivery contract.
type Sink func(payload []byte)

// Relay is one mix node's runtime state.
type Relay struct {
	cfg        Config
	privateKey [cryptokit.KeySize]byte
	nodeID     [32]byte

	dir      *directory.Service
	drops    *deaddrop.Store
	replica  *deaddrop.Replicator
	outbound *mixengine.Batch

	forwardClient forwardClient
	sink          Sink

	stats struct {
		received  uint64
		forwarded uint64
		delivered uint64
		stored    uint64
		rejected  uint64
	}

	stopCh chan struct{}
}

// forwardClient is the narrow interface the relay needs to hand a
// packet to the next hop, satisfied by *mtls.Client in production and
// stubbed in tests.
type forwardClient interface {
	ForwardPacket(nodeAddress string, packet []byte) error
}

// New constructs a relay runtime from its config, private key, and
// collaborators. mtlsClient may be nil, in which case forwarding is a
// no-op logged at the point of transmission (useful for directory-less
// unit tests and single-node demos). The dead-drop backend is selected
// by cfg.DeadDrop.Backend; a misconfigured or unavailable backend
// (e.g. "rocksdb" without a rocksdb-tagged build) is an error here
// rather than a silent fallback to memory.
func New(cfg Config, privateKey [cryptokit.KeySize]byte, dir *directory.Service, mtlsClient *mtls.Client) (*Relay, error) {
	backend, err := newDeadDropBackend(cfg.DeadDrop)
	if err != nil {
		return nil, fmt.Errorf("relay: dead-drop backend: %w", err)
	}
	drops := deaddrop.NewStore(cfg.deadDropConfig(), backend)

	r := &Relay{
		cfg:        cfg,
		privateKey: privateKey,
		nodeID:     cryptokit.Hash256(privateKey[:]),
		dir:        dir,
		drops:      drops,
		outbound:   mixengine.NewBatch(cfg.mixStrategy()),
		stopCh:     make(chan struct{}),
	}

	r.replica = deaddrop.NewReplicator(mtlsClient, func(dropID [32]byte) []string {
		return r.resolveReplicaAddresses(dropID)
	})

	if mtlsClient != nil {
		r.forwardClient = mtlsClient
	}

	return r, nil
}

// newDeadDropBackend selects the Storage implementation named by
// cfg.Backend. An empty value defaults to the in-memory backend.
func newDeadDropBackend(cfg DeadDropConfig) (deaddrop.Storage, error) {
	switch cfg.Backend {
	case "", "memory":
		return deaddrop.NewMemoryStorage(), nil
	case "rocksdb":
		if cfg.Path == "" {
			return nil, fmt.Errorf("dead_drop.path is required for the rocksdb backend")
		}
		return deaddrop.NewRocksDBStorage(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown dead_drop.backend %q", cfg.Backend)
	}
}

// SetSink registers the callback for terminal (non-dead-drop) delivery.
func (r *Relay) SetSink(sink Sink) { r.sink = sink }

// NodeID is this relay's directory identity, derived from its private
// key so it never needs a separately configured value.
func (r *Relay) NodeID() [32]byte { return r.nodeID }

func (r *Relay) resolveReplicaAddresses(dropID [32]byte) []string {
	if r.dir == nil {
		return nil
	}
	ids := r.dir.GetDeadDropReplicas(dropID, 2)
	addrs := make([]string, 0, len(ids))
	for _, id := range ids {
		if node, err := r.dir.GetNode(id); err == nil {
			addrs = append(addrs, node.Address)
		}
	}
	return addrs
}

// HandleInbound processes one packet received on the relay's public
// surface. It implements the per-packet state machine: Received →
// Decrypted → {Forwarded | Delivered | Stored | Rejected}.
func (r *Relay) HandleInbound(pkt *sphinx.Packet) error {
	atomic.AddUint64(&r.stats.received, 1)

	processed, err := sphinx.Process(r.privateKey, pkt)
	if err != nil {
		atomic.AddUint64(&r.stats.rejected, 1)
		return err
	}

	switch processed.Kind {
	case sphinx.OutcomeDeliver:
		return r.handleDeliver(processed.Payload)
	case sphinx.OutcomeForward:
		return r.handleForward(processed.NextHop, processed.Packet)
	default:
		atomic.AddUint64(&r.stats.rejected, 1)
		return sphinx.ErrInvalidPacket
	}
}

func (r *Relay) handleDeliver(payload []byte) error {
	if bytes.HasPrefix(payload, []byte(deadDropOpcodePrefix)) {
		if len(payload) < opcodeTokenEnd {
			atomic.AddUint64(&r.stats.rejected, 1)
			return fmt.Errorf("relay: truncated dead-drop opcode: %w", sphinx.ErrInvalidPacket)
		}

		var dropID, accessToken [32]byte
		copy(dropID[:], payload[opcodePrefixLen:opcodeDropEnd])
		copy(accessToken[:], payload[opcodeDropEnd:opcodeTokenEnd])
		stored := payload[opcodeTokenEnd:]

		if _, err := r.drops.Store(dropID, accessToken, stored); err != nil {
			atomic.AddUint64(&r.stats.rejected, 1)
			return err
		}
		atomic.AddUint64(&r.stats.stored, 1)
		r.replica.ReplicateStore(dropID, accessToken, stored)
		return nil
	}

	atomic.AddUint64(&r.stats.delivered, 1)
	if r.sink != nil {
		r.sink(payload)
	}
	return nil
}

func (r *Relay) handleForward(nextHop [32]byte, pkt *sphinx.Packet) error {
	r.outbound.Enqueue(mixengine.QueuedPacket{NextHop: nextHop, Packet: pkt})

	if r.outbound.ShouldFlush() {
		r.flushOutbound()
	}
	return nil
}

// flushOutbound drains the outbound batch and schedules each packet's
// transmission after an independently sampled delay: enqueue order is
// randomized by the shuffle, and each share's timeline must not be
// serialized behind another's.
func (r *Relay) flushOutbound() {
	drained := r.outbound.Flush()
	delayCfg := r.cfg.temporalConfig()

	for _, qp := range drained {
		go func(qp mixengine.QueuedPacket) {
			delay := temporal.SampleDelay(delayCfg)
			if delay < r.outbound.MinDelay() {
				delay = r.outbound.MinDelay()
			}
			time.Sleep(delay)
			r.transmit(qp)
		}(qp)
	}
}

func (r *Relay) transmit(qp mixengine.QueuedPacket) {
	node, err := r.dir.FindNodeByPublicKey(qp.NextHop)
	if err != nil {
		log.Printf("relay: cannot resolve next hop for forward: %v", err)
		atomic.AddUint64(&r.stats.rejected, 1)
		return
	}

	data, err := qp.Packet.MarshalBinary()
	if err != nil {
		log.Printf("relay: marshal forwarded packet: %v", err)
		return
	}

	if r.forwardClient == nil {
		log.Printf("relay: no forward client configured, dropping packet bound for %s", node.Address)
		return
	}

	if err := r.forwardClient.ForwardPacket(node.Address, data); err != nil {
		log.Printf("relay: forward to %s failed: %v", node.Address, err)
		return
	}
	atomic.AddUint64(&r.stats.forwarded, 1)
}

// Stats returns a snapshot of the relay's counters. The current
// outbound batch size is returned by BatchSize.
func (r *Relay) Stats() Stats {
	return Stats{
		Received:  atomic.LoadUint64(&r.stats.received),
		Forwarded: atomic.LoadUint64(&r.stats.forwarded),
		Delivered: atomic.LoadUint64(&r.stats.delivered),
		Stored:    atomic.LoadUint64(&r.stats.stored),
		Rejected:  atomic.LoadUint64(&r.stats.rejected),
	}
}

// BatchSize is the one non-monotonic runtime statistic the relay
// exposes: how many packets are waiting in the outbound batch.
func (r *Relay) BatchSize() int { return r.outbound.Len() }

// DeadDropStats exposes the dead-drop store's aggregate counters.
func (r *Relay) DeadDropStats() deaddrop.Stats { return r.drops.GetStats() }

// RunMaintenance runs the fixed-interval maintenance loop: sweep
// dead-drop TTLs and flush the outbound batch once it has aged past
// max_delay, until ctx is cancelled.
func (r *Relay) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if removed, err := r.drops.Sweep(); err != nil {
				log.Printf("relay: dead-drop sweep error: %v", err)
			} else if removed > 0 {
				log.Printf("relay: swept %d expired dead-drop messages", removed)
			}

			if r.outbound.ShouldFlush() {
				r.flushOutbound()
			}
		}
	}
}

// RunCoverTraffic emits indistinguishable cover packets at the
// configured rate until ctx is cancelled. Generation errors are logged
// and discarded, never propagated.
func (r *Relay) RunCoverTraffic(ctx context.Context) {
	if !r.cfg.CoverTraffic.Enabled {
		return
	}
	coverCfg := r.cfg.coverConfig()

	for {
		delay := temporal.NextCoverDelay(coverCfg)
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-time.After(delay):
		}

		route, pkt, err := temporal.GenerateCoverPacket(r.dir)
		if err != nil {
			log.Printf("relay: cover packet generation error: %v", err)
			continue
		}

		data, err := pkt.MarshalBinary()
		if err != nil {
			continue
		}
		if r.forwardClient != nil {
			if err := r.forwardClient.ForwardPacket(route[0].Address, data); err != nil {
				log.Printf("relay: cover packet transmission error: %v", err)
			}
		}
	}
}

// Close stops background loops.
func (r *Relay) Close() {
	close(r.stopCh)
	if r.replica != nil {
		r.replica.Close()
	}
	if err := r.drops.Close(); err != nil {
		log.Printf("relay: closing dead-drop backend: %v", err)
	}
}
