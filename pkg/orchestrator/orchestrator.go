// Package orchestrator ties the fragmentation, mixnet, and dead-drop
// layers into the sender-facing contract: split a message into K-of-N
// shares, route each independently through the mixnet, and address it
// as a dead-drop store at its destination.
package orchestrator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/obscura-relay/relay/pkg/deaddrop"
	"github.com/obscura-relay/relay/pkg/directory"
	"github.com/obscura-relay/relay/pkg/shamir"
	"github.com/obscura-relay/relay/pkg/sphinx"
	"github.com/obscura-relay/relay/pkg/temporal"
	"github.com/obscura-relay/relay/pkg/wire"
)

var (
	// ErrTransportUnavailable is returned by Send when the caller's
	// TransportGate reports the underlying tunnel is not connected.
	ErrTransportUnavailable = errors.New("orchestrator: transport unavailable")
)

// TransportGate is checked before every Send. The tunnel itself (VPN or
// equivalent) is an external collaborator; this repo only gates on its
// reported state.
type TransportGate interface {
	Connected() bool
}

// AlwaysConnected is a TransportGate that never blocks Send, for tests
// and single-process demos that have no tunnel to check.
type AlwaysConnected struct{}

func (AlwaysConnected) Connected() bool { return true }

// Config fixes the K-of-N split, wire-transport, per-share send delay,
// and polling parameters an Orchestrator uses.
type Config struct {
	Shamir       shamir.Config
	WireClient   wire.ClientConfig
	SendDelay    temporal.DelayConfig
	PollInterval time.Duration
	MaxWait      time.Duration
}

// DefaultConfig matches the fragmentation, temporal-scrambling, and
// RPC-collection defaults.
func DefaultConfig() Config {
	return Config{
		Shamir:       shamir.Config{Threshold: 3, Total: 5},
		WireClient:   wire.DefaultClientConfig(),
		SendDelay:    temporal.DefaultDelayConfig(),
		PollInterval: 5 * time.Second,
		MaxWait:      60 * time.Second,
	}
}

// ShareRecord is what Send hands back for one prepared share: enough to
// poll its dead drop later for an RPC response.
type ShareRecord struct {
	Index       byte
	AccessToken [32]byte
	DropNode    [32]byte
}

// SendHandle is returned by Send: the message id plus one ShareRecord
// per transmitted share.
type SendHandle struct {
	MessageID [16]byte
	Shares    []ShareRecord
}

// Orchestrator is the sender-side entry point: Send, ReceiveFromShares,
// RouteRPCCall.
type Orchestrator struct {
	cfg  Config
	dir  *directory.Service
	gate TransportGate
	dial func(addr string) *wire.Client
}

// New builds an Orchestrator. gate is checked before every Send.
func New(cfg Config, dir *directory.Service, gate TransportGate) *Orchestrator {
	return &Orchestrator{
		cfg:  cfg,
		dir:  dir,
		gate: gate,
		dial: func(addr string) *wire.Client { return wire.NewClient(addr, cfg.WireClient) },
	}
}

// preparedShare is one share's fully-built packet, route, and derived
// addressing, ready to be delayed and transmitted.
type preparedShare struct {
	route       []*directory.MixNode
	packet      *sphinx.Packet
	accessToken [32]byte
	delay       time.Duration
	index       byte
}

// Send fragments message K-of-N, builds one onion packet per share
// addressed as a dead-drop store at destinationKey's drop, and
// transmits each to its own independently selected route's first hop
// after an independently sampled delay. It blocks until every share has
// been transmitted or failed; the wait for each share's delay runs
// concurrently with the others so the overall latency tracks the
// slowest share, not their sum.
func (o *Orchestrator) Send(ctx context.Context, message []byte, destinationKey [32]byte) (*SendHandle, error) {
	if !o.gate.Connected() {
		return nil, ErrTransportUnavailable
	}

	shares, err := shamir.Split(message, o.cfg.Shamir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: splitting message: %w", err)
	}

	dropID := deaddrop.DeriveDropID(destinationKey[:])

	prepared := make([]preparedShare, len(shares))
	for i, share := range shares {
		route, err := o.dir.SelectRoute(nil)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: selecting route for share %d: %w", share.Index, err)
		}

		routeSpec := &sphinx.RouteSpec{}
		for _, n := range route {
			routeSpec.NodeKeys = append(routeSpec.NodeKeys, n.PublicKey)
		}

		accessToken := deaddrop.DeriveAccessToken(share.Data)
		pkt, err := sphinx.Build(routeSpec, deadDropPayload(dropID, accessToken, share.Data))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: building packet for share %d: %w", share.Index, err)
		}

		prepared[i] = preparedShare{
			route:       route,
			packet:      pkt,
			accessToken: accessToken,
			delay:       temporal.SampleDelay(o.cfg.SendDelay),
			index:       share.Index,
		}
	}

	var messageID [16]byte
	if _, err := io.ReadFull(rand.Reader, messageID[:]); err != nil {
		return nil, err
	}

	handle := &SendHandle{MessageID: messageID, Shares: make([]ShareRecord, len(prepared))}
	for i, p := range prepared {
		handle.Shares[i] = ShareRecord{
			Index:       p.index,
			AccessToken: p.accessToken,
			DropNode:    p.route[len(p.route)-1].ID,
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, p := range prepared {
		wg.Add(1)
		go func(p preparedShare) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				mu.Lock()
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				mu.Unlock()
				return
			case <-time.After(p.delay):
			}

			if err := o.transmit(ctx, p.route[0], p.packet); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("orchestrator: transmitting share %d: %w", p.index, err)
				}
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return handle, nil
}

func (o *Orchestrator) transmit(ctx context.Context, firstHop *directory.MixNode, pkt *sphinx.Packet) error {
	client := o.dial(firstHop.WireAddress)
	_, err := client.Call(ctx, wire.ForwardPacket{Packet: *pkt})
	return err
}

// ReceiveFromShares reconstructs the original message from at least
// Threshold raw shares.
func (o *Orchestrator) ReceiveFromShares(shares []shamir.Share) ([]byte, error) {
	return shamir.Reconstruct(shares, o.cfg.Shamir)
}

// deadDropPayload builds the opcode-prefixed delivery payload a relay's
// terminal hop recognizes as a dead-drop store request rather than
// plain delivered content (see pkg/relay's deadDropOpcodePrefix).
func deadDropPayload(dropID, accessToken [32]byte, shareData []byte) []byte {
	const prefix = "DEADROP_STORE:"
	out := make([]byte, 0, len(prefix)+64+len(shareData))
	out = append(out, []byte(prefix)...)
	out = append(out, dropID[:]...)
	out = append(out, accessToken[:]...)
	out = append(out, shareData...)
	return out
}
