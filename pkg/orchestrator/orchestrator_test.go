package orchestrator

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/obscura-relay/relay/pkg/cryptokit"
	"github.com/obscura-relay/relay/pkg/directory"
	"github.com/obscura-relay/relay/pkg/relay"
	"github.com/obscura-relay/relay/pkg/shamir"
	"github.com/obscura-relay/relay/pkg/temporal"
)

// fastSendDelay keeps Send's per-share wait well under a test's patience
// instead of DefaultConfig's multi-second mean.
func fastSendDelay() temporal.DelayConfig {
	return temporal.DelayConfig{Mean: time.Millisecond, MinDelay: 0, MaxDelay: 5 * time.Millisecond}
}

// newSingleHopRelay registers one relay node at layer 0 in dir and
// starts its wire transport on an ephemeral port, so every share's
// single-node route delivers directly as a dead-drop store — this
// isolates the orchestrator contract from relay-to-relay forwarding,
// which pkg/relay's own tests already cover.
func newSingleHopRelay(t *testing.T, dir *directory.Service) *relay.Relay {
	t.Helper()

	kp, err := cryptokit.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	cfg := relay.DefaultConfig()
	cfg.Layer = 0
	cfg.CoverTraffic.Enabled = false
	r, err := relay.New(cfg, kp.Private, dir, nil)
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}

	ws, err := relay.NewWireServer(r, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewWireServer: %v", err)
	}
	go ws.Serve()
	t.Cleanup(func() { ws.Close() })

	if err := dir.RegisterNode(&directory.MixNode{
		ID:          r.NodeID(),
		Layer:       0,
		PublicKey:   kp.Public,
		WireAddress: ws.Addr(),
	}); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	return r
}

func newTestDirectory(t *testing.T) *directory.Service {
	t.Helper()
	_, signingKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	return directory.NewService(1, signingKey)
}

func TestSendTransmitsEveryShareAndStoresAtDestination(t *testing.T) {
	dir := newTestDirectory(t)
	r := newSingleHopRelay(t, dir)

	cfg := DefaultConfig()
	cfg.Shamir = shamir.Config{Threshold: 3, Total: 5}
	cfg.SendDelay = fastSendDelay()
	o := New(cfg, dir, AlwaysConnected{})

	var destinationKey [32]byte
	destinationKey[0] = 0xCC

	handle, err := o.Send(context.Background(), []byte("hello orchestrator"), destinationKey)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(handle.Shares) != 5 {
		t.Fatalf("got %d share records, want 5", len(handle.Shares))
	}

	if r.DeadDropStats().TotalStored != 5 {
		t.Fatalf("TotalStored = %d, want 5", r.DeadDropStats().TotalStored)
	}
}

func TestReceiveFromSharesReconstructs(t *testing.T) {
	dir := newTestDirectory(t)
	o := New(DefaultConfig(), dir, AlwaysConnected{})
	o.cfg.Shamir = shamir.Config{Threshold: 3, Total: 5}

	message := []byte("reconstruct me please")
	shares, err := shamir.Split(message, o.cfg.Shamir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	got, err := o.ReceiveFromShares(shares[:3])
	if err != nil {
		t.Fatalf("ReceiveFromShares: %v", err)
	}
	if !bytes.Equal(got, message) {
		t.Fatalf("got %q, want %q", got, message)
	}
}

func TestSendFailsWhenTransportUnavailable(t *testing.T) {
	dir := newTestDirectory(t)
	o := New(DefaultConfig(), dir, disconnectedGate{})

	var destinationKey [32]byte
	_, err := o.Send(context.Background(), []byte("x"), destinationKey)
	if err != ErrTransportUnavailable {
		t.Fatalf("got %v, want ErrTransportUnavailable", err)
	}
}

type disconnectedGate struct{}

func (disconnectedGate) Connected() bool { return false }

func TestRouteRPCCallEndToEnd(t *testing.T) {
	dir := newTestDirectory(t)
	newSingleHopRelay(t, dir)

	cfg := DefaultConfig()
	cfg.Shamir = shamir.Config{Threshold: 2, Total: 3}
	cfg.SendDelay = fastSendDelay()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.MaxWait = 3 * time.Second
	o := New(cfg, dir, AlwaysConnected{})

	var destinationKey [32]byte
	destinationKey[0] = 0x42

	request := []byte("rpc request payload")
	got, err := o.RouteRPCCall(context.Background(), request, destinationKey)
	if err != nil {
		t.Fatalf("RouteRPCCall: %v", err)
	}
	if !bytes.Equal(got, request) {
		t.Fatalf("got %q, want %q", got, request)
	}
}

func TestRouteRPCCallFailsWithEmptyDirectory(t *testing.T) {
	dir := newTestDirectory(t)
	// No relay registered at all: Send cannot select a route for any
	// share, so the call fails before the collection loop ever starts.
	cfg := DefaultConfig()
	cfg.Shamir = shamir.Config{Threshold: 2, Total: 3}
	o := New(cfg, dir, AlwaysConnected{})

	var destinationKey [32]byte
	_, err := o.RouteRPCCall(context.Background(), []byte("x"), destinationKey)
	if err == nil {
		t.Fatal("expected an error selecting a route with an empty directory")
	}
}

// TestCollectResponseTimesOut exercises the collection loop directly
// with a handle whose drop nodes aren't registered in the directory:
// every poll attempt fails to resolve a node, so MaxWait elapses with
// nothing collected.
func TestCollectResponseTimesOut(t *testing.T) {
	dir := newTestDirectory(t)
	cfg := DefaultConfig()
	cfg.Shamir = shamir.Config{Threshold: 2, Total: 3}
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxWait = 30 * time.Millisecond
	o := New(cfg, dir, AlwaysConnected{})

	handle := &SendHandle{
		Shares: []ShareRecord{
			{Index: 1, DropNode: [32]byte{1}},
			{Index: 2, DropNode: [32]byte{2}},
			{Index: 3, DropNode: [32]byte{3}},
		},
	}

	_, err := o.collectResponse(context.Background(), handle)
	var timeoutErr *RpcTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %v (%T), want *RpcTimeoutError", err, err)
	}
	if timeoutErr.Collected != 0 || timeoutErr.Needed != 2 {
		t.Fatalf("got %+v, want Collected=0 Needed=2", timeoutErr)
	}
}
