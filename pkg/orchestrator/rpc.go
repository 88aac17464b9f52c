package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/obscura-relay/relay/pkg/shamir"
	"github.com/obscura-relay/relay/pkg/wire"
)

// RpcTimeoutError reports that MaxWait elapsed before Threshold distinct
// share responses arrived.
type RpcTimeoutError struct {
	Collected int
	Needed    int
}

func (e *RpcTimeoutError) Error() string {
	return fmt.Sprintf("orchestrator: rpc timeout, collected %d of %d needed shares", e.Collected, e.Needed)
}

// RouteRPCCall sends message to destinationKey exactly as Send does,
// then polls each share's recorded dead drop with its access token,
// interleaving polls with PollInterval sleeps, until Threshold distinct
// shares have been retrieved or MaxWait elapses, and reassembles them
// into the RPC response.
func (o *Orchestrator) RouteRPCCall(ctx context.Context, message []byte, destinationKey [32]byte) ([]byte, error) {
	handle, err := o.Send(ctx, message, destinationKey)
	if err != nil {
		return nil, err
	}
	return o.collectResponse(ctx, handle)
}

func (o *Orchestrator) collectResponse(ctx context.Context, handle *SendHandle) ([]byte, error) {
	needed := o.cfg.Shamir.Threshold
	collected := make(map[byte]shamir.Share, needed)
	deadline := time.Now().Add(o.cfg.MaxWait)

	for len(collected) < needed {
		if time.Now().After(deadline) {
			return nil, &RpcTimeoutError{Collected: len(collected), Needed: needed}
		}

		for _, share := range handle.Shares {
			if _, have := collected[share.Index]; have {
				continue
			}

			node, err := o.dir.GetNode(share.DropNode)
			if err != nil {
				continue
			}

			client := o.dial(node.WireAddress)
			resp, err := client.Call(ctx, wire.RetrieveDeadDrop{AccessToken: share.AccessToken})
			if err != nil {
				continue
			}

			success, ok := resp.(wire.RetrieveSuccess)
			if !ok || len(success.Messages) == 0 {
				continue
			}

			collected[share.Index] = shamir.Share{
				Index: share.Index,
				Data:  success.Messages[0].Payload,
			}

			if len(collected) >= needed {
				break
			}
		}

		if len(collected) >= needed {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}

	shares := make([]shamir.Share, 0, len(collected))
	for _, s := range collected {
		shares = append(shares, s)
	}
	return shamir.Reconstruct(shares, o.cfg.Shamir)
}
