package deaddrop

import (
	"github.com/obscura-relay/relay/pkg/mtls"
)

// replicationClient is the narrow interface Replicator needs to push a
// copy to a peer, satisfied by *mtls.Client in production and a stub
// in tests. Nil means no TLS material is configured; ReplicateStore is
// then a silent no-op rather than a plaintext fallback.
type replicationClient interface {
	ReplicateMessage(nodeAddress string, messageData []byte) error
}

// Replicator asynchronously pushes a stored message to the relay's
// dead-drop replica peers, selected via the directory's consistent-hash
// ring (§4.7/§12 supplement — redundancy beyond the single-node
// contract; it does not change Store/Retrieve's observable semantics).
// It uses the same mTLS client relay-to-relay forwarding uses. The
// receiving relay's HTTP server does not request client certificates,
// so its /v1/deaddrop/replicate handler does not authenticate the peer.
type Replicator struct {
	client     replicationClient
	peerLookup func(dropID [32]byte) []string
}

// NewReplicator builds a Replicator. peerLookup resolves a drop_id to
// the addresses of the relays that should hold a redundant copy; the
// relay runtime wires this to directory.Service.GetDeadDropReplicas
// plus an id->address lookup. client may be nil, matching relay.New's
// own handling of an unconfigured mTLS client.
func NewReplicator(client *mtls.Client, peerLookup func(dropID [32]byte) []string) *Replicator {
	r := &Replicator{peerLookup: peerLookup}
	if client != nil {
		r.client = client
	}
	return r
}

// ReplicateStore fires off one replicate call per replica peer,
// best-effort. Failures are not surfaced to the caller — replication
// is redundancy, not a store precondition.
func (r *Replicator) ReplicateStore(dropID, accessToken [32]byte, payload []byte) {
	if r.client == nil {
		return
	}

	peers := r.peerLookup(dropID)
	body := encodeReplicaPayload(dropID, accessToken, payload)

	for _, peer := range peers {
		go func(addr string) {
			r.client.ReplicateMessage(addr, body)
		}(peer)
	}
}

// Close is a no-op: the replicator shares its mTLS client's connection
// pool with the rest of the relay, which owns closing it.
func (r *Replicator) Close() {}

func encodeReplicaPayload(dropID, accessToken [32]byte, payload []byte) []byte {
	buf := make([]byte, 0, 64+len(payload))
	buf = append(buf, dropID[:]...)
	buf = append(buf, accessToken[:]...)
	buf = append(buf, payload...)
	return buf
}
