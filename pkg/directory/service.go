package directory

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"math/big"
	"sort"
	"sync"
	"time"
)

var (
	ErrNodeNotFound          = errors.New("directory: node not found")
	ErrNoHealthyNodes        = errors.New("directory: no healthy nodes available")
	ErrInsufficientDirectory = errors.New("directory: no eligible node at layer")
)

// InsufficientDirectoryError names the layer that had no eligible node
// left after avoid-set filtering.
type InsufficientDirectoryError struct {
	Layer int
}

func (e *InsufficientDirectoryError) Error() string {
	return ErrInsufficientDirectory.Error()
}

func (e *InsufficientDirectoryError) Unwrap() error { return ErrInsufficientDirectory }

// Service manages the mix-node directory and dead-drop replica ranking.
type Service struct {
	numLayers   int
	nodes       map[[32]byte]*MixNode
	byLayer     map[int][]*MixNode
	byPublicKey map[[32]byte]*MixNode
	hashRing    *ConsistentHashRing
	signingKey  ed25519.PrivateKey
	mu          sync.RWMutex
}

// NewService creates a directory service with the given number of mix
// layers (5 by default) and a signing key for bootstrap sets.
func NewService(numLayers int, signingKey ed25519.PrivateKey) *Service {
	return &Service{
		numLayers:   numLayers,
		nodes:       make(map[[32]byte]*MixNode),
		byLayer:     make(map[int][]*MixNode),
		byPublicKey: make(map[[32]byte]*MixNode),
		hashRing:    NewConsistentHashRing(3),
		signingKey:  signingKey,
	}
}

// RegisterNode adds or replaces a directory entry.
func (s *Service) RegisterNode(node *MixNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node.LastSeen = time.Now()
	node.Healthy = true

	s.nodes[node.ID] = node
	s.rebuildLayerIndexLocked()
	s.hashRing.AddNode(nodeKey(node.ID))

	return nil
}

// UnregisterNode removes a directory entry.
func (s *Service) UnregisterNode(id [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, id)
	s.rebuildLayerIndexLocked()
	s.hashRing.RemoveNode(nodeKey(id))

	return nil
}

func (s *Service) rebuildLayerIndexLocked() {
	s.byLayer = make(map[int][]*MixNode)
	s.byPublicKey = make(map[[32]byte]*MixNode)
	for _, n := range s.nodes {
		s.byLayer[n.Layer] = append(s.byLayer[n.Layer], n)
		s.byPublicKey[n.PublicKey] = n
	}
}

// FindNodeByPublicKey resolves the next-hop address tag embedded in a
// sphinx packet's routing_info (the node's public key, see
// pkg/sphinx.routingInfoAddressTag) back to a directory entry.
func (s *Service) FindNodeByPublicKey(publicKey [32]byte) (*MixNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.byPublicKey[publicKey]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// GetNode retrieves a single node by id.
func (s *Service) GetNode(id [32]byte) (*MixNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// ListNodes returns every registered node.
func (s *Service) ListNodes() []*MixNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*MixNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// UpdateNodeHealth marks a node healthy/unhealthy.
func (s *Service) UpdateNodeHealth(id [32]byte, healthy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	node.Healthy = healthy
	node.LastSeen = time.Now()
	return nil
}

// HealthCheck marks nodes unseen for more than 5 minutes unhealthy.
func (s *Service) HealthCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for _, n := range s.nodes {
		if n.LastSeen.Before(cutoff) {
			n.Healthy = false
		}
	}
}

// GetBootstrapSet returns a signed snapshot of the currently healthy
// nodes, for distribution to clients.
func (s *Service) GetBootstrapSet() (*BootstrapSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]MixNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.Healthy {
			nodes = append(nodes, *n)
		}
	}
	if len(nodes) == 0 {
		return nil, ErrNoHealthyNodes
	}

	bootstrap := &BootstrapSet{
		Version:   1,
		Timestamp: time.Now(),
		Nodes:     nodes,
	}

	data, err := json.Marshal(bootstrap)
	if err != nil {
		return nil, err
	}
	bootstrap.Signature = ed25519.Sign(s.signingKey, data)

	return bootstrap, nil
}

// SelectRoute picks one node per layer 0..L-1, uniformly at random
// among nodes not in avoid's jurisdiction. Selection is stateless and
// must be called independently per share/packet.
func (s *Service) SelectRoute(avoid *Jurisdiction) ([]*MixNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	route := make([]*MixNode, s.numLayers)
	for layer := 0; layer < s.numLayers; layer++ {
		candidates := make([]*MixNode, 0, len(s.byLayer[layer]))
		for _, n := range s.byLayer[layer] {
			if !n.Healthy {
				continue
			}
			if avoid != nil && n.Location.Jurisdiction == *avoid {
				continue
			}
			candidates = append(candidates, n)
		}
		if len(candidates) == 0 {
			return nil, &InsufficientDirectoryError{Layer: layer}
		}
		picked, err := pickUniform(candidates)
		if err != nil {
			return nil, err
		}
		route[layer] = picked
	}
	return route, nil
}

func pickUniform(candidates []*MixNode) (*MixNode, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return nil, err
	}
	return candidates[n.Int64()], nil
}

// GetDeadDropReplicas returns k candidate relay ids responsible for
// replicating the dead drop keyed by dropID, via the consistent-hash
// ring (see DESIGN.md).
func (s *Service) GetDeadDropReplicas(dropID [32]byte, k int) [][32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashRing.GetNodes(nodeKey(dropID), k)
}

func nodeKey(id [32]byte) string {
	return string(id[:])
}

// ConsistentHashRing ranks nodes for a key via CRC32-hashed virtual
// nodes on a sorted ring, unchanged in mechanism from the swarm-replica
// ring this is adapted from.
type ConsistentHashRing struct {
	ring         []uint32
	nodeMap      map[uint32][32]byte
	virtualNodes int
	mu           sync.RWMutex
}

func NewConsistentHashRing(virtualNodes int) *ConsistentHashRing {
	return &ConsistentHashRing{
		ring:         make([]uint32, 0),
		nodeMap:      make(map[uint32][32]byte),
		virtualNodes: virtualNodes,
	}
}

func (r *ConsistentHashRing) AddNode(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id [32]byte
	copy(id[:], key)

	for i := 0; i < r.virtualNodes; i++ {
		hash := r.hash(virtualKey(key, i))
		r.ring = append(r.ring, hash)
		r.nodeMap[hash] = id
	}
	sort.Slice(r.ring, func(i, j int) bool { return r.ring[i] < r.ring[j] })
}

func (r *ConsistentHashRing) RemoveNode(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.virtualNodes; i++ {
		hash := r.hash(virtualKey(key, i))
		delete(r.nodeMap, hash)
		for j, h := range r.ring {
			if h == hash {
				r.ring = append(r.ring[:j], r.ring[j+1:]...)
				break
			}
		}
	}
}

// GetNodes returns up to k distinct node ids ranked for key.
func (r *ConsistentHashRing) GetNodes(key string, k int) [][32]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ring) == 0 {
		return nil
	}

	hash := r.hash(key)
	idx := sort.Search(len(r.ring), func(i int) bool { return r.ring[i] >= hash })
	if idx >= len(r.ring) {
		idx = 0
	}

	seen := make(map[[32]byte]bool)
	nodes := make([][32]byte, 0, k)
	for i := 0; i < len(r.ring) && len(nodes) < k; i++ {
		ringIdx := (idx + i) % len(r.ring)
		id := r.nodeMap[r.ring[ringIdx]]
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, id)
		}
	}
	return nodes
}

func (r *ConsistentHashRing) hash(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}

func virtualKey(key string, i int) string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(i))
	return key + ":" + string(buf[:])
}
