// Package temporal samples the exponential (Poisson inter-arrival)
// delays used both for per-packet emission scheduling and for
// cover-traffic pacing, and generates indistinguishable cover packets.
package temporal

import (
	"math"
	"math/rand"
	"time"

	"github.com/obscura-relay/relay/pkg/directory"
	"github.com/obscura-relay/relay/pkg/sphinx"
)

// DelayConfig fixes the mean and clamp bounds for exponential sampling.
type DelayConfig struct {
	Mean     time.Duration
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultDelayConfig matches the temporal-scrambling policy's defaults.
func DefaultDelayConfig() DelayConfig {
	return DelayConfig{
		Mean:     5 * time.Second,
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 60 * time.Second,
	}
}

// SampleDelay draws delay = -mean*ln(U), U ~ Uniform(0,1), clamped to
// [MinDelay, MaxDelay]. This is P10's distribution.
func SampleDelay(cfg DelayConfig) time.Duration {
	u := rand.Float64()
	// rand.Float64 can return 0; avoid ln(0) = -Inf.
	for u == 0 {
		u = rand.Float64()
	}
	secs := -cfg.Mean.Seconds() * math.Log(u)
	delay := time.Duration(secs * float64(time.Second))

	if delay < cfg.MinDelay {
		return cfg.MinDelay
	}
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

// CoverConfig fixes the cover-traffic rate and jitter.
type CoverConfig struct {
	Rate   float64 // packets/sec
	Jitter float64 // multiplicative, e.g. 0.1 = +/-10%
}

// DefaultCoverConfig matches the cover-traffic policy's defaults.
func DefaultCoverConfig() CoverConfig {
	return CoverConfig{Rate: 10.0, Jitter: 0.1}
}

// NextCoverDelay samples the inter-packet delay for cover traffic: an
// exponential with mean 1/rate, plus multiplicative jitter.
func NextCoverDelay(cfg CoverConfig) time.Duration {
	baseMean := time.Duration(float64(time.Second) / cfg.Rate)
	base := SampleDelay(DelayConfig{Mean: baseMean, MinDelay: 0, MaxDelay: time.Hour})

	jitterFactor := 1.0 + (rand.Float64()*2-1)*cfg.Jitter
	return time.Duration(float64(base) * jitterFactor)
}

// coverPayloadSize samples from a realistic cover-traffic size distribution:
// 80% of packets in [100,500), 20% in [500,2048).
func coverPayloadSize() int {
	if rand.Float64() < 0.8 {
		return 100 + rand.Intn(400)
	}
	return 500 + rand.Intn(sphinx.PayloadSize-500)
}

// GenerateCoverPacket builds a well-formed packet indistinguishable
// from real traffic: random hop count in [3, MaxHops] (capped at the
// number of layers SelectRoute returns), a route drawn from the
// directory, random destination, and random payload bytes of
// realistic length. It returns the mix nodes the packet was built
// through alongside the packet itself, since the caller must transmit
// to nodes[0]'s address — the same node the packet's outer layer and
// first-hop MAC were encrypted for — not to some other route. Errors
// building the packet are the caller's to log and discard per the
// cover-traffic error policy (never propagated).
func GenerateCoverPacket(dir *directory.Service) ([]*directory.MixNode, *sphinx.Packet, error) {
	hops := 3 + rand.Intn(sphinx.MaxHops-3+1)

	nodes, err := dir.SelectRoute(nil)
	if err != nil {
		return nil, nil, err
	}
	if hops > len(nodes) {
		hops = len(nodes)
	}
	nodes = nodes[:hops]

	route := &sphinx.RouteSpec{}
	for _, n := range nodes {
		route.NodeKeys = append(route.NodeKeys, n.PublicKey)
	}
	if _, err := rand.Read(route.Destination[:]); err != nil {
		return nil, nil, err
	}

	payload := make([]byte, coverPayloadSize())
	if _, err := rand.Read(payload); err != nil {
		return nil, nil, err
	}

	pkt, err := sphinx.Build(route, payload)
	if err != nil {
		return nil, nil, err
	}
	return nodes, pkt, nil
}
