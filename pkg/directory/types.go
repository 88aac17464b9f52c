// Package directory holds the mix-node directory, jurisdiction-aware
// per-layer route selection, and the consistent-hash ring used to rank
// dead-drop replicas.
package directory

import (
	"time"

	"github.com/obscura-relay/relay/pkg/cryptokit"
)

// Jurisdiction is a coarse policy tag attached to each mix node, used
// to exclude routes through specified regions.
type Jurisdiction int

const (
	JurisdictionFiveEyes Jurisdiction = iota
	JurisdictionFourteenEyes
	JurisdictionPrivacyFriendly
	JurisdictionOther
)

func (j Jurisdiction) String() string {
	switch j {
	case JurisdictionFiveEyes:
		return "FiveEyes"
	case JurisdictionFourteenEyes:
		return "FourteenEyes"
	case JurisdictionPrivacyFriendly:
		return "PrivacyFriendly"
	default:
		return "Other"
	}
}

// GeoLocation is a node's declared country and jurisdiction tag.
type GeoLocation struct {
	Country      string       `json:"country"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
}

// MixNode is an immutable directory entry for one relay. Address and
// WireAddress are deliberately distinct: Address is the mTLS HTTP
// surface relays use to forward packets to each other (pkg/relay's
// /packet), while WireAddress is the gob-framed TCP surface a client or
// orchestrator dials directly (pkg/relay's WireServer). A relay is the
// first hop of one link type and an intermediate hop of the other, so
// both addresses are published for every node.
type MixNode struct {
	ID          [32]byte                `json:"id"`
	Layer       int                     `json:"layer"`
	PublicKey   [cryptokit.KeySize]byte `json:"public_key"`
	Address     string                  `json:"address"`
	WireAddress string                  `json:"wire_address"`
	Location    GeoLocation             `json:"location"`
	LastSeen    time.Time               `json:"last_seen"`
	Healthy     bool                    `json:"healthy"`
}

// BootstrapSet is a signed snapshot of the directory's healthy nodes,
// distributed to clients so they can construct routes without talking
// to every relay individually. Directory maintenance/consensus is out
// of scope; this is read-only distribution of an operator-curated list.
type BootstrapSet struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Nodes     []MixNode `json:"nodes"`
	Signature []byte    `json:"signature"`
}
