// Package model defines the data types shared across the list-provider
// pipeline: the shield queue, the per-network scan cursor, and the two
// signed append-only logs (POI events and blocked shields).
package model

// Network identifies one of the statically configured chains a list
// instance polls. It is opaque to the core pipeline beyond being a map
// key and a log field.
type Network string

// ShieldStatus is the lifecycle state of a ShieldQueueItem. A shield
// starts Pending and transitions exactly once, to either Allowed or
// Blocked; neither terminal state regresses.
type ShieldStatus string

const (
	StatusPending ShieldStatus = "Pending"
	StatusAllowed ShieldStatus = "Allowed"
	StatusBlocked ShieldStatus = "Blocked"
)

// ShieldQueueItem is one observed shield, keyed by (Network, TXID, Hash).
type ShieldQueueItem struct {
	Network                Network
	TXID                   string
	Hash                   string
	BlindedCommitment      string
	Timestamp              int64 // unix millis, as reported by the observer
	BlockNumber            uint64
	Status                 ShieldStatus
	LastValidatedTimestamp *int64 // unix millis, nil until validated
}

// Key returns the composite identity used by the shield queue store.
// (Network, TXID, Hash) must be unique.
func (s ShieldQueueItem) Key() ShieldKey {
	return ShieldKey{Network: s.Network, TXID: s.TXID, Hash: s.Hash}
}

// ShieldKey is the natural primary key of a ShieldQueueItem.
type ShieldKey struct {
	Network Network
	TXID    string
	Hash    string
}

// NetworkStatus tracks how far a network has been scanned for shields.
type NetworkStatus struct {
	Network          Network
	LatestBlockScanned uint64
}

// POIEventShield is a shield awaiting inclusion in the POI event log,
// queued by the validation poller and drained by the event queue
// coordinator.
type POIEventShield struct {
	Network           Network
	CommitmentHash    string
	BlindedCommitment string
}

// POIEventTransact is a non-legacy Transact event awaiting inclusion,
// carrying a zero-knowledge proof over one or more blinded commitments.
type POIEventTransact struct {
	Network            Network
	BlindedCommitments []string
	Proof              []byte // canonical SNARK proof bytes
}

// EventKind distinguishes the two event shapes that can appear in a
// SignedPOIEvent; it also domain-separates the signing encoding (§6).
type EventKind byte

const (
	EventKindShield   EventKind = 0x01
	EventKindTransact EventKind = 0x02
)

// SignedPOIEvent is one append-only entry in a list's POI event log.
type SignedPOIEvent struct {
	Index                           uint64
	BlindedCommitmentStartingIndex  uint64
	BlindedCommitments              []string
	Kind                            EventKind
	Proof                           []byte // nil for Shield events
	Signature                       []byte // 64-byte Ed25519 signature
}

// SignedBlockedShield is a signed record of a shield rejected by the
// policy gate, stored in the per-list blocked-shield set.
type SignedBlockedShield struct {
	CommitmentHash    string
	BlindedCommitment string
	BlockReason       string
	Signature         []byte
}

// PolicyDecision is the result of consulting a Gate (see policy
// package) for one shield.
type PolicyDecision struct {
	ShouldAllow bool
	BlockReason string
}
