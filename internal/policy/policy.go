// Package policy defines the per-list policy gate interface, and ships
// one reference implementation: a static excluded-address set.
package policy

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/zy0n/proof-of-innocence/internal/model"
)

// Gate is supplied by the list operator. It must be pure with respect
// to its inputs; side effects such as remote sanctions-list lookups
// are permitted but must be idempotent.
type Gate interface {
	Evaluate(network model.Network, txid, fromAddressLower string, timestamp int64) (model.PolicyDecision, error)
}

// AddressSetGate blocks shields whose from-address is a member of a
// static excluded set. Addresses are normalized to lowercase at
// construction time since the validation poller always calls Evaluate
// with an already-lowercased address.
type AddressSetGate struct {
	excluded    mapset.Set[string]
	blockReason string
}

// NewAddressSetGate builds a gate that blocks every address in
// excluded, reporting blockReason on each blocked shield.
func NewAddressSetGate(excluded []string, blockReason string) *AddressSetGate {
	set := mapset.NewSet[string]()
	for _, a := range excluded {
		set.Add(strings.ToLower(a))
	}
	return &AddressSetGate{excluded: set, blockReason: blockReason}
}

// Evaluate implements Gate.
func (g *AddressSetGate) Evaluate(_ model.Network, _ string, fromAddressLower string, _ int64) (model.PolicyDecision, error) {
	if g.excluded.Contains(fromAddressLower) {
		return model.PolicyDecision{ShouldAllow: false, BlockReason: g.blockReason}, nil
	}
	return model.PolicyDecision{ShouldAllow: true}, nil
}
