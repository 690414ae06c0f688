// Package statusstore holds the per-network scan cursor that the
// queueing poller advances and the validation poller never touches.
package statusstore

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/zy0n/proof-of-innocence/internal/kvstore"
	"github.com/zy0n/proof-of-innocence/internal/model"
)

// ErrRegression is returned when SaveStatus is called with a block
// number less than the currently stored one: the scan cursor is
// monotonically non-decreasing.
var ErrRegression = errors.New("statusstore: latestBlockScanned regression")

// Store is the per-network scan cursor.
type Store struct {
	kv *kvstore.Store
}

func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

func key(n model.Network) []byte {
	return []byte("status|" + string(n))
}

// LatestBlockScanned returns the stored cursor for network, and false
// if no status has ever been saved (callers fall back to the
// network's configured deployment block in that case).
func (s *Store) LatestBlockScanned(network model.Network) (uint64, bool, error) {
	raw, err := s.kv.Get(key(network))
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "read status for %s", network)
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// SaveStatus rejects a value less than the current one.
func (s *Store) SaveStatus(network model.Network, block uint64) error {
	current, ok, err := s.LatestBlockScanned(network)
	if err != nil {
		return err
	}
	if ok && block < current {
		return errors.Wrapf(ErrRegression, "network %s: %d -> %d", network, current, block)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, block)
	return s.kv.Put(key(network), buf)
}
