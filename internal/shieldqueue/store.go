// Package shieldqueue stores the per-network durable set of observed
// shields and their status state machine (Pending, Allowed, Blocked).
package shieldqueue

import (
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zy0n/proof-of-innocence/internal/kvstore"
	"github.com/zy0n/proof-of-innocence/internal/model"
)

// ErrStatusRegression is returned when a caller attempts to move a
// shield out of a terminal status. This is a fatal programming error;
// callers should not retry it.
var ErrStatusRegression = errors.New("shieldqueue: status regression")

// Store is one durable set per network, keyed by (txid, hash).
type Store struct {
	kv  *kvstore.Store
	log log.Logger
}

// New wraps an opened kvstore.Store as a shield queue.
func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv, log: log.New("component", "shieldqueue")}
}

func primaryKey(k model.ShieldKey) []byte {
	return []byte("shield|" + string(k.Network) + "|" + k.TXID + "|" + k.Hash)
}

// InsertPending upserts a shield with status Pending. It must not
// overwrite a row already in a terminal state, and re-inserting an
// identical (network, txid, hash) is a no-op (idempotent ingest).
func (s *Store) InsertPending(item model.ShieldQueueItem) error {
	key := primaryKey(item.Key())
	existing, err := s.kv.Get(key)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return errors.Wrapf(err, "read shield %s/%s", item.Network, item.TXID)
	}
	if existing != nil {
		var cur model.ShieldQueueItem
		if err := json.Unmarshal(existing, &cur); err != nil {
			return errors.Wrap(err, "decode existing shield")
		}
		if cur.Status != model.StatusPending {
			s.log.Debug("duplicate shield insert absorbed", "network", item.Network, "txid", item.TXID, "status", cur.Status)
			return nil
		}
		return nil
	}

	item.Status = model.StatusPending
	item.LastValidatedTimestamp = nil
	raw, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encode shield")
	}
	if err := s.kv.Put(key, raw); err != nil {
		return errors.Wrap(err, "write shield")
	}
	return nil
}

// GetPendingShields returns up to limit Pending rows for network whose
// timestamp is at most endTimestamp, ordered by timestamp ascending so
// the oldest eligible shields are validated first.
func (s *Store) GetPendingShields(network model.Network, endTimestamp int64, limit int) ([]model.ShieldQueueItem, error) {
	prefix := []byte("shield|" + string(network) + "|")
	it := s.kv.NewIterator(prefix)
	defer it.Release()

	var matches []model.ShieldQueueItem
	for it.Next() {
		var item model.ShieldQueueItem
		if err := json.Unmarshal(bytesClone(it.Value()), &item); err != nil {
			s.log.Warn("skipping undecodable shield row", "err", err)
			continue
		}
		if item.Status == model.StatusPending && item.Timestamp <= endTimestamp {
			matches = append(matches, item)
		}
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate shield queue")
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp < matches[j].Timestamp })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// UpdateShieldStatus transitions a shield from Pending to Allowed or
// Blocked. It is idempotent at the target status. Any attempt to
// regress a terminal status returns ErrStatusRegression.
func (s *Store) UpdateShieldStatus(key model.ShieldKey, newStatus model.ShieldStatus, validatedAt int64) error {
	if newStatus != model.StatusAllowed && newStatus != model.StatusBlocked {
		return errors.Newf("shieldqueue: invalid target status %q", newStatus)
	}
	pkey := primaryKey(key)
	raw, err := s.kv.Get(pkey)
	if err != nil {
		return errors.Wrapf(err, "read shield %s/%s for status update", key.Network, key.TXID)
	}
	var item model.ShieldQueueItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return errors.Wrap(err, "decode shield for status update")
	}

	switch item.Status {
	case model.StatusPending:
		// fall through to apply the transition below
	case newStatus:
		return nil // already at target status; idempotent
	default:
		return errors.Wrapf(ErrStatusRegression, "shield %s/%s: %s -> %s", key.Network, key.TXID, item.Status, newStatus)
	}

	item.Status = newStatus
	ts := validatedAt
	item.LastValidatedTimestamp = &ts

	out, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encode shield for status update")
	}
	return s.kv.Put(pkey, out)
}

// DeleteAllItemsDANGEROUS wipes the entire shield queue. Test fixture
// only.
func (s *Store) DeleteAllItemsDANGEROUS() error {
	it := s.kv.NewIterator([]byte("shield|"))
	defer it.Release()

	b := s.kv.WriteBatch()
	for it.Next() {
		b.Delete(bytesClone(it.Key()))
	}
	if err := it.Error(); err != nil {
		return errors.Wrap(err, "iterate for delete-all")
	}
	return b.Write()
}

func bytesClone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
