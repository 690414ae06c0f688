// Package blockedshields stores the per-list set of signed
// blocked-shield records.
package blockedshields

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/zy0n/proof-of-innocence/internal/kvstore"
	"github.com/zy0n/proof-of-innocence/internal/model"
)

// Store is one durable set of blocked-shield records per list.
type Store struct {
	kv *kvstore.Store
}

func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

func key(listKey, commitmentHash string) []byte {
	return []byte("blocked|" + listKey + "|" + commitmentHash)
}

// Add stores a signed blocked-shield record for listKey. Re-adding the
// same commitment hash overwrites the stored record.
func (s *Store) Add(listKey string, rec model.SignedBlockedShield) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode blocked shield")
	}
	return s.kv.Put(key(listKey, rec.CommitmentHash), raw)
}

// Get returns the blocked-shield record for commitmentHash, if any.
func (s *Store) Get(listKey, commitmentHash string) (model.SignedBlockedShield, bool, error) {
	raw, err := s.kv.Get(key(listKey, commitmentHash))
	if errors.Is(err, kvstore.ErrNotFound) {
		return model.SignedBlockedShield{}, false, nil
	}
	if err != nil {
		return model.SignedBlockedShield{}, false, errors.Wrap(err, "read blocked shield")
	}
	var rec model.SignedBlockedShield
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.SignedBlockedShield{}, false, errors.Wrap(err, "decode blocked shield")
	}
	return rec, true, nil
}

// List returns up to limit blocked-shield records for listKey,
// capped at the sync page size peers fetch per request.
func (s *Store) List(listKey string, limit int) ([]model.SignedBlockedShield, error) {
	const maxSynced = 50
	if limit <= 0 || limit > maxSynced {
		limit = maxSynced
	}
	it := s.kv.NewIterator([]byte("blocked|" + listKey + "|"))
	defer it.Release()

	var out []model.SignedBlockedShield
	for it.Next() && len(out) < limit {
		var rec model.SignedBlockedShield
		val := make([]byte, len(it.Value()))
		copy(val, it.Value())
		if err := json.Unmarshal(val, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate blocked shields")
	}
	return out, nil
}
