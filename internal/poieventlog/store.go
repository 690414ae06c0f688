// Package poieventlog implements the per-list append-only,
// dense-indexed log of signed POI events.
package poieventlog

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/zy0n/proof-of-innocence/internal/kvstore"
	"github.com/zy0n/proof-of-innocence/internal/model"
)

// ErrInvariant marks a violation of the log's dense-index invariant.
// This is fatal: the coordinator that owns single-writer discipline
// must halt rather than continue.
var ErrInvariant = errors.New("poieventlog: invariant violation")

// Store is the per-list append-only log of signed POI events.
type Store struct {
	kv *kvstore.Store
}

func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

func lengthKey(listKey string) []byte {
	return []byte("poilen|" + listKey)
}

func eventKey(listKey string, index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return append([]byte("poievent|"+listKey+"|"), buf...)
}

// Length returns the current number of events in listKey's log: the
// dense index the next appended event must use.
func (s *Store) Length(listKey string) (uint64, error) {
	raw, err := s.kv.Get(lengthKey(listKey))
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read log length for %s", listKey)
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Last returns the most recently appended event, and false if the log
// is empty.
func (s *Store) Last(listKey string) (model.SignedPOIEvent, bool, error) {
	n, err := s.Length(listKey)
	if err != nil {
		return model.SignedPOIEvent{}, false, err
	}
	if n == 0 {
		return model.SignedPOIEvent{}, false, nil
	}
	ev, err := s.Get(listKey, n-1)
	if err != nil {
		return model.SignedPOIEvent{}, false, err
	}
	return ev, true, nil
}

// Get returns the event at index in listKey's log.
func (s *Store) Get(listKey string, index uint64) (model.SignedPOIEvent, error) {
	raw, err := s.kv.Get(eventKey(listKey, index))
	if err != nil {
		return model.SignedPOIEvent{}, errors.Wrapf(err, "read event %s[%d]", listKey, index)
	}
	var ev model.SignedPOIEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.SignedPOIEvent{}, errors.Wrap(err, "decode event")
	}
	return ev, nil
}

// GetRange returns events [start, end) in listKey's log, clamped to a
// page size cap so a single query can never hand back an unbounded
// response.
func (s *Store) GetRange(listKey string, start, end uint64) ([]model.SignedPOIEvent, error) {
	const maxRange = 500
	if end > start+maxRange {
		end = start + maxRange
	}
	n, err := s.Length(listKey)
	if err != nil {
		return nil, err
	}
	if end > n {
		end = n
	}
	if start >= end {
		return nil, nil
	}
	out := make([]model.SignedPOIEvent, 0, end-start)
	for i := start; i < end; i++ {
		ev, err := s.Get(listKey, i)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Append adds ev to listKey's log. ev.Index must equal the log's
// current length; any other value is an invariant violation, and
// callers should treat ErrInvariant as fatal.
func (s *Store) Append(listKey string, ev model.SignedPOIEvent) error {
	n, err := s.Length(listKey)
	if err != nil {
		return err
	}
	if ev.Index != n {
		return errors.Wrapf(ErrInvariant, "list %s: append index %d, expected %d", listKey, ev.Index, n)
	}
	if n > 0 {
		prev, err := s.Get(listKey, n-1)
		if err != nil {
			return err
		}
		wantStart := prev.BlindedCommitmentStartingIndex + uint64(len(prev.BlindedCommitments))
		if ev.BlindedCommitmentStartingIndex != wantStart {
			return errors.Wrapf(ErrInvariant, "list %s: event %d startingIndex %d, expected %d", listKey, ev.Index, ev.BlindedCommitmentStartingIndex, wantStart)
		}
	} else if ev.BlindedCommitmentStartingIndex != 0 {
		return errors.Wrapf(ErrInvariant, "list %s: first event startingIndex %d, expected 0", listKey, ev.BlindedCommitmentStartingIndex)
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	b := s.kv.WriteBatch()
	b.Put(eventKey(listKey, ev.Index), raw)
	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, n+1)
	b.Put(lengthKey(listKey), lenBuf)
	return b.Write()
}
