// Package kvstore wraps goleveldb behind the small subset of
// ethdb.Database's interface the list-provider stores need: get, put,
// delete, has, and prefix iteration. It exists so the shield queue,
// status, event log, and blocked-shield stores share one storage
// engine instead of each opening its own driver.
package kvstore

import (
	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is a namespaced handle onto a shared leveldb database.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) a leveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens an ephemeral in-memory database, used by tests.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory leveldb")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *Store) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

// NewIterator returns an iterator over all keys sharing prefix, in
// ascending key order.
func (s *Store) NewIterator(prefix []byte) iterator.Iterator {
	return s.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// WriteBatch returns a fresh batch; callers accumulate Put/Delete calls
// and call Write to apply them atomically.
func (s *Store) WriteBatch() *Batch {
	return &Batch{db: s.db, b: new(leveldb.Batch)}
}

// Batch accumulates writes for atomic application.
type Batch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *Batch) Put(key, value []byte)    { b.b.Put(key, value) }
func (b *Batch) Delete(key []byte)        { b.b.Delete(key) }
func (b *Batch) Write() error             { return b.db.Write(b.b, nil) }

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: key not found")
