// ABOUTME: Badger-backed store of claimed and acknowledged push idempotency keys.
// ABOUTME: A key is claimed before sending and holds its ack until the TTL expires.
package idempotency

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const (
	// DefaultTTL is how long an acknowledged key is remembered.
	DefaultTTL = 7 * 24 * time.Hour

	// PendingTTL bounds how long a claim without an ack blocks its key, so a crash mid-push
	// does not block it for the full TTL.
	PendingTTL = 10 * time.Minute

	keyPrefix = "push:"
)

// pending marks a claimed key whose push has not been acknowledged yet.
var pending = []byte{0}

// Store remembers which push batches a vendor already acknowledged.
type Store struct {
	db  *badger.DB
	ttl time.Duration
	mu  sync.Mutex
}

// Open opens or creates a store in dir.
func Open(dir string, ttl time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	return open(opts, ttl)
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory(ttl time.Duration) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts, ttl)
}

func open(opts badger.Options, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Lookup returns the acknowledgement stored for key, if any. A pending claim is not an ack.
func (s *Store) Lookup(key string) ([]byte, bool, error) {
	var ack []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		ack, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup key %s: %w", key, err)
	}
	if bytes.Equal(ack, pending) {
		return nil, false, nil
	}
	return ack, true, nil
}

// Claim reserves key for one push. When claimed is true the caller owns the key and must
// either Remember the ack or Forget the key. Otherwise ack is the stored acknowledgement, or
// nil while another push holding the key is still in flight.
func (s *Store) Claim(key string) (ack []byte, claimed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		k := []byte(keyPrefix + key)
		item, err := txn.Get(k)
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(val, pending) {
				ack = val
			}
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		claimed = true
		return txn.SetEntry(badger.NewEntry(k, pending).WithTTL(PendingTTL))
	})
	if err != nil {
		return nil, false, fmt.Errorf("claim key %s: %w", key, err)
	}
	return ack, claimed, nil
}

// Remember records the acknowledgement for key, replacing a pending claim. An existing ack
// is kept, so the first acknowledgement wins. It reports whether this call stored the entry.
func (s *Store) Remember(key string, ack []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := false
	err := s.db.Update(func(txn *badger.Txn) error {
		k := []byte(keyPrefix + key)
		item, err := txn.Get(k)
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(val, pending) {
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stored = true
		return txn.SetEntry(badger.NewEntry(k, ack).WithTTL(s.ttl))
	})
	if err != nil {
		return false, fmt.Errorf("remember key %s: %w", key, err)
	}
	return stored, nil
}

// Forget drops key so the batch can be pushed again.
func (s *Store) Forget(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil {
		return fmt.Errorf("forget key %s: %w", key, err)
	}
	return nil
}
