// Package kv persists the key shares produced by keygen sessions.
//
// Keys are reserved before a session starts and committed once it succeeds, so that two concurrent
// sessions can never write the same key.
package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/taurusgroup/tssd/internal/log"
)

var (
	// ErrAlreadyReserved is returned by Reserve when a session already holds the key.
	ErrAlreadyReserved = errors.New("kv: key is already reserved")
	// ErrAlreadyExists is returned by Reserve when a record is already stored for the key.
	ErrAlreadyExists = errors.New("kv: key already exists")
	// ErrInvalidReservation is returned by Put when the reservation is no longer held.
	ErrInvalidReservation = errors.New("kv: reservation is not held")
	// ErrNotFound is returned by Get when no record is stored for the key.
	ErrNotFound = errors.New("kv: key not found")
	// ErrStorage wraps failures of the underlying database.
	ErrStorage = errors.New("kv: storage failure")
)

// FileName is the name of the database file in the daemon's directory.
const FileName = "kv.db"

// OpenPerm is the permission the database file is created with.
const OpenPerm = 0600

var recordBucket = []byte("records")

const (
	tagReserved byte = iota
	tagRecord
)

// Record is what a successful keygen stores for a key.
type Record struct {
	// Shares is the opaque share of each share held by this party.
	Shares      [][]byte `cbor:"1,keyasint"`
	PartyUIDs   []string `cbor:"2,keyasint"`
	ShareCounts []uint32 `cbor:"3,keyasint"`
	// MyIndex is the position of this party in PartyUIDs.
	MyIndex   uint32 `cbor:"4,keyasint"`
	Threshold uint32 `cbor:"5,keyasint"`
	PublicKey []byte `cbor:"6,keyasint"`
}

// Reservation proves that the holder temporarily owns a key.
type Reservation struct {
	key   string
	token []byte
}

// Key returns the reserved key.
func (r Reservation) Key() string { return r.key }

// Store implements the reservation protocol over a bolt database.
type Store struct {
	db  *bolt.DB
	log log.Logger
}

// Open opens or creates the database at path. Reservations left over by a previous process are dropped.
func Open(ctx context.Context, path string, l log.Logger) (*Store, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	db, err := bolt.Open(path, OpenPerm, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var stale int
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(recordBucket)
		if err != nil {
			return err
		}
		var keys [][]byte
		err = bucket.ForEach(func(k, v []byte) error {
			if len(v) > 0 && v[0] == tagReserved {
				keys = append(keys, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		stale = len(keys)
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if stale > 0 {
		l.Warnw("dropped stale reservations", "count", stale)
	}
	return &Store{db: db, log: l}, nil
}

// Reserve takes temporary ownership of key.
func (s *Store) Reserve(ctx context.Context, key string) (Reservation, error) {
	select {
	case <-ctx.Done():
		return Reservation{}, ctx.Err()
	default:
	}

	token, err := uuid.New().MarshalBinary()
	if err != nil {
		return Reservation{}, err
	}
	placeholder := append([]byte{tagReserved}, token...)

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordBucket)
		if v := bucket.Get([]byte(key)); v != nil {
			if len(v) > 0 && v[0] == tagReserved {
				return ErrAlreadyReserved
			}
			return ErrAlreadyExists
		}
		return bucket.Put([]byte(key), placeholder)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyReserved) || errors.Is(err, ErrAlreadyExists) {
			return Reservation{}, fmt.Errorf("%w: %q", err, key)
		}
		return Reservation{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.log.Debugw("key reserved", "key", key)
	return Reservation{key: key, token: token}, nil
}

// Put commits record for the reserved key and consumes the reservation.
func (s *Store) Put(ctx context.Context, r Reservation, record *Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("kv: encode record: %w", err)
	}
	value := append([]byte{tagRecord}, data...)

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordBucket)
		if !s.holds(bucket, r) {
			return ErrInvalidReservation
		}
		return bucket.Put([]byte(r.key), value)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidReservation) {
			return fmt.Errorf("%w: %q", err, r.key)
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.log.Debugw("record stored", "key", r.key)
	return nil
}

// Unreserve releases the key, unless the reservation was already consumed or released.
func (s *Store) Unreserve(r Reservation) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordBucket)
		if !s.holds(bucket, r) {
			return nil
		}
		return bucket.Delete([]byte(r.key))
	})
	if err != nil {
		s.log.Errorw("failed to release reservation", "key", r.key, "err", err)
		return
	}
	s.log.Debugw("key released", "key", r.key)
}

func (s *Store) holds(bucket *bolt.Bucket, r Reservation) bool {
	if r.token == nil {
		return false
	}
	v := bucket.Get([]byte(r.key))
	return len(v) > 0 && v[0] == tagReserved && bytes.Equal(v[1:], r.token)
}

// Get returns the record stored for key.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var record *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordBucket).Get([]byte(key))
		if len(v) == 0 || v[0] != tagRecord {
			return ErrNotFound
		}
		record = new(Record)
		return cbor.Unmarshal(v[1:], record)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", err, key)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return record, nil
}

// Exists returns true if a record is stored for key. Reserved keys do not exist yet.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordBucket).Get([]byte(key))
		exists = len(v) > 0 && v[0] == tagRecord
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return exists, nil
}

// Keys returns the keys of all stored records, in lexicographic order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordBucket).ForEach(func(k, v []byte) error {
			if len(v) > 0 && v[0] == tagRecord {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return keys, nil
}

// Close closes the database.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		s.log.Errorw("failed to close store", "err", err)
	}
	return err
}
