package kv

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/tssd/internal/log"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(context.Background(), path, log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func testRecord() *Record {
	return &Record{
		Shares:      [][]byte{[]byte("share 1"), []byte("share 2")},
		PartyUIDs:   []string{"alice", "bob", "carol"},
		ShareCounts: []uint32{1, 2, 1},
		MyIndex:     1,
		Threshold:   2,
		PublicKey:   []byte{2, 3, 4},
	}
}

func TestStore_ReservePutGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	r, err := s.Reserve(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "key", r.Key())

	_, err = s.Get(ctx, "key")
	require.ErrorIs(t, err, ErrNotFound)
	exists, err := s.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Reserve(ctx, "key")
	require.ErrorIs(t, err, ErrAlreadyReserved)

	record := testRecord()
	require.NoError(t, s.Put(ctx, r, record))

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, record, got)
	exists, err = s.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.Reserve(ctx, "key")
	require.ErrorIs(t, err, ErrAlreadyExists)

	// consumed
	require.ErrorIs(t, s.Put(ctx, r, testRecord()), ErrInvalidReservation)
	// releasing a consumed reservation leaves the record alone
	s.Unreserve(r)
	_, err = s.Get(ctx, "key")
	require.NoError(t, err)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"key"}, keys)
}

func TestStore_Unreserve(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	r, err := s.Reserve(ctx, "key")
	require.NoError(t, err)
	s.Unreserve(r)

	require.ErrorIs(t, s.Put(ctx, r, testRecord()), ErrInvalidReservation)
	_, err = s.Get(ctx, "key")
	require.ErrorIs(t, err, ErrNotFound)

	// the key can be reserved again, the old reservation stays invalid
	r2, err := s.Reserve(ctx, "key")
	require.NoError(t, err)
	require.ErrorIs(t, s.Put(ctx, r, testRecord()), ErrInvalidReservation)
	s.Unreserve(r)
	require.NoError(t, s.Put(ctx, r2, testRecord()))

	require.ErrorIs(t, s.Put(ctx, Reservation{}, testRecord()), ErrInvalidReservation)
}

func TestStore_ConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Reserve(ctx, "key")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyReserved)
	}
	assert.Equal(t, 1, succeeded)
}

func TestStore_StaleReservations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(ctx, path, log.Nop())
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "pending")
	require.NoError(t, err)
	r, err := s.Reserve(ctx, "done")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, r, testRecord()))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, log.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Reserve(ctx, "pending")
	require.NoError(t, err)
	_, err = s.Get(ctx, "done")
	require.NoError(t, err)
}

func TestStore_Context(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Reserve(ctx, "key")
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Get(ctx, "key")
	require.ErrorIs(t, err, context.Canceled)
}
