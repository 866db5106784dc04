package service

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/tssd/internal/kv"
	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/internal/metrics"
	"github.com/taurusgroup/tssd/internal/recovery"
	"github.com/taurusgroup/tssd/internal/test"
	"github.com/taurusgroup/tssd/pkg/malicious"
	"github.com/taurusgroup/tssd/pkg/party"
	"github.com/taurusgroup/tssd/pkg/protocol"
	"github.com/taurusgroup/tssd/protocols/sign"
)

var testSeed = bytes.Repeat([]byte{7}, recovery.SeedSize)

// alice: 0, bob: 1 2, carol: 3
var (
	testIDs    = []party.ID{"alice", "bob", "carol"}
	testCounts = map[party.ID]uint32{"alice": 1, "bob": 2, "carol": 1}
)

type testParty struct {
	id    party.ID
	store *kv.Store
	svc   *Service
}

func newTestParty(t *testing.T, id party.ID, seed []byte, b malicious.Behaviour) *testParty {
	t.Helper()
	store, err := kv.Open(context.Background(), filepath.Join(t.TempDir(), kv.FileName), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	cfg := Config{RecoverySeed: seed, Behaviour: b, Metrics: metrics.New()}
	return &testParty{id: id, store: store, svc: New(cfg, store, ExampleEngines{}, log.Nop())}
}

func newTestParties(t *testing.T, behaviours map[party.ID]malicious.Behaviour) []*testParty {
	parties := make([]*testParty, 0, len(testIDs))
	for _, id := range testIDs {
		parties = append(parties, newTestParty(t, id, testSeed, behaviours[id]))
	}
	return parties
}

// newKeygenInit returns the init party self would receive from its client.
// Every party lists the parties in a different order.
func newKeygenInit(keyUID string, self party.ID, ids []party.ID, threshold uint32) *KeygenInit {
	ki := &KeygenInit{NewKeyUID: keyUID, Threshold: threshold}
	offset := party.IDSlice(ids).GetIndex(self)
	for i := range ids {
		id := ids[(i+offset)%len(ids)]
		if id == self {
			ki.MyPartyIndex = uint32(i)
		}
		ki.PartyUIDs = append(ki.PartyUIDs, string(id))
		ki.PartyShareCounts = append(ki.PartyShareCounts, testCounts[id])
	}
	return ki
}

type sessionResult struct {
	terminal *MessageOut
	err      error
}

type sessionFunc func(p *testParty, in <-chan *protocol.TrafficIn, out chan<- *MessageOut) error

// runSessions runs one session per party over network until each of them sent its terminal message.
func runSessions(t *testing.T, network *test.Network, parties []*testParty, run sessionFunc) map[party.ID]sessionResult {
	t.Helper()
	var (
		mtx     sync.Mutex
		wg      sync.WaitGroup
		results = make(map[party.ID]sessionResult, len(parties))
	)
	for _, p := range parties {
		wg.Add(1)
		go func(p *testParty) {
			defer wg.Done()
			in := network.Next(p.id)
			out := make(chan *MessageOut)
			errs := make(chan error, 1)
			go func() { errs <- run(p, in, out) }()

			var terminal *MessageOut
			for terminal == nil {
				select {
				case msg := <-out:
					if msg.IsTerminal() {
						terminal = msg
					} else {
						network.Send(p.id, msg.Traffic)
					}
				case <-time.After(10 * time.Second):
					t.Errorf("party %s: session timed out", p.id)
					network.Done(p.id)
					return
				}
			}
			network.Done(p.id)
			err := <-errs

			mtx.Lock()
			results[p.id] = sessionResult{terminal: terminal, err: err}
			mtx.Unlock()
		}(p)
	}
	wg.Wait()
	require.Len(t, results, len(parties))
	return results
}

func runKeygen(t *testing.T, parties []*testParty, keyUID string, threshold uint32) map[party.ID]sessionResult {
	network := test.NewNetwork(testIDs)
	return runSessions(t, network, parties, func(p *testParty, in <-chan *protocol.TrafficIn, out chan<- *MessageOut) error {
		return p.svc.Keygen(context.Background(), newKeygenInit(keyUID, p.id, testIDs, threshold), in, out)
	})
}

func TestKeygenSign(t *testing.T) {
	ctx := context.Background()
	parties := newTestParties(t, nil)

	results := runKeygen(t, parties, "key", 2)
	var publicKey []byte
	for _, p := range parties {
		r := results[p.id]
		require.NoError(t, r.err, p.id)
		require.NotNil(t, r.terminal.KeygenResult, p.id)
		require.Empty(t, r.terminal.KeygenResult.Criminals, p.id)
		data := r.terminal.KeygenResult.Data
		require.NotNil(t, data)
		assert.Len(t, data.RecoveryInfo, int(testCounts[p.id]))
		if publicKey == nil {
			publicKey = data.PublicKey
		}
		assert.Equal(t, publicKey, data.PublicKey)

		presence, err := p.svc.KeyPresence(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, Present, presence)
		uids, err := p.svc.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"key"}, uids)

		record, err := p.store.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob", "carol"}, record.PartyUIDs)
		assert.Equal(t, []uint32{1, 2, 1}, record.ShareCounts)
		assert.Equal(t, testIDs[record.MyIndex], p.id)
	}

	signers := parties[1:]
	message := []byte("message")
	expected, err := sign.Tag(publicKey, message)
	require.NoError(t, err)

	network := test.NewNetwork(party.IDSlice{"bob", "carol"})
	results = runSessions(t, network, signers, func(p *testParty, in <-chan *protocol.TrafficIn, out chan<- *MessageOut) error {
		return p.svc.Sign(ctx, &SignInit{
			NewSigUID:     "sig",
			KeyUID:        "key",
			PartyUIDs:     []string{"carol", "bob"},
			MessageToSign: message,
		}, in, out)
	})
	for _, p := range signers {
		r := results[p.id]
		require.NoError(t, r.err, p.id)
		require.NotNil(t, r.terminal.SignResult, p.id)
		assert.Empty(t, r.terminal.SignResult.Criminals)
		assert.Equal(t, expected, r.terminal.SignResult.Signature)
	}
}

func TestKeygen_Malicious(t *testing.T) {
	ctx := context.Background()
	behaviour := malicious.Parse("R2BadShare", []uint32{0}, []uint32{3})
	parties := newTestParties(t, map[party.ID]malicious.Behaviour{"carol": behaviour})

	results := runKeygen(t, parties, "key", 1)
	for _, p := range parties {
		r := results[p.id]
		require.NoError(t, r.err, p.id)
		require.NotNil(t, r.terminal.KeygenResult, p.id)
		assert.Nil(t, r.terminal.KeygenResult.Data)
		assert.Equal(t, []protocol.Criminal{{Party: "carol", CrimeType: protocol.Malicious}},
			r.terminal.KeygenResult.Criminals, p.id)

		presence, err := p.svc.KeyPresence(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, Absent, presence)
		// the reservation was released
		reservation, err := p.store.Reserve(ctx, "key")
		require.NoError(t, err)
		p.store.Unreserve(reservation)
	}
}

func TestKeygen_Timeout(t *testing.T) {
	ctx := context.Background()
	parties := newTestParties(t, nil)

	network := test.NewNetwork(testIDs)
	for _, id := range testIDs {
		network.Inject(id, &protocol.TrafficIn{From: "alice", Payload: protocol.TimeoutPayload})
	}
	results := runSessions(t, network, parties, func(p *testParty, in <-chan *protocol.TrafficIn, out chan<- *MessageOut) error {
		return p.svc.Keygen(ctx, newKeygenInit("key", p.id, testIDs, 1), in, out)
	})
	for _, p := range parties {
		r := results[p.id]
		require.ErrorIs(t, r.err, protocol.ErrTimeout, p.id)
		assert.NotEmpty(t, r.terminal.Error)

		reservation, err := p.store.Reserve(ctx, "key")
		require.NoError(t, err)
		p.store.Unreserve(reservation)
	}
}

func TestKeygen_Conflict(t *testing.T) {
	ctx := context.Background()
	p := newTestParty(t, "alice", testSeed, malicious.Behaviour{})
	reservation, err := p.store.Reserve(ctx, "key")
	require.NoError(t, err)
	defer p.store.Unreserve(reservation)

	in := make(chan *protocol.TrafficIn)
	out := make(chan *MessageOut, 1)
	err = p.svc.Keygen(ctx, newKeygenInit("key", "alice", testIDs, 1), in, out)
	require.ErrorIs(t, err, ErrKeyConflict)
	msg := <-out
	assert.NotEmpty(t, msg.Error)
	assert.True(t, msg.IsTerminal())
}

func TestKeygen_InvalidInit(t *testing.T) {
	p := newTestParty(t, "alice", testSeed, malicious.Behaviour{})
	out := make(chan *MessageOut, 1)
	err := p.svc.Keygen(context.Background(), &KeygenInit{NewKeyUID: "key"}, nil, out)
	require.ErrorIs(t, err, ErrInvalidInit)
	assert.NotEmpty(t, (<-out).Error)
}

func TestSign_NeedRecover(t *testing.T) {
	p := newTestParty(t, "alice", testSeed, malicious.Behaviour{})
	out := make(chan *MessageOut, 1)
	err := p.svc.Sign(context.Background(), &SignInit{
		NewSigUID:     "sig",
		KeyUID:        "unknown",
		PartyUIDs:     []string{"alice"},
		MessageToSign: []byte("message"),
	}, nil, out)
	require.NoError(t, err)
	assert.True(t, (<-out).NeedRecover)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	parties := newTestParties(t, nil)
	results := runKeygen(t, parties, "key", 1)

	bob := parties[1]
	output := results[bob.id].terminal.KeygenResult.Data
	require.NotNil(t, output)
	expected, err := bob.store.Get(ctx, "key")
	require.NoError(t, err)

	req := &RecoverRequest{
		KeygenInit:   *newKeygenInit("key", bob.id, testIDs, 1),
		KeygenOutput: *output,
	}

	t.Run("recovered", func(t *testing.T) {
		fresh := newTestParty(t, bob.id, testSeed, malicious.Behaviour{})
		require.NoError(t, fresh.svc.Recover(ctx, req))
		record, err := fresh.store.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, expected, record)

		// already stored
		require.NoError(t, fresh.svc.Recover(ctx, req))
	})

	t.Run("wrong seed", func(t *testing.T) {
		fresh := newTestParty(t, bob.id, bytes.Repeat([]byte{8}, recovery.SeedSize), malicious.Behaviour{})
		require.ErrorIs(t, fresh.svc.Recover(ctx, req), recovery.ErrDecrypt)
		presence, err := fresh.svc.KeyPresence(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, Absent, presence)
	})

	t.Run("wrong party", func(t *testing.T) {
		fresh := newTestParty(t, "alice", testSeed, malicious.Behaviour{})
		wrong := &RecoverRequest{
			KeygenInit:   *newKeygenInit("key", "alice", testIDs, 1),
			KeygenOutput: *output,
		}
		require.Error(t, fresh.svc.Recover(ctx, wrong))
		presence, err := fresh.svc.KeyPresence(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, Absent, presence)
	})

	t.Run("missing blobs", func(t *testing.T) {
		fresh := newTestParty(t, bob.id, testSeed, malicious.Behaviour{})
		short := *req
		short.KeygenOutput.RecoveryInfo = output.RecoveryInfo[:1]
		require.Error(t, fresh.svc.Recover(ctx, &short))
	})
}

func TestKeyPresence_Closed(t *testing.T) {
	p := newTestParty(t, "alice", testSeed, malicious.Behaviour{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	presence, err := p.svc.KeyPresence(ctx, "key")
	require.Error(t, err)
	assert.Equal(t, PresenceFail, presence)
}
