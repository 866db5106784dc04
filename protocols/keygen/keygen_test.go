package keygen

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/malicious"
	"github.com/taurusgroup/tssd/pkg/math/curve"
	"github.com/taurusgroup/tssd/pkg/party"
)

func testShares(t *testing.T) *party.ShareMap {
	// alice: 0, bob: 1 2, carol: 3
	shares, err := party.NewShareMap([]party.ID{"alice", "bob", "carol"}, []uint32{1, 2, 1})
	require.NoError(t, err)
	return shares
}

func start(t *testing.T, shares *party.ShareMap, behaviour malicious.Behaviour) map[party.ShareIndex]round.Round {
	rounds := make(map[party.ShareIndex]round.Round, shares.Total())
	for i := 0; i < shares.Total(); i++ {
		r, err := Start(Params{
			SessionID: []byte("key"),
			Shares:    shares,
			Self:      party.ShareIndex(i),
			Threshold: 1,
			Behaviour: behaviour,
		})
		require.NoError(t, err)
		rounds[party.ShareIndex(i)] = r
	}
	return rounds
}

func TestKeygen(t *testing.T) {
	shares := testShares(t)
	rounds := start(t, shares, malicious.Behaviour{})
	require.NoError(t, round.RunAll(rounds, DisputeRound))

	var publicKey []byte
	sum := curve.NewScalar()
	for share, r := range rounds {
		output, ok := r.(*round.Output)
		require.True(t, ok, "share %d did not complete", share)
		result, ok := output.Result.(*Result)
		require.True(t, ok)
		require.NoError(t, result.Validate())
		assert.Equal(t, share, result.ShareIndex)
		if publicKey == nil {
			publicKey = result.PublicKey
		}
		assert.Equal(t, publicKey, result.GroupKey())

		s, err := result.SecretShare()
		require.NoError(t, err)
		sum.Add(sum, s)
	}

	// the shares add up to the secret key
	expected := curve.NewIdentityPoint()
	require.NoError(t, expected.UnmarshalBinary(publicKey))
	assert.True(t, sum.ActOnBase().Equal(expected))
}

func TestKeygen_ResultEncoding(t *testing.T) {
	shares := testShares(t)
	rounds := start(t, shares, malicious.Behaviour{})
	require.NoError(t, round.RunAll(rounds, DisputeRound))

	result := rounds[2].(*round.Output).Result.(*Result)
	data, err := result.MarshalBinary()
	require.NoError(t, err)
	decoded, err := UnmarshalResult(data)
	require.NoError(t, err)
	assert.Equal(t, result, decoded)

	// Result embedded in another value goes through MarshalBinary
	wrapped, err := cbor.Marshal(struct{ R *Result }{result})
	require.NoError(t, err)
	require.NotEmpty(t, wrapped)

	// a share that does not match its public image is rejected
	other := rounds[1].(*round.Output).Result.(*Result)
	tampered := *decoded
	tampered.Share = other.Share
	data, err = tampered.MarshalBinary()
	require.NoError(t, err)
	_, err = UnmarshalResult(data)
	require.Error(t, err)
}

func TestKeygen_Malicious(t *testing.T) {
	tests := []struct {
		name      string
		behaviour malicious.Behaviour
		expected  round.Faults
	}{
		{
			name:      "bad share",
			behaviour: malicious.Parse("R2BadShare", []uint32{0}, []uint32{3}),
			expected:  round.Faults{3: round.FaultProtocol},
		},
		{
			name:      "bad encryption",
			behaviour: malicious.Parse("R2BadEncryption", []uint32{1, 2}, []uint32{0}),
			expected:  round.Faults{0: round.FaultProtocol},
		},
		{
			name:      "false accusation",
			behaviour: malicious.Parse("R3FalseAccusation", []uint32{3}, []uint32{2}),
			expected:  round.Faults{2: round.FaultProtocol},
		},
		{
			name:      "several faulty shares",
			behaviour: malicious.Parse("R2BadShare", []uint32{0}, []uint32{1, 3}),
			expected:  round.Faults{1: round.FaultProtocol, 3: round.FaultProtocol},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rounds := start(t, testShares(t), tt.behaviour)
			require.NoError(t, round.RunAll(rounds, DisputeRound))
			for share, r := range rounds {
				faulted, ok := r.(*round.Faulted)
				require.True(t, ok, "share %d should report faults", share)
				assert.Equal(t, tt.expected, faulted.Faults, "share %d", share)
			}
		})
	}
}

func TestRound2_BadShare(t *testing.T) {
	rounds := start(t, testShares(t), malicious.Parse("R2BadShare", []uint32{0}, []uint32{3}))
	r := &round2{round1: rounds[3].(*round1)}

	one := curve.NewScalar().SetUInt32(1)
	for _, p2p := range r.P2PsOut() {
		var msg message2
		require.NoError(t, cbor.Unmarshal(p2p.Payload, &msg))
		honest := marshalScalar(r.parts[p2p.To])
		if p2p.To == 0 {
			wrong := curve.NewScalar().Add(r.parts[0], one)
			assert.Equal(t, marshalScalar(wrong), msg.Part)
			assert.NotEqual(t, honest, msg.Part)
			continue
		}
		assert.Equal(t, honest, msg.Part, "share %d", p2p.To)
	}
}

func TestKeygen_CorruptedMessage(t *testing.T) {
	shares := testShares(t)
	rounds := start(t, shares, malicious.Behaviour{})

	// share 0 receives garbage from share 3 in the first round
	require.NoError(t, rounds[0].Accept(3, round.KindStandard, []byte{0xff}))
	require.NoError(t, rounds[0].Accept(1, round.KindStandard, rounds[1].BroadcastOut()))
	require.NoError(t, rounds[0].Accept(2, round.KindStandard, rounds[2].BroadcastOut()))
	require.False(t, rounds[0].ExpectingMore())

	next, err := rounds[0].Advance()
	require.NoError(t, err)
	assert.Equal(t, round.Number(2), next.Number())
	assert.Equal(t, round.Faults{3: round.FaultCorruptedMessage}, next.(*round2).faults)

	require.Error(t, rounds[0].Accept(4, round.KindStandard, nil))
}

func TestStart_Invalid(t *testing.T) {
	shares := testShares(t)
	_, err := Start(Params{Shares: shares, Self: 4})
	require.Error(t, err)
	_, err = Start(Params{Shares: shares, Self: 0, Threshold: 4})
	require.Error(t, err)
}
