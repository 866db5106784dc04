package round_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
)

func TestNewHelper(t *testing.T) {
	shares, err := party.NewShareMap([]party.ID{"a", "b", "c"}, []uint32{1, 2, 1})
	require.NoError(t, err)

	tests := []struct {
		name      string
		shares    *party.ShareMap
		self      party.ShareIndex
		threshold int
		wantErr   bool
	}{
		{"valid", shares, 0, 2, false},
		{"last share", shares, 3, 1, false},
		{"no shares", nil, 0, 1, true},
		{"self out of range", shares, 4, 1, true},
		{"-1 t", shares, 0, -1, true},
		{"threshold N", shares, 0, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := round.Info{
				ProtocolID:       "TEST",
				FinalRoundNumber: 3,
				Shares:           tt.shares,
				Self:             tt.self,
				Threshold:        tt.threshold,
			}
			_, err := round.NewHelper(info)
			if tt.wantErr == (err == nil) {
				t.Error(err)
			}
		})
	}
}

func TestHelper_SSID(t *testing.T) {
	shares, err := party.NewShareMap([]party.ID{"a", "b"}, []uint32{1, 1})
	require.NoError(t, err)
	reordered, err := party.NewShareMap([]party.ID{"b", "a"}, []uint32{1, 1})
	require.NoError(t, err)

	h1, err := round.NewHelper(round.Info{ProtocolID: "TEST", Shares: shares, Self: 0, Threshold: 1, SessionID: []byte("s")})
	require.NoError(t, err)
	h2, err := round.NewHelper(round.Info{ProtocolID: "TEST", Shares: shares, Self: 1, Threshold: 1, SessionID: []byte("s")})
	require.NoError(t, err)
	h3, err := round.NewHelper(round.Info{ProtocolID: "TEST", Shares: reordered, Self: 0, Threshold: 1, SessionID: []byte("s")})
	require.NoError(t, err)

	// every share of the same execution agrees on the SSID
	assert.True(t, bytes.Equal(h1.SSID(), h2.SSID()))
	// a different view of the party list is a different execution
	assert.False(t, bytes.Equal(h1.SSID(), h3.SSID()))
	assert.Equal(t, []party.ShareIndex{0}, h2.OtherShares())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, round.KindStandard, round.KindOf(2, 3, false))
	assert.Equal(t, round.KindStandard, round.KindOf(3, 3, true))
	assert.Equal(t, round.KindDispute, round.KindOf(3, 3, false))
	assert.Equal(t, round.KindStandard, round.KindOf(3, 0, false))
}

func TestFaults_Sorted(t *testing.T) {
	fs := round.Faults{}
	fs.Set(5, round.FaultProtocol)
	fs.Set(1, round.FaultMissingMessage)
	fs.Set(5, round.FaultCorruptedMessage)
	sorted := fs.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, party.ShareIndex(1), sorted[0].Share)
	assert.Equal(t, round.FaultProtocol, sorted[1].Fault)
}
