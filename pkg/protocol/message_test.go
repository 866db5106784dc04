package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/tssd/internal/round"
)

func TestEnvelope(t *testing.T) {
	env := &Envelope{
		SSID:        []byte{1, 2, 3},
		FromShare:   2,
		ToShare:     5,
		RoundNumber: 3,
		Kind:        round.KindDispute,
		Body:        []byte("complaint"),
	}
	data, err := env.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)

	_, err = UnmarshalEnvelope([]byte{0xff, 0x00})
	require.ErrorIs(t, err, ErrMalformed)

	// the sentinel is never a valid envelope
	_, err = UnmarshalEnvelope(TimeoutPayload)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTrafficOutIsFor(t *testing.T) {
	broadcast := TrafficOut{Broadcast: true}
	assert.True(t, broadcast.IsFor("alice"))

	p2p := TrafficOut{To: "bob"}
	assert.True(t, p2p.IsFor("bob"))
	assert.False(t, p2p.IsFor("alice"))
}
