package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, mt := range []MessageType{TypeUpdate, TypeSyncRequest, TypeSyncResponse} {
		t.Run(string(mt), func(t *testing.T) {
			raw, err := Encode(mt, []byte{0x01, 0x02, 0xff})
			require.NoError(t, err)
			env, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, mt, env.Type)
			assert.Equal(t, []byte{0x01, 0x02, 0xff}, env.Payload)
		})
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"gossip","payload":"aGk="}`))
	assert.ErrorContains(t, err, "unknown message type")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json at all"))
	assert.Error(t, err)
	_, err = Decode(nil)
	assert.Error(t, err)
}
