package transport

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zde37/chordfs/internal/chord"
)

func TestWireCodec_Registered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	require.NotNil(t, codec)
	assert.Equal(t, CodecName, codec.Name())
}

func TestWireCodec_RejectsForeignTypes(t *testing.T) {
	codec := wireCodec{}

	_, err := codec.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, codec.Unmarshal([]byte{}, struct{}{}))
}

func TestWire_NotifyMessage(t *testing.T) {
	codec := wireCodec{}
	candidate := chord.NewNodeAddress(big.NewInt(0), "10.0.0.7", 8440)

	data, err := codec.Marshal(&notifyMsg{candidate: toPeerMsg(candidate), departing: true})
	require.NoError(t, err)

	var decoded notifyMsg
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.True(t, decoded.departing)
	// identifier zero is encoded as a present, empty field
	require.NotNil(t, decoded.candidate.address())
	assert.True(t, decoded.candidate.address().Equals(candidate))
}

func TestWire_AbsentPeer(t *testing.T) {
	codec := wireCodec{}

	data, err := codec.Marshal(&peerReply{})
	require.NoError(t, err)
	assert.Empty(t, data)

	var decoded peerReply
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.peer.address())
}

func TestWire_LargeIdentifier(t *testing.T) {
	codec := wireCodec{}
	key := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	data, err := codec.Marshal(&keyMsg{key: encodeID(key), hops: 63})
	require.NoError(t, err)

	var decoded keyMsg
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, key, decodeID(decoded.key))
	assert.Equal(t, uint64(63), decoded.hops)
}

func TestWire_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("blob"))
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendString(b, "future field")

	var decoded dataReply
	require.NoError(t, wireCodec{}.Unmarshal(b, &decoded))
	assert.Equal(t, []byte("blob"), decoded.data)
}

func TestWire_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated tag", data: []byte{0x80}},
		{name: "length past end", data: []byte{0x0a, 0x05, 'a'}},
		{name: "bad nested peer", data: []byte{0x0a, 0x02, 0x0a, 0x09}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded peerReply
			assert.Error(t, wireCodec{}.Unmarshal(tt.data, &decoded))
		})
	}
}

func TestWire_DecodedBytesDoNotAliasBuffer(t *testing.T) {
	codec := wireCodec{}
	data, err := codec.Marshal(&putMsg{key: encodeID(big.NewInt(5)), data: []byte("payload")})
	require.NoError(t, err)

	var decoded putMsg
	require.NoError(t, codec.Unmarshal(data, &decoded))
	for i := range data {
		data[i] = 0
	}
	assert.Equal(t, []byte("payload"), decoded.data)
	assert.Equal(t, big.NewInt(5), decodeID(decoded.key))
}
