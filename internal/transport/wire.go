package transport

import (
	"fmt"
	"math/big"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zde37/chordfs/internal/chord"
)

// CodecName is the gRPC content-subtype peers use ("application/grpc+chordwire").
const CodecName = "chordwire"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// wireMessage is implemented by every request and response of the Chord service.
// Messages use the protobuf wire format so any protobuf tooling can read them.
type wireMessage interface {
	appendWire(b []byte) []byte
	readWire(b []byte) error
}

type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("%s: cannot marshal %T", CodecName, v)
	}
	out := m.appendWire(nil)
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("%s: cannot unmarshal into %T", CodecName, v)
	}
	return m.readWire(data)
}

func (wireCodec) Name() string {
	return CodecName
}

// readFields walks b and hands each field to fn, which returns the number of
// bytes it consumed, or 0 to skip a field it does not know.
func readFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

// consumeBytes copies the field out of the receive buffer. The result is never
// nil so an empty field can be told apart from a missing one.
func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	*dst = append([]byte{}, v...)
	return n
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n
	}
	*dst = v
	return n
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n
	}
	*dst = v
	return n
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) int {
	var v uint64
	n := consumeVarint(typ, b, &v)
	if n > 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, protowire.EncodeBool(v))
}

// encodeID writes an identifier as unsigned big-endian bytes, zero as an empty
// (but present) field.
func encodeID(id *big.Int) []byte {
	if id == nil {
		return nil
	}
	return append([]byte{}, id.Bytes()...)
}

func decodeID(b []byte) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).SetBytes(b)
}

// peerMsg is the wire form of chord.NodeAddress.
//
//	1: id (bytes)  2: host (string)  3: port (varint)
type peerMsg struct {
	id   []byte
	host string
	port uint64
}

func toPeerMsg(addr *chord.NodeAddress) *peerMsg {
	if addr.IsNil() {
		return nil
	}
	return &peerMsg{
		id:   encodeID(addr.ID),
		host: addr.Host,
		port: uint64(addr.Port),
	}
}

func (m *peerMsg) address() *chord.NodeAddress {
	if m == nil || m.id == nil {
		return nil
	}
	return chord.NewNodeAddress(decodeID(m.id), m.host, int(m.port))
}

func (m *peerMsg) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.id)
	b = appendStringField(b, 2, m.host)
	return appendVarintField(b, 3, m.port)
}

func (m *peerMsg) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.id)
		case 2:
			return consumeString(typ, b, &m.host)
		case 3:
			return consumeVarint(typ, b, &m.port)
		}
		return 0
	})
}

func appendPeerField(b []byte, num protowire.Number, p *peerMsg) []byte {
	if p == nil {
		return b
	}
	return appendBytesField(b, num, p.appendWire([]byte{}))
}

func consumePeer(typ protowire.Type, b []byte, dst **peerMsg) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	p := &peerMsg{}
	if err := p.readWire(v); err != nil {
		return -1
	}
	*dst = p
	return n
}

// emptyMsg carries no fields (GetPredecessor, IsAlive and GetID requests,
// and acknowledgements).
type emptyMsg struct{}

func (*emptyMsg) appendWire(b []byte) []byte { return b }

func (*emptyMsg) readWire(b []byte) error {
	return readFields(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

// keyMsg addresses one identifier.
//
//	1: key (bytes)  2: hops (varint)
type keyMsg struct {
	key  []byte
	hops uint64
}

func (m *keyMsg) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.key)
	return appendVarintField(b, 2, m.hops)
}

func (m *keyMsg) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.key)
		case 2:
			return consumeVarint(typ, b, &m.hops)
		}
		return 0
	})
}

// peerReply returns one node, or none (an absent predecessor).
//
//	1: peer (message)
type peerReply struct {
	peer *peerMsg
}

func (m *peerReply) appendWire(b []byte) []byte {
	return appendPeerField(b, 1, m.peer)
}

func (m *peerReply) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumePeer(typ, b, &m.peer)
		}
		return 0
	})
}

// joinMsg asks a node to join the ring through bootstrap.
//
//	1: bootstrap (string)
type joinMsg struct {
	bootstrap string
}

func (m *joinMsg) appendWire(b []byte) []byte {
	return appendStringField(b, 1, m.bootstrap)
}

func (m *joinMsg) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeString(typ, b, &m.bootstrap)
		}
		return 0
	})
}

// notifyMsg
//
//	1: candidate (message)  2: departing (bool)
type notifyMsg struct {
	candidate *peerMsg
	departing bool
}

func (m *notifyMsg) appendWire(b []byte) []byte {
	b = appendPeerField(b, 1, m.candidate)
	return appendBoolField(b, 2, m.departing)
}

func (m *notifyMsg) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumePeer(typ, b, &m.candidate)
		case 2:
			return consumeBool(typ, b, &m.departing)
		}
		return 0
	})
}

// aliveReply
//
//	1: alive (bool)
type aliveReply struct {
	alive bool
}

func (m *aliveReply) appendWire(b []byte) []byte {
	return appendBoolField(b, 1, m.alive)
}

func (m *aliveReply) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeBool(typ, b, &m.alive)
		}
		return 0
	})
}

// idReply
//
//	1: id (bytes)
type idReply struct {
	id []byte
}

func (m *idReply) appendWire(b []byte) []byte {
	return appendBytesField(b, 1, m.id)
}

func (m *idReply) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeBytes(typ, b, &m.id)
		}
		return 0
	})
}

// putMsg stores a blob.
//
//	1: key (bytes)  2: data (bytes)
type putMsg struct {
	key  []byte
	data []byte
}

func (m *putMsg) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.key)
	return appendBytesField(b, 2, m.data)
}

func (m *putMsg) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.key)
		case 2:
			return consumeBytes(typ, b, &m.data)
		}
		return 0
	})
}

// dataReply
//
//	1: data (bytes)
type dataReply struct {
	data []byte
}

func (m *dataReply) appendWire(b []byte) []byte {
	return appendBytesField(b, 1, m.data)
}

func (m *dataReply) readWire(b []byte) error {
	return readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeBytes(typ, b, &m.data)
		}
		return 0
	})
}
