package wire

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------------------------- //

// ID identifies a peer wire protocol message. The numeric values are fixed
// by BEP 3.
type ID uint8

const (
	Choke ID = iota
	Unchoke
	Interested
	NotInterested
	Have
	BitfieldMsg
	Request
	Piece
	Cancel
	Port
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not-interested"
	case Have:
		return "have"
	case BitfieldMsg:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// --------------------------------------------------------------------------------------------- //

const (
	lengthPrefixSize = 4
	// BlockSize is the fixed request/response granularity, 16 KiB.
	BlockSize = 16 * 1024
	// maxMessageSize bounds a single message so a corrupt length prefix
	// cannot force an unbounded allocation; chosen comfortably larger than
	// the largest legitimate PIECE message (9 bytes header + BlockSize).
	maxMessageSize = 1 << 20
)

// --------------------------------------------------------------------------------------------- //

/*
Message is a parsed peer wire protocol message. KeepAlive is true for the
zero-length keep-alive frame, in which case ID and Payload are meaningless.
*/
type Message struct {
	KeepAlive bool
	ID        ID
	Payload   []byte
}

// --------------------------------------------------------------------------------------------- //

/*
RequestPayload carries the three big-endian uint32 fields of REQUEST and
CANCEL messages.
*/
type RequestPayload struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// --------------------------------------------------------------------------------------------- //

/*
Encode serializes a non-keep-alive message with its 4-byte length prefix.

Parameters:
  - id: The message id.
  - payload: The message body (may be empty).

Returns:
  - []byte: The length-prefixed encoded message.
*/
func Encode(id ID, payload []byte) []byte {
	buf := make([]byte, lengthPrefixSize+1+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(payload)))
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// --------------------------------------------------------------------------------------------- //

/*
EncodeKeepAlive returns the 4-byte zero-length keep-alive frame.
*/
func EncodeKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// --------------------------------------------------------------------------------------------- //

/*
EncodeRequest builds a complete, length-prefixed REQUEST or CANCEL message.
*/
func EncodeRequest(id ID, p RequestPayload) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], p.Index)
	binary.BigEndian.PutUint32(payload[4:8], p.Begin)
	binary.BigEndian.PutUint32(payload[8:12], p.Length)
	return Encode(id, payload)
}

/*
EncodeHave builds a complete, length-prefixed HAVE message.
*/
func EncodeHave(index uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return Encode(Have, payload)
}

/*
EncodePiece builds a complete, length-prefixed PIECE message.
*/
func EncodePiece(index, begin uint32, block []byte) []byte {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return Encode(Piece, payload)
}

/*
EncodeBitfield builds a BITFIELD message body.
*/
func EncodeBitfield(raw []byte) []byte {
	return Encode(BitfieldMsg, raw)
}

// --------------------------------------------------------------------------------------------- //

/*
ParseMessage is a pure function over a byte buffer: it returns the number
of bytes consumed and the parsed message, or consumed == 0 if buf does not
yet contain a complete frame. Callers must retain unconsumed bytes and
retry once more data arrives.

Per the redesigned behavior this spec requires (rather than discarding the
whole buffer), an unknown message id still consumes exactly 4+length bytes
so the stream never desynchronizes.

Parameters:
  - buf: The accumulated, possibly-partial receive buffer.

Returns:
  - int: Number of bytes consumed from the front of buf; 0 if incomplete.
  - *Message: The parsed message, nil if consumed == 0.
  - error: Non-nil for a structurally invalid frame (implausible length).
*/
func ParseMessage(buf []byte) (int, *Message, error) {
	if len(buf) < lengthPrefixSize {
		return 0, nil, nil
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	if length == 0 {
		return lengthPrefixSize, &Message{KeepAlive: true}, nil
	}
	if length > maxMessageSize {
		return 0, nil, fmt.Errorf("wire: message length %d exceeds plausible maximum %d", length, maxMessageSize)
	}

	total := lengthPrefixSize + int(length)
	if len(buf) < total {
		return 0, nil, nil
	}

	id := ID(buf[lengthPrefixSize])
	payload := buf[lengthPrefixSize+1 : total]
	out := make([]byte, len(payload))
	copy(out, payload)

	return total, &Message{ID: id, Payload: out}, nil
}

// --------------------------------------------------------------------------------------------- //

/*
DecodeRequest parses a REQUEST or CANCEL payload.
*/
func DecodeRequest(payload []byte) (RequestPayload, error) {
	if len(payload) != 12 {
		return RequestPayload{}, fmt.Errorf("wire: request payload must be 12 bytes, got %d", len(payload))
	}
	return RequestPayload{
		Index:  binary.BigEndian.Uint32(payload[0:4]),
		Begin:  binary.BigEndian.Uint32(payload[4:8]),
		Length: binary.BigEndian.Uint32(payload[8:12]),
	}, nil
}

/*
DecodeHave parses a HAVE payload.
*/
func DecodeHave(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("wire: have payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

/*
DecodePiece splits a PIECE payload into its index, begin, and block.
*/
func DecodePiece(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("wire: piece payload must be at least 8 bytes, got %d", len(payload))
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	block = payload[8:]
	return index, begin, block, nil
}

// --------------------------------------------------------------------------------------------- //
