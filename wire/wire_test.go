package wire

import (
	"bytes"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	h := Handshake{}
	h.InfoHash[0] = 0xAB
	h.PeerID[0] = 0xCD
	buf := EncodeHandshake(h)
	if len(buf) != HandshakeLen {
		t.Fatalf("len = %d, want %d", len(buf), HandshakeLen)
	}
	got, err := DecodeHandshake(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.InfoHash != h.InfoHash || got.PeerID != h.PeerID {
		t.Errorf("round trip mismatch: %+v vs %+v", got, h)
	}
}

func TestDecodeHandshakeRejectsWrongProtocol(t *testing.T) {
	buf := EncodeHandshake(Handshake{})
	buf[1] = 'X'
	if _, err := DecodeHandshake(buf); err == nil {
		t.Error("expected error for corrupted protocol name")
	}
}

func TestParseMessageIncomplete(t *testing.T) {
	consumed, msg, err := ParseMessage([]byte{0, 0, 0})
	if err != nil || consumed != 0 || msg != nil {
		t.Errorf("ParseMessage(partial length) = (%d, %v, %v)", consumed, msg, err)
	}

	full := Encode(Have, []byte{0, 0, 0, 5})
	consumed, msg, err = ParseMessage(full[:len(full)-2])
	if err != nil || consumed != 0 || msg != nil {
		t.Errorf("ParseMessage(partial payload) = (%d, %v, %v)", consumed, msg, err)
	}
}

func TestParseMessageKeepAlive(t *testing.T) {
	consumed, msg, err := ParseMessage(EncodeKeepAlive())
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 4 || !msg.KeepAlive {
		t.Errorf("ParseMessage(keepalive) = (%d, %+v)", consumed, msg)
	}
}

func TestParseMessageRoundTrip(t *testing.T) {
	buf := EncodeRequest(Request, RequestPayload{Index: 1, Begin: 2, Length: BlockSize})
	consumed, msg, err := ParseMessage(buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	if msg.ID != Request {
		t.Fatalf("ID = %v, want Request", msg.ID)
	}
	req, err := DecodeRequest(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if req != (RequestPayload{Index: 1, Begin: 2, Length: BlockSize}) {
		t.Errorf("req = %+v", req)
	}
}

func TestParseMessageUnknownIDConsumesExactFrame(t *testing.T) {
	unknown := Encode(ID(200), []byte{1, 2, 3})
	trailing := Encode(Unchoke, nil)
	buf := append(append([]byte{}, unknown...), trailing...)

	consumed, msg, err := ParseMessage(buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(unknown) {
		t.Fatalf("consumed = %d, want %d (exact frame, not whole buffer)", consumed, len(unknown))
	}
	if msg.ID != ID(200) {
		t.Errorf("ID = %v, want 200", msg.ID)
	}

	rest := buf[consumed:]
	consumed2, msg2, err := ParseMessage(rest)
	if err != nil {
		t.Fatal(err)
	}
	if consumed2 != len(trailing) || msg2.ID != Unchoke {
		t.Errorf("stream desynchronized after unknown id: consumed=%d msg=%+v", consumed2, msg2)
	}
}

func TestParseMessageRejectsImplausibleLength(t *testing.T) {
	buf := make([]byte, 4)
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF
	if _, _, err := ParseMessage(buf); err == nil {
		t.Error("expected error for implausible length")
	}
}

func TestDecodePieceSplitsBlock(t *testing.T) {
	block := bytes.Repeat([]byte{0x42}, 10)
	buf := EncodePiece(3, 16384, block)
	_, msg, err := ParseMessage(buf)
	if err != nil {
		t.Fatal(err)
	}
	index, begin, gotBlock, err := DecodePiece(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if index != 3 || begin != 16384 || !bytes.Equal(gotBlock, block) {
		t.Errorf("DecodePiece = (%d, %d, %x)", index, begin, gotBlock)
	}
}
