package bencode

import (
	"bytes"
	"testing"
)

func TestDecodeEncodeRoundTripDict(t *testing.T) {
	input := []byte("d3:cow3:moo4:spam4:eggse")
	v, err := Decode(input)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindDict || len(v.Dict) != 2 {
		t.Fatalf("decoded %+v, want 2-entry dict", v)
	}
	cow, ok := v.Get("cow")
	if !ok {
		t.Fatal("missing key cow")
	}
	if s, _ := cow.String(); s != "moo" {
		t.Errorf("cow = %q, want moo", s)
	}
	spam, ok := v.Get("spam")
	if !ok {
		t.Fatal("missing key spam")
	}
	if s, _ := spam.String(); s != "eggs" {
		t.Errorf("spam = %q, want eggs", s)
	}

	out, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, input) {
		t.Errorf("re-encoded %q, want %q", out, input)
	}
}

func TestRoundTripAllKinds(t *testing.T) {
	v := NewDict([]DictEntry{
		{Key: "a", Value: NewInt(-42)},
		{Key: "b", Value: NewList([]*Value{NewString("x"), NewInt(7)})},
		{Key: "c", Value: NewDict([]DictEntry{{Key: "nested", Value: NewString("y")}})},
	})
	encoded, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Errorf("round trip mismatch: %q vs %q", encoded, reencoded)
	}
}

func TestDecodeInvalidInteger(t *testing.T) {
	cases := []string{
		"ie",     // no digits
		"i42",    // no terminating e
		"i-e",    // sign with no digits
		"i04e",   // leading zero
		"i-0e",   // negative zero
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); err == nil {
			t.Errorf("Decode(%q) expected error, got none", c)
		}
	}
}

func TestDecodeInvalidString(t *testing.T) {
	cases := []string{
		"5:ab",   // too short
		"x:abc",  // not a number
		"5abc",   // missing colon
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); err == nil {
			t.Errorf("Decode(%q) expected error, got none", c)
		}
	}
}

func TestDecodeStringLengthCap(t *testing.T) {
	if _, err := Decode([]byte("100000001:x")); err == nil {
		t.Error("expected error for string length exceeding cap")
	}
}

func TestDecodeRecursionDepthCap(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 250; i++ {
		buf.WriteByte('l')
	}
	for i := 0; i < 250; i++ {
		buf.WriteByte('e')
	}
	if _, err := Decode(buf.Bytes()); err == nil {
		t.Error("expected error for excessive recursion depth")
	}
}

func TestDecodeTrailingDataRejected(t *testing.T) {
	if _, err := Decode([]byte("i1ei2e")); err == nil {
		t.Error("expected error for trailing data")
	}
}

func TestDecodeUnexpectedByte(t *testing.T) {
	if _, err := Decode([]byte("q")); err == nil {
		t.Error("expected error for unexpected byte")
	}
}

type testTorrentInfo struct {
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
}

type testTorrentFile struct {
	Announce string          `bencode:"announce"`
	Info     testTorrentInfo `bencode:"info"`
}

func TestUnmarshalStructWithTags(t *testing.T) {
	encoded := "d8:announce20:http://example.com/a4:infod6:lengthi1048576e4:name8:1MiB.dat12:piece lengthi16384e6:pieces0:ee"
	var tf testTorrentFile
	if err := Unmarshal([]byte(encoded), &tf); err != nil {
		t.Fatal(err)
	}
	if tf.Announce != "http://example.com/a" {
		t.Errorf("Announce = %q", tf.Announce)
	}
	if tf.Info.Length != 1048576 || tf.Info.Name != "1MiB.dat" || tf.Info.PieceLength != 16384 {
		t.Errorf("Info = %+v", tf.Info)
	}
}

func TestMarshalStructOmitsZeroFields(t *testing.T) {
	info := testTorrentInfo{PieceLength: 16384, Name: "x", Length: 100}
	out, err := Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	v, err := Decode(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.Get("pieces"); ok {
		t.Error("expected empty pieces field to be omitted")
	}
	if ln, ok := v.Get("length"); !ok {
		t.Error("expected length field present")
	} else if n, _ := ln.Int64(); n != 100 {
		t.Errorf("length = %d, want 100", n)
	}
}

func TestUnmarshalIntoInterfaceYieldsNativeTypes(t *testing.T) {
	var out any
	if err := Unmarshal([]byte("d1:ai1e1:bl1:x1:yee"), &out); err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map[string]any", out)
	}
	if m["a"].(int64) != 1 {
		t.Errorf("a = %v", m["a"])
	}
	list, ok := m["b"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("b = %v", m["b"])
	}
}
