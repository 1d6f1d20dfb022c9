// Package bencode implements the bencode tagged data format used by
// .torrent files and tracker replies (BEP 3).
//
// The decoded tree is a Value: exactly one of an int64, a byte string, a
// list of Values, or an ordered dictionary of string to Value. The tree is
// owned exclusively by its caller — nodes are never shared, so no
// reference counting is needed, keeping to plain value types over shared
// ownership.
package bencode

import "fmt"

// --------------------------------------------------------------------------------------------- //

// Kind identifies which of the four bencode value types a Value holds.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// --------------------------------------------------------------------------------------------- //

/*
DictEntry is one key/value pair of a decoded dictionary. Dictionaries
preserve the order they were decoded in (dict entries arrive pre-sorted on
the wire, per the encoding contract) so re-encoding without modification
round-trips byte for byte.
*/
type DictEntry struct {
	Key   string
	Value *Value
}

// --------------------------------------------------------------------------------------------- //

/*
Value is a tagged bencode element. Exactly one of the typed fields is
meaningful, selected by Kind.
*/
type Value struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []*Value
	Dict  []DictEntry
}

// --------------------------------------------------------------------------------------------- //

/*
NewInt wraps an int64 as a bencode integer Value.
*/
func NewInt(v int64) *Value {
	return &Value{Kind: KindInt, Int: v}
}

/*
NewBytes wraps a byte slice as a bencode string Value.
*/
func NewBytes(v []byte) *Value {
	return &Value{Kind: KindBytes, Bytes: v}
}

/*
NewString wraps a Go string as a bencode string Value.
*/
func NewString(v string) *Value {
	return &Value{Kind: KindBytes, Bytes: []byte(v)}
}

/*
NewList wraps a slice of Values as a bencode list Value.
*/
func NewList(v []*Value) *Value {
	return &Value{Kind: KindList, List: v}
}

/*
NewDict builds a bencode dictionary Value from entries. Entries need not be
pre-sorted; Encode sorts keys lexicographically regardless of insertion
order, per the encoding contract.
*/
func NewDict(entries []DictEntry) *Value {
	return &Value{Kind: KindDict, Dict: entries}
}

// --------------------------------------------------------------------------------------------- //

/*
Get looks up a key in a dictionary Value.

Parameters:
  - key: The dictionary key to find.

Returns:
  - *Value: The associated value, or nil if not present or not a dict.
  - bool: True if the key was found.
*/
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.Kind != KindDict {
		return nil, false
	}
	for _, e := range v.Dict {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// --------------------------------------------------------------------------------------------- //

/*
String returns the Value's bytes as a Go string, or an error if the Value
is not a byte string.
*/
func (v *Value) String() (string, error) {
	if v == nil || v.Kind != KindBytes {
		return "", fmt.Errorf("bencode: value is not a byte string")
	}
	return string(v.Bytes), nil
}

/*
Int64 returns the Value's integer, or an error if the Value is not an
integer.
*/
func (v *Value) Int64() (int64, error) {
	if v == nil || v.Kind != KindInt {
		return 0, fmt.Errorf("bencode: value is not an integer")
	}
	return v.Int, nil
}

// --------------------------------------------------------------------------------------------- //
