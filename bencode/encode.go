package bencode

import (
	"fmt"
	"strconv"
)

// --------------------------------------------------------------------------------------------- //

/*
Encode serializes a Value into its canonical bencode form: dictionary keys
are always emitted in sorted order regardless of the order they were
constructed or decoded in, which is what makes info-hash computation
reproducible.

Parameters:
  - v: The value tree to encode.

Returns:
  - []byte: The encoded bytes.
  - error: Non-nil if v (or a descendant) has an unrecognized Kind.
*/
func Encode(v *Value) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// --------------------------------------------------------------------------------------------- //

func appendValue(buf []byte, v *Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("bencode: cannot encode nil value")
	}
	switch v.Kind {
	case KindInt:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, v.Int, 10)
		buf = append(buf, 'e')
		return buf, nil

	case KindBytes:
		buf = strconv.AppendInt(buf, int64(len(v.Bytes)), 10)
		buf = append(buf, ':')
		buf = append(buf, v.Bytes...)
		return buf, nil

	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.List {
			var err error
			buf, err = appendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, 'e')
		return buf, nil

	case KindDict:
		buf = append(buf, 'd')
		for _, e := range sortedDict(v.Dict) {
			buf, _ = appendValue(buf, NewString(e.Key))
			var err error
			buf, err = appendValue(buf, e.Value)
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, 'e')
		return buf, nil

	default:
		return nil, fmt.Errorf("bencode: unknown value kind %d", v.Kind)
	}
}

// --------------------------------------------------------------------------------------------- //
