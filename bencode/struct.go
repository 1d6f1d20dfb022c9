package bencode

import (
	"fmt"
	"reflect"
	"strings"
)

// --------------------------------------------------------------------------------------------- //

// Struct tag support mirrors the common jackpal/bencode-go convention
// (`bencode:"piece length"`, `bencode:"-"` to skip a field), so metadata
// structs carry over unchanged.

// --------------------------------------------------------------------------------------------- //

/*
Unmarshal decodes bencoded data into the Go value pointed to by out. out
must be a non-nil pointer. Supported destinations: structs (matched by
`bencode:"name"` tag, falling back to the field name), strings, []byte,
signed integers, slices, maps with string keys, and interface{} (which
receives one of int64, string, []interface{}, or map[string]interface{}).

Parameters:
  - data: The bencoded bytes to decode.
  - out: A pointer to the destination value.

Returns:
  - error: Non-nil if data is malformed or does not fit the destination shape.
*/
func Unmarshal(data []byte, out any) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	return UnmarshalValue(v, out)
}

// --------------------------------------------------------------------------------------------- //

/*
UnmarshalValue assigns an already-decoded Value tree into out, using the
same shape rules as Unmarshal.
*/
func UnmarshalValue(v *Value, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bencode: Unmarshal target must be a non-nil pointer")
	}
	return assign(v, rv.Elem())
}

// --------------------------------------------------------------------------------------------- //

func assign(v *Value, dst reflect.Value) error {
	if v == nil {
		return nil
	}

	if dst.Kind() == reflect.Interface && dst.NumMethod() == 0 {
		native, err := toNative(v)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(native))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, err := v.String()
		if err != nil {
			return err
		}
		dst.SetString(s)
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			s, err := v.String()
			if err != nil {
				return err
			}
			dst.SetBytes([]byte(s))
			return nil
		}
		if v.Kind != KindList {
			return fmt.Errorf("bencode: expected list for slice field, got kind %d", v.Kind)
		}
		out := reflect.MakeSlice(dst.Type(), len(v.List), len(v.List))
		for i, item := range v.List {
			if err := assign(item, out.Index(i)); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := v.Int64()
		if err != nil {
			return err
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := v.Int64()
		if err != nil {
			return err
		}
		dst.SetUint(uint64(n))
		return nil

	case reflect.Map:
		if v.Kind != KindDict {
			return fmt.Errorf("bencode: expected dict for map field, got kind %d", v.Kind)
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(v.Dict))
		for _, e := range v.Dict {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := assign(e.Value, elem); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(e.Key), elem)
		}
		dst.Set(out)
		return nil

	case reflect.Struct:
		if v.Kind != KindDict {
			return fmt.Errorf("bencode: expected dict for struct field, got kind %d", v.Kind)
		}
		return assignStruct(v, dst)

	case reflect.Ptr:
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return assign(v, dst.Elem())

	default:
		return fmt.Errorf("bencode: unsupported destination kind %s", dst.Kind())
	}
}

// --------------------------------------------------------------------------------------------- //

func assignStruct(v *Value, dst reflect.Value) error {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		tag := field.Tag.Get("bencode")
		name := field.Name
		if tag != "" {
			if tag == "-" {
				continue
			}
			name = strings.Split(tag, ",")[0]
		}
		elem, ok := v.Get(name)
		if !ok {
			continue
		}
		if err := assign(elem, dst.Field(i)); err != nil {
			return fmt.Errorf("bencode: field %q: %w", field.Name, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //

func toNative(v *Value) (any, error) {
	switch v.Kind {
	case KindInt:
		return v.Int, nil
	case KindBytes:
		return string(v.Bytes), nil
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			n, err := toNative(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case KindDict:
		out := make(map[string]any, len(v.Dict))
		for _, e := range v.Dict {
			n, err := toNative(e.Value)
			if err != nil {
				return nil, err
			}
			out[e.Key] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("bencode: unknown value kind %d", v.Kind)
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Marshal encodes a Go value into its canonical bencode form. Supported
sources mirror Unmarshal's destinations.

Parameters:
  - in: The Go value to encode.

Returns:
  - []byte: The canonical bencode bytes.
  - error: Non-nil if in has an unsupported shape.
*/
func Marshal(in any) ([]byte, error) {
	v, err := toValue(reflect.ValueOf(in))
	if err != nil {
		return nil, err
	}
	return Encode(v)
}

// --------------------------------------------------------------------------------------------- //

func toValue(rv reflect.Value) (*Value, error) {
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return NewBytes(nil), nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return NewString(rv.String()), nil

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return NewBytes(b), nil
		}
		items := make([]*Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := toValue(rv.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return NewList(items), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NewInt(rv.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewInt(int64(rv.Uint())), nil

	case reflect.Map:
		entries := make([]DictEntry, 0, rv.Len())
		for _, key := range rv.MapKeys() {
			val, err := toValue(rv.MapIndex(key))
			if err != nil {
				return nil, err
			}
			entries = append(entries, DictEntry{Key: fmt.Sprint(key.Interface()), Value: val})
		}
		return NewDict(entries), nil

	case reflect.Struct:
		return structToValue(rv)

	default:
		return nil, fmt.Errorf("bencode: unsupported source kind %s", rv.Kind())
	}
}

// --------------------------------------------------------------------------------------------- //

func structToValue(rv reflect.Value) (*Value, error) {
	t := rv.Type()
	var entries []DictEntry
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		tag := field.Tag.Get("bencode")
		if tag == "-" {
			continue
		}
		name := field.Name
		if tag != "" {
			name = strings.Split(tag, ",")[0]
		}
		fv := rv.Field(i)
		if isEmptyValue(fv) {
			continue
		}
		val, err := toValue(fv)
		if err != nil {
			return nil, fmt.Errorf("bencode: field %q: %w", field.Name, err)
		}
		entries = append(entries, DictEntry{Key: name, Value: val})
	}
	return NewDict(entries), nil
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.Len() == 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// --------------------------------------------------------------------------------------------- //
