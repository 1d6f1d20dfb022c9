// Package digest collects the small byte-level helpers the rest of the
// engine leans on: SHA-1 hashing (over memory and over files), big-endian
// integer packing, and hex formatting.
package digest

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// --------------------------------------------------------------------------------------------- //

const streamChunkSize = 1024

// --------------------------------------------------------------------------------------------- //

/*
Sum computes the SHA-1 hash of a contiguous byte slice.

Parameters:
  - data: The bytes to hash.

Returns:
  - [20]byte: The SHA-1 digest.
*/
func Sum(data []byte) [20]byte {
	return sha1.Sum(data)
}

// --------------------------------------------------------------------------------------------- //

/*
SumRange computes the SHA-1 hash of length bytes starting at offset within
the named file, streaming the read in 1 KiB chunks so large pieces do not
require a single big allocation beyond the piece buffer itself.

Parameters:
  - path: Path to the file to read.
  - offset: Byte offset to start reading from.
  - length: Number of bytes to hash.

Returns:
  - [20]byte: The SHA-1 digest of the requested range.
  - error: Non-nil if the file cannot be opened, seeked, or read in full.
*/
func SumRange(path string, offset int64, length int64) ([20]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [20]byte{}, fmt.Errorf("digest: opening %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return [20]byte{}, fmt.Errorf("digest: seeking %q to %d: %w", path, offset, err)
	}

	h := sha1.New()
	buf := make([]byte, streamChunkSize)
	remaining := length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(f, buf[:n])
		if err != nil {
			return [20]byte{}, fmt.Errorf("digest: reading %q at %d: %w", path, offset, err)
		}
		h.Write(buf[:read])
		remaining -= int64(read)
	}

	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// --------------------------------------------------------------------------------------------- //

/*
HexUpper formats a 20-byte digest as an uppercase hex string.

Parameters:
  - sum: The digest to format.

Returns:
  - string: The uppercase hex representation.
*/
func HexUpper(sum [20]byte) string {
	return fmt.Sprintf("%X", sum[:])
}

// --------------------------------------------------------------------------------------------- //

/*
PutUint16 / PutUint32 / PutUint64 write a big-endian integer into buf at
offset, returning an error if it would run past the end of buf.
*/
func PutUint16(buf []byte, offset int, v uint16) error {
	if offset < 0 || offset+2 > len(buf) {
		return fmt.Errorf("digest: PutUint16 offset %d out of range for buffer of length %d", offset, len(buf))
	}
	binary.BigEndian.PutUint16(buf[offset:offset+2], v)
	return nil
}

func PutUint32(buf []byte, offset int, v uint32) error {
	if offset < 0 || offset+4 > len(buf) {
		return fmt.Errorf("digest: PutUint32 offset %d out of range for buffer of length %d", offset, len(buf))
	}
	binary.BigEndian.PutUint32(buf[offset:offset+4], v)
	return nil
}

func PutUint64(buf []byte, offset int, v uint64) error {
	if offset < 0 || offset+8 > len(buf) {
		return fmt.Errorf("digest: PutUint64 offset %d out of range for buffer of length %d", offset, len(buf))
	}
	binary.BigEndian.PutUint64(buf[offset:offset+8], v)
	return nil
}

// --------------------------------------------------------------------------------------------- //

/*
Uint16 / Uint32 / Uint64 read a big-endian integer from buf at offset,
returning an error if the read would run past the end of buf.
*/
func Uint16(buf []byte, offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(buf) {
		return 0, fmt.Errorf("digest: Uint16 offset %d out of range for buffer of length %d", offset, len(buf))
	}
	return binary.BigEndian.Uint16(buf[offset : offset+2]), nil
}

func Uint32(buf []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, fmt.Errorf("digest: Uint32 offset %d out of range for buffer of length %d", offset, len(buf))
	}
	return binary.BigEndian.Uint32(buf[offset : offset+4]), nil
}

func Uint64(buf []byte, offset int) (uint64, error) {
	if offset < 0 || offset+8 > len(buf) {
		return 0, fmt.Errorf("digest: Uint64 offset %d out of range for buffer of length %d", offset, len(buf))
	}
	return binary.BigEndian.Uint64(buf[offset : offset+8]), nil
}

// --------------------------------------------------------------------------------------------- //
