// Package torrent implements the torrent session state machine: metadata
// parsing and info-hash computation, on-disk verification, peer bootstrap
// and the run loop, and the piece/peer bookkeeping that ties the rest of
// the engine together.
package torrent

import (
	"fmt"
	"os"

	"github.com/zit-go/zit/bencode"
	"github.com/zit-go/zit/digest"
)

// --------------------------------------------------------------------------------------------- //

/*
FileEntry describes one file of a multi-file torrent.

Fields:
  - Length: The file's size in bytes.
  - Path: Path segments relative to the torrent's directory.
  - MD5Sum: Optional MD5 checksum, carried through but not verified.
*/
type FileEntry struct {
	Length int64
	Path   []string
	MD5Sum string
}

// --------------------------------------------------------------------------------------------- //

/*
Metadata is the immutable, parsed content of a .torrent file: everything
needed to compute the info hash, enumerate pieces, and lay out files on
disk.
*/
type Metadata struct {
	Announce     string
	AnnounceList [][]string

	CreationDate int64
	Comment      string
	CreatedBy    string
	Encoding     string

	Name        string
	PieceLength int64
	PieceHashes [][20]byte

	// Single-file mode: Length > 0, Files is empty.
	Length int64
	// Multi-file mode: Files is non-empty, Length is 0.
	Files []FileEntry

	Private bool

	InfoHash [20]byte
}

// --------------------------------------------------------------------------------------------- //

/*
IsSingleFile reports whether the torrent describes exactly one file.
*/
func (m *Metadata) IsSingleFile() bool {
	return len(m.Files) == 0
}

// --------------------------------------------------------------------------------------------- //

/*
TotalLength returns the sum of all file lengths: Length in single-file
mode, or the sum of Files' lengths in multi-file mode.
*/
func (m *Metadata) TotalLength() int64 {
	if m.IsSingleFile() {
		return m.Length
	}
	var total int64
	for _, f := range m.Files {
		total += f.Length
	}
	return total
}

// --------------------------------------------------------------------------------------------- //

/*
NumPieces returns the number of pieces described by PieceHashes.
*/
func (m *Metadata) NumPieces() int {
	return len(m.PieceHashes)
}

// --------------------------------------------------------------------------------------------- //

/*
PieceSize returns the size in bytes of piece id: PieceLength for every
piece except the last, which may be shorter.

Parameters:
  - id: The piece index.

Returns:
  - int64: The piece's size in bytes.
*/
func (m *Metadata) PieceSize(id int) int64 {
	if id == m.NumPieces()-1 {
		mod := m.TotalLength() % m.PieceLength
		if mod != 0 {
			return mod
		}
	}
	return m.PieceLength
}

// --------------------------------------------------------------------------------------------- //

/*
ParseMetadata reads and decodes a .torrent file at path, validating the
required fields and computing the info hash from the canonical re-encoding
of the info sub-dictionary (the observable contract: the hash must match
what a conforming client computes, independent of how the surrounding
dictionary happened to be laid out on the wire).

Parameters:
  - path: Filesystem path to the .torrent file.

Returns:
  - *Metadata: The parsed torrent metadata.
  - error: Non-nil if the file cannot be read, is not valid bencode, or is
    missing/misshapen required fields (dual-mode length+files, a pieces
    string whose length is not a multiple of 20, etc).
*/
func ParseMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("torrent: reading %q: %w", path, err)
	}
	return ParseMetadataBytes(data)
}

// --------------------------------------------------------------------------------------------- //

/*
ParseMetadataBytes is ParseMetadata over already-read bytes, split out so
tests can exercise parsing without touching a filesystem.
*/
func ParseMetadataBytes(data []byte) (*Metadata, error) {
	root, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("torrent: decoding bencode: %w", err)
	}
	if root.Kind != bencode.KindDict {
		return nil, fmt.Errorf("torrent: root element is not a dictionary")
	}

	announceVal, ok := root.Get("announce")
	if !ok {
		return nil, fmt.Errorf("torrent: missing required key %q", "announce")
	}
	announce, err := announceVal.String()
	if err != nil {
		return nil, fmt.Errorf("torrent: %q: %w", "announce", err)
	}

	infoVal, ok := root.Get("info")
	if !ok {
		return nil, fmt.Errorf("torrent: missing required key %q", "info")
	}
	if infoVal.Kind != bencode.KindDict {
		return nil, fmt.Errorf("torrent: %q is not a dictionary", "info")
	}

	m := &Metadata{Announce: announce}

	if v, ok := root.Get("creation date"); ok {
		m.CreationDate, _ = v.Int64()
	}
	if v, ok := root.Get("comment"); ok {
		m.Comment, _ = v.String()
	}
	if v, ok := root.Get("created by"); ok {
		m.CreatedBy, _ = v.String()
	}
	if v, ok := root.Get("encoding"); ok {
		m.Encoding, _ = v.String()
	}
	if v, ok := root.Get("announce-list"); ok && v.Kind == bencode.KindList {
		for _, tierVal := range v.List {
			if tierVal.Kind != bencode.KindList {
				continue
			}
			var tier []string
			for _, urlVal := range tierVal.List {
				if s, err := urlVal.String(); err == nil {
					tier = append(tier, s)
				}
			}
			m.AnnounceList = append(m.AnnounceList, tier)
		}
	}

	if err := parseInfo(infoVal, m); err != nil {
		return nil, err
	}

	infoBytes, err := bencode.Encode(infoVal)
	if err != nil {
		return nil, fmt.Errorf("torrent: re-encoding info dict: %w", err)
	}
	m.InfoHash = digest.Sum(infoBytes)

	return m, nil
}

// --------------------------------------------------------------------------------------------- //

func parseInfo(info *bencode.Value, m *Metadata) error {
	nameVal, ok := info.Get("name")
	if !ok {
		return fmt.Errorf("torrent: info missing required key %q", "name")
	}
	name, err := nameVal.String()
	if err != nil {
		return fmt.Errorf("torrent: info.name: %w", err)
	}
	m.Name = name

	plVal, ok := info.Get("piece length")
	if !ok {
		return fmt.Errorf("torrent: info missing required key %q", "piece length")
	}
	pieceLength, err := plVal.Int64()
	if err != nil {
		return fmt.Errorf("torrent: info.piece length: %w", err)
	}
	if pieceLength <= 0 {
		return fmt.Errorf("torrent: info.piece length must be positive, got %d", pieceLength)
	}
	m.PieceLength = pieceLength

	piecesVal, ok := info.Get("pieces")
	if !ok {
		return fmt.Errorf("torrent: info missing required key %q", "pieces")
	}
	piecesStr, err := piecesVal.String()
	if err != nil {
		return fmt.Errorf("torrent: info.pieces: %w", err)
	}
	if len(piecesStr)%20 != 0 {
		return fmt.Errorf("torrent: info.pieces length %d is not a multiple of 20", len(piecesStr))
	}
	piecesBytes := []byte(piecesStr)
	for i := 0; i < len(piecesBytes); i += 20 {
		var h [20]byte
		copy(h[:], piecesBytes[i:i+20])
		m.PieceHashes = append(m.PieceHashes, h)
	}

	lengthVal, hasLength := info.Get("length")
	filesVal, hasFiles := info.Get("files")

	if hasLength && hasFiles {
		return fmt.Errorf("torrent: info declares both %q and %q (dual mode)", "length", "files")
	}
	if !hasLength && !hasFiles {
		return fmt.Errorf("torrent: info declares neither %q nor %q", "length", "files")
	}

	if hasLength {
		length, err := lengthVal.Int64()
		if err != nil {
			return fmt.Errorf("torrent: info.length: %w", err)
		}
		m.Length = length
	} else {
		if filesVal.Kind != bencode.KindList {
			return fmt.Errorf("torrent: info.files is not a list")
		}
		for _, fileVal := range filesVal.List {
			entry, err := parseFileEntry(fileVal)
			if err != nil {
				return err
			}
			m.Files = append(m.Files, entry)
		}
	}

	if v, ok := info.Get("private"); ok {
		if n, err := v.Int64(); err == nil {
			m.Private = n == 1
		}
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //

func parseFileEntry(v *bencode.Value) (FileEntry, error) {
	if v.Kind != bencode.KindDict {
		return FileEntry{}, fmt.Errorf("torrent: files entry is not a dictionary")
	}
	lengthVal, ok := v.Get("length")
	if !ok {
		return FileEntry{}, fmt.Errorf("torrent: files entry missing %q", "length")
	}
	length, err := lengthVal.Int64()
	if err != nil {
		return FileEntry{}, fmt.Errorf("torrent: files entry length: %w", err)
	}

	pathVal, ok := v.Get("path")
	if !ok || pathVal.Kind != bencode.KindList {
		return FileEntry{}, fmt.Errorf("torrent: files entry missing %q list", "path")
	}
	var segments []string
	for _, seg := range pathVal.List {
		s, err := seg.String()
		if err != nil {
			return FileEntry{}, fmt.Errorf("torrent: files entry path segment: %w", err)
		}
		segments = append(segments, s)
	}

	entry := FileEntry{Length: length, Path: segments}
	if md5Val, ok := v.Get("md5sum"); ok {
		entry.MD5Sum, _ = md5Val.String()
	}
	return entry, nil
}

// --------------------------------------------------------------------------------------------- //
