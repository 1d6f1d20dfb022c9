package torrent

import (
	"testing"

	"github.com/zit-go/zit/bencode"
	"github.com/zit-go/zit/digest"
)

func buildTorrentBytes(t *testing.T, infoEntries []bencode.DictEntry, extra ...bencode.DictEntry) []byte {
	t.Helper()
	entries := append([]bencode.DictEntry{
		{Key: "announce", Value: bencode.NewString("http://example.com/announce")},
		{Key: "info", Value: bencode.NewDict(infoEntries)},
	}, extra...)
	out, err := bencode.Encode(bencode.NewDict(entries))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func singleFileInfo(pieces string) []bencode.DictEntry {
	return []bencode.DictEntry{
		{Key: "length", Value: bencode.NewInt(1048576)},
		{Key: "name", Value: bencode.NewString("1MiB.dat")},
		{Key: "piece length", Value: bencode.NewInt(16384)},
		{Key: "pieces", Value: bencode.NewString(pieces)},
	}
}

func TestParseMetadataComputesInfoHashFromCanonicalReencoding(t *testing.T) {
	pieces := make([]byte, 20*64)
	data := buildTorrentBytes(t, singleFileInfo(string(pieces)))

	m, err := ParseMetadataBytes(data)
	if err != nil {
		t.Fatal(err)
	}

	infoVal := bencode.NewDict(singleFileInfo(string(pieces)))
	infoBytes, err := bencode.Encode(infoVal)
	if err != nil {
		t.Fatal(err)
	}
	want := digest.Sum(infoBytes)

	if m.InfoHash != want {
		t.Errorf("InfoHash = %x, want %x", m.InfoHash, want)
	}
	if m.NumPieces() != 64 {
		t.Errorf("NumPieces = %d, want 64", m.NumPieces())
	}
	if !m.IsSingleFile() {
		t.Error("expected single-file mode")
	}
	if m.TotalLength() != 1048576 {
		t.Errorf("TotalLength = %d, want 1048576", m.TotalLength())
	}
}

func TestParseMetadataRejectsDualMode(t *testing.T) {
	info := singleFileInfo(string(make([]byte, 20)))
	info = append(info, bencode.DictEntry{
		Key: "files",
		Value: bencode.NewList([]*bencode.Value{
			bencode.NewDict([]bencode.DictEntry{
				{Key: "length", Value: bencode.NewInt(10)},
				{Key: "path", Value: bencode.NewList([]*bencode.Value{bencode.NewString("a")})},
			}),
		}),
	})
	data := buildTorrentBytes(t, info)
	if _, err := ParseMetadataBytes(data); err == nil {
		t.Error("expected error for dual-mode torrent")
	}
}

func TestParseMetadataRejectsBadPiecesLength(t *testing.T) {
	info := []bencode.DictEntry{
		{Key: "length", Value: bencode.NewInt(10)},
		{Key: "name", Value: bencode.NewString("x")},
		{Key: "piece length", Value: bencode.NewInt(16384)},
		{Key: "pieces", Value: bencode.NewString("short")},
	}
	data := buildTorrentBytes(t, info)
	if _, err := ParseMetadataBytes(data); err == nil {
		t.Error("expected error for pieces length not a multiple of 20")
	}
}

func TestParseMetadataMultiFile(t *testing.T) {
	info := []bencode.DictEntry{
		{Key: "name", Value: bencode.NewString("pack")},
		{Key: "piece length", Value: bencode.NewInt(16384)},
		{Key: "pieces", Value: bencode.NewString(string(make([]byte, 40)))},
		{Key: "files", Value: bencode.NewList([]*bencode.Value{
			bencode.NewDict([]bencode.DictEntry{
				{Key: "length", Value: bencode.NewInt(100)},
				{Key: "path", Value: bencode.NewList([]*bencode.Value{bencode.NewString("a.txt")})},
			}),
			bencode.NewDict([]bencode.DictEntry{
				{Key: "length", Value: bencode.NewInt(200)},
				{Key: "path", Value: bencode.NewList([]*bencode.Value{bencode.NewString("sub"), bencode.NewString("b.txt")})},
			}),
		})},
	}
	data := buildTorrentBytes(t, info)
	m, err := ParseMetadataBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsSingleFile() {
		t.Fatal("expected multi-file mode")
	}
	if m.TotalLength() != 300 {
		t.Errorf("TotalLength = %d, want 300", m.TotalLength())
	}
	if len(m.Files) != 2 || m.Files[1].Path[0] != "sub" {
		t.Errorf("Files = %+v", m.Files)
	}
}

func TestPieceSizeBoundaries(t *testing.T) {
	t.Run("exact multiple, no short last piece", func(t *testing.T) {
		m := &Metadata{PieceLength: 100, Length: 200, PieceHashes: make([][20]byte, 2)}
		if got := m.PieceSize(1); got != 100 {
			t.Errorf("PieceSize(last) = %d, want 100", got)
		}
	})
	t.Run("single short piece smaller than piece length", func(t *testing.T) {
		m := &Metadata{PieceLength: 100, Length: 30, PieceHashes: make([][20]byte, 1)}
		if got := m.PieceSize(0); got != 30 {
			t.Errorf("PieceSize(only) = %d, want 30", got)
		}
	})
	t.Run("multi-piece with short remainder", func(t *testing.T) {
		m := &Metadata{PieceLength: 100, Length: 250, PieceHashes: make([][20]byte, 3)}
		if got := m.PieceSize(0); got != 100 {
			t.Errorf("PieceSize(0) = %d, want 100", got)
		}
		if got := m.PieceSize(2); got != 50 {
			t.Errorf("PieceSize(last) = %d, want 50", got)
		}
	})
}
