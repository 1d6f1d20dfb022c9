package filewriter

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"
)

func TestSpanAtSingleFile(t *testing.T) {
	layout, err := NewLayout(Spec{OutputDir: t.TempDir(), Name: "x", SingleFileLength: 1000})
	if err != nil {
		t.Fatal(err)
	}
	segs, err := layout.SpanAt(500, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].OffsetInFile != 500 || segs[0].Length != 100 {
		t.Errorf("segs = %+v", segs)
	}
}

func TestSpanAtCrossesMultipleFiles(t *testing.T) {
	spec := Spec{
		OutputDir: t.TempDir(),
		Name:      "pack",
		Files: []FileSpec{
			{RelPath: []string{"a"}, Length: 50},
			{RelPath: []string{"b"}, Length: 10},
			{RelPath: []string{"c"}, Length: 50},
		},
	}
	layout, err := NewLayout(spec)
	if err != nil {
		t.Fatal(err)
	}
	// Range [40, 70) spans the tail of a, all of b, and the head of c.
	segs, err := layout.SpanAt(40, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3: %+v", len(segs), segs)
	}
	if segs[0].Length != 10 || segs[1].Length != 10 || segs[2].Length != 10 {
		t.Errorf("segment lengths = %+v", segs)
	}
	if filepath.Base(segs[1].Path) != "b" {
		t.Errorf("middle segment path = %s, want b", segs[1].Path)
	}
}

func TestSpanAtRejectsOutOfRange(t *testing.T) {
	layout, err := NewLayout(Spec{OutputDir: t.TempDir(), Name: "x", SingleFileLength: 100})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := layout.SpanAt(50, 100); err == nil {
		t.Error("expected error for range past end of layout")
	}
}

func TestEnsureFilesSingleFileCreatesTempName(t *testing.T) {
	dir := t.TempDir()
	layout, err := NewLayout(Spec{OutputDir: dir, Name: "movie.mkv", SingleFileLength: 4096})
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.EnsureFiles(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, "movie.mkv.zit_downloading"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 4096 {
		t.Errorf("temp file size = %d, want 4096", info.Size())
	}
}

func TestEnsureFilesMultiFileCreatesSentinel(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		OutputDir: dir,
		Name:      "pack",
		Files: []FileSpec{
			{RelPath: []string{"sub", "a.txt"}, Length: 10},
		},
	}
	layout, err := NewLayout(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.EnsureFiles(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pack", "sub", "a.txt")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(spec.SentinelPath()); err != nil {
		t.Errorf("expected sentinel file, got error: %v", err)
	}
}

func TestWriterRoundTripWritePieceThenReadBlock(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{OutputDir: dir, Name: "x.dat", SingleFileLength: 32}
	layout, err := NewLayout(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.EnsureFiles(); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(layout, 16)
	defer w.Close()

	piece0 := bytes.Repeat([]byte{0xAA}, 16)
	ok, err := w.WritePiece(0, sha1.Sum(piece0), piece0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hash to match")
	}

	got, err := w.ReadBlock(0, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, piece0) {
		t.Error("ReadBlock returned wrong data")
	}
}

func TestWriterRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{OutputDir: dir, Name: "x.dat", SingleFileLength: 16}
	layout, err := NewLayout(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.EnsureFiles(); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(layout, 16)
	defer w.Close()

	data := bytes.Repeat([]byte{0x11}, 16)
	var wrongHash [20]byte
	ok, err := w.WritePiece(0, wrongHash, data)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected hash mismatch to be rejected")
	}
}

func TestFinishRenamesSingleFile(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{OutputDir: dir, Name: "final.bin", SingleFileLength: 8}
	layout, err := NewLayout(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.EnsureFiles(); err != nil {
		t.Fatal(err)
	}
	if err := layout.Finish(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "final.bin")); err != nil {
		t.Errorf("expected renamed final file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "final.bin.zit_downloading")); !os.IsNotExist(err) {
		t.Error("expected temp file to be gone after Finish")
	}
}
