// Package filewriter implements the disk layer: mapping a torrent's
// contiguous piece stream across a single file or a multi-file tree,
// verifying pieces before they are persisted, and serving read-back
// requests for blocks that are no longer held in memory.
//
// Single-file and multi-file torrents are both supported, with a
// ".zit_downloading" temp-file suffix while a single-file transfer is
// still in progress.
package filewriter

import (
	"fmt"
	"os"
	"path/filepath"
)

// --------------------------------------------------------------------------------------------- //

// DownloadingSuffix is appended to the final name while a torrent's
// content is still being assembled.
const DownloadingSuffix = ".zit_downloading"

// --------------------------------------------------------------------------------------------- //

/*
FileSpec describes one destination file: its final path (relative to the
output directory) and its length in bytes.
*/
type FileSpec struct {
	RelPath []string
	Length  int64
}

// --------------------------------------------------------------------------------------------- //

/*
Spec is the minimal description of a torrent's on-disk shape that the file
writer needs: independent of the torrent package's Metadata type so the two
packages do not import each other.
*/
type Spec struct {
	OutputDir   string
	Name        string
	PieceLength int64
	NumPieces   int
	// SingleFileLength > 0 selects single-file mode; Files non-empty
	// selects multi-file mode. Exactly one should be set.
	SingleFileLength int64
	Files            []FileSpec
}

// --------------------------------------------------------------------------------------------- //

/*
IsSingleFile reports whether Spec describes a single-file torrent.
*/
func (s Spec) IsSingleFile() bool {
	return len(s.Files) == 0
}

// --------------------------------------------------------------------------------------------- //

/*
resolvedFile is one destination file with its absolute path and global byte
range within the torrent's content stream.
*/
type resolvedFile struct {
	path          string
	globalOffset  int64
	length        int64
}

// --------------------------------------------------------------------------------------------- //

/*
Layout resolves a Spec into absolute file paths and offsets, and answers
the "which file(s) does this byte range touch" question the file writer
and block-serving path both need.
*/
type Layout struct {
	spec  Spec
	files []resolvedFile
}

// --------------------------------------------------------------------------------------------- //

/*
FinalName returns the path a single-file torrent's content has once
complete (before completion, the same content lives at TempName()).
*/
func (s Spec) FinalName() string {
	return filepath.Join(s.OutputDir, s.Name)
}

/*
TempName returns the single-file torrent's in-progress path.
*/
func (s Spec) TempName() string {
	return s.FinalName() + DownloadingSuffix
}

/*
RootDir returns the directory a multi-file torrent's files live under.
*/
func (s Spec) RootDir() string {
	return filepath.Join(s.OutputDir, s.Name)
}

/*
SentinelPath returns the 1-byte marker file that exists alongside a
multi-file torrent's directory while it is incomplete.
*/
func (s Spec) SentinelPath() string {
	return s.RootDir() + DownloadingSuffix
}

// --------------------------------------------------------------------------------------------- //

/*
NewLayout resolves a Spec's files into absolute paths and byte ranges.

Parameters:
  - spec: The torrent's file shape.

Returns:
  - *Layout: The resolved layout.
  - error: Non-nil if spec is internally inconsistent (no files and no single-file length).
*/
func NewLayout(spec Spec) (*Layout, error) {
	l := &Layout{spec: spec}

	if spec.IsSingleFile() {
		if spec.SingleFileLength <= 0 {
			return nil, fmt.Errorf("filewriter: single-file spec has non-positive length %d", spec.SingleFileLength)
		}
		l.files = []resolvedFile{{
			path:         spec.TempName(),
			globalOffset: 0,
			length:       spec.SingleFileLength,
		}}
		return l, nil
	}

	var offset int64
	root := spec.RootDir()
	for _, f := range spec.Files {
		segments := append([]string{root}, f.RelPath...)
		l.files = append(l.files, resolvedFile{
			path:         filepath.Join(segments...),
			globalOffset: offset,
			length:       f.Length,
		})
		offset += f.Length
	}
	return l, nil
}

// --------------------------------------------------------------------------------------------- //

/*
TotalLength returns the sum of all resolved files' lengths.
*/
func (l *Layout) TotalLength() int64 {
	var total int64
	for _, f := range l.files {
		total += f.length
	}
	return total
}

// --------------------------------------------------------------------------------------------- //

// Segment is one (file, offset-within-file, length) span produced by
// SpanAt when a global byte range crosses file boundaries.
type Segment struct {
	Path         string
	OffsetInFile int64
	Length       int64
}

// --------------------------------------------------------------------------------------------- //

/*
SpanAt returns the ordered list of file segments that together cover
[offset, offset+length) of the torrent's global content stream. A piece (or
block) spanning three files, with a short middle file, yields three
segments.

Parameters:
  - offset: Global byte offset within the torrent's content.
  - length: Number of bytes to cover.

Returns:
  - []Segment: Segments in ascending offset order.
  - error: Non-nil if [offset, offset+length) runs past the end of the layout.
*/
func (l *Layout) SpanAt(offset, length int64) ([]Segment, error) {
	if length < 0 || offset < 0 {
		return nil, fmt.Errorf("filewriter: negative offset/length (%d, %d)", offset, length)
	}
	end := offset + length
	if end > l.TotalLength() {
		return nil, fmt.Errorf("filewriter: range [%d, %d) exceeds total length %d", offset, end, l.TotalLength())
	}

	var segments []Segment
	remaining := length
	pos := offset

	for _, f := range l.files {
		fileEnd := f.globalOffset + f.length
		if pos >= fileEnd {
			continue
		}
		if remaining <= 0 {
			break
		}
		inFileOffset := pos - f.globalOffset
		available := f.length - inFileOffset
		take := remaining
		if take > available {
			take = available
		}
		if take <= 0 {
			continue
		}
		segments = append(segments, Segment{
			Path:         f.path,
			OffsetInFile: inFileOffset,
			Length:       take,
		})
		pos += take
		remaining -= take
	}

	if remaining > 0 {
		return nil, fmt.Errorf("filewriter: range [%d, %d) not fully covered by layout", offset, end)
	}
	return segments, nil
}

// --------------------------------------------------------------------------------------------- //

/*
EnsureFiles creates every destination file (and parent directories) at its
declared size, zero-filled, if it does not already exist. In single-file
mode the temp name is created; in multi-file mode the directory tree plus
a 1-byte sentinel file is created.

Returns:
  - error: Non-nil if any file could not be created or sized.
*/
func (l *Layout) EnsureFiles() error {
	if l.spec.IsSingleFile() {
		return ensureZeroFilled(l.spec.TempName(), l.spec.SingleFileLength)
	}

	for _, f := range l.files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("filewriter: creating directory for %q: %w", f.path, err)
		}
		if err := ensureZeroFilled(f.path, f.length); err != nil {
			return err
		}
	}

	if _, err := os.Stat(l.spec.SentinelPath()); os.IsNotExist(err) {
		if err := os.WriteFile(l.spec.SentinelPath(), []byte{0}, 0o644); err != nil {
			return fmt.Errorf("filewriter: creating sentinel %q: %w", l.spec.SentinelPath(), err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //

func ensureZeroFilled(path string, length int64) error {
	if info, err := os.Stat(path); err == nil {
		if info.Size() == length {
			return nil
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("filewriter: creating %q: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(length); err != nil {
		return fmt.Errorf("filewriter: sizing %q to %d: %w", path, length, err)
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //

/*
Finish performs the completion rename/cleanup: single-file renames the temp
path to the final name; multi-file removes the sentinel.

Returns:
  - error: Non-nil if the rename or removal fails.
*/
func (l *Layout) Finish() error {
	if l.spec.IsSingleFile() {
		if err := os.Rename(l.spec.TempName(), l.spec.FinalName()); err != nil {
			return fmt.Errorf("filewriter: renaming %q to %q: %w", l.spec.TempName(), l.spec.FinalName(), err)
		}
		return nil
	}
	if err := os.Remove(l.spec.SentinelPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filewriter: removing sentinel %q: %w", l.spec.SentinelPath(), err)
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //
