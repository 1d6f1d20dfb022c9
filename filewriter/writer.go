package filewriter

import (
	"crypto/sha1"
	"fmt"
	"os"
)

// --------------------------------------------------------------------------------------------- //

// job is one unit of work processed by the single writer goroutine: either
// a piece to verify-then-persist, or a read-back request for a block that
// has already been persisted.
type job struct {
	write *writeJob
	read  *readJob
}

type writeJob struct {
	pieceID  int
	expected [20]byte
	data     []byte
	done     chan<- writeResult
}

type writeResult struct {
	ok  bool
	err error
}

type readJob struct {
	pieceID int
	offset  uint32
	length  uint32
	resp    chan<- readResult
}

type readResult struct {
	data []byte
	err  error
}

// --------------------------------------------------------------------------------------------- //

/*
Writer serializes all disk I/O for one torrent through a single worker
goroutine and a FIFO queue: concurrent pwrite calls from many peer
goroutines would otherwise interleave unpredictably across files that span
piece boundaries.
*/
type Writer struct {
	layout      *Layout
	pieceLength int64
	jobs        chan job
	closed      chan struct{}
}

// --------------------------------------------------------------------------------------------- //

/*
NewWriter starts a Writer's background worker for the given layout.

Parameters:
  - layout: The resolved file layout to read from and write to.
  - pieceLength: The torrent's nominal piece length, used to compute each
    piece's global byte offset.

Returns:
  - *Writer: A running writer; call Close when the torrent session ends.
*/
func NewWriter(layout *Layout, pieceLength int64) *Writer {
	w := &Writer{
		layout:      layout,
		pieceLength: pieceLength,
		jobs:        make(chan job, 64),
		closed:      make(chan struct{}),
	}
	go w.run()
	return w
}

// --------------------------------------------------------------------------------------------- //

func (w *Writer) run() {
	for j := range w.jobs {
		switch {
		case j.write != nil:
			ok, err := w.handleWrite(j.write)
			j.write.done <- writeResult{ok: ok, err: err}
		case j.read != nil:
			data, err := w.handleRead(j.read)
			j.read.resp <- readResult{data: data, err: err}
		}
	}
	close(w.closed)
}

// --------------------------------------------------------------------------------------------- //

/*
WritePiece queues a fully-assembled piece for verification and persistence.
It blocks until the worker has processed it (callers already run on their
own goroutine per peer, so this is not a reentrancy hazard).

Parameters:
  - pieceID: The piece's index.
  - expected: The piece's expected SHA-1 hash, from the torrent's metadata.
  - data: The piece's full contents.

Returns:
  - bool: True if the computed hash matched expected and the piece was persisted.
  - error: Non-nil on I/O failure; a hash mismatch is reported via bool=false, err=nil.
*/
func (w *Writer) WritePiece(pieceID int, expected [20]byte, data []byte) (bool, error) {
	done := make(chan writeResult, 1)
	w.jobs <- job{write: &writeJob{pieceID: pieceID, expected: expected, data: data, done: done}}
	res := <-done
	return res.ok, res.err
}

// --------------------------------------------------------------------------------------------- //

/*
ReadBlock queues a read-back request for a block of an already-persisted
piece. Suitable for direct use as a piece.ReadBack callback.
*/
func (w *Writer) ReadBlock(pieceID int, offset, length uint32) ([]byte, error) {
	resp := make(chan readResult, 1)
	w.jobs <- job{read: &readJob{pieceID: pieceID, offset: offset, length: length, resp: resp}}
	res := <-resp
	return res.data, res.err
}

// --------------------------------------------------------------------------------------------- //

/*
Close stops accepting new jobs and waits for the worker to drain its queue.
*/
func (w *Writer) Close() {
	close(w.jobs)
	<-w.closed
}

// --------------------------------------------------------------------------------------------- //

func (w *Writer) handleWrite(j *writeJob) (bool, error) {
	sum := sha1.Sum(j.data)
	if sum != j.expected {
		return false, nil
	}

	globalOffset := int64(j.pieceID) * w.pieceLength
	segments, err := w.layout.SpanAt(globalOffset, int64(len(j.data)))
	if err != nil {
		return false, fmt.Errorf("filewriter: locating piece %d: %w", j.pieceID, err)
	}

	var consumed int64
	for _, seg := range segments {
		if err := pwriteAt(seg.Path, seg.OffsetInFile, j.data[consumed:consumed+seg.Length]); err != nil {
			return false, fmt.Errorf("filewriter: writing piece %d to %q: %w", j.pieceID, seg.Path, err)
		}
		consumed += seg.Length
	}
	return true, nil
}

// --------------------------------------------------------------------------------------------- //

func (w *Writer) handleRead(j *readJob) ([]byte, error) {
	globalOffset := int64(j.pieceID)*w.pieceLength + int64(j.offset)
	segments, err := w.layout.SpanAt(globalOffset, int64(j.length))
	if err != nil {
		return nil, fmt.Errorf("filewriter: locating read-back piece %d offset %d: %w", j.pieceID, j.offset, err)
	}

	out := make([]byte, 0, j.length)
	for _, seg := range segments {
		chunk, err := preadAt(seg.Path, seg.OffsetInFile, seg.Length)
		if err != nil {
			return nil, fmt.Errorf("filewriter: reading %q: %w", seg.Path, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// --------------------------------------------------------------------------------------------- //

func pwriteAt(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(data, offset)
	return err
}

func preadAt(path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// --------------------------------------------------------------------------------------------- //
