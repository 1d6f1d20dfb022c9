// Package piece implements per-piece block bookkeeping: which blocks have
// been requested, which have been received, the in-memory buffer holding
// not-yet-persisted data, and the inactivity-based retry predicate.
//
// Uses a two-bitfield (requested, done) scheme, a 30-second inactivity
// threshold, and a retry policy that clears the whole requested bitfield
// rather than retrying individual blocks.
package piece

import (
	"fmt"
	"sync"
	"time"

	"github.com/zit-go/zit/bitfield"
	"github.com/zit-go/zit/netrt"
)

// --------------------------------------------------------------------------------------------- //

// BlockSize is the fixed request granularity, 16 KiB, per BEP 3 convention.
const BlockSize = 16 * 1024

// RetryInactivity is how long a piece may go without request/block
// activity before its requested blocks are cleared for re-request.
const RetryInactivity = 30 * time.Second

// --------------------------------------------------------------------------------------------- //

/*
ReadBack is invoked by GetBlock to fetch a block that is no longer held in
memory (the piece has been written to disk already). A Piece does not know
about files directly; the torrent session supplies this callback backed by
the file writer's read path.
*/
type ReadBack func(pieceID int, offset, length uint32) ([]byte, error)

// --------------------------------------------------------------------------------------------- //

/*
Piece tracks the block-level state of a single piece while it is active —
either being downloaded or already verified and written to disk.
*/
type Piece struct {
	mu sync.Mutex

	id        int
	size      uint32
	blockSize uint32
	requested bitfield.Bitfield
	received  bitfield.Bitfield
	data      []byte
	written   bool

	lastRequest time.Time
	lastBlock   time.Time

	clock netrt.Clock
}

// --------------------------------------------------------------------------------------------- //

/*
New creates a Piece of the given size (bytes) and id, ready to track
downloads in 16 KiB blocks.

Parameters:
  - id: The piece's index within the torrent.
  - size: The piece's size in bytes (the last piece may be shorter than P).
  - clock: Time source for inactivity tracking; pass netrt.Default().Clock in production.

Returns:
  - *Piece: A newly allocated piece with an empty data buffer.
*/
func New(id int, size uint32, clock netrt.Clock) *Piece {
	blocks := blockCount(size)
	return &Piece{
		id:        id,
		size:      size,
		blockSize: BlockSize,
		requested: bitfield.New(blocks),
		received:  bitfield.New(blocks),
		data:      make([]byte, size),
		clock:     clock,
	}
}

func blockCount(size uint32) int {
	return int((size + BlockSize - 1) / BlockSize)
}

// --------------------------------------------------------------------------------------------- //

/*
ID returns the piece's index.
*/
func (p *Piece) ID() int { return p.id }

/*
Size returns the piece's size in bytes.
*/
func (p *Piece) Size() uint32 { return p.size }

/*
Written reports whether the piece has been verified and persisted.
*/
func (p *Piece) Written() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// --------------------------------------------------------------------------------------------- //

/*
BlockLength returns the length of the block at the given offset: BlockSize
for every block except the final block of the piece, which is size mod
BlockSize (or BlockSize if that is zero).

Parameters:
  - offset: Byte offset of the block within the piece.

Returns:
  - uint32: The block's length in bytes.
*/
func (p *Piece) BlockLength(offset uint32) uint32 {
	remaining := p.size - offset
	if remaining < p.blockSize {
		return remaining
	}
	return p.blockSize
}

// --------------------------------------------------------------------------------------------- //

/*
NextOffset returns the byte offset of the first block that is neither
requested nor received. If mark is true, the block is also marked
requested and last-request time is updated.

Parameters:
  - mark: Whether to mark the returned block requested as a side effect.

Returns:
  - uint32: The byte offset of the next eligible block.
  - bool: False if every block is already requested or received.
*/
func (p *Piece) NextOffset(mark bool) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	blocks := blockCount(p.size)
	for i := 0; i < blocks; i++ {
		if p.requested.Get(i) || p.received.Get(i) {
			continue
		}
		if mark {
			p.requested.Set(i, true)
			p.lastRequest = p.clock.Now()
		}
		return uint32(i) * p.blockSize, true
	}
	return 0, false
}

// --------------------------------------------------------------------------------------------- //

/*
SetBlock stores the bytes of one received block. Re-delivery of an
already-received block is a no-op (idempotent).

Parameters:
  - offset: Byte offset of the block within the piece; must be block-aligned.
  - data: The block's bytes; must fit within the piece at offset.

Returns:
  - bool: True if every block of the piece has now been received.
  - error: Non-nil if offset/data violate block alignment or piece bounds.
*/
func (p *Piece) SetBlock(offset uint32, data []byte) (bool, error) {
	if offset%p.blockSize != 0 {
		return false, fmt.Errorf("piece %d: block offset %d is not a multiple of %d", p.id, offset, p.blockSize)
	}
	if uint32(len(data)) > p.blockSize {
		return false, fmt.Errorf("piece %d: block of %d bytes exceeds block size %d", p.id, len(data), p.blockSize)
	}
	if offset+uint32(len(data)) > p.size {
		return false, fmt.Errorf("piece %d: block at offset %d length %d overflows piece size %d", p.id, offset, len(data), p.size)
	}

	blockID := int(offset / p.blockSize)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.received.Get(blockID) {
		// Idempotent re-delivery: warn-worthy at the caller, no-op here.
		return p.allReceivedLocked(), nil
	}

	copy(p.data[offset:], data)
	p.received.Set(blockID, true)
	p.lastBlock = p.clock.Now()

	return p.allReceivedLocked(), nil
}

func (p *Piece) allReceivedLocked() bool {
	blocks := blockCount(p.size)
	next, ok := p.received.Next(false, 0)
	return !ok || next >= blocks
}

// --------------------------------------------------------------------------------------------- //

/*
GetBlock returns the bytes of an already-received block, either from the
in-memory buffer (piece not yet written) or via readBack (piece already
persisted to disk).

Parameters:
  - offset: Byte offset of the block within the piece; must be block-aligned.
  - length: Requested length; BlockLength(offset) is used if length is 0.
  - readBack: Disk read path, consulted only once the piece has been written.

Returns:
  - []byte: The block's bytes.
  - error: Non-nil if offset is invalid or the block has not been received yet.
*/
func (p *Piece) GetBlock(offset, length uint32, readBack ReadBack) ([]byte, error) {
	if offset%p.blockSize != 0 {
		return nil, fmt.Errorf("piece %d: block offset %d is not a multiple of %d", p.id, offset, p.blockSize)
	}
	if offset >= p.size {
		return nil, fmt.Errorf("piece %d: block offset %d is past piece size %d", p.id, offset, p.size)
	}

	blockID := int(offset / p.blockSize)

	p.mu.Lock()
	if !p.received.Get(blockID) {
		p.mu.Unlock()
		return nil, fmt.Errorf("piece %d: block %d not yet received", p.id, blockID)
	}
	if length == 0 {
		length = p.BlockLength(offset)
	}
	written := p.written
	var fromMemory []byte
	if !written {
		fromMemory = make([]byte, length)
		copy(fromMemory, p.data[offset:offset+length])
	}
	p.mu.Unlock()

	if !written {
		return fromMemory, nil
	}
	return readBack(p.id, offset, length)
}

// --------------------------------------------------------------------------------------------- //

/*
SetWritten marks the piece as verified and persisted: every received bit is
set true and the in-memory buffer is released, matching the invariant that
a written piece keeps no bytes in memory.
*/
func (p *Piece) SetWritten() {
	p.mu.Lock()
	defer p.mu.Unlock()

	blocks := blockCount(p.size)
	p.received = bitfield.New(blocks)
	for i := 0; i < blocks; i++ {
		p.received.Set(i, true)
	}
	p.data = nil
	p.written = true
}

// --------------------------------------------------------------------------------------------- //

/*
RetryBlocks clears the requested bitfield if the piece has been inactive
(no request or block activity) for more than RetryInactivity, forcing every
not-yet-received block to be re-requested.

Returns:
  - int: The number of blocks that were requested-but-not-received and are
    now eligible for re-request; 0 if the piece is written, has seen no
    activity yet, or is not yet inactive.
*/
func (p *Piece) RetryBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.written {
		return 0
	}
	lastActivity := p.lastRequest
	if p.lastBlock.After(lastActivity) {
		lastActivity = p.lastBlock
	}
	if lastActivity.IsZero() {
		return 0
	}

	inactive := p.clock.Now().Sub(lastActivity)
	if inactive <= RetryInactivity {
		return 0
	}
	if _, hasRequested := p.requested.Next(true, 0); !hasRequested {
		return 0
	}

	outstanding := p.requested.Difference(p.received).Count()

	blocks := blockCount(p.size)
	p.requested = bitfield.New(blocks)

	return outstanding
}

// --------------------------------------------------------------------------------------------- //
