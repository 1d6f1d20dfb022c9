package peer

import (
	"github.com/zit-go/zit/bitfield"
	"github.com/zit-go/zit/piece"
	"github.com/zit-go/zit/wire"
)

// --------------------------------------------------------------------------------------------- //

/*
PieceProvider fetches (creating if necessary) the active Piece tracking
state for a piece id. The torrent session owns the active-pieces map; Peer
only needs to reach into it when deciding what to request next.
*/
type PieceProvider func(id int) *piece.Piece

// --------------------------------------------------------------------------------------------- //

/*
NextRequests computes up to RequestBatchSize block requests to send to this
peer: using relevant = remote_pieces - client_pieces, walk bits from the
lowest index, and for each relevant piece call next_offset(mark=true) on
its active Piece until the batch is full or every relevant piece has no
more blocks to offer.

Parameters:
  - clientPieces: The torrent session's own on-disk-complete bitfield.
  - pieces: Provider for a piece id's active Piece tracking state.

Returns:
  - []wire.RequestPayload: Up to RequestBatchSize requests, in piece-index order.
*/
func (p *Peer) NextRequests(clientPieces bitfield.Bitfield, pieces PieceProvider) []wire.RequestPayload {
	remote := p.RemotePieces()
	relevant := remote.Difference(clientPieces)

	var out []wire.RequestPayload
	bit := 0
	for len(out) < RequestBatchSize {
		idx, ok := relevant.Next(true, bit)
		if !ok {
			break
		}
		pc := pieces(idx)
		if pc == nil {
			bit = idx + 1
			continue
		}
		offset, ok := pc.NextOffset(true)
		if !ok {
			bit = idx + 1
			continue
		}
		out = append(out, wire.RequestPayload{
			Index:  uint32(idx),
			Begin:  offset,
			Length: pc.BlockLength(offset),
		})
	}
	return out
}

// --------------------------------------------------------------------------------------------- //
