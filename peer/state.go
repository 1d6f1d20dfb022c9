// Package peer implements the per-connection peer wire protocol state
// machine: handshake, choke/interest bookkeeping, the block request
// pipeline, serving, and inactivity detection.
//
// Grounded on lvbealr-BitTorrent/torrent/p2p.go (PerformHandshake,
// DownloadFromPeer's choke/interest loop, HasPiece), generalized from a
// single monolithic download loop into explicit connection states and
// pure decision functions.
package peer

import "fmt"

// --------------------------------------------------------------------------------------------- //

// State is a peer connection's position in its lifecycle.
type State int

const (
	Resolving State = iota
	Connecting
	HandshakeSent
	Established
	Closing
	Closed
)

// --------------------------------------------------------------------------------------------- //

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case HandshakeSent:
		return "handshake-sent"
	case Established:
		return "established"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// --------------------------------------------------------------------------------------------- //

// validTransitions enumerates the lifecycle's legal edges. An
// accepted-mode peer starts straight at HandshakeSent (no outbound dial).
var validTransitions = map[State][]State{
	Resolving:     {Connecting, Closing},
	Connecting:    {HandshakeSent, Closing},
	HandshakeSent: {Established, Closing},
	Established:   {Closing},
	Closing:       {Closed},
	Closed:        {},
}

// --------------------------------------------------------------------------------------------- //

/*
CanTransition reports whether moving from from to to is a legal edge in the
connection lifecycle.
*/
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------------------------- //
