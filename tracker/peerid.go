package tracker

import (
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------------------- //

// PeerIDPrefix identifies this client in the Azureus-style peer ID
// convention ("-ZT0001-").
const PeerIDPrefix = "-ZT0001-"

// --------------------------------------------------------------------------------------------- //

/*
GeneratePeerID produces a 20-byte BitTorrent peer ID: the fixed client
prefix followed by random bytes drawn from a freshly generated UUID,
truncated to fill the remainder.

Returns:
  - [20]byte: The peer ID.
  - error: Non-nil if UUID generation fails (exhausted system entropy source).
*/
func GeneratePeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], PeerIDPrefix)

	u, err := uuid.NewRandom()
	if err != nil {
		return id, err
	}
	raw := u[:]
	copy(id[len(PeerIDPrefix):], raw[:20-len(PeerIDPrefix)])
	return id, nil
}

// --------------------------------------------------------------------------------------------- //
