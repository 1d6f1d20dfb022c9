package peer

import (
	"fmt"
	"sync"
	"time"

	"github.com/zit-go/zit/bitfield"
	"github.com/zit-go/zit/netrt"
)

// --------------------------------------------------------------------------------------------- //

// InactivityTimeout is the BitTorrent-standard no-activity window after
// which a peer is a pruning candidate.
const InactivityTimeout = 2 * time.Minute

// RequestBatchSize is how many block requests are pipelined in a single
// batched write.
const RequestBatchSize = 5

// --------------------------------------------------------------------------------------------- //

/*
Config holds per-peer-session behavior knobs.
*/
type Config struct {
	// AssumeFullOnHave treats a peer's first HAVE message, when no
	// BITFIELD was ever received from it, as evidence the peer holds
	// every piece.
	AssumeFullOnHave bool
}

// --------------------------------------------------------------------------------------------- //

/*
Peer is the mutable state of one peer wire protocol connection: its
lifecycle state, the four choke/interest flags, its remote availability
bitfield, and activity bookkeeping. Transport (the net.Conn and the
read/write goroutines) lives in Session; Peer itself has no I/O so its
decision logic is directly unit-testable.
*/
type Peer struct {
	mu sync.Mutex

	Addr   string
	PeerID [20]byte
	config Config
	clock  netrt.Clock

	state State

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	remotePieces   bitfield.Bitfield
	sawBitfield    bool
	numPieces      int
	lastActivity   time.Time
}

// --------------------------------------------------------------------------------------------- //

/*
New creates a Peer in the Resolving state with the BitTorrent-standard
initial flag values: am_choking=true, am_interested=false,
peer_choking=true, peer_interested=false.

Parameters:
  - addr: The remote endpoint, "ip:port".
  - numPieces: The torrent's piece count, sizing the remote bitfield.
  - cfg: Per-peer behavior configuration.
  - clock: Time source for activity tracking.
*/
func New(addr string, numPieces int, cfg Config, clock netrt.Clock) *Peer {
	return &Peer{
		Addr:         addr,
		config:       cfg,
		clock:        clock,
		state:        Resolving,
		amChoking:    true,
		peerChoking:  true,
		remotePieces: bitfield.New(numPieces),
		numPieces:    numPieces,
		lastActivity: clock.Now(),
	}
}

// --------------------------------------------------------------------------------------------- //

/*
NewAccepted creates a Peer already past dialing, for a connection the
acceptor received (the handshake has already been read by the time a Peer
is constructed for it).
*/
func NewAccepted(addr string, peerID [20]byte, numPieces int, cfg Config, clock netrt.Clock) *Peer {
	p := New(addr, numPieces, cfg, clock)
	p.PeerID = peerID
	p.state = HandshakeSent
	return p
}

// --------------------------------------------------------------------------------------------- //

/*
Transition moves the peer to a new lifecycle state.

Returns:
  - error: Non-nil if the edge is not legal from the current state.
*/
func (p *Peer) Transition(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !CanTransition(p.state, to) {
		return fmt.Errorf("peer %s: illegal transition %s -> %s", p.Addr, p.state, to)
	}
	p.state = to
	return nil
}

/*
State returns the peer's current lifecycle state.
*/
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// --------------------------------------------------------------------------------------------- //

/*
RecordActivity marks the peer as having just exchanged a frame, resetting
its inactivity clock.
*/
func (p *Peer) RecordActivity() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActivity = p.clock.Now()
}

/*
IsInactive reports whether the peer has gone InactivityTimeout without any
message in either direction.
*/
func (p *Peer) IsInactive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Now().Sub(p.lastActivity) >= InactivityTimeout
}

// --------------------------------------------------------------------------------------------- //

/*
AmChoking, AmInterested, PeerChoking, PeerInterested report the four
protocol flags.
*/
func (p *Peer) AmChoking() bool      { p.mu.Lock(); defer p.mu.Unlock(); return p.amChoking }
func (p *Peer) AmInterested() bool   { p.mu.Lock(); defer p.mu.Unlock(); return p.amInterested }
func (p *Peer) PeerChoking() bool    { p.mu.Lock(); defer p.mu.Unlock(); return p.peerChoking }
func (p *Peer) PeerInterested() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.peerInterested }

// --------------------------------------------------------------------------------------------- //

/*
SetAmChoking, SetAmInterested set the local flags (sent as outgoing CHOKE/
UNCHOKE/INTERESTED/NOT-INTERESTED messages by the session driving this Peer).
*/
func (p *Peer) SetAmChoking(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.amChoking = v
}

func (p *Peer) SetAmInterested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.amInterested = v
}

// --------------------------------------------------------------------------------------------- //

/*
OnChoke, OnUnchoke, OnInterested, OnNotInterested update the flags the
remote peer controls, in response to received messages.
*/
func (p *Peer) OnChoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerChoking = true
}

func (p *Peer) OnUnchoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerChoking = false
}

func (p *Peer) OnInterested() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerInterested = true
}

func (p *Peer) OnNotInterested() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerInterested = false
}

// --------------------------------------------------------------------------------------------- //

/*
OnBitfield records a BITFIELD message's raw bytes as the peer's full
availability.
*/
func (p *Peer) OnBitfield(raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remotePieces = bitfield.FromBytes(raw)
	p.sawBitfield = true
}

// --------------------------------------------------------------------------------------------- //

/*
OnHave records a HAVE message. If no BITFIELD has ever been seen from this
peer and AssumeFullOnHave is enabled, the peer is first assumed to hold
every piece, then the announced bit is set (a no-op in that case, but
correct if AssumeFullOnHave is disabled).

Parameters:
  - index: The piece index the peer reports having.

Returns:
  - error: Non-nil if index is out of range.
*/
func (p *Peer) OnHave(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= p.numPieces {
		return fmt.Errorf("peer %s: have index %d out of range [0,%d)", p.Addr, index, p.numPieces)
	}
	if !p.sawBitfield && p.config.AssumeFullOnHave {
		p.remotePieces = bitfield.New(p.numPieces)
		for i := 0; i < p.numPieces; i++ {
			p.remotePieces.Set(i, true)
		}
	}
	p.remotePieces.Set(index, true)
	return nil
}

// --------------------------------------------------------------------------------------------- //

/*
HasPiece reports whether the peer has announced piece index, via either
BITFIELD or HAVE.
*/
func (p *Peer) HasPiece(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remotePieces.Get(index)
}

// --------------------------------------------------------------------------------------------- //

/*
RemotePieces returns a snapshot copy of the peer's announced availability,
for computing relevant = remote_pieces - client_pieces.
*/
func (p *Peer) RemotePieces() bitfield.Bitfield {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bitfield.FromBytes(append([]byte(nil), p.remotePieces.Bytes()...))
}

// --------------------------------------------------------------------------------------------- //
