package peer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/zit-go/zit/logging"
	"github.com/zit-go/zit/netrt"
	"github.com/zit-go/zit/wire"
)

// --------------------------------------------------------------------------------------------- //

// dialTimeout and ioTimeout bound handshake dialing and steady-state
// reads/writes so a stalled peer cannot block a connection's goroutines
// indefinitely.
const (
	dialTimeout = 5 * time.Second
	ioTimeout   = 60 * time.Second
)

const readBufferGrowth = 32 * 1024

// --------------------------------------------------------------------------------------------- //

/*
Handler receives the domain-level events a Session's read loop decodes.
The torrent session implements Handler to drive piece state and serving;
Session itself only knows about framing and the connection state machine.
*/
type Handler interface {
	HandlePiece(s *Session, index, begin uint32, block []byte)
	HandleRequest(s *Session, index, begin, length uint32)
	HandleClosed(s *Session, err error)

	// Poll runs after every non-keep-alive message this session dispatches,
	// folding the request pipeline's usual triggers (after UNCHOKE, after a
	// PIECE arrives, after a HAVE that is the first bit set from this peer)
	// into one hook rather than threading per-message callbacks through.
	Poll(s *Session)
}

// --------------------------------------------------------------------------------------------- //

/*
Session drives one peer wire protocol connection: the handshake, a
buffered read loop that feeds wire.ParseMessage, and a single-writer send
queue so outgoing messages are serialized FIFO — at most one in-flight
write; if a send is in progress, later messages queue behind it.
*/
type Session struct {
	Peer *Peer

	conn     net.Conn
	sendCh   chan []byte
	done     chan struct{}
	closeErr error
	closeMu  sync.Mutex

	log *logging.Logger
}

// --------------------------------------------------------------------------------------------- //

/*
DialAndHandshake opens a TCP connection to addr, performs the BitTorrent
handshake, and returns a Session in the Established state.

Parameters:
  - ctx: Cancels the dial.
  - rt: Supplies the dialer.
  - addr: The remote peer's "ip:port".
  - infoHash: The torrent's info hash, sent and validated against the remote's.
  - localPeerID: This client's 20-byte peer id.
  - numPieces: The torrent's piece count, sizing the peer's bitfield.
  - cfg: Per-peer behavior configuration.
  - clock: Time source for activity tracking.
  - log: Destination for connection-lifecycle messages.

Returns:
  - *Session: The established session, ready for Run.
  - error: Non-nil if dialing, sending, or validating the handshake fails.
*/
func DialAndHandshake(ctx context.Context, rt *netrt.Runtime, addr string, infoHash, localPeerID [20]byte, numPieces int, cfg Config, clock netrt.Clock, log *logging.Logger) (*Session, error) {
	p := New(addr, numPieces, cfg, clock)
	if err := p.Transition(Connecting); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := rt.Dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer %s: dial: %w", addr, err)
	}

	s := &Session{Peer: p, conn: conn, sendCh: make(chan []byte, 64), done: make(chan struct{}), log: log}

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write(wire.EncodeHandshake(wire.Handshake{InfoHash: infoHash, PeerID: localPeerID})); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer %s: sending handshake: %w", addr, err)
	}

	if err := p.Transition(HandshakeSent); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	buf := make([]byte, wire.HandshakeLen)
	if _, err := readFull(conn, buf); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer %s: reading handshake: %w", addr, err)
	}

	hs, err := wire.DecodeHandshake(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer %s: %w", addr, err)
	}
	if hs.InfoHash != infoHash {
		conn.Close()
		return nil, fmt.Errorf("peer %s: info hash mismatch", addr)
	}
	p.PeerID = hs.PeerID

	if err := p.Transition(Established); err != nil {
		conn.Close()
		return nil, err
	}
	p.RecordActivity()

	if log != nil {
		log.Info("peer %s: handshake complete, remote peer id %x", addr, hs.PeerID)
	}
	return s, nil
}

// --------------------------------------------------------------------------------------------- //

/*
AcceptSession wraps a connection the acceptor already read a validated
handshake from, replies with our own handshake, and returns an Established
Session.
*/
func AcceptSession(conn net.Conn, remotePeerID [20]byte, localPeerID, infoHash [20]byte, numPieces int, cfg Config, clock netrt.Clock, log *logging.Logger) (*Session, error) {
	addr := conn.RemoteAddr().String()
	p := NewAccepted(addr, remotePeerID, numPieces, cfg, clock)

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write(wire.EncodeHandshake(wire.Handshake{InfoHash: infoHash, PeerID: localPeerID})); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer %s: sending handshake reply: %w", addr, err)
	}

	if err := p.Transition(Established); err != nil {
		conn.Close()
		return nil, err
	}
	p.RecordActivity()

	return &Session{Peer: p, conn: conn, sendCh: make(chan []byte, 64), done: make(chan struct{}), log: log}, nil
}

// --------------------------------------------------------------------------------------------- //

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// --------------------------------------------------------------------------------------------- //

/*
Run starts the write-drain goroutine and blocks in the read loop until the
connection closes, dispatching parsed messages to handler. Callers should
invoke Run in its own goroutine.
*/
func (s *Session) Run(handler Handler) {
	go s.writeLoop()
	err := s.readLoop(handler)
	s.closeMu.Lock()
	s.closeErr = err
	s.closeMu.Unlock()
	s.Peer.Transition(Closing)
	close(s.done)
	s.conn.Close()
	s.Peer.Transition(Closed)
	handler.HandleClosed(s, err)
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) writeLoop() {
	for {
		select {
		case msg, ok := <-s.sendCh:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
			if _, err := s.conn.Write(msg); err != nil {
				if s.log != nil {
					s.log.Warning("peer %s: write failed: %v", s.Peer.Addr, err)
				}
				return
			}
			s.Peer.RecordActivity()
		case <-s.done:
			return
		}
	}
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) readLoop(handler Handler) error {
	buf := make([]byte, 0, readBufferGrowth)
	tmp := make([]byte, readBufferGrowth)

	for {
		s.conn.SetReadDeadline(time.Now().Add(ioTimeout))
		n, err := s.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return err
		}

		for {
			consumed, msg, perr := wire.ParseMessage(buf)
			if perr != nil {
				return perr
			}
			if consumed == 0 {
				break
			}
			buf = buf[consumed:]
			s.Peer.RecordActivity()
			if msg.KeepAlive {
				continue
			}
			s.dispatch(handler, msg)
			handler.Poll(s)
		}
	}
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) dispatch(handler Handler, msg *wire.Message) {
	switch msg.ID {
	case wire.Choke:
		s.Peer.OnChoke()
	case wire.Unchoke:
		s.Peer.OnUnchoke()
	case wire.Interested:
		s.Peer.OnInterested()
	case wire.NotInterested:
		s.Peer.OnNotInterested()
	case wire.Have:
		if idx, err := wire.DecodeHave(msg.Payload); err == nil {
			s.Peer.OnHave(int(idx))
		}
	case wire.BitfieldMsg:
		s.Peer.OnBitfield(msg.Payload)
	case wire.Request:
		if req, err := wire.DecodeRequest(msg.Payload); err == nil {
			handler.HandleRequest(s, req.Index, req.Begin, req.Length)
		}
	case wire.Piece:
		if index, begin, block, err := wire.DecodePiece(msg.Payload); err == nil {
			handler.HandlePiece(s, index, begin, block)
		}
	case wire.Cancel, wire.Port:
		// Accepted and ignored: endgame cancellation and the DHT port
		// extension are out of scope.
	default:
		if s.log != nil {
			s.log.Debug("peer %s: ignoring unknown message id %d", s.Peer.Addr, msg.ID)
		}
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Send enqueues a fully-encoded frame on the FIFO write queue.
*/
func (s *Session) Send(frame []byte) {
	select {
	case s.sendCh <- frame:
	case <-s.done:
	}
}

func (s *Session) SendChoke()         { s.Peer.SetAmChoking(true); s.Send(wire.Encode(wire.Choke, nil)) }
func (s *Session) SendUnchoke()       { s.Peer.SetAmChoking(false); s.Send(wire.Encode(wire.Unchoke, nil)) }
func (s *Session) SendInterested()    { s.Peer.SetAmInterested(true); s.Send(wire.Encode(wire.Interested, nil)) }
func (s *Session) SendNotInterested() { s.Peer.SetAmInterested(false); s.Send(wire.Encode(wire.NotInterested, nil)) }
func (s *Session) SendHave(index uint32)       { s.Send(wire.EncodeHave(index)) }
func (s *Session) SendBitfield(raw []byte)     { s.Send(wire.EncodeBitfield(raw)) }
func (s *Session) SendPiece(index, begin uint32, block []byte) {
	s.Send(wire.EncodePiece(index, begin, block))
}
func (s *Session) SendRequests(reqs []wire.RequestPayload) {
	for _, r := range reqs {
		s.Send(wire.EncodeRequest(wire.Request, r))
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Close shuts down the connection and stops the write loop. Safe to call more
than once.
*/
func (s *Session) Close() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
	}
	return s.conn.Close()
}

// --------------------------------------------------------------------------------------------- //
