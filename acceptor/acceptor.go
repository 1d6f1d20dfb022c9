// Package acceptor implements the process-wide inbound connection listener:
// one goroutine per bound port, routing each newly-handshaked connection to
// the torrent its info hash names. Lookup is an injected Registry rather
// than a bare global mutable map.
package acceptor

import (
	"io"
	"net"
	"sync"

	"github.com/zit-go/zit/logging"
	"github.com/zit-go/zit/netrt"
	"github.com/zit-go/zit/wire"
)

// --------------------------------------------------------------------------------------------- //

/*
Torrent is the subset of torrent.Session behavior the acceptor needs: given
an inbound connection and the remote peer id read from its handshake,
adopt it as a new peer session.
*/
type Torrent interface {
	InfoHash() [20]byte
	NumPieces() int
	LocalPeerID() [20]byte
	AdoptInbound(conn net.Conn, remotePeerID [20]byte)
}

// --------------------------------------------------------------------------------------------- //

/*
Registry maps info hashes to the torrents currently loaded, so the acceptor
can route an inbound handshake without reaching through a package-level
global.
*/
type Registry struct {
	mu       sync.RWMutex
	torrents map[[20]byte]Torrent
}

// --------------------------------------------------------------------------------------------- //

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{torrents: make(map[[20]byte]Torrent)}
}

/*
Add registers t under its info hash, replacing any previous entry.
*/
func (r *Registry) Add(t Torrent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.torrents[t.InfoHash()] = t
}

/*
Remove unregisters the torrent with the given info hash.
*/
func (r *Registry) Remove(infoHash [20]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.torrents, infoHash)
}

/*
Lookup returns the torrent registered for infoHash, if any.
*/
func (r *Registry) Lookup(infoHash [20]byte) (Torrent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.torrents[infoHash]
	return t, ok
}

// --------------------------------------------------------------------------------------------- //

/*
Acceptor listens on one TCP port, reads and validates the 68-byte
handshake prefix of every inbound connection, and routes it to the
matching torrent via registry. Connections naming an unknown info hash are
closed immediately.
*/
type Acceptor struct {
	registry *Registry
	log      *logging.Logger
}

// --------------------------------------------------------------------------------------------- //

/*
New constructs an Acceptor backed by registry for torrent lookup.
*/
func New(registry *Registry, log *logging.Logger) *Acceptor {
	return &Acceptor{registry: registry, log: log}
}

// --------------------------------------------------------------------------------------------- //

/*
Listen binds addr (reuse-address is the caller's ListenTCP implementation's
responsibility — net.Listen already sets SO_REUSEADDR by default on most
platforms) and accepts indefinitely until the listener is closed.

Parameters:
  - rt: Supplies ListenTCP.
  - network: "tcp" or "tcp4"/"tcp6".
  - addr: The local address to bind, e.g. ":6881".

Returns:
  - netrt.Listener: The bound listener, so the caller can Close it to stop accepting.
  - error: Non-nil if binding fails.
*/
func (a *Acceptor) Listen(rt *netrt.Runtime, network, addr string) (netrt.Listener, error) {
	l, err := rt.ListenTCP(network, addr)
	if err != nil {
		return nil, err
	}
	go a.acceptLoop(l)
	return l, nil
}

// --------------------------------------------------------------------------------------------- //

func (a *Acceptor) acceptLoop(l netrt.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if a.log != nil {
				a.log.Debug("acceptor: listener %s stopped: %v", l.Addr(), err)
			}
			return
		}
		go a.handle(conn)
	}
}

// --------------------------------------------------------------------------------------------- //

func (a *Acceptor) handle(conn net.Conn) {
	buf := make([]byte, wire.HandshakeLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if a.log != nil {
			a.log.Debug("acceptor: reading handshake from %s: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
		return
	}

	hs, err := wire.DecodeHandshake(buf)
	if err != nil {
		if a.log != nil {
			a.log.Debug("acceptor: %s: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
		return
	}

	t, ok := a.registry.Lookup(hs.InfoHash)
	if !ok {
		if a.log != nil {
			a.log.Debug("acceptor: %s: unknown info hash %x, closing", conn.RemoteAddr(), hs.InfoHash)
		}
		conn.Close()
		return
	}

	t.AdoptInbound(conn, hs.PeerID)
}

// --------------------------------------------------------------------------------------------- //
