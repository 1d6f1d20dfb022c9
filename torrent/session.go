package torrent

import (
	"context"
	"crypto/sha1"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/zit-go/zit/bitfield"
	"github.com/zit-go/zit/filewriter"
	"github.com/zit-go/zit/logging"
	"github.com/zit-go/zit/netrt"
	"github.com/zit-go/zit/peer"
	"github.com/zit-go/zit/piece"
	"github.com/zit-go/zit/tracker"
)

// --------------------------------------------------------------------------------------------- //

// retryPiecesInterval and retryPeersInterval are the run loop's two
// periodic housekeeping ticks.
const (
	retryPiecesInterval = 30 * time.Second
	retryPeersInterval  = 2 * time.Minute
	verifyConcurrency   = 10
)

// --------------------------------------------------------------------------------------------- //

/*
Config holds the behavior knobs a per-torrent config file (or CLI flags)
may override.
*/
type Config struct {
	OutputDir               string
	ListeningPort           int
	ConnectionPort          int
	InitiatePeerConnections bool
	AssumeFullOnHave        bool
	RewriteDockerBridge     bool
	NumWant                 int
}

// --------------------------------------------------------------------------------------------- //

// CompletionFunc is invoked once, the moment every piece has been verified
// and persisted.
type CompletionFunc func(name string)

// --------------------------------------------------------------------------------------------- //

/*
Session is the mutable state of one torrent download/seed: metadata, local
peer id, the on-disk-truth client_pieces bitfield, the active-pieces map,
connected peer sessions, and the per-torrent config snapshot.

The piece map and client_pieces bitfield are mutated from the torrent's own
goroutines, including the per-piece goroutines that persist a completed
piece and then mark it done; mu is the single short-critical-section lock guarding
both.
*/
type Session struct {
	mu sync.Mutex

	meta   *Metadata
	layout *filewriter.Layout
	writer *filewriter.Writer

	trackerClient *tracker.Client
	tiers         [][]string

	runtime *netrt.Runtime
	clock   netrt.Clock
	log     *logging.Logger

	config  Config
	peerCfg peer.Config

	localPeerID [20]byte

	clientPieces bitfield.Bitfield
	activePieces map[int]*piece.Piece

	peers    map[string]*peer.Session
	stopping bool

	downloaded int64
	uploaded   int64
	completed  bool

	onComplete CompletionFunc
}

// --------------------------------------------------------------------------------------------- //

/*
NewSession constructs a Session for meta, laying out its destination
file(s), verifying any bytes already on disk in parallel, and resolving its
BEP 12 tracker tiers.

Parameters:
  - meta: Parsed .torrent metadata.
  - cfg: Per-torrent configuration.
  - rt: Network/time runtime seam.
  - log: Destination for lifecycle logging.
  - onComplete: Invoked once, when the last piece has been verified and written.

Returns:
  - *Session: The constructed session, not yet started.
  - error: Non-nil if the layout cannot be created/sized, or a single-file
    torrent's final-name file exists but fails verification (the user's
    file does not match the torrent).
*/
func NewSession(meta *Metadata, cfg Config, rt *netrt.Runtime, log *logging.Logger, onComplete CompletionFunc) (*Session, error) {
	spec := filewriter.Spec{
		OutputDir:   cfg.OutputDir,
		Name:        meta.Name,
		PieceLength: meta.PieceLength,
		NumPieces:   meta.NumPieces(),
	}
	if meta.IsSingleFile() {
		spec.SingleFileLength = meta.Length
	} else {
		for _, f := range meta.Files {
			spec.Files = append(spec.Files, filewriter.FileSpec{RelPath: f.Path, Length: f.Length})
		}
	}

	layout, err := filewriter.NewLayout(spec)
	if err != nil {
		return nil, err
	}
	if err := layout.EnsureFiles(); err != nil {
		return nil, err
	}

	writer := filewriter.NewWriter(layout, meta.PieceLength)

	localPeerID, err := tracker.GeneratePeerID()
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("torrent: generating peer id: %w", err)
	}

	s := &Session{
		meta:          meta,
		layout:        layout,
		writer:        writer,
		trackerClient: tracker.NewClient(rt, tracker.Config{RewriteDockerBridge: cfg.RewriteDockerBridge}),
		tiers:         tracker.BuildTiers(meta.Announce, meta.AnnounceList),
		runtime:       rt,
		clock:         rt.Clock,
		log:           log,
		config:        cfg,
		peerCfg:       peer.Config{AssumeFullOnHave: cfg.AssumeFullOnHave},
		localPeerID:   localPeerID,
		clientPieces:  bitfield.New(meta.NumPieces()),
		activePieces:  make(map[int]*piece.Piece),
		peers:         make(map[string]*peer.Session),
	}

	if err := s.verifyOnDisk(); err != nil {
		writer.Close()
		return nil, err
	}

	if meta.IsSingleFile() {
		if _, err := os.Stat(spec.FinalName()); err == nil && s.clientPieces.Count() != meta.NumPieces() {
			writer.Close()
			return nil, fmt.Errorf("torrent: %q exists but does not match this torrent (%d/%d pieces verified)",
				spec.FinalName(), s.clientPieces.Count(), meta.NumPieces())
		}
	}

	return s, nil
}

// --------------------------------------------------------------------------------------------- //

// verifyOnDisk reads every piece's byte range in parallel (bounded by
// verifyConcurrency) and marks any piece whose SHA-1 matches as already
// complete.
func (s *Session) verifyOnDisk() error {
	var wg sync.WaitGroup
	sem := make(chan struct{}, verifyConcurrency)

	for id := 0; id < s.meta.NumPieces(); id++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int) {
			defer func() { <-sem; wg.Done() }()
			s.verifyPiece(id)
		}(id)
	}
	wg.Wait()
	return nil
}

func (s *Session) verifyPiece(id int) {
	size := s.meta.PieceSize(id)
	data, err := s.writer.ReadBlock(id, 0, uint32(size))
	if err != nil {
		return
	}
	if sha1.Sum(data) != s.meta.PieceHashes[id] {
		return
	}

	pc := piece.New(id, uint32(size), s.clock)
	pc.SetWritten()

	s.mu.Lock()
	s.clientPieces.Set(id, true)
	s.activePieces[id] = pc
	s.downloaded += size
	s.mu.Unlock()
}

// --------------------------------------------------------------------------------------------- //

/*
Start issues the "started" tracker announce and, if configured, dials every
returned peer.
*/
func (s *Session) Start(ctx context.Context) error {
	result, err := s.announce(ctx, "started")
	if err != nil {
		s.log.Warning("torrent %s: started announce failed: %v", s.meta.Name, err)
		return err
	}

	if s.config.InitiatePeerConnections {
		for _, p := range result.Peers {
			if s.isSelfPeer(p) {
				continue
			}
			go s.dial(ctx, p.String())
		}
	}

	go s.retryPiecesLoop()
	go s.retryPeersLoop()
	return nil
}

// --------------------------------------------------------------------------------------------- //

/*
Stop closes every peer session and issues the "stopped" tracker announce.
*/
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopping = true
	peers := make([]*peer.Session, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	if _, err := s.announce(ctx, "stopped"); err != nil {
		s.log.Warning("torrent %s: stopped announce failed: %v", s.meta.Name, err)
	}
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) announce(ctx context.Context, event string) (*tracker.AnnounceResult, error) {
	s.mu.Lock()
	downloaded := s.downloaded
	s.mu.Unlock()

	total := s.meta.TotalLength()
	numWant := s.config.NumWant
	if numWant == 0 {
		numWant = 50
	}

	req := tracker.AnnounceRequest{
		InfoHash:   s.meta.InfoHash,
		PeerID:     s.localPeerID,
		Port:       uint16(s.config.ListeningPort),
		Uploaded:   s.uploaded,
		Downloaded: downloaded,
		Left:       total - downloaded,
		Event:      event,
		NumWant:    numWant,
	}
	return s.trackerClient.Announce(ctx, s.tiers, req)
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) dial(ctx context.Context, addr string) {
	s.mu.Lock()
	_, already := s.peers[addr]
	s.mu.Unlock()
	if already {
		return
	}

	sess, err := peer.DialAndHandshake(ctx, s.runtime, addr, s.meta.InfoHash, s.localPeerID, s.meta.NumPieces(), s.peerCfg, s.clock, s.log)
	if err != nil {
		s.log.Debug("torrent %s: dial %s failed: %v", s.meta.Name, addr, err)
		return
	}
	s.adopt(sess)
}

// AdoptAccepted registers an inbound connection the acceptor already
// completed the handshake for, running its session loop like any other
// peer.
func (s *Session) AdoptAccepted(sess *peer.Session) {
	s.adopt(sess)
}

// --------------------------------------------------------------------------------------------- //

// InfoHash, NumPieces, and LocalPeerID implement acceptor.Torrent, letting
// an acceptor.Registry route an inbound handshake to this Session without
// either package importing the other's concrete type.
func (s *Session) InfoHash() [20]byte  { return s.meta.InfoHash }
func (s *Session) NumPieces() int      { return s.meta.NumPieces() }
func (s *Session) LocalPeerID() [20]byte { return s.localPeerID }

/*
AdoptInbound implements acceptor.Torrent: replies to an already-validated
inbound handshake and runs the resulting session like any dialed peer.
*/
func (s *Session) AdoptInbound(conn net.Conn, remotePeerID [20]byte) {
	sess, err := peer.AcceptSession(conn, remotePeerID, s.localPeerID, s.meta.InfoHash, s.meta.NumPieces(), s.peerCfg, s.clock, s.log)
	if err != nil {
		s.log.Debug("torrent %s: inbound handshake from %s failed: %v", s.meta.Name, conn.RemoteAddr(), err)
		return
	}
	s.adopt(sess)
}

func (s *Session) adopt(sess *peer.Session) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		sess.Close()
		return
	}
	s.peers[sess.Peer.Addr] = sess
	haveAny := s.clientPieces.Count() > 0
	raw := s.clientPieces.Bytes()
	s.mu.Unlock()

	if haveAny {
		sess.SendBitfield(raw)
	}

	go func() {
		sess.Run(s)
		s.mu.Lock()
		delete(s.peers, sess.Peer.Addr)
		s.mu.Unlock()
	}()
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) pieceProvider(id int) *piece.Piece {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pc, ok := s.activePieces[id]; ok {
		return pc
	}
	pc := piece.New(id, uint32(s.meta.PieceSize(id)), s.clock)
	s.activePieces[id] = pc
	return pc
}

// --------------------------------------------------------------------------------------------- //

/*
HandlePiece implements peer.Handler: stores a received block and, once the
containing piece is complete, hands it to the file writer.
*/
func (s *Session) HandlePiece(sess *peer.Session, index, begin uint32, block []byte) {
	pc := s.pieceProvider(int(index))
	complete, err := pc.SetBlock(begin, block)
	if err != nil {
		s.log.Error("torrent %s: peer %s: %v", s.meta.Name, sess.Peer.Addr, err)
		return
	}
	if !complete {
		return
	}

	go s.finishPiece(int(index), pc)
}

func (s *Session) finishPiece(id int, pc *piece.Piece) {
	full := make([]byte, s.meta.PieceSize(id))
	readBack := func(pieceID int, offset, length uint32) ([]byte, error) {
		return s.writer.ReadBlock(pieceID, offset, length)
	}
	blocks := (uint32(len(full)) + piece.BlockSize - 1) / piece.BlockSize
	for b := uint32(0); b < blocks; b++ {
		offset := b * piece.BlockSize
		length := pc.BlockLength(offset)
		data, err := pc.GetBlock(offset, length, readBack)
		if err != nil {
			s.log.Error("torrent %s: piece %d: assembling for write: %v", s.meta.Name, id, err)
			return
		}
		copy(full[offset:], data)
	}

	ok, err := s.writer.WritePiece(id, s.meta.PieceHashes[id], full)
	if err != nil {
		s.log.Error("torrent %s: piece %d: write failed: %v", s.meta.Name, id, err)
		return
	}
	if !ok {
		s.log.Warning("torrent %s: piece %d: hash mismatch, discarding", s.meta.Name, id)
		s.mu.Lock()
		delete(s.activePieces, id)
		s.mu.Unlock()
		return
	}

	pc.SetWritten()
	s.pieceDone(id)
}

// --------------------------------------------------------------------------------------------- //

// pieceDone marks a piece complete in client_pieces, and on full
// completion renames/cleans up, announces "completed", invokes the
// completion callback, and tells every peer we're no longer interested.
func (s *Session) pieceDone(id int) {
	s.mu.Lock()
	s.clientPieces.Set(id, true)
	s.downloaded += s.meta.PieceSize(id)
	done := s.clientPieces.Count() == s.meta.NumPieces()
	alreadyCompleted := s.completed
	if done {
		s.completed = true
	}
	peers := make([]*peer.Session, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.SendHave(uint32(id))
	}

	if !done || alreadyCompleted {
		return
	}

	if err := s.layout.Finish(); err != nil {
		s.log.Error("torrent %s: finishing layout: %v", s.meta.Name, err)
	}
	if s.onComplete != nil {
		s.onComplete(s.meta.Name)
	}
	for _, p := range peers {
		p.SendNotInterested()
	}
	if _, err := s.announce(context.Background(), "completed"); err != nil {
		s.log.Warning("torrent %s: completed announce failed: %v", s.meta.Name, err)
	}
}

// --------------------------------------------------------------------------------------------- //

/*
HandleRequest implements peer.Handler: serves a block if the peer is
eligible (ShouldServe), silently dropping the request otherwise.
*/
func (s *Session) HandleRequest(sess *peer.Session, index, begin, length uint32) {
	if !sess.Peer.ShouldServe() {
		return
	}
	s.mu.Lock()
	pc, ok := s.activePieces[int(index)]
	s.mu.Unlock()
	if !ok || !pc.Written() {
		return
	}

	data, err := pc.GetBlock(begin, length, func(pieceID int, offset, l uint32) ([]byte, error) {
		return s.writer.ReadBlock(pieceID, offset, l)
	})
	if err != nil {
		s.log.Debug("torrent %s: peer %s: serving block: %v", s.meta.Name, sess.Peer.Addr, err)
		return
	}
	sess.SendPiece(index, begin, data)

	s.mu.Lock()
	s.uploaded += int64(len(data))
	s.mu.Unlock()
}

// --------------------------------------------------------------------------------------------- //

/*
HandleClosed implements peer.Handler: logs the reason a peer session ended.
Removal from the peer map happens in adopt's wrapping goroutine.
*/
func (s *Session) HandleClosed(sess *peer.Session, err error) {
	if err != nil {
		s.log.Debug("torrent %s: peer %s: closed: %v", s.meta.Name, sess.Peer.Addr, err)
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Poll implements peer.Handler: runs the request pipeline after every message
a peer session dispatches, sending INTERESTED if the peer now has something
relevant and requesting blocks if unchoked.
*/
func (s *Session) Poll(sess *peer.Session) {
	s.mu.Lock()
	clientSnapshot := bitfield.FromBytes(append([]byte(nil), s.clientPieces.Bytes()...))
	s.mu.Unlock()

	relevant := sess.Peer.RemotePieces().Difference(clientSnapshot)
	if _, ok := relevant.Next(true, 0); !ok {
		return
	}

	if !sess.Peer.AmInterested() {
		sess.SendInterested()
	}
	if sess.Peer.PeerChoking() {
		return
	}

	reqs := sess.Peer.NextRequests(clientSnapshot, s.pieceProvider)
	if len(reqs) > 0 {
		sess.SendRequests(reqs)
	}
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) retryPiecesLoop() {
	for {
		<-s.clock.After(retryPiecesInterval)
		if s.isStopping() {
			return
		}
		s.retryPieces()
	}
}

func (s *Session) retryPieces() {
	s.mu.Lock()
	total := 0
	for _, pc := range s.activePieces {
		total += pc.RetryBlocks()
	}
	peers := make([]*peer.Session, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	if total == 0 {
		return
	}

	shuffled := make([]*peer.Session, len(peers))
	copy(shuffled, peers)
	shufflePeers(shuffled)

	for _, p := range shuffled {
		if total <= 0 {
			break
		}
		if p.Peer.PeerChoking() {
			continue
		}
		reqs := p.Peer.NextRequests(s.snapshotClientPieces(), s.pieceProvider)
		if len(reqs) == 0 {
			continue
		}
		p.SendRequests(reqs)
		total -= len(reqs)
	}
}

func shufflePeers(peers []*peer.Session) {
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
}

func (s *Session) snapshotClientPieces() bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bitfield.FromBytes(append([]byte(nil), s.clientPieces.Bytes()...))
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) retryPeersLoop() {
	for {
		<-s.clock.After(retryPeersInterval)
		if s.isStopping() {
			return
		}
		s.retryPeers()
	}
}

func (s *Session) retryPeers() {
	s.mu.Lock()
	var inactive []*peer.Session
	active := make(map[string]bool)
	for addr, p := range s.peers {
		if p.Peer.IsInactive() {
			inactive = append(inactive, p)
		} else {
			active[addr] = true
		}
	}
	s.mu.Unlock()

	for _, p := range inactive {
		p.Close()
	}

	result, err := s.announce(context.Background(), "")
	if err != nil {
		s.log.Debug("torrent %s: unspecified announce failed: %v", s.meta.Name, err)
		return
	}

	for _, pa := range result.Peers {
		if s.isSelfPeer(pa) {
			continue
		}
		addr := pa.String()
		s.mu.Lock()
		_, known := s.peers[addr]
		s.mu.Unlock()
		if known {
			continue
		}
		go s.dial(context.Background(), addr)
	}
}

// isSelfPeer reports whether pa is our own listening endpoint, to avoid
// dialing ourselves when a tracker (or a loopback Docker bridge) hands our
// own address back as a peer. Only loopback addresses are checked: a LAN
// peer that happens to share our port is a different machine.
func (s *Session) isSelfPeer(pa tracker.PeerAddr) bool {
	return pa.IP.IsLoopback() && s.config.ListeningPort != 0 && int(pa.Port) == s.config.ListeningPort
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// --------------------------------------------------------------------------------------------- //

/*
Done reports whether every piece has been verified and persisted.
*/
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientPieces.Count() == s.meta.NumPieces()
}

/*
ClientPieces returns a snapshot of the on-disk-complete bitfield.
*/
func (s *Session) ClientPieces() bitfield.Bitfield {
	return s.snapshotClientPieces()
}

// --------------------------------------------------------------------------------------------- //
