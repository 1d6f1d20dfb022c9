package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"

	"github.com/zit-go/zit/netrt"
)

// --------------------------------------------------------------------------------------------- //

const udpProtocolID uint64 = 0x41727101980

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionError    uint32 = 3
)

const udpMaxAttempts = 3

// --------------------------------------------------------------------------------------------- //

/*
AnnounceUDP performs a BEP 15 UDP tracker connect+announce round trip.

Parameters:
  - rt: Supplies ResolveUDP/DialUDP/Clock so tests can substitute a fake transport.
  - announceURL: The tracker's udp:// announce URL.
  - req: The announce parameters.

Returns:
  - *AnnounceResult: The tracker's peer list, interval, leecher and seeder counts.
  - error: Non-nil if resolution, the connect handshake, or the announce round trip fails after udpMaxAttempts tries.
*/
func AnnounceUDP(rt *netrt.Runtime, announceURL string, req AnnounceRequest) (*AnnounceResult, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: parsing UDP announce URL %q: %w", announceURL, err)
	}

	addr, err := rt.ResolveUDP("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("tracker: resolving UDP tracker %q: %w", u.Host, err)
	}

	conn, err := rt.DialUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("tracker: dialing UDP tracker %q: %w", u.Host, err)
	}
	defer conn.Close()

	var lastErr error
	for attempt := 0; attempt < udpMaxAttempts; attempt++ {
		result, err := attemptAnnounce(rt, conn, req, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("tracker: UDP announce to %q failed after %d attempts: %w", announceURL, udpMaxAttempts, lastErr)
}

// --------------------------------------------------------------------------------------------- //

func attemptAnnounce(rt *netrt.Runtime, conn netrt.PacketConn, req AnnounceRequest, attempt int) (*AnnounceResult, error) {
	timeout := time.Duration(5+attempt*2) * time.Second

	transactionID, err := randomUint32()
	if err != nil {
		return nil, err
	}

	connReq := make([]byte, 16)
	binary.BigEndian.PutUint64(connReq[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(connReq[8:12], actionConnect)
	binary.BigEndian.PutUint32(connReq[12:16], transactionID)

	conn.SetDeadline(rt.Clock.Now().Add(timeout))
	if _, err := conn.Write(connReq); err != nil {
		return nil, fmt.Errorf("sending connect: %w", err)
	}

	connResp := make([]byte, 16)
	n, err := conn.Read(connResp)
	if err != nil {
		return nil, fmt.Errorf("reading connect response: %w", err)
	}
	if n < 16 {
		return nil, fmt.Errorf("connect response too short: %d bytes", n)
	}
	if binary.BigEndian.Uint32(connResp[0:4]) != actionConnect {
		return nil, fmt.Errorf("unexpected connect action %d", binary.BigEndian.Uint32(connResp[0:4]))
	}
	if binary.BigEndian.Uint32(connResp[4:8]) != transactionID {
		return nil, fmt.Errorf("connect transaction ID mismatch")
	}
	connectionID := binary.BigEndian.Uint64(connResp[8:16])

	announceTransactionID, err := randomUint32()
	if err != nil {
		return nil, err
	}
	key, err := randomUint32()
	if err != nil {
		return nil, err
	}

	event := eventCode(req.Event)

	announceReq := make([]byte, 98)
	binary.BigEndian.PutUint64(announceReq[0:8], connectionID)
	binary.BigEndian.PutUint32(announceReq[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(announceReq[12:16], announceTransactionID)
	copy(announceReq[16:36], req.InfoHash[:])
	copy(announceReq[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(announceReq[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(announceReq[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(announceReq[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(announceReq[80:84], event)
	// bytes [84:88] are the IP override, left zero for "use source address".
	binary.BigEndian.PutUint32(announceReq[88:92], key)
	numWant := int32(-1)
	if req.NumWant > 0 {
		numWant = int32(req.NumWant)
	}
	binary.BigEndian.PutUint32(announceReq[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(announceReq[96:98], req.Port)

	conn.SetDeadline(rt.Clock.Now().Add(timeout))
	if _, err := conn.Write(announceReq); err != nil {
		return nil, fmt.Errorf("sending announce: %w", err)
	}

	resp := make([]byte, 2048)
	n, err = conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("reading announce response: %w", err)
	}
	if n < 20 {
		return nil, fmt.Errorf("announce response too short: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return nil, fmt.Errorf("tracker error: %s", string(resp[8:n]))
	}
	if action != actionAnnounce {
		return nil, fmt.Errorf("unexpected announce action %d", action)
	}
	if binary.BigEndian.Uint32(resp[4:8]) != announceTransactionID {
		return nil, fmt.Errorf("announce transaction ID mismatch")
	}

	interval := binary.BigEndian.Uint32(resp[8:12])
	leechers := binary.BigEndian.Uint32(resp[12:16])
	seeders := binary.BigEndian.Uint32(resp[16:20])

	peers, err := parseCompactPeers(resp[20:n])
	if err != nil {
		return nil, err
	}

	return &AnnounceResult{
		Peers:    peers,
		Interval: time.Duration(interval) * time.Second,
		Leechers: int(leechers),
		Seeders:  int(seeders),
	}, nil
}

// --------------------------------------------------------------------------------------------- //

func eventCode(event string) uint32 {
	switch event {
	case "completed":
		return 1
	case "started":
		return 2
	case "stopped":
		return 3
	default:
		return 0
	}
}

// --------------------------------------------------------------------------------------------- //

func randomUint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("tracker: generating random value: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// --------------------------------------------------------------------------------------------- //
