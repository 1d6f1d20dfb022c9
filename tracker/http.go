package tracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/zit-go/zit/bencode"
)

// --------------------------------------------------------------------------------------------- //

// httpTimeout bounds a single HTTP(S) announce round trip. Redirect-
// following (3xx, including chunked-encoded bodies) is handled by
// http.Client/http.Transport itself.
const httpTimeout = 15 * time.Second

// --------------------------------------------------------------------------------------------- //

/*
parseTrackerDict extracts the failure reason, interval, and peer list from a
decoded tracker response dictionary. The peers key may be either a compact
binary string or a list of {ip, port} dictionaries (BEP 3 permits both).
*/
func parseTrackerDict(root *bencode.Value) (failure string, interval int64, peers []PeerAddr, err error) {
	if root.Kind != bencode.KindDict {
		return "", 0, nil, fmt.Errorf("tracker: response is not a dictionary")
	}
	if v, ok := root.Get("failure reason"); ok {
		failure, _ = v.String()
	}
	if v, ok := root.Get("interval"); ok {
		interval, _ = v.Int64()
	}

	peersVal, ok := root.Get("peers")
	if !ok {
		return failure, interval, nil, nil
	}

	switch peersVal.Kind {
	case bencode.KindBytes:
		peers, err = parseCompactPeers(peersVal.Bytes)
		return failure, interval, peers, err
	case bencode.KindList:
		for _, entry := range peersVal.List {
			ipVal, _ := entry.Get("ip")
			portVal, _ := entry.Get("port")
			ipStr, _ := ipVal.String()
			port, _ := portVal.Int64()
			ip := net.ParseIP(ipStr)
			if ip == nil {
				continue
			}
			peers = append(peers, PeerAddr{IP: ip, Port: uint16(port)})
		}
		return failure, interval, peers, nil
	default:
		return failure, interval, nil, fmt.Errorf("tracker: unrecognized peers encoding")
	}
}

// --------------------------------------------------------------------------------------------- //

/*
AnnounceHTTP performs a single BEP 3 HTTP(S) tracker announce.

Parameters:
  - ctx: Cancels the HTTP request if the caller gives up.
  - client: The http.Client to issue the request with (nil uses a new http.Client with httpTimeout).
  - announceURL: The tracker's announce URL.
  - req: The announce parameters.

Returns:
  - *AnnounceResult: The tracker's peer list and interval.
  - error: Non-nil on transport failure, non-200 status, malformed bencode, or a failure-reason response.
*/
func AnnounceHTTP(ctx context.Context, client *http.Client, announceURL string, req AnnounceRequest) (*AnnounceResult, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: parsing announce URL %q: %w", announceURL, err)
	}

	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", fmt.Sprintf("%d", req.Port))
	q.Set("uploaded", fmt.Sprintf("%d", req.Uploaded))
	q.Set("downloaded", fmt.Sprintf("%d", req.Downloaded))
	q.Set("left", fmt.Sprintf("%d", req.Left))
	q.Set("compact", "1")
	if req.Event != "" {
		q.Set("event", req.Event)
	}
	if req.NumWant > 0 {
		q.Set("numwant", fmt.Sprintf("%d", req.NumWant))
	}
	u.RawQuery = q.Encode()

	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: building HTTP request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "zit/1.0")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tracker: HTTP announce to %q: %w", announceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker: HTTP announce to %q returned status %d", announceURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: reading HTTP response body: %w", err)
	}

	root, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("tracker: decoding HTTP tracker response: %w", err)
	}
	failure, interval, peers, err := parseTrackerDict(root)
	if err != nil {
		return nil, fmt.Errorf("tracker: %q: %w", announceURL, err)
	}
	if failure != "" {
		return nil, fmt.Errorf("tracker: %q reported failure: %s", announceURL, failure)
	}

	return &AnnounceResult{
		Peers:    peers,
		Interval: time.Duration(interval) * time.Second,
	}, nil
}

// --------------------------------------------------------------------------------------------- //
