package tracker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/zit-go/zit/netrt"
)

// --------------------------------------------------------------------------------------------- //

/*
Config holds tracker-client behavior that a per-torrent config file may
override.
*/
type Config struct {
	// RewriteDockerBridge rewrites peer addresses inside 172.17.0.0/16 to
	// 127.0.0.1 before they are returned, for the common case of a
	// same-host Docker tracker. Defaults false: rewriting a legitimate
	// LAN peer in that range would misroute the connection.
	RewriteDockerBridge bool
}

// --------------------------------------------------------------------------------------------- //

/*
Client announces to a torrent's trackers, walking BEP 12 tiers in order and
stopping at the first tracker whose response carries a non-empty peer list
(see Announce).
*/
type Client struct {
	Runtime    *netrt.Runtime
	HTTPClient *http.Client
	Config     Config
}

// --------------------------------------------------------------------------------------------- //

/*
NewClient returns a Client backed by rt for UDP tracker connections and a
new http.Client with httpTimeout for HTTP(S) trackers.
*/
func NewClient(rt *netrt.Runtime, cfg Config) *Client {
	return &Client{Runtime: rt, HTTPClient: &http.Client{Timeout: httpTimeout}, Config: cfg}
}

// --------------------------------------------------------------------------------------------- //

/*
Announce walks tiers in order, trying every tracker within a tier (already
shuffled by BuildTiers) until one returns a non-empty peer list, and
returns as soon as a tracker wins that way. A tracker that answers
successfully but with an empty peer list is not a win — it is kept only as
a fallback in case no tracker in any tier ever returns peers. If every
tracker in every tier fails outright, the accumulated per-tracker errors
are returned joined together.

Parameters:
  - ctx: Cancels in-flight HTTP requests.
  - tiers: The tier list, as built by BuildTiers.
  - req: The announce parameters.

Returns:
  - *AnnounceResult: The first tracker's result with a non-empty peer list,
    or the first successful-but-empty result if none had peers, with
    Docker-bridge rewriting applied if configured.
  - error: Non-nil only if every tracker in every tier failed outright.
*/
func (c *Client) Announce(ctx context.Context, tiers [][]string, req AnnounceRequest) (*AnnounceResult, error) {
	var failures []string
	var fallback *AnnounceResult

	for _, tier := range tiers {
		for _, announceURL := range tier {
			result, err := c.announceOne(ctx, announceURL, req)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", announceURL, err))
				continue
			}
			if c.Config.RewriteDockerBridge {
				for i, p := range result.Peers {
					result.Peers[i] = RewriteDockerBridgeAddr(p)
				}
			}
			if len(result.Peers) == 0 {
				if fallback == nil {
					fallback = result
				}
				continue
			}
			return result, nil
		}
	}

	if fallback != nil {
		return fallback, nil
	}

	return nil, fmt.Errorf("tracker: all trackers failed:\n%s", strings.Join(failures, "\n"))
}

// --------------------------------------------------------------------------------------------- //

func (c *Client) announceOne(ctx context.Context, announceURL string, req AnnounceRequest) (*AnnounceResult, error) {
	switch {
	case strings.HasPrefix(announceURL, "http://"), strings.HasPrefix(announceURL, "https://"):
		return AnnounceHTTP(ctx, c.HTTPClient, announceURL, req)
	case strings.HasPrefix(announceURL, "udp://"):
		return AnnounceUDP(c.Runtime, announceURL, req)
	default:
		return nil, fmt.Errorf("unsupported tracker scheme in %q", announceURL)
	}
}

// --------------------------------------------------------------------------------------------- //
