package tracker

import "net"

// --------------------------------------------------------------------------------------------- //

// dockerBridgeNet is the default bridge network Docker assigns containers,
// unreachable from the host's own loopback-bound peer listener.
var dockerBridgeNet = &net.IPNet{
	IP:   net.IPv4(172, 17, 0, 0).To4(),
	Mask: net.CIDRMask(16, 32),
}

// --------------------------------------------------------------------------------------------- //

/*
RewriteDockerBridgeAddr replaces a peer address's IP with 127.0.0.1 when it
falls inside the default Docker bridge subnet (172.17.0.0/16): a tracker
running in a sibling container on the same host commonly reports that
container-internal address, which is unreachable from outside Docker's
network namespace but reachable via the host's loopback port mapping.

Parameters:
  - addr: The peer address as reported by a tracker.

Returns:
  - PeerAddr: addr unchanged, or with IP replaced by 127.0.0.1.
*/
func RewriteDockerBridgeAddr(addr PeerAddr) PeerAddr {
	ip4 := addr.IP.To4()
	if ip4 != nil && dockerBridgeNet.Contains(ip4) {
		return PeerAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port}
	}
	return addr
}

// --------------------------------------------------------------------------------------------- //
