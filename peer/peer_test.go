package peer

import (
	"testing"
	"time"

	"github.com/zit-go/zit/netrt"
)

// --------------------------------------------------------------------------------------------- //

func TestNewHasSpecDefaults(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 10, Config{}, clock)

	if p.State() != Resolving {
		t.Errorf("initial state = %s, want resolving", p.State())
	}
	if !p.AmChoking() || p.AmInterested() || !p.PeerChoking() || p.PeerInterested() {
		t.Error("initial flags should be am_choking=true, am_interested=false, peer_choking=true, peer_interested=false")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestNewAcceptedStartsAtHandshakeSent(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	var peerID [20]byte
	copy(peerID[:], "accepted-peer-id-001")

	p := NewAccepted("127.0.0.1:6881", peerID, 10, Config{}, clock)
	if p.State() != HandshakeSent {
		t.Errorf("state = %s, want handshake-sent", p.State())
	}
	if p.PeerID != peerID {
		t.Error("expected PeerID to be recorded")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 10, Config{}, clock)

	if err := p.Transition(Established); err == nil {
		t.Fatal("expected an error transitioning directly to Established")
	}
	if p.State() != Resolving {
		t.Errorf("state should be unchanged after a rejected transition, got %s", p.State())
	}
}

// --------------------------------------------------------------------------------------------- //

func TestIsInactiveTracksClock(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 10, Config{}, clock)

	if p.IsInactive() {
		t.Error("freshly constructed peer should not be inactive")
	}

	clock.Advance(InactivityTimeout)
	if !p.IsInactive() {
		t.Error("expected peer to be inactive after InactivityTimeout has elapsed")
	}

	p.RecordActivity()
	if p.IsInactive() {
		t.Error("RecordActivity should reset the inactivity clock")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestOnHaveWithoutAssumeFullOnHaveOnlySetsTheAnnouncedBit(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 4, Config{AssumeFullOnHave: false}, clock)

	if err := p.OnHave(2); err != nil {
		t.Fatalf("OnHave: %v", err)
	}
	if !p.HasPiece(2) {
		t.Error("expected piece 2 to be marked present")
	}
	if p.HasPiece(0) || p.HasPiece(1) || p.HasPiece(3) {
		t.Error("expected only piece 2 to be marked present")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestOnHaveWithAssumeFullOnHaveAssumesEveryPieceBeforeFirstBitfield(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 4, Config{AssumeFullOnHave: true}, clock)

	if err := p.OnHave(1); err != nil {
		t.Fatalf("OnHave: %v", err)
	}
	for i := 0; i < 4; i++ {
		if !p.HasPiece(i) {
			t.Errorf("expected piece %d to be assumed present after first HAVE", i)
		}
	}
}

// --------------------------------------------------------------------------------------------- //

func TestOnHaveRejectsOutOfRangeIndex(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 4, Config{}, clock)

	if err := p.OnHave(4); err == nil {
		t.Error("expected an error for an out-of-range HAVE index")
	}
	if err := p.OnHave(-1); err == nil {
		t.Error("expected an error for a negative HAVE index")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestOnBitfieldSuppressesAssumeFullOnHave(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 4, Config{AssumeFullOnHave: true}, clock)

	p.OnBitfield([]byte{0x80}) // piece 0 only, out of 4

	if err := p.OnHave(1); err != nil {
		t.Fatalf("OnHave: %v", err)
	}
	if p.HasPiece(2) || p.HasPiece(3) {
		t.Error("a prior BITFIELD should suppress the assume-full-on-have workaround")
	}
	if !p.HasPiece(0) || !p.HasPiece(1) {
		t.Error("expected pieces 0 (from BITFIELD) and 1 (from HAVE) to be present")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestChokeInterestFlagTransitions(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 4, Config{}, clock)

	p.OnUnchoke()
	if p.PeerChoking() {
		t.Error("expected peer_choking=false after OnUnchoke")
	}
	p.OnChoke()
	if !p.PeerChoking() {
		t.Error("expected peer_choking=true after OnChoke")
	}

	p.OnInterested()
	if !p.PeerInterested() {
		t.Error("expected peer_interested=true after OnInterested")
	}
	p.OnNotInterested()
	if p.PeerInterested() {
		t.Error("expected peer_interested=false after OnNotInterested")
	}

	p.SetAmChoking(false)
	if p.AmChoking() {
		t.Error("expected am_choking=false after SetAmChoking(false)")
	}
	p.SetAmInterested(true)
	if !p.AmInterested() {
		t.Error("expected am_interested=true after SetAmInterested(true)")
	}
}

// --------------------------------------------------------------------------------------------- //

func TestRemotePiecesReturnsIndependentSnapshot(t *testing.T) {
	clock := netrt.NewFakeClock(time.Unix(0, 0))
	p := New("127.0.0.1:6881", 4, Config{}, clock)
	p.OnHave(0)

	snapshot := p.RemotePieces()
	p.OnHave(1)

	if snapshot.Get(1) {
		t.Error("snapshot taken before the second HAVE should not observe it")
	}
	if !p.HasPiece(1) {
		t.Error("the live peer state should observe the second HAVE")
	}
}
