package ipc

import (
	"net"
	"testing"
)

func newTestService(t *testing.T, cfg Configuration, handler Handler) *Service {
	t.Helper()
	if cfg.BaseAddress == "" {
		cfg.BaseAddress = "127.0.0.1:0"
	}
	svc, err := NewService(cfg, testCodec{}, handler)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNewServiceStartsOneTalker(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	sessions, talkers := svc.counts()
	if talkers != 1 {
		t.Fatalf("expected 1 talker after NewService, got %d", talkers)
	}
	if sessions != 0 {
		t.Fatalf("expected 0 sessions before any SendMessage, got %d", sessions)
	}
}

func TestSendMessageCreatesSessionAndReturnsHandle(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19999}

	msgUID, connUID, err := svc.SendMessage(peer, "hello", 1, 0)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msgUID.IsZero() {
		t.Fatalf("expected non-zero message handle")
	}
	if connUID.Uid == 0 {
		t.Fatalf("expected non-zero connection handle, got %+v", connUID)
	}

	sessions, _ := svc.counts()
	if sessions != 1 {
		t.Fatalf("expected 1 session after SendMessage, got %d", sessions)
	}

	// Sending to the same peer again must reuse the same session/connection.
	_, connUID2, err := svc.SendMessage(peer, "world", 1, 0)
	if err != nil {
		t.Fatalf("SendMessage (second): %v", err)
	}
	if connUID2 != connUID {
		t.Fatalf("expected SendMessage to reuse the existing connection, got %+v vs %+v", connUID2, connUID)
	}
}

func TestSendMessageOnClosedServiceFails(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 18888}
	if _, _, err := svc.SendMessage(peer, "x", 1, 0); err != ErrServiceClosed {
		t.Fatalf("expected ErrServiceClosed, got %v", err)
	}
}

func TestCancelUnknownConnectionFails(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	if err := svc.Cancel(ConnectionUid{TalkerIdx: 5}, MessageUid{Idx: 0}); err != ErrNoConnection {
		t.Fatalf("expected ErrNoConnection for out-of-range talker idx, got %v", err)
	}
}

func TestCancelResolvesThroughService(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 17777}

	msgUID, connUID, err := svc.SendMessage(peer, fragMsg{data: make([]byte, 64), chunk: 1}, 1, 0)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := svc.Cancel(connUID, msgUID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestSendMessageWithoutGatewaySendsDirect(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	// resolveTarget never marks a target as relay (no cross-network
	// detection wired into SendMessage itself), so this exercises the
	// direct path; reaching another network goes through
	// SendMessageToNetwork instead, see TestSendMessageToNetworkWithoutGatewayFails.
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 16666}
	if _, _, err := svc.SendMessage(peer, "x", 1, 0); err != nil {
		t.Fatalf("expected direct send to succeed, got %v", err)
	}
}

func TestSendMessageToNetworkWithoutGatewayFails(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 9000}
	if _, _, err := svc.SendMessageToNetwork(peer, 7, "x", 1, 0); err != ErrNoGateway {
		t.Fatalf("expected ErrNoGateway with no GatewayAddressVector configured, got %v", err)
	}
}

func TestSendMessageToNetworkCreatesRelayConnectingSession(t *testing.T) {
	gw, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer gw.Close()

	cfg := DefaultConfiguration()
	cfg.GatewayAddressVector = []string{gw.LocalAddr().String()}
	svc := newTestService(t, cfg, nil)

	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 9000}
	msgUID, connUID, err := svc.SendMessageToNetwork(peer, 7, "hello", 1, 0)
	if err != nil {
		t.Fatalf("SendMessageToNetwork: %v", err)
	}
	if msgUID.IsZero() {
		t.Fatalf("expected non-zero message handle")
	}

	tk := svc.talkers[connUID.TalkerIdx]
	sess, ok := tk.sessionByIdx(connUID.SessionIdx)
	if !ok {
		t.Fatalf("expected session to be resolvable by idx")
	}
	if sess.State() != StateRelayConnecting {
		t.Fatalf("expected StateRelayConnecting, got %v", sess.State())
	}
	if sess.remoteAddr == nil || sess.remoteAddr.String() != peer.String() {
		t.Fatalf("expected remoteAddr to be the final peer, got %v", sess.remoteAddr)
	}
	if sess.networkID != 7 {
		t.Fatalf("expected networkID 7, got %d", sess.networkID)
	}
}

func TestAddTalkerRespectsMaxCount(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.Talker.MaxCount = 1
	svc := newTestService(t, cfg, nil)
	if _, err := svc.addTalker("127.0.0.1:0"); err == nil {
		t.Fatalf("expected addTalker to fail once MaxCount is reached")
	}
}
