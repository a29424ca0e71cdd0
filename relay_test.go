package ipc

import (
	"net"
	"testing"
)

func TestRelayTableLookupOrCreateIdempotent(t *testing.T) {
	table := newRelayTable()
	key := relayForwardKey{peerBaseAddr: "10.0.0.1:9000", relayID: 5}
	receiver := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 1}
	sender := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 8), Port: 2}

	fwd1, created1 := table.lookupOrCreate(key, 1, receiver, 2, sender)
	if !created1 {
		t.Fatalf("expected first lookupOrCreate to create a new forward")
	}
	if table.count() != 1 {
		t.Fatalf("expected 1 forward, got %d", table.count())
	}

	fwd2, created2 := table.lookupOrCreate(key, 99, receiver, 99, sender)
	if created2 {
		t.Fatalf("expected second lookupOrCreate for the same key to reuse the existing forward")
	}
	if fwd1 != fwd2 {
		t.Fatalf("expected same forward pointer to be returned")
	}
	if fwd2.receiverNetworkID != 1 {
		t.Fatalf("expected reused forward to keep its original fields, got %+v", fwd2)
	}
}

func TestRelayTableRemove(t *testing.T) {
	table := newRelayTable()
	key := relayForwardKey{peerBaseAddr: "10.0.0.1:9000", relayID: 5}
	table.lookupOrCreate(key, 1, nil, 2, nil)
	if table.count() != 1 {
		t.Fatalf("expected 1 forward before remove")
	}
	table.remove(key)
	if table.count() != 0 {
		t.Fatalf("expected 0 forwards after remove")
	}
}

func TestGatewaySelectorRoundRobin(t *testing.T) {
	sel := newGatewaySelector([]string{"gw1:9000", "gw2:9000", "gw3:9000"})
	first, ok := sel.current()
	if !ok || first != "gw1:9000" {
		t.Fatalf("expected first gateway gw1:9000, got %q, %v", first, ok)
	}
	sel.advance()
	second, _ := sel.current()
	if second != "gw2:9000" {
		t.Fatalf("expected advance to move to gw2:9000, got %q", second)
	}
	sel.advance()
	sel.advance()
	wrapped, _ := sel.current()
	if wrapped != "gw1:9000" {
		t.Fatalf("expected wraparound back to gw1:9000, got %q", wrapped)
	}
}

func TestGatewaySelectorEmpty(t *testing.T) {
	sel := newGatewaySelector(nil)
	if _, ok := sel.current(); ok {
		t.Fatalf("expected no current gateway when none configured")
	}
	sel.advance() // must not panic
}
