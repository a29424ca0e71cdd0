package ipc

import "testing"

func TestOverflowSafeLess(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{a: 1, b: 2, want: true},
		{a: 2, b: 1, want: false},
		{a: LastPacketId, b: 0, want: true},
		{a: 0, b: LastPacketId, want: false},
		{a: 5, b: 5, want: false},
	}
	for _, c := range cases {
		if got := overflowSafeLess(c.a, c.b); got != c.want {
			t.Errorf("overflowSafeLess(%d,%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestPacketStoreLoadHeaderRoundTrip(t *testing.T) {
	pkt := newPacket()
	pkt.typ = PacketTypeData
	pkt.buf = append(pkt.buf, []byte("hello world")...)
	pkt.SetID(42)
	pkt.storeHeader([]uint32{1, 2, 3})

	loaded := &Packet{buf: pkt.buf}
	updateIDs, payload, err := loaded.loadHeader()
	if err != nil {
		t.Fatalf("loadHeader: %v", err)
	}
	if loaded.ID() != 42 {
		t.Fatalf("expected id 42, got %d", loaded.ID())
	}
	if string(payload) != "hello world" {
		t.Fatalf("expected payload %q, got %q", "hello world", payload)
	}
	if len(updateIDs) != 3 || updateIDs[0] != 1 || updateIDs[2] != 3 {
		t.Fatalf("unexpected update ids: %v", updateIDs)
	}
}

func TestPacketStoreHeaderNoUpdates(t *testing.T) {
	pkt := newPacket()
	pkt.typ = PacketTypeKeepAlive
	pkt.storeHeader(nil)

	loaded := &Packet{buf: pkt.buf}
	updateIDs, payload, err := loaded.loadHeader()
	if err != nil {
		t.Fatalf("loadHeader: %v", err)
	}
	if len(updateIDs) != 0 {
		t.Fatalf("expected no update ids, got %v", updateIDs)
	}
	if len(payload) != 0 {
		t.Fatalf("expected empty payload, got %v", payload)
	}
	if !loaded.IsKeepAlive() {
		t.Fatalf("expected keepalive type")
	}
}

func TestPacketCompressedFlag(t *testing.T) {
	pkt := newPacket()
	if pkt.isCompressed() {
		t.Fatalf("fresh packet must not be compressed")
	}
	pkt.setCompressed()
	if !pkt.isCompressed() {
		t.Fatalf("expected compressed flag to be set")
	}
}

func TestLoadHeaderTruncated(t *testing.T) {
	pkt := &Packet{buf: []byte{1, 2, 3}}
	if _, _, err := pkt.loadHeader(); err == nil {
		t.Fatalf("expected error for truncated header")
	}
}
