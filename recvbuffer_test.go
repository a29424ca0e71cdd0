package ipc

import "testing"

func TestRecvWindowKeepAndNext(t *testing.T) {
	var w recvWindow
	if !w.empty() {
		t.Fatalf("fresh window must be empty")
	}
	p := newPacket()
	if !w.keep(0, p, []uint32{1}, []byte("a")) {
		t.Fatalf("expected keep at offset 0 to succeed")
	}
	if w.empty() {
		t.Fatalf("window must not be empty after keep")
	}

	got, ids, payload, ok := w.next()
	if !ok {
		t.Fatalf("expected next to return the buffered packet")
	}
	if got != p {
		t.Fatalf("expected next to return the same packet pointer")
	}
	if string(payload) != "a" {
		t.Fatalf("expected payload 'a', got %q", payload)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("unexpected update ids: %v", ids)
	}
	if !w.empty() {
		t.Fatalf("window must be empty after draining its only slot")
	}
}

func TestRecvWindowKeepRejectsDuplicateOffset(t *testing.T) {
	var w recvWindow
	p1 := newPacket()
	p2 := newPacket()
	if !w.keep(2, p1, nil, nil) {
		t.Fatalf("expected first keep at offset 2 to succeed")
	}
	if w.keep(2, p2, nil, nil) {
		t.Fatalf("expected second keep at the same offset to fail")
	}
	releasePacket(p2)
}

func TestRecvWindowKeepRejectsOutOfRange(t *testing.T) {
	var w recvWindow
	p := newPacket()
	if w.keep(-1, p, nil, nil) {
		t.Fatalf("expected negative offset to be rejected")
	}
	if w.keep(maxOutOfOrder, p, nil, nil) {
		t.Fatalf("expected offset == maxOutOfOrder to be rejected")
	}
	releasePacket(p)
}

func TestRecvWindowNextShiftsDown(t *testing.T) {
	var w recvWindow
	p0 := newPacket()
	p1 := newPacket()
	w.keep(0, p0, nil, []byte("first"))
	w.keep(1, p1, nil, []byte("second"))

	got, _, payload, ok := w.next()
	if !ok || got != p0 || string(payload) != "first" {
		t.Fatalf("expected first drain to return p0/'first'")
	}

	got, _, payload, ok = w.next()
	if !ok || got != p1 || string(payload) != "second" {
		t.Fatalf("expected second slot to have shifted into position 0, got ok=%v payload=%q", ok, payload)
	}
}

func TestRecvWindowNextEmpty(t *testing.T) {
	var w recvWindow
	if _, _, _, ok := w.next(); ok {
		t.Fatalf("expected next on empty window to fail")
	}
}

func TestRecvWindowReset(t *testing.T) {
	var w recvWindow
	w.keep(0, newPacket(), nil, []byte("x"))
	w.keep(3, newPacket(), nil, []byte("y"))
	w.reset()
	if !w.empty() {
		t.Fatalf("expected window to be empty after reset")
	}
}
