package ipc

import (
	"net"
	"testing"
	"time"
)

func TestEncodeDecodeConnectBasic(t *testing.T) {
	p := connectPayload{
		typ:              ConnectBasic,
		versionMajor:     protocolVersionMajor,
		versionMinor:     protocolVersionMinor,
		flags:            connectFlagAuthenticate,
		basePort:         4321,
		timestampSeconds: 1000,
		timestampNanos:   2000,
		relayID:          7,
	}
	buf := encodeConnect(p)
	got, err := decodeConnect(buf)
	if err != nil {
		t.Fatalf("decodeConnect: %v", err)
	}
	if got.typ != ConnectBasic || got.versionMajor != protocolVersionMajor ||
		got.basePort != 4321 || got.timestampSeconds != 1000 ||
		got.timestampNanos != 2000 || got.relayID != 7 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.flags&connectFlagAuthenticate == 0 {
		t.Fatalf("expected authenticate flag to survive round trip")
	}
}

func TestEncodeDecodeConnectRelay4(t *testing.T) {
	receiver := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 9000}
	sender := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 9001}
	p := connectPayload{
		typ:               ConnectRelay4,
		versionMajor:      1,
		basePort:          111,
		relayID:           99,
		receiverNetworkID: 1,
		receiverAddr:      receiver,
		senderNetworkID:   2,
		senderAddr:        sender,
	}
	buf := encodeConnect(p)
	got, err := decodeConnect(buf)
	if err != nil {
		t.Fatalf("decodeConnect: %v", err)
	}
	if got.receiverNetworkID != 1 || got.senderNetworkID != 2 {
		t.Fatalf("network ids did not round trip: %+v", got)
	}
	gotReceiver, ok := got.receiverAddr.(*net.UDPAddr)
	if !ok || !gotReceiver.IP.Equal(receiver.IP) || gotReceiver.Port != receiver.Port {
		t.Fatalf("receiver addr did not round trip: %+v", got.receiverAddr)
	}
	gotSender, ok := got.senderAddr.(*net.UDPAddr)
	if !ok || !gotSender.IP.Equal(sender.IP) || gotSender.Port != sender.Port {
		t.Fatalf("sender addr did not round trip: %+v", got.senderAddr)
	}
}

func TestEncodeDecodeConnectRelay6(t *testing.T) {
	receiver := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 5555}
	sender := &net.UDPAddr{IP: net.ParseIP("2001:db8::2"), Port: 6666}
	p := connectPayload{
		typ:          ConnectRelay6,
		receiverAddr: receiver,
		senderAddr:   sender,
	}
	buf := encodeConnect(p)
	got, err := decodeConnect(buf)
	if err != nil {
		t.Fatalf("decodeConnect: %v", err)
	}
	gotReceiver := got.receiverAddr.(*net.UDPAddr)
	if !gotReceiver.IP.Equal(receiver.IP) || gotReceiver.Port != receiver.Port {
		t.Fatalf("receiver addr did not round trip: %+v", got.receiverAddr)
	}
}

func TestDecodeConnectBadMagic(t *testing.T) {
	buf := encodeConnect(connectPayload{typ: ConnectBasic})
	buf[0] = 'x'
	if _, err := decodeConnect(buf); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestDecodeConnectTruncated(t *testing.T) {
	if _, err := decodeConnect([]byte{'s', 'f'}); err == nil {
		t.Fatalf("expected error for truncated connect payload")
	}
}

func TestEncodeDecodeAccept(t *testing.T) {
	p := acceptPayload{
		flags:            3,
		basePort:         1234,
		timestampSeconds: 555,
		timestampNanos:   777,
		relayID:          42,
	}
	buf := encodeAccept(p)
	got, err := decodeAccept(buf)
	if err != nil {
		t.Fatalf("decodeAccept: %v", err)
	}
	if got != p {
		t.Fatalf("expected round trip equality, got %+v want %+v", got, p)
	}
}

func TestDecodeAcceptTruncated(t *testing.T) {
	if _, err := decodeAccept([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated accept payload")
	}
}

func TestStartupTimestampEqual(t *testing.T) {
	now := time.Unix(1700000000, 123456)
	ts := newStartupTimestamp(now)
	if !ts.equal(uint32(now.Unix()), uint32(now.Nanosecond())) {
		t.Fatalf("expected timestamp to equal its own construction values")
	}
	if ts.equal(uint32(now.Unix())+1, uint32(now.Nanosecond())) {
		t.Fatalf("expected mismatch to be detected")
	}
}

func TestEncodeDecodeAddrNone(t *testing.T) {
	buf := encodeAddr(nil, nil)
	addr, rest, err := decodeAddr(buf)
	if err != nil {
		t.Fatalf("decodeAddr: %v", err)
	}
	if addr != nil {
		t.Fatalf("expected nil addr for family 0, got %v", addr)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no remaining bytes, got %d", len(rest))
	}
}
