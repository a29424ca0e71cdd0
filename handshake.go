// The MIT License (MIT)
//
// # Copyright (c) 2024 The go-ipc Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package ipc

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"
)

// connectMagic is the fixed 5-byte preamble every Connect payload begins
// with (spec §6 Wire format), letting a Talker cheaply reject garbage
// before touching the rest of the handshake fields.
var connectMagic = [5]byte{'s', 'f', 'i', 'p', 'c'}

// ConnectType distinguishes a same-network handshake from one that must
// cross a gateway, and if so over which address family (spec §6: "Basic=1,
// Relay4=2, Relay6=3").
type ConnectType uint8

const (
	ConnectBasic  ConnectType = 1
	ConnectRelay4 ConnectType = 2
	ConnectRelay6 ConnectType = 3
)

// protocolVersion is the version_major/version_minor this engine stamps into
// every Connect. A received Connect's version is not compared against it,
// and the Accept payload carries no version.
const (
	protocolVersionMajor uint16 = 1
	protocolVersionMinor uint16 = 0
)

// connectFlags bits (spec §6 "flags:u16" on the Connect payload).
const (
	connectFlagAuthenticate uint16 = 1 << iota
)

// connectPayload is the decoded form of a Connect packet's body (spec §6).
type connectPayload struct {
	typ              ConnectType
	versionMajor     uint16
	versionMinor     uint16
	flags            uint16
	basePort         uint16
	timestampSeconds uint32
	timestampNanos   uint32
	relayID          uint32

	receiverNetworkID uint32
	receiverAddr      net.Addr
	senderNetworkID   uint32
	senderAddr        net.Addr
}

// acceptPayload is the decoded form of an Accept packet's body (spec §6).
type acceptPayload struct {
	flags            uint16
	basePort         uint16
	timestampSeconds uint32
	timestampNanos   uint32
	relayID          uint32
}

func encodeAddr(buf []byte, addr net.Addr) []byte {
	udp, ok := addr.(*net.UDPAddr)
	if !ok || udp.IP == nil {
		buf = append(buf, 0)
		return buf
	}
	if ip4 := udp.IP.To4(); ip4 != nil {
		buf = append(buf, 4)
		buf = append(buf, ip4...)
	} else {
		buf = append(buf, 6)
		buf = append(buf, udp.IP.To16()...)
	}
	var portBuf [2]byte
	binary.LittleEndian.PutUint16(portBuf[:], uint16(udp.Port))
	buf = append(buf, portBuf[:]...)
	return buf
}

func decodeAddr(buf []byte) (net.Addr, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, errors.New("ipc: truncated address")
	}
	family := buf[0]
	buf = buf[1:]
	var ipLen int
	switch family {
	case 0:
		return nil, buf, nil
	case 4:
		ipLen = 4
	case 6:
		ipLen = 16
	default:
		return nil, nil, ErrUnsupportedSocketFamily
	}
	if len(buf) < ipLen+2 {
		return nil, nil, errors.New("ipc: truncated address")
	}
	ip := make(net.IP, ipLen)
	copy(ip, buf[:ipLen])
	buf = buf[ipLen:]
	port := binary.LittleEndian.Uint16(buf[:2])
	buf = buf[2:]
	return &net.UDPAddr{IP: ip, Port: int(port)}, buf, nil
}

// encodeConnect renders a connectPayload to wire bytes (spec §6: "Connect
// packet payload: magic bytes..., for Relay: receiver_network_id,
// receiver address, sender_network_id, sender address").
func encodeConnect(p connectPayload) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, connectMagic[:]...)
	buf = append(buf, byte(p.typ))

	var u16 [2]byte
	var u32 [4]byte

	binary.LittleEndian.PutUint16(u16[:], p.versionMajor)
	buf = append(buf, u16[:]...)
	binary.LittleEndian.PutUint16(u16[:], p.versionMinor)
	buf = append(buf, u16[:]...)
	binary.LittleEndian.PutUint16(u16[:], p.flags)
	buf = append(buf, u16[:]...)
	binary.LittleEndian.PutUint16(u16[:], p.basePort)
	buf = append(buf, u16[:]...)
	binary.LittleEndian.PutUint32(u32[:], p.timestampSeconds)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], p.timestampNanos)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], p.relayID)
	buf = append(buf, u32[:]...)

	if p.typ != ConnectBasic {
		binary.LittleEndian.PutUint32(u32[:], p.receiverNetworkID)
		buf = append(buf, u32[:]...)
		buf = encodeAddr(buf, p.receiverAddr)
		binary.LittleEndian.PutUint32(u32[:], p.senderNetworkID)
		buf = append(buf, u32[:]...)
		buf = encodeAddr(buf, p.senderAddr)
	}
	return buf
}

func decodeConnect(buf []byte) (connectPayload, error) {
	var p connectPayload
	if len(buf) < len(connectMagic)+1+2+2+2+2+4+4+4 {
		return p, errors.New("ipc: truncated connect payload")
	}
	if [5]byte(buf[:5]) != connectMagic {
		return p, errors.New("ipc: bad connect magic")
	}
	buf = buf[5:]
	p.typ = ConnectType(buf[0])
	buf = buf[1:]
	p.versionMajor = binary.LittleEndian.Uint16(buf[0:2])
	p.versionMinor = binary.LittleEndian.Uint16(buf[2:4])
	p.flags = binary.LittleEndian.Uint16(buf[4:6])
	p.basePort = binary.LittleEndian.Uint16(buf[6:8])
	p.timestampSeconds = binary.LittleEndian.Uint32(buf[8:12])
	p.timestampNanos = binary.LittleEndian.Uint32(buf[12:16])
	p.relayID = binary.LittleEndian.Uint32(buf[16:20])
	buf = buf[20:]

	if p.typ != ConnectBasic {
		if len(buf) < 4 {
			return p, errors.New("ipc: truncated relay connect payload")
		}
		p.receiverNetworkID = binary.LittleEndian.Uint32(buf[0:4])
		buf = buf[4:]
		addr, rest, err := decodeAddr(buf)
		if err != nil {
			return p, err
		}
		p.receiverAddr = addr
		buf = rest
		if len(buf) < 4 {
			return p, errors.New("ipc: truncated relay connect payload")
		}
		p.senderNetworkID = binary.LittleEndian.Uint32(buf[0:4])
		buf = buf[4:]
		addr, _, err = decodeAddr(buf)
		if err != nil {
			return p, err
		}
		p.senderAddr = addr
	}
	return p, nil
}

func encodeAccept(p acceptPayload) []byte {
	buf := make([]byte, 0, 14)
	var u16 [2]byte
	var u32 [4]byte
	binary.LittleEndian.PutUint16(u16[:], p.flags)
	buf = append(buf, u16[:]...)
	binary.LittleEndian.PutUint16(u16[:], p.basePort)
	buf = append(buf, u16[:]...)
	binary.LittleEndian.PutUint32(u32[:], p.timestampSeconds)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], p.timestampNanos)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], p.relayID)
	buf = append(buf, u32[:]...)
	return buf
}

func decodeAccept(buf []byte) (acceptPayload, error) {
	var p acceptPayload
	if len(buf) < 16 {
		return p, errors.New("ipc: truncated accept payload")
	}
	p.flags = binary.LittleEndian.Uint16(buf[0:2])
	p.basePort = binary.LittleEndian.Uint16(buf[2:4])
	p.timestampSeconds = binary.LittleEndian.Uint32(buf[4:8])
	p.timestampNanos = binary.LittleEndian.Uint32(buf[8:12])
	p.relayID = binary.LittleEndian.Uint32(buf[12:16])
	return p, nil
}

// startupTimestamp captures the wall-clock instant a Service began running,
// echoed in every Connect/Accept so a restarted peer is detected (spec §3
// "Service state": "a wall-clock timestamp captured at startup").
type startupTimestamp struct {
	seconds uint32
	nanos   uint32
}

func newStartupTimestamp(t time.Time) startupTimestamp {
	return startupTimestamp{seconds: uint32(t.Unix()), nanos: uint32(t.Nanosecond())}
}

func (t startupTimestamp) equal(seconds, nanos uint32) bool {
	return t.seconds == seconds && t.nanos == nanos
}
